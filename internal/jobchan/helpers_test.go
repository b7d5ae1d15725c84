package jobchan

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lotas/codeatlas/internal/types"
)

var fastSchedule = Schedule{{Count: 0, Interval: time.Millisecond}}

type statusResult struct {
	job types.JobHandle
	err error
}

// fakeSource replays scripted status results; the last one repeats.
type fakeSource struct {
	mu        sync.Mutex
	script    []statusResult
	calls     int
	block     bool // Status blocks until ctx is cancelled
	tree      *types.TreeNode
	treeErr   error
	treeCalls atomic.Int32
}

func (f *fakeSource) Status(ctx context.Context, jobID string) (types.JobHandle, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	var res statusResult
	if len(f.script) > 0 {
		i := f.calls - 1
		if i >= len(f.script) {
			i = len(f.script) - 1
		}
		res = f.script[i]
	}
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return types.JobHandle{}, ctx.Err()
	}
	return res.job, res.err
}

func (f *fakeSource) Tree(ctx context.Context, jobID string) (*types.TreeNode, error) {
	f.treeCalls.Add(1)
	return f.tree, f.treeErr
}

func (f *fakeSource) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func running(p float64) statusResult {
	return statusResult{job: types.JobHandle{JobID: "j1", State: types.JobRunning, Progress: p}}
}

func completed() statusResult {
	return statusResult{job: types.JobHandle{JobID: "j1", State: types.JobCompleted, Progress: 1, Message: "done"}}
}

func failed(msg string) statusResult {
	return statusResult{job: types.JobHandle{JobID: "j1", State: types.JobFailed, Progress: 1, Message: msg}}
}

func sampleTree() *types.TreeNode {
	size := int64(12)
	return &types.TreeNode{
		Path: "/repo", Name: "repo", Kind: types.KindDirectory,
		Children: []*types.TreeNode{
			{Path: "/repo/main.go", Name: "main.go", Kind: types.KindFile, Size: &size},
		},
	}
}

func next(t *testing.T, ch Channel) Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := ch.Next(ctx)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	return ev
}

func expectClosed(t *testing.T, ch Channel) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev, err := ch.Next(ctx)
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got event %+v err %v", ev, err)
	}
}
