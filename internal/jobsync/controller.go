// Package jobsync follows one analysis job from submission to result.
package jobsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lotas/codeatlas/internal/applog"
	"github.com/lotas/codeatlas/internal/jobchan"
	"github.com/lotas/codeatlas/internal/types"
)

// DefaultMaxTransportErrors is how many consecutive non-fatal transport
// errors are tolerated before the job is reported as failed.
const DefaultMaxTransportErrors = 3

// ErrStatusCheckFailed is reported when the job's status can no longer be
// obtained.
var ErrStatusCheckFailed = errors.New("status check failed")

// JobFailedError is a failure reported by the backend for the job itself.
type JobFailedError struct {
	Message string
}

func (e *JobFailedError) Error() string {
	if e.Message == "" {
		return "analysis failed"
	}
	return e.Message
}

// State is the controller's lifecycle state.
type State int

const (
	Idle State = iota
	Streaming
	Completed
	Failed
	Aborted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Streaming:
		return "streaming"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	case Aborted:
		return "aborted"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Token identifies one Start. Events applied with an outdated token are
// ignored.
type Token struct {
	Gen   uint64
	JobID string
}

// Snapshot is a consistent read of the controller for display.
type Snapshot struct {
	State    State
	Job      types.JobHandle
	Progress float64
	Elapsed  time.Duration
	Err      error
}

// Result is what a completed job yields.
type Result struct {
	Job     types.JobHandle
	Tree    *types.TreeNode
	Elapsed time.Duration
}

// Controller owns at most one job channel at a time and turns its events
// into a single job state. It is safe for concurrent use, but events are
// expected to be applied from one goroutine.
type Controller struct {
	maxTransportErrors int
	now                func() time.Time

	mu            sync.Mutex
	state         State
	gen           uint64
	token         Token
	ch            jobchan.Channel
	job           types.JobHandle
	progress      float64
	tree          *types.TreeNode
	err           error
	transportErrs int
	started       time.Time
	finished      time.Time
}

// New returns an idle controller. maxTransportErrors <= 0 selects
// DefaultMaxTransportErrors.
func New(maxTransportErrors int) *Controller {
	if maxTransportErrors <= 0 {
		maxTransportErrors = DefaultMaxTransportErrors
	}
	return &Controller{maxTransportErrors: maxTransportErrors, now: time.Now}
}

// Start opens ch for jobID and returns the token for its events. A job
// that is still streaming is aborted first.
func (c *Controller) Start(ctx context.Context, ch jobchan.Channel, jobID string) (Token, error) {
	if ch == nil {
		return Token{}, errors.New("start job: nil channel")
	}

	c.mu.Lock()
	prev := c.detachLocked(Aborted)
	c.gen++
	c.token = Token{Gen: c.gen, JobID: jobID}
	c.state = Streaming
	c.ch = ch
	c.job = types.JobHandle{JobID: jobID}
	c.progress = 0
	c.tree = nil
	c.err = nil
	c.transportErrs = 0
	c.started = c.now()
	c.finished = time.Time{}
	tok := c.token
	c.mu.Unlock()

	if prev != nil {
		prev.Close()
	}

	if err := ch.Open(ctx, jobID); err != nil {
		err = fmt.Errorf("open job channel: %w", err)
		c.mu.Lock()
		if c.token == tok {
			c.finishLocked(Failed, err)
			c.ch = nil
		}
		c.mu.Unlock()
		ch.Close()
		return tok, err
	}
	applog.Info("job.start", "job", jobID, "gen", tok.Gen)
	return tok, nil
}

// Apply folds ev into the job state. It returns false and changes nothing
// if tok is outdated or the job is no longer streaming.
func (c *Controller) Apply(tok Token, ev jobchan.Event) bool {
	c.mu.Lock()
	if tok != c.token || c.state != Streaming {
		c.mu.Unlock()
		return false
	}

	var closing jobchan.Channel
	switch ev.Kind {
	case jobchan.EventStatus:
		c.observeLocked(ev.Job)
		c.transportErrs = 0

	case jobchan.EventTerminal:
		c.observeLocked(ev.Job)
		switch {
		case ev.Tree != nil:
			c.tree = ev.Tree
			c.finishLocked(Completed, nil)
		case ev.Err != nil:
			c.finishLocked(Failed, ev.Err)
		default:
			c.finishLocked(Failed, &JobFailedError{Message: ev.Job.Message})
		}
		closing = c.detachLocked(c.state)

	case jobchan.EventTransportError:
		c.transportErrs++
		var terr *jobchan.TransportError
		fatal := errors.As(ev.Err, &terr) && terr.Fatal
		applog.Error("job.transport", ev.Err, "job", tok.JobID, "count", c.transportErrs, "fatal", fatal)
		if fatal || c.transportErrs >= c.maxTransportErrors {
			c.finishLocked(Failed, fmt.Errorf("%w: %w", ErrStatusCheckFailed, ev.Err))
			closing = c.detachLocked(c.state)
		}

	default:
		c.mu.Unlock()
		return false
	}
	c.mu.Unlock()

	if closing != nil {
		closing.Close()
	}
	return true
}

// Abort stops the current job, closes its channel and invalidates its token.
func (c *Controller) Abort() {
	c.mu.Lock()
	var ch jobchan.Channel
	if c.state == Streaming {
		ch = c.detachLocked(Aborted)
		c.finishLocked(Aborted, nil)
		applog.Info("job.abort", "job", c.token.JobID)
	}
	c.gen++
	c.token = Token{Gen: c.gen}
	c.mu.Unlock()

	if ch != nil {
		ch.Close()
	}
}

// Run drives ch until the job ends and returns its result. onUpdate, if
// set, is called after every applied event.
func (c *Controller) Run(ctx context.Context, ch jobchan.Channel, jobID string, onUpdate func(Snapshot)) (*Result, error) {
	tok, err := c.Start(ctx, ch, jobID)
	if err != nil {
		return nil, err
	}
	for {
		ev, err := ch.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.Abort()
				return nil, ctx.Err()
			}
			if c.State() == Streaming && c.Token() == tok {
				c.Fail(tok, fmt.Errorf("%w: %w", ErrStatusCheckFailed, err))
			}
			return c.result()
		}
		if !c.Apply(tok, ev) {
			return c.result()
		}
		if onUpdate != nil {
			onUpdate(c.Snapshot())
		}
		if c.State() != Streaming {
			return c.result()
		}
	}
}

// Fail ends the session of tok with err. It does nothing if tok is
// outdated or the job already ended.
func (c *Controller) Fail(tok Token, err error) {
	c.mu.Lock()
	var ch jobchan.Channel
	if c.token == tok && c.state == Streaming {
		c.finishLocked(Failed, err)
		ch = c.detachLocked(Failed)
	}
	c.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

func (c *Controller) result() (*Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case Completed:
		return &Result{Job: c.job, Tree: c.tree, Elapsed: c.elapsedLocked()}, nil
	case Aborted:
		return nil, context.Canceled
	}
	if c.err != nil {
		return nil, c.err
	}
	return nil, fmt.Errorf("job ended in state %s", c.state)
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Token returns the token of the current session.
func (c *Controller) Token() Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token
}

// Current reports whether tok belongs to the running session.
func (c *Controller) Current(tok Token) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tok == c.token && c.state == Streaming
}

// Job returns the last job snapshot received.
func (c *Controller) Job() types.JobHandle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job
}

// DisplayProgress is the highest progress seen for the current job.
func (c *Controller) DisplayProgress() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.progress
}

// Elapsed is the wall-clock time since Start, frozen once the job ends.
func (c *Controller) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.elapsedLocked()
}

// Tree returns the result tree once Completed.
func (c *Controller) Tree() *types.TreeNode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tree
}

// Err returns why the job failed, if it did.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Snapshot returns state, job, progress and elapsed time in one read.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:    c.state,
		Job:      c.job,
		Progress: c.progress,
		Elapsed:  c.elapsedLocked(),
		Err:      c.err,
	}
}

func (c *Controller) observeLocked(job types.JobHandle) {
	if job.JobID == "" {
		job.JobID = c.token.JobID
	}
	c.job = job
	if job.Progress > c.progress {
		c.progress = job.Progress
	}
}

func (c *Controller) finishLocked(s State, err error) {
	c.state = s
	c.err = err
	c.finished = c.now()
	if s == Completed {
		c.progress = 1
	}
	if err != nil {
		applog.Error("job.end", err, "job", c.token.JobID, "state", s.String())
	} else {
		applog.Info("job.end", "job", c.token.JobID, "state", s.String())
	}
}

// detachLocked drops the channel reference and returns it for closing
// outside the lock.
func (c *Controller) detachLocked(s State) jobchan.Channel {
	ch := c.ch
	c.ch = nil
	if ch != nil && c.state == Streaming {
		c.state = s
	}
	return ch
}

func (c *Controller) elapsedLocked() time.Duration {
	if c.started.IsZero() {
		return 0
	}
	if !c.finished.IsZero() {
		return c.finished.Sub(c.started)
	}
	return c.now().Sub(c.started)
}
