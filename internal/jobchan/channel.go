// Package jobchan delivers job-state updates for one analysis job.
//
// Two transports implement Channel: Poller asks the backend on an adaptive
// schedule, Push listens on a WebSocket. Both emit the same three event
// kinds and both guarantee that nothing is delivered after Close or after
// the single terminal event.
package jobchan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lotas/codeatlas/internal/applog"
	"github.com/lotas/codeatlas/internal/config"
	"github.com/lotas/codeatlas/internal/types"
)

var (
	// ErrClosed is returned by Next once the channel was closed, the
	// terminal event was consumed, or the transport gave up.
	ErrClosed = errors.New("job channel closed")

	// ErrAlreadyOpen is returned when Open is called twice.
	ErrAlreadyOpen = errors.New("job channel already open")

	// ErrMalformedMessage marks a push message that could not be understood.
	// Such messages are logged and dropped, never delivered.
	ErrMalformedMessage = errors.New("malformed job message")

	// ErrDataUnavailable marks a completed job whose tree could not be fetched.
	ErrDataUnavailable = errors.New("analysis result unavailable")
)

// TransportError wraps a failure reaching the status or tree source.
// Fatal means the transport stopped and will deliver nothing more.
type TransportError struct {
	Err   error
	Fatal bool
}

func (e *TransportError) Error() string {
	if e.Fatal {
		return fmt.Sprintf("transport failed: %v", e.Err)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// EventKind identifies what an Event carries.
type EventKind int

const (
	EventStatus EventKind = iota
	EventTerminal
	EventTransportError
)

func (k EventKind) String() string {
	switch k {
	case EventStatus:
		return "status"
	case EventTerminal:
		return "terminal"
	case EventTransportError:
		return "transport-error"
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// Event is one update from a Channel.
//
// Terminal events carry Tree when the job completed and its tree is known.
// A terminal event without Tree means the job failed, or Err wraps
// ErrDataUnavailable.
type Event struct {
	Kind EventKind
	Job  types.JobHandle
	Tree *types.TreeNode
	Err  error
}

// Channel is a single-consumer stream of job events.
type Channel interface {
	// Open starts delivery for jobID and returns without blocking.
	Open(ctx context.Context, jobID string) error
	// Next blocks until the next event. It returns ErrClosed after Close,
	// after the terminal event, or once the transport has stopped.
	Next(ctx context.Context) (Event, error)
	// Close stops the transport and releases its resources. Idempotent.
	Close() error
}

// StatusSource returns the current state of a job.
type StatusSource interface {
	Status(ctx context.Context, jobID string) (types.JobHandle, error)
}

// TreeSource returns the result tree of a completed job.
type TreeSource interface {
	Tree(ctx context.Context, jobID string) (*types.TreeNode, error)
}

// Source is what the polling transport needs from the backend.
type Source interface {
	StatusSource
	TreeSource
}

// New picks a transport. "auto" selects push when wsURL is set and
// polling otherwise. The choice holds for the channel's whole lifetime.
func New(transport, wsURL string, src Source) (Channel, error) {
	switch transport {
	case config.TransportPoll:
		return NewPoller(src), nil
	case config.TransportPush:
		if wsURL == "" {
			return nil, fmt.Errorf("push transport requires a WebSocket URL")
		}
		return NewPush(wsURL, src), nil
	case config.TransportAuto, "":
		if wsURL != "" {
			return NewPush(wsURL, src), nil
		}
		return NewPoller(src), nil
	}
	return nil, fmt.Errorf("unknown transport %q", transport)
}

// pump is the delivery core shared by both transports. The producer
// goroutine hands events over an unbuffered channel, so nothing is ever
// queued behind a Close.
type pump struct {
	mu        sync.Mutex
	events    chan Event
	done      chan struct{} // closed by Close
	exited    chan struct{} // closed when the producer returns
	cancel    context.CancelFunc
	opened    bool
	closeOnce sync.Once
	closed    atomic.Bool
	finished  atomic.Bool
	wg        sync.WaitGroup
}

func newPump() *pump {
	return &pump{
		events: make(chan Event),
		done:   make(chan struct{}),
		exited: make(chan struct{}),
	}
}

func (p *pump) start(ctx context.Context, run func(ctx context.Context)) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed.Load() {
		return ErrClosed
	}
	if p.opened {
		return ErrAlreadyOpen
	}
	p.opened = true

	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer close(p.exited)
		run(ctx)
	}()
	return nil
}

// emit hands ev to the consumer. It returns false if the channel closed
// first, in which case the producer must stop.
func (p *pump) emit(ev Event) bool {
	if p.closed.Load() {
		return false
	}
	select {
	case p.events <- ev:
		return true
	case <-p.done:
		return false
	}
}

// Next implements Channel.
func (p *pump) Next(ctx context.Context) (Event, error) {
	if p.closed.Load() || p.finished.Load() {
		return Event{}, ErrClosed
	}
	select {
	case <-p.done:
		return Event{}, ErrClosed
	case <-p.exited:
		return Event{}, ErrClosed
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case ev := <-p.events:
		// An event can win the select against a concurrent Close.
		if p.closed.Load() {
			return Event{}, ErrClosed
		}
		if ev.Kind == EventTerminal {
			p.finished.Store(true)
		}
		return ev, nil
	}
}

// Close implements Channel. It waits for the producer to exit.
func (p *pump) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed.Store(true)
		close(p.done)
		if p.cancel != nil {
			p.cancel()
		}
		p.mu.Unlock()
	})
	p.wg.Wait()
	return nil
}

// complete fetches the tree of a completed job and emits the terminal event.
func (p *pump) complete(ctx context.Context, trees TreeSource, jobID string, job types.JobHandle) {
	tree, err := trees.Tree(ctx, jobID)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		applog.Error("jobchan.tree", err, "job", jobID)
		p.emit(Event{Kind: EventTerminal, Job: job, Err: fmt.Errorf("%w: %v", ErrDataUnavailable, err)})
		return
	}
	p.emit(Event{Kind: EventTerminal, Job: job, Tree: tree})
}

func transportEvent(job types.JobHandle, err error, fatal bool) Event {
	return Event{Kind: EventTransportError, Job: job, Err: &TransportError{Err: err, Fatal: fatal}}
}
