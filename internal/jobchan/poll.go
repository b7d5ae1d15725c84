package jobchan

import (
	"context"
	"time"

	"github.com/lotas/codeatlas/internal/applog"
	"github.com/lotas/codeatlas/internal/types"
)

// Poller tracks a job by requesting its status on an adaptive schedule.
// Requests never overlap. Failed requests are reported as non-fatal
// transport errors and polling continues.
type Poller struct {
	*pump
	src      Source
	schedule Schedule
}

// PollOption configures a Poller.
type PollOption func(*Poller)

// WithSchedule replaces DefaultSchedule.
func WithSchedule(s Schedule) PollOption {
	return func(p *Poller) {
		p.schedule = s
	}
}

// NewPoller creates a polling Channel backed by src.
func NewPoller(src Source, opts ...PollOption) *Poller {
	p := &Poller{
		pump:     newPump(),
		src:      src,
		schedule: DefaultSchedule,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Open implements Channel.
func (p *Poller) Open(ctx context.Context, jobID string) error {
	applog.Info("poll.open", "job", jobID)
	return p.start(ctx, func(ctx context.Context) {
		p.run(ctx, jobID)
	})
}

func (p *Poller) run(ctx context.Context, jobID string) {
	for n := 1; ; n++ {
		if ctx.Err() != nil {
			return
		}
		job, err := p.src.Status(ctx, jobID)
		if ctx.Err() != nil {
			// Closed while the request was in flight.
			return
		}

		if err != nil {
			applog.Error("poll.status", err, "job", jobID, "attempt", n)
			if !p.emit(transportEvent(types.JobHandle{JobID: jobID}, err, false)) {
				return
			}
		} else {
			if job.JobID == "" {
				job.JobID = jobID
			}
			applog.Debug("poll.status", "job", jobID, "state", job.State, "progress", job.Progress)
			switch job.State {
			case types.JobCompleted:
				p.complete(ctx, p.src, jobID, job)
				return
			case types.JobFailed:
				p.emit(Event{Kind: EventTerminal, Job: job})
				return
			default:
				if !p.emit(Event{Kind: EventStatus, Job: job}) {
					return
				}
			}
		}

		timer := time.NewTimer(p.schedule.Interval(n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
