package jobchan

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"nhooyr.io/websocket"

	"github.com/lotas/codeatlas/internal/applog"
	"github.com/lotas/codeatlas/internal/types"
)

// Push message types.
const (
	MsgStatus    = "status"
	MsgCompleted = "completed"
	MsgFailed    = "failed"
	MsgError     = "error"
)

// Message is one message received on the job WebSocket.
type Message struct {
	Type     string          `json:"type"`
	JobID    string          `json:"job_id"`
	State    string          `json:"state,omitempty"`
	Progress float64         `json:"progress"`
	Message  string          `json:"message,omitempty"`
	Tree     *types.TreeNode `json:"tree,omitempty"`

	job types.JobHandle
}

// Job returns the job snapshot carried by the message.
func (m *Message) Job() types.JobHandle {
	return m.job
}

// ParseMessage decodes and validates a push message. Every error wraps
// ErrMalformedMessage.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}

	var implied types.JobState
	switch msg.Type {
	case MsgStatus:
		implied = types.JobRunning
	case MsgCompleted:
		implied = types.JobCompleted
	case MsgFailed:
		implied = types.JobFailed
	case MsgError:
		return &msg, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrMalformedMessage, msg.Type)
	}

	state := implied
	if msg.State != "" {
		if err := state.UnmarshalText([]byte(msg.State)); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
		}
	}
	// completed/failed messages are terminal whatever state they claim.
	if implied.IsTerminal() {
		state = implied
	}
	if msg.Progress < 0 || msg.Progress > 1 {
		return nil, fmt.Errorf("%w: progress %v out of range", ErrMalformedMessage, msg.Progress)
	}

	msg.job = types.JobHandle{
		JobID:    msg.JobID,
		State:    state,
		Progress: msg.Progress,
		Message:  msg.Message,
	}
	return &msg, nil
}

// Push tracks a job over a single WebSocket subscription.
type Push struct {
	*pump
	wsURL string
	trees TreeSource
}

// NewPush creates a push Channel. wsURL is the socket root; the job id is
// appended as /ws/jobs/{id}. trees is used when a completed message
// arrives without an inline tree.
func NewPush(wsURL string, trees TreeSource) *Push {
	return &Push{
		pump:  newPump(),
		wsURL: strings.TrimRight(wsURL, "/"),
		trees: trees,
	}
}

// URL returns the subscription URL for jobID.
func (p *Push) URL(jobID string) string {
	return p.wsURL + "/ws/jobs/" + url.PathEscape(jobID)
}

// Open implements Channel.
func (p *Push) Open(ctx context.Context, jobID string) error {
	return p.start(ctx, func(ctx context.Context) {
		p.run(ctx, jobID)
	})
}

func (p *Push) run(ctx context.Context, jobID string) {
	u := p.URL(jobID)
	conn, _, err := websocket.Dial(ctx, u, nil)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		applog.Error("ws.dial", err, "url", u)
		p.emit(transportEvent(types.JobHandle{JobID: jobID}, err, true))
		return
	}
	defer conn.CloseNow()

	conn.SetReadLimit(64 << 20) // completed messages may carry the whole tree
	applog.Info("ws.connected", "job", jobID)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			applog.Error("ws.read", err, "job", jobID)
			p.emit(transportEvent(types.JobHandle{JobID: jobID}, err, true))
			return
		}

		msg, err := ParseMessage(data)
		if err != nil {
			applog.Error("ws.parse", err, "job", jobID)
			continue
		}
		if msg.JobID != "" && msg.JobID != jobID {
			applog.Error("ws.parse", fmt.Errorf("%w: job %q", ErrMalformedMessage, msg.JobID), "job", jobID)
			continue
		}
		applog.Debug("ws.recv", "job", jobID, "type", msg.Type)

		job := msg.Job()
		if job.JobID == "" {
			job.JobID = jobID
		}

		switch msg.Type {
		case MsgStatus:
			if !p.emit(Event{Kind: EventStatus, Job: job}) {
				return
			}
		case MsgCompleted:
			if msg.Tree != nil {
				p.emit(Event{Kind: EventTerminal, Job: job, Tree: msg.Tree})
			} else {
				p.complete(ctx, p.trees, jobID, job)
			}
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case MsgFailed:
			p.emit(Event{Kind: EventTerminal, Job: job})
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case MsgError:
			reason := msg.Message
			if reason == "" {
				reason = "server reported an error"
			}
			if !p.emit(transportEvent(job, errors.New(reason), false)) {
				return
			}
		}
	}
}
