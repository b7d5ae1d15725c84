package types

import (
	"fmt"
	"strings"
)

// JobState is the lifecycle state reported by the analysis backend.
type JobState int

const (
	JobQueued JobState = iota
	JobRunning
	JobCompleted
	JobFailed
)

var jobStateNames = []string{"queued", "running", "completed", "failed"}

func (s JobState) String() string {
	if s < 0 || int(s) >= len(jobStateNames) {
		return fmt.Sprintf("JobState(%d)", int(s))
	}
	return jobStateNames[s]
}

// IsTerminal reports whether no further status updates are meaningful.
func (s JobState) IsTerminal() bool {
	return s == JobCompleted || s == JobFailed
}

func (s JobState) MarshalText() ([]byte, error) {
	if s < 0 || int(s) >= len(jobStateNames) {
		return nil, fmt.Errorf("invalid job state %d", int(s))
	}
	return []byte(jobStateNames[s]), nil
}

func (s *JobState) UnmarshalText(b []byte) error {
	v := strings.ToLower(strings.TrimSpace(string(b)))
	for i, name := range jobStateNames {
		if v == name {
			*s = JobState(i)
			return nil
		}
	}
	return fmt.Errorf("unknown job state %q", string(b))
}

// JobHandle is one snapshot of an analysis job.
type JobHandle struct {
	JobID    string   `json:"job_id"`
	State    JobState `json:"state"`
	Progress float64  `json:"progress"`
	Message  string   `json:"message,omitempty"`
}

// Kind distinguishes files from directories in the result tree.
type Kind int

const (
	KindFile Kind = iota
	KindDirectory
)

func (k Kind) String() string {
	if k == KindDirectory {
		return "dir"
	}
	return "file"
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText accepts "file", "dir" and "directory".
func (k *Kind) UnmarshalText(b []byte) error {
	switch strings.ToLower(string(b)) {
	case "file":
		*k = KindFile
	case "dir", "directory":
		*k = KindDirectory
	default:
		return fmt.Errorf("unknown node type %q", string(b))
	}
	return nil
}

// TreeNode is one filesystem entry of an analyzed repository.
// Trees are treated as immutable once received.
type TreeNode struct {
	Path     string      `json:"path"`
	Name     string      `json:"name"`
	Kind     Kind        `json:"type"`
	Language string      `json:"language,omitempty"`
	Size     *int64      `json:"size,omitempty"` // files only
	Summary  string      `json:"summary,omitempty"`
	Children []*TreeNode `json:"children,omitempty"` // directories only, server order
}

// IsDir reports whether the node is a directory.
func (n *TreeNode) IsDir() bool {
	return n.Kind == KindDirectory
}

// SizeBytes returns the file size, or 0 when unknown.
func (n *TreeNode) SizeBytes() int64 {
	if n.Size == nil {
		return 0
	}
	return *n.Size
}

// Answer is the backend's reply to a free-text question about a repository.
type Answer struct {
	Question      string   `json:"question"`
	Answer        string   `json:"answer"`
	RelevantFiles []string `json:"relevant_files,omitempty"`
	Confidence    float64  `json:"confidence"`
}
