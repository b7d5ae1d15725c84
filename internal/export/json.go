package export

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/lotas/codeatlas/internal/types"
)

// Version is the document format written by JSON.
const Version = 1

// Document is the portable form of one analysis result.
type Document struct {
	Version    int             `json:"version"`
	JobID      string          `json:"job_id"`
	Source     string          `json:"source,omitempty"`
	ExportedAt time.Time       `json:"exported_at"`
	Tree       *types.TreeNode `json:"tree"`
}

// NewDocument wraps tree for export, stamped with the current time.
func NewDocument(jobID, source string, tree *types.TreeNode) *Document {
	return &Document{
		Version:    Version,
		JobID:      jobID,
		Source:     source,
		ExportedAt: time.Now().UTC().Truncate(time.Second),
		Tree:       tree,
	}
}

// JSON formats doc as an indented JSON document.
func JSON(doc *Document) ([]byte, error) {
	if doc == nil || doc.Tree == nil {
		return nil, errors.New("export: document has no tree")
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}
	return append(b, '\n'), nil
}

// ParseJSON reads a document written by JSON.
func ParseJSON(data []byte) (*Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse export: %w", err)
	}
	if doc.Version != Version {
		return nil, fmt.Errorf("parse export: unsupported version %d", doc.Version)
	}
	if doc.Tree == nil {
		return nil, errors.New("parse export: document has no tree")
	}
	return &doc, nil
}
