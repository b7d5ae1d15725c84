// Package history compares stored analyses of a repository.
package history

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/lotas/codeatlas/internal/storage"
	"github.com/lotas/codeatlas/internal/types"
)

// DiffEntry is one node in a diff result.
type DiffEntry struct {
	Path string
	Dir  bool
	Size int64
}

// Change is a node present on both sides whose size or summary differs.
type Change struct {
	Path           string
	OldSize        int64
	NewSize        int64
	SummaryChanged bool
}

// DiffResult holds the result of comparing two trees.
type DiffResult struct {
	From    string // job id or label of the older tree
	To      string
	Added   []DiffEntry // in new but not in old
	Removed []DiffEntry // in old but not in new
	Changed []Change
}

// Empty reports whether the trees were equivalent.
func (d *DiffResult) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

func index(root *types.TreeNode) map[string]*types.TreeNode {
	out := make(map[string]*types.TreeNode)
	var walk func(n *types.TreeNode)
	walk = func(n *types.TreeNode) {
		if n == nil {
			return
		}
		out[n.Path] = n
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(root)
	return out
}

// Diff compares two trees by node path. Every list is sorted by path.
func Diff(older, newer *types.TreeNode) *DiffResult {
	before, after := index(older), index(newer)
	result := &DiffResult{}

	for path, n := range after {
		o, ok := before[path]
		if !ok {
			result.Added = append(result.Added, DiffEntry{Path: path, Dir: n.IsDir(), Size: n.SizeBytes()})
			continue
		}
		sizeChanged := o.SizeBytes() != n.SizeBytes()
		summaryChanged := o.Summary != n.Summary
		if sizeChanged || summaryChanged {
			result.Changed = append(result.Changed, Change{
				Path:           path,
				OldSize:        o.SizeBytes(),
				NewSize:        n.SizeBytes(),
				SummaryChanged: summaryChanged,
			})
		}
	}
	for path, o := range before {
		if _, ok := after[path]; !ok {
			result.Removed = append(result.Removed, DiffEntry{Path: path, Dir: o.IsDir(), Size: o.SizeBytes()})
		}
	}

	sort.Slice(result.Added, func(i, j int) bool { return result.Added[i].Path < result.Added[j].Path })
	sort.Slice(result.Removed, func(i, j int) bool { return result.Removed[i].Path < result.Removed[j].Path })
	sort.Slice(result.Changed, func(i, j int) bool { return result.Changed[i].Path < result.Changed[j].Path })
	return result
}

// DiffAnalyses loads two stored analyses and compares them.
func DiffAnalyses(db *sql.DB, fromJob, toJob string) (*DiffResult, error) {
	from, err := storage.GetAnalysis(db, fromJob)
	if err != nil {
		return nil, err
	}
	to, err := storage.GetAnalysis(db, toJob)
	if err != nil {
		return nil, err
	}
	d := Diff(from.Document.Tree, to.Document.Tree)
	d.From, d.To = fromJob, toJob
	return d, nil
}

// FormatDiff returns a human-readable string representation of a DiffResult.
func FormatDiff(d *DiffResult) string {
	var sb strings.Builder

	if d.From != "" || d.To != "" {
		fmt.Fprintf(&sb, "Diff %s -> %s\n", d.From, d.To)
	}
	fmt.Fprintf(&sb, "Added: %d  Removed: %d  Changed: %d\n", len(d.Added), len(d.Removed), len(d.Changed))

	if len(d.Added) > 0 {
		sb.WriteString("\n+ Added:\n")
		for _, e := range d.Added {
			fmt.Fprintf(&sb, "  + %s\n", entryLabel(e))
		}
	}

	if len(d.Removed) > 0 {
		sb.WriteString("\n- Removed:\n")
		for _, e := range d.Removed {
			fmt.Fprintf(&sb, "  - %s\n", entryLabel(e))
		}
	}

	if len(d.Changed) > 0 {
		sb.WriteString("\n~ Changed:\n")
		for _, c := range d.Changed {
			var what []string
			if c.OldSize != c.NewSize {
				what = append(what, fmt.Sprintf("%s -> %s", humanize.IBytes(uint64(c.OldSize)), humanize.IBytes(uint64(c.NewSize))))
			}
			if c.SummaryChanged {
				what = append(what, "summary")
			}
			fmt.Fprintf(&sb, "  ~ %s [%s]\n", c.Path, strings.Join(what, ", "))
		}
	}

	if d.Empty() {
		sb.WriteString("\nNo changes.\n")
	}

	return sb.String()
}

func entryLabel(e DiffEntry) string {
	if e.Dir {
		return e.Path + "/"
	}
	return fmt.Sprintf("%s (%s)", e.Path, humanize.IBytes(uint64(e.Size)))
}
