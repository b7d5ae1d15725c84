package history

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lotas/codeatlas/internal/export"
	"github.com/lotas/codeatlas/internal/storage"
	"github.com/lotas/codeatlas/internal/types"
)

func i64(n int64) *int64 { return &n }

func f(path string, size int64, summary string) *types.TreeNode {
	return &types.TreeNode{Path: path, Name: filepath.Base(path), Kind: types.KindFile, Size: i64(size), Summary: summary}
}

func d(path string, kids ...*types.TreeNode) *types.TreeNode {
	return &types.TreeNode{Path: path, Name: filepath.Base(path), Kind: types.KindDirectory, Children: kids}
}

func oldTree() *types.TreeNode {
	return d("/r",
		f("/r/keep.go", 100, "same"),
		f("/r/grow.go", 100, "same"),
		f("/r/reword.go", 50, "old words"),
		d("/r/gone", f("/r/gone/x.go", 10, "")),
	)
}

func newTree() *types.TreeNode {
	return d("/r",
		f("/r/keep.go", 100, "same"),
		f("/r/grow.go", 4096, "same"),
		f("/r/reword.go", 50, "new words"),
		d("/r/new", f("/r/new/b.go", 1, ""), f("/r/new/a.go", 1, "")),
	)
}

func TestDiff(t *testing.T) {
	result := Diff(oldTree(), newTree())

	var added, removed, changed []string
	for _, e := range result.Added {
		added = append(added, e.Path)
	}
	for _, e := range result.Removed {
		removed = append(removed, e.Path)
	}
	for _, c := range result.Changed {
		changed = append(changed, c.Path)
	}

	if got := strings.Join(added, ","); got != "/r/new,/r/new/a.go,/r/new/b.go" {
		t.Errorf("added = %s", got)
	}
	if got := strings.Join(removed, ","); got != "/r/gone,/r/gone/x.go" {
		t.Errorf("removed = %s", got)
	}
	if got := strings.Join(changed, ","); got != "/r/grow.go,/r/reword.go" {
		t.Errorf("changed = %s", got)
	}
	if result.Changed[0].SummaryChanged || !result.Changed[1].SummaryChanged {
		t.Errorf("summary flags = %+v", result.Changed)
	}
}

func TestDiffIdentical(t *testing.T) {
	result := Diff(oldTree(), oldTree())
	if !result.Empty() {
		t.Errorf("expected no changes, got %+v", result)
	}
	if !strings.Contains(FormatDiff(result), "No changes.") {
		t.Error("FormatDiff should report no changes")
	}
}

func TestFormatDiff(t *testing.T) {
	result := Diff(oldTree(), newTree())
	result.From, result.To = "job-1", "job-2"
	out := FormatDiff(result)

	for _, want := range []string{
		"Diff job-1 -> job-2",
		"Added: 3  Removed: 2  Changed: 2",
		"  + /r/new/\n",
		"  + /r/new/a.go (1 B)\n",
		"  - /r/gone/x.go (10 B)\n",
		"  ~ /r/grow.go [100 B -> 4.0 KiB]\n",
		"  ~ /r/reword.go [summary]\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestDiffAnalyses(t *testing.T) {
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "h.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Now()
	a := export.NewDocument("job-1", "/r", oldTree())
	a.ExportedAt = now.Add(-time.Hour)
	storage.SaveAnalysis(db, "s", a)
	storage.SaveAnalysis(db, "s", export.NewDocument("job-2", "/r", newTree()))

	result, err := DiffAnalyses(db, "job-1", "job-2")
	if err != nil {
		t.Fatalf("DiffAnalyses: %v", err)
	}
	if len(result.Added) != 3 || result.From != "job-1" {
		t.Errorf("result = %+v", result)
	}

	if _, err := DiffAnalyses(db, "job-1", "missing"); err == nil {
		t.Error("expected error for missing analysis")
	}
}
