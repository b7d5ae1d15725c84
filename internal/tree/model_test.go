package tree

import (
	"errors"
	"strings"
	"testing"

	"github.com/lotas/codeatlas/internal/types"
)

func size(n int64) *int64 { return &n }

func file(path, summary string) *types.TreeNode {
	return &types.TreeNode{Path: path, Name: path[strings.LastIndex(path, "/")+1:], Kind: types.KindFile, Summary: summary}
}

func dir(path string, children ...*types.TreeNode) *types.TreeNode {
	return &types.TreeNode{Path: path, Name: path[strings.LastIndex(path, "/")+1:], Kind: types.KindDirectory, Children: children}
}

// sample is root/{dirA/{file1, file2}, dirB/{file3}, README.md}.
func sample() *types.TreeNode {
	return dir("/root",
		dir("/root/dirA",
			file("/root/dirA/file1", "parses the config"),
			file("/root/dirA/file2", "HTTP handlers"),
		),
		dir("/root/dirB",
			file("/root/dirB/file3", "database migrations"),
		),
		file("/root/README.md", "project overview"),
	)
}

func mustModel(t testing.TB, root *types.TreeNode) *Model {
	t.Helper()
	m, err := New(root)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewValidates(t *testing.T) {
	if _, err := New(nil); !errors.Is(err, ErrNilRoot) {
		t.Errorf("nil root: %v", err)
	}

	dup := dir("/r", file("/r/a", ""), file("/r/a", ""))
	if _, err := New(dup); !errors.Is(err, ErrDuplicatePath) {
		t.Errorf("duplicate: %v", err)
	}

	bad := dir("/r", file("/r/a", ""))
	bad.Children[0].Children = []*types.TreeNode{file("/r/a/b", "")}
	if _, err := New(bad); !errors.Is(err, ErrFileChildren) {
		t.Errorf("file with children: %v", err)
	}
}

func TestLookups(t *testing.T) {
	m := mustModel(t, sample())

	if m.Len() != 7 {
		t.Errorf("Len = %d, want 7", m.Len())
	}
	n := m.FindByPath("/root/dirA/file2")
	if n == nil || n.Name != "file2" {
		t.Fatalf("FindByPath = %+v", n)
	}
	if m.FindByPath("/nope") != nil {
		t.Error("unknown path found")
	}
	if p := m.Parent("/root/dirA/file2"); p == nil || p.Path != "/root/dirA" {
		t.Errorf("Parent = %+v", p)
	}
	if m.Parent("/root") != nil {
		t.Error("root has a parent")
	}
	if got := m.ChildrenOf(m.Root()); len(got) != 3 || got[2].Path != "/root/README.md" {
		t.Errorf("ChildrenOf(root) = %v", got)
	}
	if m.ChildrenOf(n) != nil {
		t.Error("file has children")
	}
}

func TestEmptyDirIsNotLeaf(t *testing.T) {
	m := mustModel(t, dir("/r", dir("/r/empty"), file("/r/f", "")))
	if m.IsLeaf(m.FindByPath("/r/empty")) {
		t.Error("empty directory reported as leaf")
	}
	if !m.IsLeaf(m.FindByPath("/r/f")) {
		t.Error("file not reported as leaf")
	}
}

func TestWalkOrderAndSkip(t *testing.T) {
	m := mustModel(t, sample())
	var got []string
	m.Walk(func(n *types.TreeNode, depth int) bool {
		got = append(got, strings.Repeat(" ", depth)+n.Name)
		return n.Path != "/root/dirA"
	})
	want := []string{"root", " dirA", " dirB", "  file3", " README.md"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("Walk = %q", got)
	}
}

func TestStats(t *testing.T) {
	root := sample()
	root.Children[0].Children[0].Language = "Go"
	root.Children[0].Children[0].Size = size(100)
	root.Children[0].Children[1].Language = "Go"
	root.Children[0].Children[1].Size = size(50)
	root.Children[1].Children[0].Language = "SQL"

	s := mustModel(t, root).Stats()
	if s.Files != 4 || s.Dirs != 3 || s.Bytes != 150 {
		t.Errorf("stats = %+v", s)
	}
	if top := s.TopLanguages(1); len(top) != 1 || top[0] != "Go" {
		t.Errorf("TopLanguages = %v", top)
	}
}
