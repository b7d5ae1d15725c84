// Package tree indexes an analysis result tree and computes search
// visibility over it. A Model is read-only once built.
package tree

import (
	"errors"
	"fmt"
	"sort"

	"github.com/lotas/codeatlas/internal/types"
)

var (
	ErrNilRoot       = errors.New("tree has no root")
	ErrDuplicatePath = errors.New("duplicate node path")
	ErrFileChildren  = errors.New("file node has children")
)

// Model is an indexed, immutable view of one result tree.
type Model struct {
	root   *types.TreeNode
	byPath map[string]*types.TreeNode
	parent map[string]*types.TreeNode
}

// New validates root and builds the path and parent indexes.
func New(root *types.TreeNode) (*Model, error) {
	if root == nil {
		return nil, ErrNilRoot
	}
	m := &Model{
		root:   root,
		byPath: make(map[string]*types.TreeNode),
		parent: make(map[string]*types.TreeNode),
	}

	var index func(n, parent *types.TreeNode) error
	index = func(n, parent *types.TreeNode) error {
		if n == nil {
			return fmt.Errorf("nil child of %q", parent.Path)
		}
		if _, dup := m.byPath[n.Path]; dup {
			return fmt.Errorf("%w: %q", ErrDuplicatePath, n.Path)
		}
		if !n.IsDir() && len(n.Children) > 0 {
			return fmt.Errorf("%w: %q", ErrFileChildren, n.Path)
		}
		m.byPath[n.Path] = n
		if parent != nil {
			m.parent[n.Path] = parent
		}
		for _, c := range n.Children {
			if err := index(c, n); err != nil {
				return err
			}
		}
		return nil
	}
	if err := index(root, nil); err != nil {
		return nil, err
	}
	return m, nil
}

// Root returns the root node.
func (m *Model) Root() *types.TreeNode { return m.root }

// FindByPath returns the node at path, or nil.
func (m *Model) FindByPath(path string) *types.TreeNode { return m.byPath[path] }

// ChildrenOf returns n's children in order. Files have none.
func (m *Model) ChildrenOf(n *types.TreeNode) []*types.TreeNode {
	if n == nil || !n.IsDir() {
		return nil
	}
	return n.Children
}

// IsLeaf reports whether n is a file. Empty directories are not leaves.
func (m *Model) IsLeaf(n *types.TreeNode) bool {
	return n != nil && !n.IsDir()
}

// Parent returns the parent of the node at path, or nil for the root and
// unknown paths.
func (m *Model) Parent(path string) *types.TreeNode { return m.parent[path] }

// Len is the number of nodes in the tree.
func (m *Model) Len() int { return len(m.byPath) }

// Walk visits nodes depth-first in display order. Returning false from fn
// skips the node's children.
func (m *Model) Walk(fn func(n *types.TreeNode, depth int) bool) {
	var walk func(n *types.TreeNode, depth int)
	walk = func(n *types.TreeNode, depth int) {
		if !fn(n, depth) {
			return
		}
		for _, c := range n.Children {
			walk(c, depth+1)
		}
	}
	walk(m.root, 0)
}

// Stats summarises a tree.
type Stats struct {
	Files     int
	Dirs      int
	Bytes     int64
	Languages map[string]int
}

// TopLanguages returns languages by descending file count, ties by name.
func (s Stats) TopLanguages(n int) []string {
	langs := make([]string, 0, len(s.Languages))
	for l := range s.Languages {
		langs = append(langs, l)
	}
	sort.Slice(langs, func(i, j int) bool {
		if s.Languages[langs[i]] != s.Languages[langs[j]] {
			return s.Languages[langs[i]] > s.Languages[langs[j]]
		}
		return langs[i] < langs[j]
	})
	if n > 0 && len(langs) > n {
		langs = langs[:n]
	}
	return langs
}

// Stats counts files, directories, bytes and languages.
func (m *Model) Stats() Stats {
	s := Stats{Languages: make(map[string]int)}
	m.Walk(func(n *types.TreeNode, _ int) bool {
		if n.IsDir() {
			s.Dirs++
			return true
		}
		s.Files++
		s.Bytes += n.SizeBytes()
		if n.Language != "" {
			s.Languages[n.Language]++
		}
		return true
	})
	return s
}
