// Package explorer holds the interactive state for browsing one result
// tree: which directories are expanded, which node is selected and what
// the search query is.
package explorer

import (
	"fmt"

	"github.com/lotas/codeatlas/internal/tree"
	"github.com/lotas/codeatlas/internal/types"
)

// Row is one line of the flattened, filtered tree.
type Row struct {
	Node     *types.TreeNode
	Depth    int
	Expanded bool
	// Expandable is set for directories with at least one visible child.
	Expandable bool
}

// Controller is the explorer state over a single Model. Replacing the
// tree means creating a new Controller.
type Controller struct {
	model    *tree.Model
	vis      *tree.Visibility
	expanded map[string]bool
	selected string
	hasSel   bool
	query    string
}

// New starts with only the root expanded, nothing selected and no query.
func New(m *tree.Model) *Controller {
	c := &Controller{model: m}
	c.Reset()
	return c
}

// Model returns the underlying tree.
func (c *Controller) Model() *tree.Model { return c.model }

// Visibility returns the filter result for the current query.
func (c *Controller) Visibility() *tree.Visibility { return c.vis }

// ToggleExpanded flips the expansion of the node at path. Files and
// unknown paths are ignored.
func (c *Controller) ToggleExpanded(path string) {
	n := c.model.FindByPath(path)
	if n == nil || !n.IsDir() {
		return
	}
	if c.expanded[path] {
		delete(c.expanded, path)
	} else {
		c.expanded[path] = true
	}
}

// SetExpanded expands or collapses the directory at path.
func (c *Controller) SetExpanded(path string, on bool) {
	if c.IsExpanded(path) != on {
		c.ToggleExpanded(path)
	}
}

// IsExpanded reports whether path is in the expansion set.
func (c *Controller) IsExpanded(path string) bool { return c.expanded[path] }

// ExpandAll expands every directory.
func (c *Controller) ExpandAll() {
	c.model.Walk(func(n *types.TreeNode, _ int) bool {
		if n.IsDir() {
			c.expanded[n.Path] = true
		}
		return true
	})
}

// CollapseAll collapses everything except the root.
func (c *Controller) CollapseAll() {
	c.expanded = map[string]bool{c.model.Root().Path: true}
}

// Select picks the node at path. It does not expand anything.
func (c *Controller) Select(path string) error {
	if c.model.FindByPath(path) == nil {
		return fmt.Errorf("select: no node at %q", path)
	}
	c.selected = path
	c.hasSel = true
	return nil
}

// Selected returns the selected node, or nil.
func (c *Controller) Selected() *types.TreeNode {
	if !c.hasSel {
		return nil
	}
	return c.model.FindByPath(c.selected)
}

// ClearSelection drops the selection.
func (c *Controller) ClearSelection() { c.selected, c.hasSel = "", false }

// SetQuery replaces the search query and recomputes visibility.
func (c *Controller) SetQuery(q string) {
	c.query = q
	c.vis = tree.Filter(c.model, q)
}

// Query returns the current search query.
func (c *Controller) Query() string { return c.query }

// Reset returns to the initial state.
func (c *Controller) Reset() {
	c.CollapseAll()
	c.ClearSelection()
	c.SetQuery("")
}

// Rows flattens the visible part of the tree in display order. A
// directory's children appear only when it is expanded and at least one of
// them is visible.
func (c *Controller) Rows() []Row {
	var rows []Row
	var add func(n *types.TreeNode, depth int)
	add = func(n *types.TreeNode, depth int) {
		kids := c.vis.VisibleChildren(n)
		r := Row{
			Node:       n,
			Depth:      depth,
			Expanded:   c.expanded[n.Path],
			Expandable: len(kids) > 0,
		}
		rows = append(rows, r)
		if !r.Expanded || !r.Expandable {
			return
		}
		for _, k := range kids {
			add(k, depth+1)
		}
	}
	add(c.model.Root(), 0)
	return rows
}

// IndexOf returns the row index of path in rows, or -1.
func IndexOf(rows []Row, path string) int {
	for i, r := range rows {
		if r.Node.Path == path {
			return i
		}
	}
	return -1
}
