package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/lotas/codeatlas/internal/explorer"
	"github.com/lotas/codeatlas/internal/tree"
)

// TreeView renders an explorer.Controller as a scrollable, collapsible list.
// The node under the cursor is the explorer's selection.
type TreeView struct {
	ctrl   *explorer.Controller
	Cursor int
	Offset int // scroll offset
	Width  int
	Height int
}

func NewTreeView(ctrl *explorer.Controller) TreeView {
	v := TreeView{ctrl: ctrl}
	v.sync()
	return v
}

// Rows returns the currently visible rows.
func (v TreeView) Rows() []explorer.Row {
	if v.ctrl == nil {
		return nil
	}
	return v.ctrl.Rows()
}

// SelectedRow returns the row under the cursor, or nil.
func (v TreeView) SelectedRow() *explorer.Row {
	rows := v.Rows()
	if v.Cursor >= 0 && v.Cursor < len(rows) {
		return &rows[v.Cursor]
	}
	return nil
}

func (v *TreeView) visibleRows() int {
	n := v.Height - 2 // account for padding
	if n < 1 {
		n = 1
	}
	return n
}

// clamp keeps the cursor on a row and in the scroll window.
func (v *TreeView) clamp() {
	rows := v.Rows()
	if v.Cursor >= len(rows) {
		v.Cursor = len(rows) - 1
	}
	if v.Cursor < 0 {
		v.Cursor = 0
	}
	if v.Cursor < v.Offset {
		v.Offset = v.Cursor
	}
	if vis := v.visibleRows(); v.Cursor >= v.Offset+vis {
		v.Offset = v.Cursor - vis + 1
	}
}

// sync clamps the cursor after the rows changed and selects the node under it.
func (v *TreeView) sync() {
	v.clamp()
	if v.ctrl == nil {
		return
	}
	rows := v.Rows()
	if v.Cursor < len(rows) {
		v.ctrl.Select(rows[v.Cursor].Node.Path)
	} else {
		v.ctrl.ClearSelection()
	}
}

// Follow moves the cursor onto the selected node after the rows changed.
// A selection hidden by the filter is kept and the cursor parks at the top
// until it shows up again.
func (v *TreeView) Follow() {
	sel := v.ctrl.Selected()
	if sel == nil {
		v.Cursor = 0
		v.sync()
		return
	}
	v.Cursor = 0
	if i := explorer.IndexOf(v.Rows(), sel.Path); i >= 0 {
		v.Cursor = i
	}
	v.clamp()
}

// MoveUp moves the cursor up.
func (v *TreeView) MoveUp() {
	if v.Cursor > 0 {
		v.Cursor--
	}
	v.sync()
}

// MoveDown moves the cursor down.
func (v *TreeView) MoveDown() {
	if v.Cursor < len(v.Rows())-1 {
		v.Cursor++
	}
	v.sync()
}

// Toggle expands/collapses the directory under the cursor.
func (v *TreeView) Toggle() {
	row := v.SelectedRow()
	if row == nil || !row.Node.IsDir() {
		return
	}
	v.ctrl.ToggleExpanded(row.Node.Path)
	v.sync()
}

// CollapseOrParent collapses the directory under the cursor if expanded,
// or jumps to its parent directory otherwise.
func (v *TreeView) CollapseOrParent() {
	row := v.SelectedRow()
	if row == nil {
		return
	}
	if row.Node.IsDir() && row.Expanded && row.Expandable {
		v.ctrl.SetExpanded(row.Node.Path, false)
		v.sync()
		return
	}
	parent := v.ctrl.Model().Parent(row.Node.Path)
	if parent == nil {
		return
	}
	if i := explorer.IndexOf(v.Rows(), parent.Path); i >= 0 {
		v.Cursor = i
		v.sync()
	}
}

// ExpandOrEnter expands the directory under the cursor if collapsed, or
// moves into its first child if already expanded.
func (v *TreeView) ExpandOrEnter() {
	row := v.SelectedRow()
	if row == nil || !row.Node.IsDir() {
		return
	}
	if !row.Expanded {
		v.ctrl.SetExpanded(row.Node.Path, true)
		v.sync()
		return
	}
	rows := v.Rows()
	if v.Cursor+1 < len(rows) && rows[v.Cursor+1].Depth > row.Depth {
		v.Cursor++
		v.sync()
	}
}

// ExpandAll expands every directory.
func (v *TreeView) ExpandAll() {
	v.ctrl.ExpandAll()
	v.Follow()
}

// CollapseAll collapses every directory except the root.
func (v *TreeView) CollapseAll() {
	v.ctrl.CollapseAll()
	v.Follow()
}

// View renders the tree.
func (v TreeView) View() string {
	rows := v.Rows()
	if len(rows) == 0 {
		return "Empty tree."
	}

	visibleRows := v.Height
	if visibleRows < 1 {
		visibleRows = 20
	}

	var b strings.Builder
	end := v.Offset + visibleRows
	if end > len(rows) {
		end = len(rows)
	}

	cursorStyle := lipgloss.NewStyle().Bold(true).Reverse(true)
	dirStyle := lipgloss.NewStyle().Bold(true)
	matchStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Underline(true) // orange
	metaStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	summaryStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("86"))

	query := v.ctrl.Query()
	for i := v.Offset; i < end; i++ {
		row := rows[i]
		n := row.Node
		indent := strings.Repeat("  ", row.Depth)

		var name string
		for _, seg := range tree.Highlight(n.Name, query) {
			if seg.Match && i != v.Cursor {
				name += matchStyle.Render(seg.Text)
			} else {
				name += seg.Text
			}
		}

		var line string
		if n.IsDir() {
			icon := "▶"
			switch {
			case !row.Expandable:
				icon = "·"
			case row.Expanded:
				icon = "▼"
			}
			label := fmt.Sprintf("%s %s/", icon, name)
			if i != v.Cursor {
				label = dirStyle.Render(label)
			}
			line = indent + label
		} else {
			var meta []string
			if n.Language != "" {
				meta = append(meta, n.Language)
			}
			if n.Size != nil {
				meta = append(meta, humanize.IBytes(uint64(*n.Size)))
			}
			marker := "  "
			if n.Summary != "" {
				switch {
				case i == v.Cursor:
					marker = "S "
				case query != "" && hasMatch(tree.Highlight(n.Summary, query)):
					marker = matchStyle.Render("S") + " "
				default:
					marker = summaryStyle.Render("S") + " "
				}
			}
			line = indent + marker + name
			if len(meta) > 0 {
				m := " " + strings.Join(meta, " · ")
				if i != v.Cursor {
					m = metaStyle.Render(m)
				}
				line += m
			}
		}

		// Apply cursor highlight
		if i == v.Cursor {
			if pad := v.Width - lipgloss.Width(line); pad > 0 {
				line += strings.Repeat(" ", pad)
			}
			line = cursorStyle.Render(line)
		}

		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}

	return b.String()
}
