package tree

import (
	"unicode"
	"unicode/utf8"

	"github.com/lotas/codeatlas/internal/types"
)

// Matches reports whether q occurs in n's name or summary, ignoring case.
// The empty query matches everything.
func Matches(n *types.TreeNode, q string) bool {
	if q == "" {
		return true
	}
	return indexFold(n.Name, q) >= 0 || indexFold(n.Summary, q) >= 0
}

// Visibility is the result of filtering a Model by a query.
type Visibility struct {
	model   *Model
	query   string
	visible map[string]bool
	matches int
}

// Filter computes which nodes are shown for q. The root is always shown.
// Any other node is shown when it or one of its descendants matches, so
// every visible node's parent is visible too.
func Filter(m *Model, q string) *Visibility {
	v := &Visibility{model: m, query: q, visible: make(map[string]bool, m.Len())}

	var visit func(n *types.TreeNode) bool
	visit = func(n *types.TreeNode) bool {
		hit := q == "" || Matches(n, q)
		if hit && q != "" {
			v.matches++
		}
		show := hit
		for _, c := range n.Children {
			if visit(c) {
				show = true
			}
		}
		if show {
			v.visible[n.Path] = true
		}
		return show
	}
	visit(m.root)
	v.visible[m.root.Path] = true
	return v
}

// Query returns the query the visibility was computed for.
func (v *Visibility) Query() string { return v.query }

// IsVisible reports whether the node at path is shown.
func (v *Visibility) IsVisible(path string) bool { return v.visible[path] }

// VisibleChildren returns n's shown children in order.
func (v *Visibility) VisibleChildren(n *types.TreeNode) []*types.TreeNode {
	kids := v.model.ChildrenOf(n)
	if v.query == "" {
		return kids
	}
	var out []*types.TreeNode
	for _, c := range kids {
		if v.visible[c.Path] {
			out = append(out, c)
		}
	}
	return out
}

// MatchCount is the number of nodes matching the query itself, not
// counting ancestors shown only for context. Zero for the empty query.
func (v *Visibility) MatchCount() int { return v.matches }

// indexFold returns the byte offset of the first case-insensitive match of
// q in s, or -1. Folding is per rune so offsets refer to s unchanged.
func indexFold(s, q string) int {
	if q == "" {
		return 0
	}
	for i := 0; i < len(s); {
		if n := prefixFold(s[i:], q); n > 0 {
			return i
		}
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return -1
}

// prefixFold reports how many bytes of s match q, or 0 if s does not
// start with q.
func prefixFold(s, q string) int {
	i := 0
	for _, qr := range q {
		if i >= len(s) {
			return 0
		}
		sr, size := utf8.DecodeRuneInString(s[i:])
		if unicode.ToLower(sr) != unicode.ToLower(qr) {
			return 0
		}
		i += size
	}
	return i
}
