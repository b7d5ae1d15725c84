package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/lotas/codeatlas/internal/tree"
	"github.com/lotas/codeatlas/internal/types"
)

// DetailModel shows information about the selected node.
type DetailModel struct {
	Width      int
	Height     int
	Scroll     int // scroll offset
	ContentLen int // total lines in content

	md *markdownCache // shared by copies of the model
}

// markdownCache holds one glamour renderer per wrap width.
type markdownCache struct {
	width    int
	renderer *glamour.TermRenderer
}

func NewDetailModel() DetailModel {
	return DetailModel{md: &markdownCache{}}
}

var summaryMatchStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Underline(true)

// ScrollUp adjusts the scroll offset upward.
func (m *DetailModel) ScrollUp() {
	if m.Scroll > 0 {
		m.Scroll--
	}
}

// ScrollDown adjusts the scroll offset downward.
func (m *DetailModel) ScrollDown() {
	if m.Scroll < m.ContentLen-m.Height {
		m.Scroll++
	}
	if m.Scroll < 0 {
		m.Scroll = 0
	}
}

// ResetScroll resets the scroll offset to 0.
func (m *DetailModel) ResetScroll() {
	m.Scroll = 0
}

// renderer returns a glamour renderer for wrap, reusing the cached one
// while the width is unchanged.
func (m DetailModel) renderer(wrap int) (*glamour.TermRenderer, error) {
	if m.md != nil && m.md.renderer != nil && m.md.width == wrap {
		return m.md.renderer, nil
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithStylePath("dark"),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return nil, err
	}
	if m.md != nil {
		m.md.width, m.md.renderer = wrap, r
	}
	return r, nil
}

// renderMarkdown renders summaries and answers, falling back to the raw
// text if glamour fails.
func (m DetailModel) renderMarkdown(raw string) string {
	wrap := m.Width - 2
	if wrap < 20 {
		wrap = 20
	}
	r, err := m.renderer(wrap)
	if err != nil {
		return raw
	}
	out, err := r.Render(raw)
	if err != nil {
		return raw
	}
	return strings.Trim(out, "\n")
}

// highlightText wraps every part of text matching q with mark.
func highlightText(text, q string, mark func(string) string) string {
	var b strings.Builder
	for _, seg := range tree.Highlight(text, q) {
		if seg.Match {
			b.WriteString(mark(seg.Text))
		} else {
			b.WriteString(seg.Text)
		}
	}
	return b.String()
}

func hasMatch(segs []tree.Segment) bool {
	for _, seg := range segs {
		if seg.Match {
			return true
		}
	}
	return false
}

// renderSummary highlights query hits in the summary. Without a hit it
// goes through glamour.
func (m DetailModel) renderSummary(summary, query string) string {
	if query == "" || !hasMatch(tree.Highlight(summary, query)) {
		return m.renderMarkdown(summary)
	}
	out := highlightText(summary, query, func(s string) string { return summaryMatchStyle.Render(s) })
	if w := m.Width - 2; w > 0 {
		out = lipgloss.NewStyle().Width(w).Render(out)
	}
	return out
}

// ViewNode renders a node's metadata and summary, with query hits in the
// summary highlighted. stats is set for the root only.
func (m DetailModel) ViewNode(n *types.TreeNode, stats *tree.Stats, query string) string {
	if n == nil {
		return ""
	}

	labelStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	valueStyle := lipgloss.NewStyle()
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var b strings.Builder

	b.WriteString(labelStyle.Render("Name") + "\n")
	b.WriteString(valueStyle.Render(n.Name) + "\n\n")

	b.WriteString(labelStyle.Render("Path") + "\n")
	path := n.Path
	// Wrap long paths
	width := m.Width - 2
	for width > 0 && lipgloss.Width(path) > width {
		r := []rune(path)
		if len(r) <= width {
			break
		}
		b.WriteString(valueStyle.Render(string(r[:width])) + "\n")
		path = string(r[width:])
	}
	b.WriteString(valueStyle.Render(path) + "\n\n")

	if n.IsDir() {
		b.WriteString(labelStyle.Render("Directory") + "\n")
		b.WriteString(valueStyle.Render(fmt.Sprintf("%d entries", len(n.Children))) + "\n\n")
	} else {
		var meta []string
		if n.Language != "" {
			meta = append(meta, n.Language)
		}
		if n.Size != nil {
			meta = append(meta, humanize.IBytes(uint64(*n.Size)))
		}
		if len(meta) > 0 {
			b.WriteString(labelStyle.Render("File") + "\n")
			b.WriteString(valueStyle.Render(strings.Join(meta, " · ")) + "\n\n")
		}
	}

	if stats != nil {
		s := *stats
		b.WriteString(labelStyle.Render("Repository") + "\n")
		b.WriteString(fmt.Sprintf("%d files · %d directories · %s\n", s.Files, s.Dirs, humanize.IBytes(uint64(s.Bytes))))
		if langs := s.TopLanguages(5); len(langs) > 0 {
			var parts []string
			for _, l := range langs {
				parts = append(parts, fmt.Sprintf("%s %d", l, s.Languages[l]))
			}
			b.WriteString(dimStyle.Render(strings.Join(parts, ", ")) + "\n")
		}
		b.WriteString("\n")
	}

	b.WriteString(labelStyle.Render("Summary") + "\n")
	if n.Summary == "" {
		b.WriteString(dimStyle.Render("  No summary.") + "\n")
	} else {
		b.WriteString(m.renderSummary(n.Summary, query) + "\n")
	}

	return b.String()
}

// ViewAnswer renders a Q&A answer below the node details.
func (m DetailModel) ViewAnswer(a *types.Answer, asking bool, askErr error) string {
	labelStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("245"))
	activeStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	switch {
	case asking:
		return activeStyle.Render("Asking...")
	case askErr != nil:
		return errStyle.Render("Question failed: " + askErr.Error())
	case a == nil:
		return ""
	}

	var b strings.Builder
	b.WriteString(labelStyle.Render("Q: "+a.Question) + "\n")
	b.WriteString(m.renderMarkdown(a.Answer) + "\n")
	if len(a.RelevantFiles) > 0 {
		b.WriteString("\n" + labelStyle.Render("Relevant files") + "\n")
		for _, f := range a.RelevantFiles {
			b.WriteString(dimStyle.Render("  "+f) + "\n")
		}
	}
	b.WriteString(dimStyle.Render(fmt.Sprintf("confidence %.0f%%", a.Confidence*100)) + "\n")
	return b.String()
}

// ViewScrolled applies scroll offset and height truncation to the content string.
func (m *DetailModel) ViewScrolled(content string) string {
	if content == "" {
		return content
	}

	lines := strings.Split(content, "\n")
	m.ContentLen = len(lines)

	// Clamp scroll
	maxScroll := m.ContentLen - m.Height
	if maxScroll < 0 {
		maxScroll = 0
	}
	if m.Scroll > maxScroll {
		m.Scroll = maxScroll
	}
	if m.Scroll < 0 {
		m.Scroll = 0
	}

	end := m.Scroll + m.Height
	if end > len(lines) {
		end = len(lines)
	}

	if m.Scroll >= len(lines) {
		return ""
	}

	return strings.Join(lines[m.Scroll:end], "\n")
}
