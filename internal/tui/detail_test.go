package tui

import (
	"strings"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/lotas/codeatlas/internal/tree"
	"github.com/lotas/codeatlas/internal/types"
)

func withColor(t *testing.T) {
	t.Helper()
	prev := lipgloss.ColorProfile()
	lipgloss.SetColorProfile(termenv.ANSI256)
	t.Cleanup(func() { lipgloss.SetColorProfile(prev) })
}

func TestHighlightText(t *testing.T) {
	mark := func(s string) string { return "[" + s + "]" }
	tests := []struct {
		text, q, want string
	}{
		{"entry point", "point", "entry [point]"},
		{"Point to POINT", "point", "[Point] to [POINT]"},
		{"entry point", "", "entry point"},
		{"entry point", "zzz", "entry point"},
	}
	for _, tt := range tests {
		if got := highlightText(tt.text, tt.q, mark); got != tt.want {
			t.Errorf("highlightText(%q, %q) = %q, want %q", tt.text, tt.q, got, tt.want)
		}
	}
}

func TestViewNodeHighlightsSummaryMatch(t *testing.T) {
	withColor(t)
	n := &types.TreeNode{Path: "cmd/main.go", Name: "main.go", Kind: types.KindFile, Summary: "parses the config file"}

	d := NewDetailModel()
	out := d.ViewNode(n, nil, "config")
	styled := summaryMatchStyle.Render("config")
	if !strings.Contains(styled, "\x1b[") {
		t.Fatalf("match style renders without escapes: %q", styled)
	}
	if !strings.Contains(out, styled) {
		t.Errorf("summary hit not highlighted:\n%q", out)
	}
	if strings.Contains(d.ViewNode(n, nil, ""), styled) {
		t.Error("no highlight expected without a query")
	}
}

func TestViewNodeRootStats(t *testing.T) {
	root := sampleTree()
	m, err := tree.New(root)
	if err != nil {
		t.Fatal(err)
	}
	stats := m.Stats()
	d := NewDetailModel()
	if out := d.ViewNode(root, &stats, ""); !strings.Contains(out, "4 files") {
		t.Errorf("root view missing stats:\n%s", out)
	}
	if out := d.ViewNode(root.Children[0], nil, ""); strings.Contains(out, "Repository") {
		t.Errorf("non-root view has stats:\n%s", out)
	}
}

func TestRendererCachedPerWidth(t *testing.T) {
	d := NewDetailModel()
	r1, err := d.renderer(40)
	if err != nil {
		t.Fatal(err)
	}
	copied := d
	r2, _ := copied.renderer(40)
	if r1 != r2 {
		t.Error("same width should reuse the renderer across copies")
	}
	r3, _ := d.renderer(60)
	if r3 == r1 {
		t.Error("new width should build a new renderer")
	}
}
