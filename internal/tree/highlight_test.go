package tree

import (
	"strings"
	"testing"

	"pgregory.net/rapid"

	"github.com/lotas/codeatlas/internal/types"
)

func TestHighlight(t *testing.T) {
	tests := []struct {
		text, q string
		want    []Segment
	}{
		{"main.go", "", []Segment{{Text: "main.go"}}},
		{"main.go", "MAIN", []Segment{{Text: "main", Match: true}, {Text: ".go"}}},
		{"a_a_a", "a", []Segment{
			{Text: "a", Match: true}, {Text: "_"}, {Text: "a", Match: true}, {Text: "_"}, {Text: "a", Match: true},
		}},
		{"Straße Übung", "übung", []Segment{{Text: "Straße "}, {Text: "Übung", Match: true}}},
		{"日本語のテキスト", "テキ", []Segment{{Text: "日本語の"}, {Text: "テキ", Match: true}, {Text: "スト"}}},
		{"nothing", "zz", []Segment{{Text: "nothing"}}},
		{"", "x", nil},
	}
	for _, tt := range tests {
		got := Highlight(tt.text, tt.q)
		if len(got) != len(tt.want) {
			t.Errorf("Highlight(%q, %q) = %+v, want %+v", tt.text, tt.q, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("Highlight(%q, %q)[%d] = %+v, want %+v", tt.text, tt.q, i, got[i], tt.want[i])
			}
		}
	}
}

func TestHighlightPreservesText(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		text := rapid.String().Draw(t, "text")
		q := rapid.StringN(0, 3, -1).Draw(t, "q")

		var b strings.Builder
		for _, s := range Highlight(text, q) {
			b.WriteString(s.Text)
			if s.Match && !Matches(&types.TreeNode{Name: s.Text}, q) {
				t.Fatalf("segment %q marked as match for %q", s.Text, q)
			}
		}
		if b.String() != text {
			t.Fatalf("segments rebuild %q, want %q", b.String(), text)
		}
	})
}
