package export

import (
	"strings"
	"testing"
)

func TestMarkdown_Outline(t *testing.T) {
	result := Markdown(sampleDoc())

	for _, want := range []string{
		"# Code Atlas: /home/dev/atlas",
		"> Job job-42, exported ",
		"2 files in 3 directories, 2.3 KiB (Go, Markdown)",
		"A repository analyser.",
		"- **cmd/**\n",
		"  - `main.go` (Go, 2.0 KiB): Entry point.\n",
		"- **docs/**\n",
		"- `README.md` (Markdown, 300 B)\n",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("expected %q in output:\n%s", want, result)
		}
	}
}

func TestMarkdown_FlattensMultilineSummary(t *testing.T) {
	doc := sampleDoc()
	doc.Tree.Children[0].Children[0].Summary = "First line.\n\nSecond   line."
	result := Markdown(doc)
	if !strings.Contains(result, ": First line. Second line.\n") {
		t.Errorf("summary not flattened:\n%s", result)
	}
}

func TestMarkdown_FallsBackToJobID(t *testing.T) {
	doc := sampleDoc()
	doc.Source = ""
	if !strings.HasPrefix(Markdown(doc), "# Code Atlas: job-42\n") {
		t.Error("expected job id in title")
	}
}
