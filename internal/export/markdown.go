package export

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/lotas/codeatlas/internal/tree"
	"github.com/lotas/codeatlas/internal/types"
)

// Markdown formats doc as an indented outline of the tree.
func Markdown(doc *Document) string {
	var b strings.Builder

	title := doc.Source
	if title == "" {
		title = doc.JobID
	}
	fmt.Fprintf(&b, "# Code Atlas: %s\n", title)
	fmt.Fprintf(&b, "> Job %s, exported %s\n", doc.JobID, doc.ExportedAt.Local().Format("2006-01-02 15:04"))

	if doc.Tree == nil {
		return b.String()
	}
	if m, err := tree.New(doc.Tree); err == nil {
		s := m.Stats()
		fmt.Fprintf(&b, "\n%d files in %d directories, %s", s.Files, s.Dirs, humanize.IBytes(uint64(s.Bytes)))
		if langs := s.TopLanguages(5); len(langs) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(langs, ", "))
		}
		b.WriteString("\n")
	}

	if doc.Tree.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", oneLine(doc.Tree.Summary))
	}
	b.WriteString("\n")
	for _, c := range doc.Tree.Children {
		writeNode(&b, c, 0)
	}
	return b.String()
}

func writeNode(b *strings.Builder, n *types.TreeNode, depth int) {
	indent := strings.Repeat("  ", depth)
	if n.IsDir() {
		fmt.Fprintf(b, "%s- **%s/**", indent, n.Name)
	} else {
		fmt.Fprintf(b, "%s- `%s`", indent, n.Name)
		var meta []string
		if n.Language != "" {
			meta = append(meta, n.Language)
		}
		if n.Size != nil {
			meta = append(meta, humanize.IBytes(uint64(*n.Size)))
		}
		if len(meta) > 0 {
			fmt.Fprintf(b, " (%s)", strings.Join(meta, ", "))
		}
	}
	if n.Summary != "" {
		fmt.Fprintf(b, ": %s", oneLine(n.Summary))
	}
	b.WriteString("\n")
	for _, c := range n.Children {
		writeNode(b, c, depth+1)
	}
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
