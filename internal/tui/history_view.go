package tui

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/lotas/codeatlas/internal/storage"
)

type historyLoadedMsg struct {
	gen      uint64
	analyses []storage.AnalysisSummary
	err      error
}

type analysisOpenedMsg struct {
	gen      uint64
	analysis *storage.Analysis
	err      error
}

type analysisDeletedMsg struct {
	gen   uint64
	jobID string
	err   error
}

// HistoryView lists stored analyses. Opening one needs no backend.
type HistoryView struct {
	db       *sql.DB
	gen      uint64
	analyses []storage.AnalysisSummary
	cursor   int
	offset   int
	width    int
	height   int
	loading  bool
	err      error
}

func NewHistoryView(db *sql.DB) HistoryView {
	return HistoryView{db: db}
}

// Open starts loading the list for session gen.
func (v *HistoryView) Open(gen uint64) tea.Cmd {
	v.gen = gen
	v.cursor = 0
	v.offset = 0
	v.err = nil
	if v.db == nil {
		v.err = fmt.Errorf("history is disabled (no database)")
		return nil
	}
	v.loading = true
	return v.load()
}

func (v *HistoryView) load() tea.Cmd {
	db, gen := v.db, v.gen
	return func() tea.Msg {
		list, err := storage.ListAnalyses(db)
		return historyLoadedMsg{gen: gen, analyses: list, err: err}
	}
}

func (v *HistoryView) open(jobID string) tea.Cmd {
	db, gen := v.db, v.gen
	return func() tea.Msg {
		a, err := storage.GetAnalysis(db, jobID)
		return analysisOpenedMsg{gen: gen, analysis: a, err: err}
	}
}

func (v *HistoryView) remove(jobID string) tea.Cmd {
	db, gen := v.db, v.gen
	return func() tea.Msg {
		return analysisDeletedMsg{gen: gen, jobID: jobID, err: storage.DeleteAnalysis(db, jobID)}
	}
}

func (v *HistoryView) SetSize(w, h int) {
	v.width = w
	v.height = h
}

// Selected returns the summary under the cursor, or nil.
func (v HistoryView) Selected() *storage.AnalysisSummary {
	if v.cursor >= 0 && v.cursor < len(v.analyses) {
		return &v.analyses[v.cursor]
	}
	return nil
}

func (v HistoryView) Update(msg tea.Msg, keys keyMap) (HistoryView, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		if msg.gen != v.gen {
			return v, nil
		}
		v.loading = false
		if msg.err != nil {
			v.err = msg.err
			return v, nil
		}
		v.analyses = msg.analyses
		v.err = nil
		if v.cursor >= len(v.analyses) {
			v.cursor = len(v.analyses) - 1
		}
		if v.cursor < 0 {
			v.cursor = 0
		}
		v.adjustOffset()
		return v, nil

	case analysisDeletedMsg:
		if msg.gen != v.gen {
			return v, nil
		}
		if msg.err != nil {
			v.err = msg.err
			return v, nil
		}
		return v, v.load()

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Down):
			if v.cursor < len(v.analyses)-1 {
				v.cursor++
				v.adjustOffset()
			}
		case key.Matches(msg, keys.Up):
			if v.cursor > 0 {
				v.cursor--
				v.adjustOffset()
			}
		case key.Matches(msg, keys.Toggle):
			if s := v.Selected(); s != nil {
				v.loading = true
				return v, v.open(s.JobID)
			}
		case key.Matches(msg, keys.Delete):
			if s := v.Selected(); s != nil {
				return v, v.remove(s.JobID)
			}
		}
	}
	return v, nil
}

func (v *HistoryView) adjustOffset() {
	if v.cursor < v.offset {
		v.offset = v.cursor
	}
	visible := v.height - 2
	if visible < 1 {
		visible = 1
	}
	if v.cursor >= v.offset+visible {
		v.offset = v.cursor - visible + 1
	}
}

func (v HistoryView) View() string {
	if v.err != nil {
		return fmt.Sprintf("Error: %v", v.err)
	}
	if v.loading && len(v.analyses) == 0 {
		return "Loading history..."
	}
	if len(v.analyses) == 0 {
		return "No analyses yet."
	}

	cursorStyle := lipgloss.NewStyle().Bold(true).Reverse(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var b strings.Builder
	end := v.offset + v.height
	if v.height < 1 {
		end = v.offset + 20
	}
	if end > len(v.analyses) {
		end = len(v.analyses)
	}

	for i := v.offset; i < end; i++ {
		a := v.analyses[i]
		ts := a.CreatedAt.Local().Format("2006-01-02 15:04")
		meta := fmt.Sprintf("(%d files, %s, %s)", a.FileCount, humanize.IBytes(uint64(a.TotalBytes)), humanize.Time(a.CreatedAt))
		line := fmt.Sprintf("  %s  %s  ", ts, a.Source)

		if i == v.cursor {
			line += meta
			if pad := v.width - lipgloss.Width(line); pad > 0 {
				line += strings.Repeat(" ", pad)
			}
			line = cursorStyle.Render(line)
		} else {
			line += dimStyle.Render(meta)
		}

		b.WriteString(line)
		if i < end-1 {
			b.WriteString("\n")
		}
	}
	return b.String()
}
