package tui

import (
	"github.com/charmbracelet/lipgloss"
)

// Screen is one of the dashboard's top-level views.
type Screen int

const (
	ScreenSubmit Screen = iota
	ScreenProgress
	ScreenExplorer
	ScreenError
	ScreenHistory
)

// TreeWidthPct is the percentage of terminal width used for the left (tree/list) pane.
const TreeWidthPct = 55

var screenNames = []string{"Submit", "Progress", "Explorer", "Error", "History"}

func (s Screen) String() string {
	if s < 0 || int(s) >= len(screenNames) {
		return "?"
	}
	return screenNames[s]
}

// navbarScreens are the screens shown as tabs. Error replaces Progress
// while it is active.
var navbarScreens = []Screen{ScreenSubmit, ScreenProgress, ScreenExplorer, ScreenHistory}

func renderNavbar(active Screen, job string, stats string, width int) string {
	activeStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62")).Underline(true)
	inactiveStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	errStyle := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196")).Underline(true)
	jobStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	statsStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var tabs string
	for i, s := range navbarScreens {
		if i > 0 {
			tabs += inactiveStyle.Render(" │ ")
		}
		switch {
		case s == ScreenProgress && active == ScreenError:
			tabs += errStyle.Render(ScreenError.String())
		case s == active:
			tabs += activeStyle.Render(s.String())
		default:
			tabs += inactiveStyle.Render(s.String())
		}
	}

	left := " " + lipgloss.NewStyle().Bold(true).Render("codeatlas") + "  " + tabs
	if stats != "" {
		left += "   " + statsStyle.Render(stats)
	}

	right := ""
	if job != "" {
		right = jobStyle.Render("Job: " + job)
	}
	gap := width - lipgloss.Width(left) - lipgloss.Width(right) - 2
	if gap < 1 {
		gap = 1
	}
	padding := lipgloss.NewStyle().Width(gap)

	return left + padding.Render("") + right + " "
}
