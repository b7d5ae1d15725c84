// Package tui is the interactive dashboard: submit a repository, follow the
// analysis job, then explore its result tree.
package tui

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/atotto/clipboard"
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lotas/codeatlas/internal/applog"
	"github.com/lotas/codeatlas/internal/explorer"
	"github.com/lotas/codeatlas/internal/export"
	"github.com/lotas/codeatlas/internal/jobchan"
	"github.com/lotas/codeatlas/internal/jobsync"
	"github.com/lotas/codeatlas/internal/storage"
	"github.com/lotas/codeatlas/internal/tree"
	"github.com/lotas/codeatlas/internal/types"
)

// Backend is the part of the analysis API the dashboard calls directly.
type Backend interface {
	Submit(ctx context.Context, path string) (types.JobHandle, error)
	Ask(ctx context.Context, jobID, question string) (types.Answer, error)
}

// Options configures a dashboard.
type Options struct {
	Backend Backend
	// Channels creates the transport for each new job.
	Channels           func() (jobchan.Channel, error)
	DB                 *sql.DB // nil disables history
	SessionID          string
	MaxTransportErrors int
	ExportDir          string

	Path  string // submitted on start
	JobID string // followed on start, takes precedence over Path
}

// --- Messages ---
//
// Every asynchronous result carries the generation it was started under.
// Results from an older generation are dropped.

type submittedMsg struct {
	gen  uint64
	path string
	job  types.JobHandle
	err  error
}

type jobEventMsg struct {
	tok jobsync.Token
	ch  jobchan.Channel
	ev  jobchan.Event
	err error
}

type answerMsg struct {
	gen    uint64
	answer types.Answer
	err    error
}

type exportedMsg struct {
	gen  uint64
	path string
	err  error
}

type savedMsg struct {
	gen uint64
	err error
}

type inputMode int

const (
	inputNone inputMode = iota
	inputSearch
	inputAsk
)

// --- Model ---

type Model struct {
	opts   Options
	ctx    context.Context
	cancel context.CancelFunc
	keys   keyMap
	help   help.Model

	screen Screen
	gen    uint64
	err    error
	status string
	width  int
	height int

	// Submit and progress
	pathInput textinput.Model
	spinner   spinner.Model
	bar       progress.Model
	ctrl      *jobsync.Controller
	jobID     string
	source    string

	// Explorer
	doc      *export.Document
	stats    tree.Stats // of doc, computed on open
	explorer *explorer.Controller
	treeView TreeView
	detail   DetailModel
	mode     inputMode
	input    textinput.Model
	answer   *types.Answer
	asking   bool
	askErr   error

	history HistoryView
}

func NewModel(opts Options) Model {
	if opts.ExportDir == "" {
		opts.ExportDir = "."
	}
	ctx, cancel := context.WithCancel(context.Background())

	pathInput := textinput.New()
	pathInput.Placeholder = "/path/to/repository"
	pathInput.Prompt = "Path: "
	pathInput.CharLimit = 4096
	pathInput.SetValue(opts.Path)
	pathInput.Focus()

	input := textinput.New()
	input.CharLimit = 500

	spin := spinner.New(spinner.WithSpinner(spinner.Dot))
	spin.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))

	return Model{
		opts:      opts,
		ctx:       ctx,
		cancel:    cancel,
		keys:      newKeyMap(),
		help:      help.New(),
		pathInput: pathInput,
		input:     input,
		spinner:   spin,
		detail:    NewDetailModel(),
		bar:       progress.New(progress.WithDefaultGradient()),
		ctrl:      jobsync.New(opts.MaxTransportErrors),
		history:   NewHistoryView(opts.DB),
	}
}

func (m Model) Init() tea.Cmd {
	switch {
	case m.opts.JobID != "":
		return func() tea.Msg {
			return submittedMsg{gen: m.gen, path: m.opts.Path, job: types.JobHandle{JobID: m.opts.JobID}}
		}
	case m.opts.Path != "":
		return m.submit(m.opts.Path)
	}
	return textinput.Blink
}

// --- Command helpers ---

func (m Model) submit(path string) tea.Cmd {
	ctx, backend, gen := m.ctx, m.opts.Backend, m.gen
	return func() tea.Msg {
		job, err := backend.Submit(ctx, path)
		return submittedMsg{gen: gen, path: path, job: job, err: err}
	}
}

func waitForEvent(ctx context.Context, ch jobchan.Channel, tok jobsync.Token) tea.Cmd {
	return func() tea.Msg {
		ev, err := ch.Next(ctx)
		return jobEventMsg{tok: tok, ch: ch, ev: ev, err: err}
	}
}

func (m Model) ask(question string) tea.Cmd {
	ctx, backend, gen, jobID := m.ctx, m.opts.Backend, m.gen, m.doc.JobID
	return func() tea.Msg {
		a, err := backend.Ask(ctx, jobID, question)
		return answerMsg{gen: gen, answer: a, err: err}
	}
}

func (m Model) exportDoc(markdown bool) tea.Cmd {
	doc, gen := m.doc, m.gen
	path := filepath.Join(m.opts.ExportDir, "codeatlas-"+doc.JobID)
	return func() tea.Msg {
		var data []byte
		if markdown {
			path += ".md"
			data = []byte(export.Markdown(doc))
		} else {
			path += ".json"
			b, err := export.JSON(doc)
			if err != nil {
				return exportedMsg{gen: gen, err: err}
			}
			data = b
		}
		err := os.WriteFile(path, data, 0o644)
		return exportedMsg{gen: gen, path: path, err: err}
	}
}

func (m Model) save(doc *export.Document) tea.Cmd {
	db, session, gen := m.opts.DB, m.opts.SessionID, m.gen
	if db == nil {
		return nil
	}
	return func() tea.Msg {
		return savedMsg{gen: gen, err: storage.SaveAnalysis(db, session, doc)}
	}
}

// --- State transitions ---

// newSession invalidates every pending result and clears explorer state.
func (m *Model) newSession() {
	m.gen++
	m.err = nil
	m.status = ""
	m.doc = nil
	m.stats = tree.Stats{}
	m.explorer = nil
	m.treeView = TreeView{}
	m.mode = inputNone
	m.answer = nil
	m.asking = false
	m.askErr = nil
}

func (m *Model) showError(err error) {
	applog.Error("tui.error", err, "job", m.jobID)
	m.err = err
	m.screen = ScreenError
}

func (m *Model) toSubmit() tea.Cmd {
	m.ctrl.Abort()
	m.newSession()
	m.jobID = ""
	m.screen = ScreenSubmit
	m.pathInput.Focus()
	return textinput.Blink
}

func (m *Model) startJob(jobID string) tea.Cmd {
	ch, err := m.opts.Channels()
	if err != nil {
		m.showError(err)
		return nil
	}
	m.jobID = jobID
	tok, err := m.ctrl.Start(m.ctx, ch, jobID)
	if err != nil {
		m.showError(err)
		return nil
	}
	m.screen = ScreenProgress
	return tea.Batch(waitForEvent(m.ctx, ch, tok), m.spinner.Tick)
}

func (m *Model) openDocument(doc *export.Document) error {
	model, err := tree.New(doc.Tree)
	if err != nil {
		return err
	}
	m.doc = doc
	m.stats = model.Stats()
	m.jobID = doc.JobID
	m.source = doc.Source
	m.explorer = explorer.New(model)
	m.treeView = NewTreeView(m.explorer)
	m.resize()
	m.screen = ScreenExplorer
	return nil
}

func (m *Model) resize() {
	treeWidth := m.width * TreeWidthPct / 100
	detailWidth := m.width - treeWidth - 4 // borders
	paneHeight := m.height - 5             // top bar + bottom bar + borders
	m.treeView.Width = treeWidth
	m.treeView.Height = paneHeight
	m.detail.Width = detailWidth
	m.detail.Height = paneHeight
	m.history.SetSize(m.width-4, paneHeight)
	m.bar.Width = min(m.width-8, 80)
	m.help.Width = m.width
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		m.treeView.clamp()
		return m, nil

	case spinner.TickMsg:
		if m.screen != ScreenProgress {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case submittedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		if msg.err != nil {
			m.showError(fmt.Errorf("submit %s: %w", msg.path, msg.err))
			return m, nil
		}
		m.source = msg.path
		applog.Info("tui.submitted", "job", msg.job.JobID, "path", msg.path)
		return m, m.startJob(msg.job.JobID)

	case jobEventMsg:
		return m.handleJobEvent(msg)

	case answerMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		m.asking = false
		if msg.err != nil {
			m.askErr = msg.err
			m.answer = nil
			return m, nil
		}
		m.askErr = nil
		a := msg.answer
		m.answer = &a
		m.detail.ResetScroll()
		return m, nil

	case exportedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		if msg.err != nil {
			m.status = "Export failed: " + msg.err.Error()
		} else {
			m.status = "Exported to " + msg.path
		}
		return m, nil

	case savedMsg:
		if msg.gen != m.gen {
			return m, nil
		}
		if msg.err != nil {
			applog.Error("tui.save", msg.err, "job", m.jobID)
			m.status = "Not saved to history: " + msg.err.Error()
		}
		return m, nil

	case analysisOpenedMsg:
		if msg.gen != m.gen || m.screen != ScreenHistory {
			return m, nil
		}
		m.history.loading = false
		if msg.err != nil {
			m.history.err = msg.err
			return m, nil
		}
		m.newSession()
		if err := m.openDocument(msg.analysis.Document); err != nil {
			m.showError(err)
		}
		return m, nil

	case historyLoadedMsg, analysisDeletedMsg:
		var cmd tea.Cmd
		m.history, cmd = m.history.Update(msg, m.keys)
		return m, cmd

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m.quit()
		}
		switch m.screen {
		case ScreenSubmit:
			return m.updateSubmit(msg)
		case ScreenProgress:
			return m.updateProgress(msg)
		case ScreenExplorer:
			return m.updateExplorer(msg)
		case ScreenError:
			return m.updateError(msg)
		case ScreenHistory:
			return m.updateHistory(msg)
		}
	}
	return m, nil
}

func (m Model) quit() (tea.Model, tea.Cmd) {
	m.ctrl.Abort()
	m.cancel()
	return m, tea.Quit
}

func (m Model) handleJobEvent(msg jobEventMsg) (tea.Model, tea.Cmd) {
	if !m.ctrl.Current(msg.tok) {
		return m, nil
	}
	if msg.err != nil {
		m.ctrl.Fail(msg.tok, fmt.Errorf("%w: %w", jobsync.ErrStatusCheckFailed, msg.err))
	} else {
		m.ctrl.Apply(msg.tok, msg.ev)
	}

	switch m.ctrl.State() {
	case jobsync.Streaming:
		return m, waitForEvent(m.ctx, msg.ch, msg.tok)
	case jobsync.Completed:
		doc := export.NewDocument(m.jobID, m.source, m.ctrl.Tree())
		if err := m.openDocument(doc); err != nil {
			m.showError(err)
			return m, nil
		}
		return m, m.save(doc)
	case jobsync.Failed:
		m.showError(m.ctrl.Err())
	}
	return m, nil
}

func (m Model) updateSubmit(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		path := strings.TrimSpace(m.pathInput.Value())
		if path == "" {
			return m, nil
		}
		m.newSession()
		m.source = path
		m.status = "Submitting..."
		return m, m.submit(path)
	case "esc":
		return m.quit()
	case "ctrl+r":
		return m.openHistory()
	}
	var cmd tea.Cmd
	m.pathInput, cmd = m.pathInput.Update(msg)
	return m, cmd
}

func (m Model) updateProgress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Back), key.Matches(msg, m.keys.New):
		return m, m.toSubmit()
	}
	return m, nil
}

func (m Model) updateError(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.New), key.Matches(msg, m.keys.Back):
		return m, m.toSubmit()
	case key.Matches(msg, m.keys.History):
		return m.openHistory()
	}
	return m, nil
}

func (m Model) openHistory() (tea.Model, tea.Cmd) {
	m.screen = ScreenHistory
	return m, m.history.Open(m.gen)
}

func (m Model) updateHistory(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Back):
		if m.doc != nil {
			m.screen = ScreenExplorer
			return m, nil
		}
		return m, m.toSubmit()
	}
	var cmd tea.Cmd
	m.history, cmd = m.history.Update(msg, m.keys)
	return m, cmd
}

func (m Model) updateExplorer(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.mode != inputNone {
		return m.updateInput(msg)
	}

	switch {
	case key.Matches(msg, m.keys.Quit):
		return m.quit()
	case key.Matches(msg, m.keys.Up):
		m.treeView.MoveUp()
		m.detail.ResetScroll()
	case key.Matches(msg, m.keys.Down):
		m.treeView.MoveDown()
		m.detail.ResetScroll()
	case key.Matches(msg, m.keys.Toggle):
		m.treeView.Toggle()
	case key.Matches(msg, m.keys.Collapse):
		m.treeView.CollapseOrParent()
	case key.Matches(msg, m.keys.Expand):
		m.treeView.ExpandOrEnter()
	case key.Matches(msg, m.keys.ExpandAll):
		m.treeView.ExpandAll()
	case key.Matches(msg, m.keys.CollapseAll):
		m.treeView.CollapseAll()
	case key.Matches(msg, m.keys.Search):
		m.mode = inputSearch
		m.input.Prompt = "/"
		m.input.Placeholder = "filter by name or summary"
		m.input.SetValue(m.explorer.Query())
		m.input.CursorEnd()
		m.input.Focus()
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Ask):
		m.mode = inputAsk
		m.input.Prompt = "? "
		m.input.Placeholder = "ask about this repository"
		m.input.SetValue("")
		m.input.Focus()
		return m, textinput.Blink
	case key.Matches(msg, m.keys.Copy):
		if n := m.explorer.Selected(); n != nil {
			if err := clipboard.WriteAll(n.Path); err != nil {
				m.status = "Copy failed: " + err.Error()
			} else {
				m.status = "Copied " + n.Path
			}
		}
	case key.Matches(msg, m.keys.ExportJSON):
		return m, m.exportDoc(false)
	case key.Matches(msg, m.keys.ExportMD):
		return m, m.exportDoc(true)
	case key.Matches(msg, m.keys.New):
		return m, m.toSubmit()
	case key.Matches(msg, m.keys.History):
		return m.openHistory()
	case msg.String() == "ctrl+d":
		m.detail.ScrollDown()
	case msg.String() == "ctrl+u":
		m.detail.ScrollUp()
	}
	return m, nil
}

func (m Model) updateInput(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		if m.mode == inputSearch {
			m.explorer.SetQuery("")
			m.treeView.Follow()
		}
		m.mode = inputNone
		m.input.Blur()
		return m, nil
	case "enter":
		mode := m.mode
		m.mode = inputNone
		m.input.Blur()
		if mode == inputAsk {
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.opts.Backend == nil {
				return m, nil
			}
			m.asking = true
			m.askErr = nil
			return m, m.ask(q)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	if m.mode == inputSearch && m.input.Value() != m.explorer.Query() {
		m.explorer.SetQuery(m.input.Value())
		m.treeView.Follow()
	}
	return m, cmd
}

// --- View ---

func (m Model) View() string {
	var stats, job string
	if m.explorer != nil {
		s := m.stats
		stats = fmt.Sprintf("%d files · %d dirs", s.Files, s.Dirs)
		if q := m.explorer.Query(); q != "" {
			stats += fmt.Sprintf(" · %d matches", m.explorer.Visibility().MatchCount())
		}
	}
	if m.jobID != "" {
		job = m.jobID
	}
	top := renderNavbar(m.screen, job, stats, m.width)

	var body, bottom string
	switch m.screen {
	case ScreenSubmit:
		body, bottom = m.viewSubmit()
	case ScreenProgress:
		body, bottom = m.viewProgress()
	case ScreenExplorer:
		body, bottom = m.viewExplorer()
	case ScreenError:
		body, bottom = m.viewError()
	case ScreenHistory:
		body = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("62")).
			Width(m.width - 2).
			Height(m.treeView.Height).
			Render(m.history.View())
		bottom = m.help.View(historyKeys(m.keys))
	}

	bottomBarStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Padding(0, 1)
	return lipgloss.JoinVertical(lipgloss.Left, top, body, bottomBarStyle.Render(bottom))
}

func (m Model) centered(content string) string {
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(1, 2).
		Render(content)
	if m.width == 0 || m.height == 0 {
		return box
	}
	return lipgloss.Place(m.width, m.height-3, lipgloss.Center, lipgloss.Center, box)
}

func (m Model) viewSubmit() (string, string) {
	titleStyle := lipgloss.NewStyle().Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var b strings.Builder
	b.WriteString(titleStyle.Render("Analyze a repository") + "\n\n")
	b.WriteString(m.pathInput.View() + "\n")
	if m.status != "" {
		b.WriteString("\n" + dimStyle.Render(m.status) + "\n")
	}
	return m.centered(b.String()), "enter submit · ctrl+r history · esc quit"
}

func (m Model) viewProgress() (string, string) {
	snap := m.ctrl.Snapshot()
	labelStyle := lipgloss.NewStyle().Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n\n", m.spinner.View(), labelStyle.Render("Analyzing "+m.source))
	b.WriteString(m.bar.ViewAs(snap.Progress) + "\n\n")
	fmt.Fprintf(&b, "%s · %s elapsed", snap.Job.State, snap.Elapsed.Truncate(time.Second))
	if snap.Job.Message != "" {
		b.WriteString("\n" + dimStyle.Render(snap.Job.Message))
	}
	return m.centered(b.String()), "esc cancel · q quit"
}

func (m Model) viewError() (string, string) {
	errStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	dimStyle := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))

	msg := "unknown error"
	if m.err != nil {
		msg = m.err.Error()
	}
	var b strings.Builder
	b.WriteString(errStyle.Render("Analysis failed") + "\n\n")
	b.WriteString(msg + "\n")
	var jf *jobsync.JobFailedError
	if errors.Is(m.err, jobchan.ErrDataUnavailable) {
		b.WriteString("\n" + dimStyle.Render("The job finished but its result could not be fetched.") + "\n")
	} else if !errors.As(m.err, &jf) && errors.Is(m.err, jobsync.ErrStatusCheckFailed) {
		b.WriteString("\n" + dimStyle.Render("Is the backend running?") + "\n")
	}
	return m.centered(b.String()), "n new job · H history · q quit"
}

func (m Model) viewExplorer() (string, string) {
	treeBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Width(m.treeView.Width).
		Height(m.treeView.Height)

	detailBorder := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Width(m.detail.Width).
		Height(m.detail.Height)

	var detailContent string
	if n := m.explorer.Selected(); n != nil {
		var stats *tree.Stats
		if n == m.explorer.Model().Root() {
			stats = &m.stats
		}
		detailContent = m.detail.ViewNode(n, stats, m.explorer.Query())
	}
	if qa := m.detail.ViewAnswer(m.answer, m.asking, m.askErr); qa != "" {
		detailContent += "\n" + qa
	}

	left := treeBorder.Render(m.treeView.View())
	right := detailBorder.Render(m.detail.ViewScrolled(detailContent))
	panes := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	var bottom string
	switch {
	case m.mode != inputNone:
		bottom = m.input.View()
	case m.status != "":
		bottom = m.status
	default:
		bottom = m.help.View(explorerKeys(m.keys))
	}
	return panes, bottom
}
