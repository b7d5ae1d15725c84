package tui

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/lotas/codeatlas/internal/export"
	"github.com/lotas/codeatlas/internal/jobchan"
	"github.com/lotas/codeatlas/internal/jobsync"
	"github.com/lotas/codeatlas/internal/storage"
	"github.com/lotas/codeatlas/internal/types"
)

type fakeBackend struct {
	submitted []string
	submitErr error
	answer    types.Answer
}

func (f *fakeBackend) Submit(ctx context.Context, path string) (types.JobHandle, error) {
	f.submitted = append(f.submitted, path)
	if f.submitErr != nil {
		return types.JobHandle{}, f.submitErr
	}
	return types.JobHandle{JobID: "j1", State: types.JobQueued}, nil
}

func (f *fakeBackend) Ask(ctx context.Context, jobID, question string) (types.Answer, error) {
	a := f.answer
	a.Question = question
	return a, nil
}

// fakeChannel only records lifecycle calls; tests inject events directly.
type fakeChannel struct {
	mu     sync.Mutex
	opened string
	closes int
}

func (c *fakeChannel) Open(ctx context.Context, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opened = jobID
	return nil
}

func (c *fakeChannel) Next(ctx context.Context) (jobchan.Event, error) {
	<-ctx.Done()
	return jobchan.Event{}, ctx.Err()
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeChannel) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func i64(n int64) *int64 { return &n }

func sampleTree() *types.TreeNode {
	return &types.TreeNode{
		Path: "", Name: "repo", Kind: types.KindDirectory,
		Children: []*types.TreeNode{
			{Path: "dirA", Name: "dirA", Kind: types.KindDirectory, Children: []*types.TreeNode{
				{Path: "dirA/file1.go", Name: "file1.go", Kind: types.KindFile, Language: "Go", Size: i64(120), Summary: "entry point"},
				{Path: "dirA/file2.go", Name: "file2.go", Kind: types.KindFile, Language: "Go", Size: i64(80)},
			}},
			{Path: "dirB", Name: "dirB", Kind: types.KindDirectory, Children: []*types.TreeNode{
				{Path: "dirB/file3.py", Name: "file3.py", Kind: types.KindFile, Language: "Python", Size: i64(40)},
			}},
			{Path: "README.md", Name: "README.md", Kind: types.KindFile, Size: i64(10)},
		},
	}
}

func newTestModel(t *testing.T, opts Options) (Model, *fakeBackend, *fakeChannel) {
	t.Helper()
	b := &fakeBackend{answer: types.Answer{Answer: "It parses things.", Confidence: 0.8}}
	ch := &fakeChannel{}
	if opts.Backend == nil {
		opts.Backend = b
	}
	if opts.Channels == nil {
		opts.Channels = func() (jobchan.Channel, error) { return ch, nil }
	}
	if opts.ExportDir == "" {
		opts.ExportDir = t.TempDir()
	}
	m := NewModel(opts)
	t.Cleanup(m.cancel)
	m = update(t, m, tea.WindowSizeMsg{Width: 120, Height: 40})
	return m, b, ch
}

func update(t *testing.T, m Model, msg tea.Msg) Model {
	t.Helper()
	next, _ := m.Update(msg)
	return next.(Model)
}

func updateCmd(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	return next.(Model), cmd
}

func runes(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func running(p float64) jobchan.Event {
	return jobchan.Event{Kind: jobchan.EventStatus, Job: types.JobHandle{JobID: "j1", State: types.JobRunning, Progress: p}}
}

func completed() jobchan.Event {
	return jobchan.Event{
		Kind: jobchan.EventTerminal,
		Job:  types.JobHandle{JobID: "j1", State: types.JobCompleted, Progress: 1},
		Tree: sampleTree(),
	}
}

// toProgress submits /repo and returns the model on the progress screen.
func toProgress(t *testing.T, m Model, ch *fakeChannel) Model {
	t.Helper()
	m = update(t, m, submittedMsg{gen: m.gen, path: "/repo", job: types.JobHandle{JobID: "j1"}})
	if m.screen != ScreenProgress {
		t.Fatalf("screen = %v, want Progress (err %v)", m.screen, m.err)
	}
	if ch.opened != "j1" {
		t.Fatalf("channel opened for %q, want j1", ch.opened)
	}
	return m
}

func toExplorer(t *testing.T, m Model, ch *fakeChannel) Model {
	t.Helper()
	m = toProgress(t, m, ch)
	m = update(t, m, jobEventMsg{tok: m.ctrl.Token(), ch: ch, ev: completed()})
	if m.screen != ScreenExplorer {
		t.Fatalf("screen = %v, want Explorer (err %v)", m.screen, m.err)
	}
	return m
}

func rowPaths(m Model) []string {
	var out []string
	for _, r := range m.treeView.Rows() {
		out = append(out, r.Node.Path)
	}
	return out
}

func TestSubmitFromInput(t *testing.T) {
	m, b, _ := newTestModel(t, Options{})
	for _, r := range "/src/app" {
		m = update(t, m, runes(string(r)))
	}
	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected submit command")
	}
	msg, ok := cmd().(submittedMsg)
	if !ok {
		t.Fatalf("command returned %T", msg)
	}
	if len(b.submitted) != 1 || b.submitted[0] != "/src/app" {
		t.Errorf("submitted = %v", b.submitted)
	}
	if msg.gen != m.gen || msg.job.JobID != "j1" {
		t.Errorf("msg = %+v, model gen %d", msg, m.gen)
	}
}

func TestSubmitFailureShowsError(t *testing.T) {
	m, _, _ := newTestModel(t, Options{})
	m = update(t, m, submittedMsg{gen: m.gen, path: "/repo", err: errors.New("connection refused")})
	if m.screen != ScreenError {
		t.Fatalf("screen = %v, want Error", m.screen)
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("error view should show the cause")
	}
}

func TestJobLifecycle(t *testing.T) {
	m, _, ch := newTestModel(t, Options{})
	m = toProgress(t, m, ch)
	tok := m.ctrl.Token()

	m = update(t, m, jobEventMsg{tok: tok, ch: ch, ev: running(0.5)})
	m = update(t, m, jobEventMsg{tok: tok, ch: ch, ev: running(0.3)})
	if got := m.ctrl.DisplayProgress(); got != 0.5 {
		t.Errorf("progress = %v, want 0.5", got)
	}

	stale := jobsync.Token{Gen: tok.Gen + 100, JobID: "j1"}
	m = update(t, m, jobEventMsg{tok: stale, ch: ch, ev: completed()})
	if m.screen != ScreenProgress {
		t.Fatalf("stale event changed screen to %v", m.screen)
	}

	m = update(t, m, jobEventMsg{tok: tok, ch: ch, ev: completed()})
	if m.screen != ScreenExplorer {
		t.Fatalf("screen = %v, want Explorer", m.screen)
	}
	if ch.closeCount() != 1 {
		t.Errorf("closes = %d, want 1", ch.closeCount())
	}
	if m.doc == nil || m.doc.JobID != "j1" || m.doc.Source != "/repo" {
		t.Errorf("doc = %+v", m.doc)
	}
	want := []string{"", "dirA", "dirB", "README.md"}
	if got := rowPaths(m); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("rows = %q, want %q", got, want)
	}
	if m.stats.Files != 4 || m.stats.Dirs != 3 {
		t.Errorf("stats = %+v, want 4 files in 3 dirs", m.stats)
	}
}

func TestJobFailedShowsMessage(t *testing.T) {
	m, _, ch := newTestModel(t, Options{})
	m = toProgress(t, m, ch)
	ev := jobchan.Event{Kind: jobchan.EventTerminal, Job: types.JobHandle{JobID: "j1", State: types.JobFailed, Message: "clone failed"}}
	m = update(t, m, jobEventMsg{tok: m.ctrl.Token(), ch: ch, ev: ev})
	if m.screen != ScreenError {
		t.Fatalf("screen = %v, want Error", m.screen)
	}
	if !strings.Contains(m.View(), "clone failed") {
		t.Error("error view should show the job message")
	}
}

func TestChannelErrorFailsJob(t *testing.T) {
	m, _, ch := newTestModel(t, Options{})
	m = toProgress(t, m, ch)
	m = update(t, m, jobEventMsg{tok: m.ctrl.Token(), ch: ch, err: jobchan.ErrClosed})
	if m.screen != ScreenError {
		t.Fatalf("screen = %v, want Error", m.screen)
	}
	if !errors.Is(m.err, jobsync.ErrStatusCheckFailed) {
		t.Errorf("err = %v, want ErrStatusCheckFailed", m.err)
	}
}

func TestCancelDuringProgress(t *testing.T) {
	m, _, ch := newTestModel(t, Options{})
	m = toProgress(t, m, ch)
	tok := m.ctrl.Token()

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.screen != ScreenSubmit {
		t.Fatalf("screen = %v, want Submit", m.screen)
	}
	if ch.closeCount() != 1 {
		t.Errorf("closes = %d, want 1", ch.closeCount())
	}
	m = update(t, m, jobEventMsg{tok: tok, ch: ch, ev: completed()})
	if m.screen != ScreenSubmit {
		t.Errorf("event after cancel changed screen to %v", m.screen)
	}
}

func TestStaleSubmitIgnored(t *testing.T) {
	m, _, _ := newTestModel(t, Options{})
	old := m.gen
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter}) // empty path: no-op
	m.newSession()
	m = update(t, m, submittedMsg{gen: old, path: "/old", job: types.JobHandle{JobID: "old"}})
	if m.screen != ScreenSubmit {
		t.Errorf("stale submit moved to %v", m.screen)
	}
}

func TestSearchFiltersRows(t *testing.T) {
	m, _, ch := newTestModel(t, Options{})
	m = toExplorer(t, m, ch)

	m = update(t, m, runes("/"))
	if m.mode != inputSearch {
		t.Fatal("expected search mode")
	}
	for _, r := range "file1" {
		m = update(t, m, runes(string(r)))
	}
	if m.explorer.Query() != "file1" {
		t.Fatalf("query = %q", m.explorer.Query())
	}
	// dirA is collapsed, so only the root and dirA remain visible.
	want := []string{"", "dirA"}
	if got := rowPaths(m); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("rows = %q, want %q", got, want)
	}
	if !strings.Contains(m.View(), "1 matches") {
		t.Error("navbar should show the match count")
	}

	m = update(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if m.mode != inputNone || m.explorer.Query() != "file1" {
		t.Errorf("enter should keep the filter, mode %v query %q", m.mode, m.explorer.Query())
	}

	m = update(t, m, runes("/"))
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.explorer.Query() != "" {
		t.Errorf("esc should clear the filter, got %q", m.explorer.Query())
	}
	if len(rowPaths(m)) != 4 {
		t.Errorf("rows after clearing = %q", rowPaths(m))
	}
}

func TestExplorerNavigation(t *testing.T) {
	m, _, ch := newTestModel(t, Options{})
	m = toExplorer(t, m, ch)

	m = update(t, m, runes("j"))
	if sel := m.explorer.Selected(); sel == nil || sel.Path != "dirA" {
		t.Fatalf("selected = %v, want dirA", sel)
	}
	m = update(t, m, runes("l"))
	m = update(t, m, runes("l"))
	if sel := m.explorer.Selected(); sel == nil || sel.Path != "dirA/file1.go" {
		t.Fatalf("selected = %v, want dirA/file1.go", sel)
	}
	if !strings.Contains(m.View(), "120 B") {
		t.Error("view should show the file size")
	}
	m = update(t, m, runes("h"))
	if sel := m.explorer.Selected(); sel == nil || sel.Path != "dirA" {
		t.Errorf("h should jump to parent, selected %v", sel)
	}
}

func TestAskShowsAnswer(t *testing.T) {
	m, _, ch := newTestModel(t, Options{})
	m = toExplorer(t, m, ch)

	m = update(t, m, runes("?"))
	for _, r := range "what is this" {
		m = update(t, m, runes(string(r)))
	}
	m, cmd := updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	if !m.asking || cmd == nil {
		t.Fatal("expected pending question")
	}
	m = update(t, m, cmd())
	if m.asking || m.answer == nil || m.answer.Question != "what is this" {
		t.Fatalf("answer = %+v", m.answer)
	}

	// An answer for an older session is dropped.
	m.answer = nil
	m = update(t, m, answerMsg{gen: m.gen - 1, answer: types.Answer{Answer: "late"}})
	if m.answer != nil {
		t.Error("stale answer applied")
	}
}

func TestExportWritesFiles(t *testing.T) {
	dir := t.TempDir()
	m, _, ch := newTestModel(t, Options{ExportDir: dir})
	m = toExplorer(t, m, ch)

	m, cmd := updateCmd(t, m, runes("e"))
	m = update(t, m, cmd())
	if !strings.HasPrefix(m.status, "Exported to ") {
		t.Fatalf("status = %q", m.status)
	}
	data, err := os.ReadFile(filepath.Join(dir, "codeatlas-j1.json"))
	if err != nil {
		t.Fatal(err)
	}
	doc, err := export.ParseJSON(data)
	if err != nil {
		t.Fatal(err)
	}
	if doc.JobID != "j1" {
		t.Errorf("exported job = %q", doc.JobID)
	}

	m, cmd = updateCmd(t, m, runes("m"))
	update(t, m, cmd())
	md, err := os.ReadFile(filepath.Join(dir, "codeatlas-j1.md"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(md), "file1.go") {
		t.Error("markdown export missing file1.go")
	}
}

func TestNewJobAbandonsExplorer(t *testing.T) {
	m, _, ch := newTestModel(t, Options{})
	m = toExplorer(t, m, ch)
	gen := m.gen

	m = update(t, m, runes("n"))
	if m.screen != ScreenSubmit {
		t.Fatalf("screen = %v, want Submit", m.screen)
	}
	if m.gen == gen || m.doc != nil || m.explorer != nil {
		t.Error("explorer state should be cleared")
	}
}

func TestCompletedJobSavedAndReopened(t *testing.T) {
	db, err := storage.OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	m, _, ch := newTestModel(t, Options{DB: db, SessionID: "s1"})
	m = toProgress(t, m, ch)
	m, cmd := updateCmd(t, m, jobEventMsg{tok: m.ctrl.Token(), ch: ch, ev: completed()})
	if cmd == nil {
		t.Fatal("expected save command")
	}
	m = update(t, m, cmd())
	if m.status != "" {
		t.Fatalf("save failed: %s", m.status)
	}

	m, cmd = updateCmd(t, m, runes("H"))
	if m.screen != ScreenHistory || cmd == nil {
		t.Fatalf("screen = %v", m.screen)
	}
	m = update(t, m, cmd())
	if s := m.history.Selected(); s == nil || s.JobID != "j1" || s.SessionID != "s1" {
		t.Fatalf("history selection = %+v", s)
	}

	m, cmd = updateCmd(t, m, tea.KeyMsg{Type: tea.KeyEnter})
	m = update(t, m, cmd())
	if m.screen != ScreenExplorer || m.doc == nil || m.doc.JobID != "j1" {
		t.Fatalf("screen = %v doc = %+v", m.screen, m.doc)
	}
}

func TestHistoryWithoutDB(t *testing.T) {
	m, _, _ := newTestModel(t, Options{})
	m = update(t, m, tea.KeyMsg{Type: tea.KeyCtrlR})
	if m.screen != ScreenHistory {
		t.Fatalf("screen = %v", m.screen)
	}
	if !strings.Contains(m.View(), "no database") {
		t.Error("expected disabled history message")
	}
	m = update(t, m, tea.KeyMsg{Type: tea.KeyEsc})
	if m.screen != ScreenSubmit {
		t.Errorf("esc from history = %v, want Submit", m.screen)
	}
}
