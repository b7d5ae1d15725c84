package main

import (
	"bufio"
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"github.com/lotas/codeatlas/internal/api"
	"github.com/lotas/codeatlas/internal/applog"
	"github.com/lotas/codeatlas/internal/config"
	"github.com/lotas/codeatlas/internal/export"
	"github.com/lotas/codeatlas/internal/history"
	"github.com/lotas/codeatlas/internal/jobchan"
	"github.com/lotas/codeatlas/internal/jobsync"
	"github.com/lotas/codeatlas/internal/storage"
	"github.com/lotas/codeatlas/internal/tui"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "watch":
			runWatch(os.Args[2:])
			return
		case "export":
			runExport(os.Args[2:])
			return
		case "history":
			runHistory(os.Args[2:])
			return
		case "ask":
			runAsk(os.Args[2:])
			return
		case "help", "--help", "-h":
			printHelp()
			return
		}
	}

	fs := flag.NewFlagSet("codeatlas", flag.ExitOnError)
	cfg := configFlags(fs)
	path := fs.String("path", "", "Repository path to submit on start")
	jobID := fs.String("job", "", "Attach to an existing job instead of submitting")
	exportDir := fs.String("export-dir", ".", "Directory for e/m exports")
	fs.Parse(os.Args[1:])
	env := setup(cfg)

	db, err := storage.OpenDB(env.cfg.DBPath)
	if err != nil {
		// History is optional in the TUI.
		applog.Error("db.open", err, "path", env.cfg.DBPath)
		db = nil
	} else {
		defer db.Close()
	}

	model := tui.NewModel(tui.Options{
		Backend:            env.client,
		Channels:           env.newChannel,
		DB:                 db,
		SessionID:          env.session,
		MaxTransportErrors: env.cfg.MaxTransportErrors,
		ExportDir:          *exportDir,
		Path:               *path,
		JobID:              *jobID,
	})
	p := tea.NewProgram(model, tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printHelp() {
	fmt.Print(`codeatlas - explore analyzed repositories

Usage:
  codeatlas                                    Start the TUI (default)
    --path <dir>           Submit this repository on start
    --job <id>             Attach to an existing job
    --export-dir <dir>     Where e/m exports are written (default: .)

  codeatlas watch <path>                       Submit a repository and follow the job
    --job <id>             Follow an existing job instead of submitting
    --out <file>           Write the JSON export to this file
    --no-save              Do not store the result in history

  codeatlas export <job-id>                    Export an analysis to stdout or file
    --markdown             Export as markdown instead of JSON
    --out <file>           Output file path (default: stdout)
    --history              Read from local history instead of the backend

  codeatlas history [list]                     List stored analyses
  codeatlas history delete <job-id> [--yes]    Delete a stored analysis
  codeatlas history diff <old-job> <new-job>   Compare two stored analyses

  codeatlas ask <job-id> <question...>         Ask a question about a repository

Common flags:
    --api <url>            Backend URL (env: CODEATLAS_API_URL)
    --ws <url>             WebSocket base URL, enables push (env: CODEATLAS_WS_URL)
    --transport <t>        auto, poll or push (env: CODEATLAS_TRANSPORT)
    --db <file>            History database (env: CODEATLAS_DB)
    --log-level <level>    debug, info, warn or error (env: CODEATLAS_LOG_LEVEL)

Config file: ` + config.Path() + `
`)
}

// cliConfig holds flag values that override the loaded config.
type cliConfig struct {
	api, ws, transport, db, logLevel *string
}

func configFlags(fs *flag.FlagSet) cliConfig {
	return cliConfig{
		api:       fs.String("api", "", "Backend URL"),
		ws:        fs.String("ws", "", "WebSocket base URL"),
		transport: fs.String("transport", "", "auto, poll or push"),
		db:        fs.String("db", "", "History database path"),
		logLevel:  fs.String("log-level", "", "Log level"),
	}
}

type environment struct {
	cfg     config.Config
	client  *api.Client
	session string
}

func (e environment) newChannel() (jobchan.Channel, error) {
	return jobchan.New(e.cfg.Transport, e.cfg.WSURL, e.client)
}

// setup loads config, applies flag overrides and starts logging.
func setup(flags cliConfig) environment {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	for dst, v := range map[*string]string{
		&cfg.APIURL:    *flags.api,
		&cfg.WSURL:     *flags.ws,
		&cfg.Transport: *flags.transport,
		&cfg.DBPath:    *flags.db,
		&cfg.LogLevel:  *flags.logLevel,
	} {
		if v != "" {
			*dst = v
		}
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := applog.Init(cfg.LogDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging disabled: %v\n", err)
	}
	applog.SetLevel(cfg.LogLevel)

	session := uuid.NewString()
	applog.Info("session.start", "session", session, "api", cfg.APIURL, "transport", cfg.Transport)
	return environment{
		cfg:     cfg,
		client:  api.New(cfg.APIURL, cfg.RequestTimeout),
		session: session,
	}
}

func openDB(cfg config.Config) *sql.DB {
	db, err := storage.OpenDB(cfg.DBPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening database: %v\n", err)
		os.Exit(1)
	}
	return db
}

// reorderArgs moves flag arguments before positional arguments so that
// flag.Parse handles them correctly (it stops at the first non-flag arg).
func reorderArgs(args []string) []string {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		if strings.HasPrefix(args[i], "-") {
			flags = append(flags, args[i])
			if !strings.Contains(args[i], "=") && i+1 < len(args) && !strings.HasPrefix(args[i+1], "-") && !isBoolFlag(args[i]) {
				flags = append(flags, args[i+1])
				i++
			}
		} else {
			positional = append(positional, args[i])
		}
	}
	return append(flags, positional...)
}

func isBoolFlag(arg string) bool {
	switch strings.TrimLeft(arg, "-") {
	case "markdown", "history", "no-save", "yes":
		return true
	}
	return false
}

func interruptContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt)
}

func runWatch(args []string) {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	flags := configFlags(fs)
	jobID := fs.String("job", "", "Follow an existing job")
	outFile := fs.String("out", "", "Write the JSON export to this file")
	noSave := fs.Bool("no-save", false, "Do not store the result in history")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 && *jobID == "" {
		fmt.Fprintln(os.Stderr, "Usage: codeatlas watch <path> [--out file] [--no-save]")
		os.Exit(1)
	}
	env := setup(flags)
	ctx, cancel := interruptContext()
	defer cancel()

	source := fs.Arg(0)
	id := *jobID
	if id == "" {
		job, err := env.client.Submit(ctx, source)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error submitting %s: %v\n", source, err)
			os.Exit(1)
		}
		id = job.JobID
		fmt.Fprintf(os.Stderr, "Submitted %s as job %s\n", source, id)
	}

	ch, err := env.newChannel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	last := -1.0
	ctrl := jobsync.New(env.cfg.MaxTransportErrors)
	res, err := ctrl.Run(ctx, ch, id, func(s jobsync.Snapshot) {
		if s.Progress == last && s.State == jobsync.Streaming {
			return
		}
		last = s.Progress
		fmt.Fprintf(os.Stderr, "[%5.1f%%] %-9s %s\n", s.Progress*100, s.Job.State, s.Job.Message)
	})
	if err != nil {
		var jf *jobsync.JobFailedError
		switch {
		case errors.Is(err, context.Canceled):
			fmt.Fprintln(os.Stderr, "Cancelled.")
		case errors.As(err, &jf):
			fmt.Fprintf(os.Stderr, "Analysis failed: %s\n", jf.Message)
		default:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	doc := export.NewDocument(id, source, res.Tree)
	fmt.Fprintf(os.Stderr, "Completed in %s\n", res.Elapsed.Round(time.Second))

	if *outFile != "" {
		data, err := export.JSON(doc)
		if err == nil {
			err = os.WriteFile(*outFile, data, 0o644)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", *outFile, err)
			os.Exit(1)
		}
	}

	if *noSave {
		return
	}
	db := openDB(env.cfg)
	defer db.Close()

	if err := storage.SaveAnalysis(db, env.session, doc); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving analysis: %v\n", err)
		os.Exit(1)
	}
	if source == "" {
		return
	}
	prev, err := storage.GetPreviousAnalysis(db, source, id)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading history: %v\n", err)
		return
	}
	if prev == nil {
		return
	}
	d := history.Diff(prev.Document.Tree, doc.Tree)
	d.From, d.To = prev.JobID, id
	if d.Empty() {
		fmt.Printf("No changes since job %s\n", prev.JobID)
		return
	}
	fmt.Print(history.FormatDiff(d))
}

func runExport(args []string) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	flags := configFlags(fs)
	markdown := fs.Bool("markdown", false, "Export as markdown instead of JSON")
	outFile := fs.String("out", "", "Output file path (default: stdout)")
	fromHistory := fs.Bool("history", false, "Read from local history instead of the backend")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: codeatlas export <job-id> [--markdown] [--out file] [--history]")
		os.Exit(1)
	}
	id := fs.Arg(0)
	env := setup(flags)

	var doc *export.Document
	if *fromHistory {
		db := openDB(env.cfg)
		defer db.Close()
		a, err := storage.GetAnalysis(db, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		doc = a.Document
	} else {
		ctx, cancel := interruptContext()
		defer cancel()
		root, err := env.client.Tree(ctx, id)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error fetching tree: %v\n", err)
			os.Exit(1)
		}
		doc = export.NewDocument(id, "", root)
	}

	var output []byte
	if *markdown {
		output = []byte(export.Markdown(doc))
	} else {
		var err error
		output, err = export.JSON(doc)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating JSON: %v\n", err)
			os.Exit(1)
		}
	}

	if *outFile != "" {
		if err := os.WriteFile(*outFile, output, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
			os.Exit(1)
		}
	} else {
		os.Stdout.Write(output)
	}
}

func runHistory(args []string) {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") {
		runHistoryList(args)
		return
	}

	subcmd := args[0]
	subArgs := args[1:]

	switch subcmd {
	case "list":
		runHistoryList(subArgs)
	case "delete":
		runHistoryDelete(subArgs)
	case "diff":
		runHistoryDiff(subArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown history command %q. Use list, delete, or diff.\n", subcmd)
		os.Exit(1)
	}
}

func runHistoryList(args []string) {
	fs := flag.NewFlagSet("history list", flag.ExitOnError)
	flags := configFlags(fs)
	fs.Parse(args)
	env := setup(flags)

	db := openDB(env.cfg)
	defer db.Close()

	list, err := storage.ListAnalyses(db)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error listing analyses: %v\n", err)
		os.Exit(1)
	}
	if len(list) == 0 {
		fmt.Println("No analyses found.")
		return
	}

	fmt.Printf("%-36s %6s %9s  %-16s  %s\n", "JOB", "FILES", "SIZE", "CREATED", "SOURCE")
	for _, a := range list {
		fmt.Printf("%-36s %6d %9s  %-16s  %s\n",
			a.JobID,
			a.FileCount,
			humanize.IBytes(uint64(a.TotalBytes)),
			a.CreatedAt.Local().Format("2006-01-02 15:04"),
			a.Source,
		)
	}
}

func runHistoryDelete(args []string) {
	fs := flag.NewFlagSet("history delete", flag.ExitOnError)
	flags := configFlags(fs)
	yes := fs.Bool("yes", false, "Skip confirmation prompt")
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: codeatlas history delete <job-id> [--yes]")
		os.Exit(1)
	}
	id := fs.Arg(0)
	env := setup(flags)

	if !*yes {
		fmt.Printf("Delete analysis %s? [y/N] ", id)
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Println("Aborted.")
			return
		}
	}

	db := openDB(env.cfg)
	defer db.Close()

	if err := storage.DeleteAnalysis(db, id); err != nil {
		fmt.Fprintf(os.Stderr, "Error deleting analysis: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Analysis %s deleted.\n", id)
}

func runHistoryDiff(args []string) {
	fs := flag.NewFlagSet("history diff", flag.ExitOnError)
	flags := configFlags(fs)
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: codeatlas history diff <old-job> <new-job>")
		os.Exit(1)
	}
	env := setup(flags)

	db := openDB(env.cfg)
	defer db.Close()

	d, err := history.DiffAnalyses(db, fs.Arg(0), fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if d.Empty() {
		fmt.Println("No changes.")
		return
	}
	fmt.Print(history.FormatDiff(d))
}

func runAsk(args []string) {
	fs := flag.NewFlagSet("ask", flag.ExitOnError)
	flags := configFlags(fs)
	fs.Parse(reorderArgs(args))

	if fs.NArg() < 2 {
		fmt.Fprintln(os.Stderr, "Usage: codeatlas ask <job-id> <question...>")
		os.Exit(1)
	}
	env := setup(flags)
	ctx, cancel := interruptContext()
	defer cancel()

	a, err := env.client.Ask(ctx, fs.Arg(0), strings.Join(fs.Args()[1:], " "))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(a.Answer)
	if len(a.RelevantFiles) > 0 {
		fmt.Println()
		fmt.Println("Relevant files:")
		for _, f := range a.RelevantFiles {
			fmt.Printf("  %s\n", f)
		}
	}
	fmt.Printf("\nConfidence: %.0f%%\n", a.Confidence*100)
}
