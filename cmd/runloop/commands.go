package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/hochfrequenz/agent-runloop/internal/config"
	"github.com/hochfrequenz/agent-runloop/internal/gitsync"
	"github.com/hochfrequenz/agent-runloop/internal/logwatch"
	"github.com/hochfrequenz/agent-runloop/internal/notify"
	"github.com/hochfrequenz/agent-runloop/internal/runloop"
	"github.com/hochfrequenz/agent-runloop/internal/runstore"
	"github.com/hochfrequenz/agent-runloop/internal/schedule"
	"github.com/spf13/cobra"
)

var (
	runWorkspace  string
	runName       string
	runBackend    string
	runPrompt     string
	runPromptFile string
	historyLimit  int
	logsFollow    bool
)

func init() {
	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one agent run cycle",
		Run:   runRun,
	}
	runCmd.Flags().StringVar(&runWorkspace, "workspace", ".", "workspace directory")
	runCmd.Flags().StringVar(&runName, "name", "run", "run name, used for lock and log files")
	runCmd.Flags().StringVar(&runBackend, "backend", "", "execution backend (gptme, claude-code, codex)")
	runCmd.Flags().StringVar(&runPrompt, "prompt", "", "prompt text")
	runCmd.Flags().StringVar(&runPromptFile, "prompt-file", "", "read prompt from file ('-' for stdin)")
	rootCmd.AddCommand(runCmd)

	// schedule command
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run configured schedules until interrupted",
		RunE:  runSchedule,
	}
	rootCmd.AddCommand(scheduleCmd)

	// history command
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent runs",
		RunE:  runHistory,
	}
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to show")
	rootCmd.AddCommand(historyCmd)

	// logs command
	logsCmd := &cobra.Command{
		Use:   "logs NAME",
		Short: "Show the latest log for a run name",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogs,
	}
	logsCmd.Flags().BoolVar(&logsFollow, "follow", false, "follow log output")
	rootCmd.AddCommand(logsCmd)
}

func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	return config.Load(path)
}

// staticPrompts serves a fixed prompt string
type staticPrompts struct {
	prompt string
}

func (s staticPrompts) GeneratePrompt(ctx context.Context) (string, error) {
	return s.prompt, nil
}

// filePrompts reads the prompt file fresh on each cycle, so scheduled
// runs pick up edits without a restart
type filePrompts struct {
	path string
}

func (f filePrompts) GeneratePrompt(ctx context.Context) (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", fmt.Errorf("reading prompt file: %w", err)
	}
	return string(data), nil
}

func promptSource() (runloop.PromptSource, error) {
	switch {
	case runPrompt != "":
		return staticPrompts{prompt: runPrompt}, nil
	case runPromptFile == "-":
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("reading prompt from stdin: %w", err)
		}
		return staticPrompts{prompt: string(data)}, nil
	case runPromptFile != "":
		return filePrompts{path: config.ExpandPath(runPromptFile)}, nil
	}
	return nil, fmt.Errorf("either --prompt or --prompt-file is required")
}

func buildNotifier(cfg *config.Config) notify.Notifier {
	return notify.NewMultiNotifier(
		notify.NewSlackNotifier(cfg.Notifications.SlackWebhook),
		notify.NewDesktopNotifier(cfg.Notifications.Desktop),
	)
}

func buildSyncer(cfg *config.Config) *gitsync.Syncer {
	s := gitsync.New()
	if cfg.Sync.Attempts > 0 {
		s.Attempts = cfg.Sync.Attempts
	}
	if cfg.Sync.DelaySeconds > 0 {
		s.Delay = time.Duration(cfg.Sync.DelaySeconds) * time.Second
	}
	return s
}

func newRunLoop(cfg *config.Config, workspace, name, backendName string, prompts runloop.PromptSource, store *runstore.Store) (*runloop.RunLoop, error) {
	if backendName == "" {
		backendName = cfg.Execution.Backend
	}

	opts := runloop.Options{
		Backend:      backendName,
		Timeout:      time.Duration(cfg.Execution.TimeoutSeconds) * time.Second,
		ShellTimeout: time.Duration(cfg.Execution.ShellTimeoutSeconds) * time.Second,
		LogDir:       cfg.General.LogDir,
		Tools:        cfg.Execution.Tools,
		Syncer:       buildSyncer(cfg),
		Notifier:     buildNotifier(cfg),
	}
	if store != nil {
		opts.Recorder = store
	}

	return runloop.New(config.ExpandPath(workspace), name, prompts, opts)
}

// runRun exits with the run's code directly; the lifecycle's exit
// codes are the command's contract.
func runRun(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(runloop.ExitFailure)
	}

	prompts, err := promptSource()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(runloop.ExitFailure)
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: run history unavailable: %v\n", err)
		store = nil
	} else {
		defer store.Close()
	}

	r, err := newRunLoop(cfg, runWorkspace, runName, runBackend, prompts, store)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(runloop.ExitFailure)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	os.Exit(r.Run(ctx))
}

func runSchedule(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	entries, err := schedule.FromConfig(cfg.Schedules)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("no schedules configured")
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	sched, err := schedule.NewScheduler(entries)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		sched.Stop()
	}()

	fmt.Printf("Scheduler started with %d entries\n", len(entries))
	for _, name := range sched.Entries() {
		fmt.Printf("  - %s: next run %s\n", name, sched.NextRun(name).Format(time.RFC3339))
	}

	sched.Start(func(e schedule.Entry) error {
		prompts := filePrompts{path: config.ExpandPath(e.PromptFile)}
		r, err := newRunLoop(cfg, e.Workspace, e.Name, e.Backend, prompts, store)
		if err != nil {
			return err
		}
		if code := r.Run(ctx); code != runloop.ExitSuccess {
			return fmt.Errorf("exited %d", code)
		}
		return nil
	})

	return nil
}

func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := runstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	runs, err := store.ListRecent(historyLimit)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tNAME\tBACKEND\tEXIT\tDURATION")
	for _, r := range runs {
		exit := "-"
		duration := "running"
		if r.FinishedAt != nil {
			exit = fmt.Sprintf("%d", r.ExitCode)
			if r.TimedOut {
				exit += " (timeout)"
			}
			duration = r.FinishedAt.Sub(r.StartedAt).Round(time.Second).String()
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			r.StartedAt.Format("2006-01-02 15:04"), r.RunName, r.Backend, exit, duration)
	}
	w.Flush()

	return nil
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	path, err := logwatch.Latest(cfg.General.LogDir, args[0])
	if err != nil {
		return err
	}

	if !logsFollow {
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(data)
		return err
	}

	fmt.Fprintf(os.Stderr, "Following %s\n", path)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return logwatch.Follow(ctx, path, os.Stdout)
}
