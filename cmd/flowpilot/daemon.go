package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"flowpilot/internal/confidence"
	"flowpilot/internal/daemon"
	"flowpilot/internal/trigger"
	"flowpilot/internal/types"
	"flowpilot/internal/workflow"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// daemonCmd runs the agent loop in the foreground
var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the background agent loop",
	Long: `Runs the poll/act loop in the foreground: inbox polling, intent
classification, the cancellable action queue, trigger evaluation and
autonomous workflow runs. Stop with Ctrl-C; shutdown waits for the current
cycle to finish.`,
	RunE: runDaemon,
}

func runDaemon(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	defer a.close()

	tracker := newTracker(a)
	triggers := trigger.NewManager(a.store)
	runner := workflow.NewRunner(a.store, tracker, workflow.NewLocalExecutor(), nil)
	runner.AutonomyThreshold = a.cfg.Confidence.AutonomyThreshold

	watcher, err := daemon.NewWatcher(watchDirs(a))
	if err != nil {
		return err
	}
	defer watcher.Stop()

	inboxDir := a.cfg.Daemon.InboxDir
	if !filepath.IsAbs(inboxDir) {
		inboxDir = filepath.Join(a.home, inboxDir)
	}

	d := daemon.New(a.cfg, daemon.Deps{
		Store:      a.store,
		Triggers:   triggers,
		Runner:     runner,
		Inbox:      daemon.DirInbox{Dir: inboxDir},
		Classifier: daemon.NewKeywordClassifier(),
		Executor:   daemon.ReportOnlyExecutor{},
		Notifier:   daemon.ConsoleNotifier{Out: os.Stdout},
		FileFeed:   watcher.Events(),
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("daemon starting", zap.String("home", a.home))
	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// statusCmd reports queue depths from the store
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue depths and watched-item counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := bootstrap()
		if err != nil {
			return err
		}
		defer a.close()

		counts, err := a.store.ActionCounts()
		if err != nil {
			return err
		}
		inboxSeen, err := a.store.WatchedCount(types.SourceInbox)
		if err != nil {
			return err
		}
		filesSeen, err := a.store.WatchedCount(types.SourceFile)
		if err != nil {
			return err
		}

		fmt.Println("Actions:")
		for _, st := range []types.ActionStatus{
			types.ActionPending, types.ActionNotified, types.ActionExecuting,
			types.ActionCompleted, types.ActionFailed, types.ActionCancelled,
		} {
			if counts[st] > 0 {
				fmt.Printf("  %-10s %d\n", st, counts[st])
			}
		}
		fmt.Printf("Watched items: %d inbox, %d files\n", inboxSeen, filesSeen)
		return nil
	},
}

// newTracker builds a confidence tracker tuned from config.
func newTracker(a *app) *confidence.Tracker {
	tracker := confidence.NewTracker(a.store)
	tracker.AutonomyThreshold = a.cfg.Confidence.AutonomyThreshold
	tracker.MinRuns = a.cfg.Confidence.MinRuns
	tracker.ApproveDelta = a.cfg.Confidence.ApproveDelta
	tracker.CorrectDelta = a.cfg.Confidence.CorrectDelta
	tracker.SkipDelta = a.cfg.Confidence.SkipDelta
	return tracker
}

// watchDirs unions configured watch dirs with enabled file-trigger dirs so
// the fsnotify watcher covers both at startup.
func watchDirs(a *app) []string {
	seen := map[string]bool{}
	var dirs []string
	add := func(dir string) {
		if dir == "" || seen[dir] {
			return
		}
		seen[dir] = true
		dirs = append(dirs, dir)
	}
	for _, dir := range a.cfg.Daemon.WatchDirs {
		add(dir)
	}
	workflows, err := a.store.ListWorkflows(true)
	if err != nil {
		logger.Warn("cannot list workflows for watcher", zap.Error(err))
		return dirs
	}
	for _, wf := range workflows {
		if wf.Trigger.Type == types.TriggerFile && wf.Trigger.File != nil {
			add(wf.Trigger.File.Path)
		}
	}
	return dirs
}
