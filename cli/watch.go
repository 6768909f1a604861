package cli

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"agentsync/config"
	"agentsync/daemon"
	"agentsync/uploader"
	"agentsync/watcher"
)

var (
	watchBackground bool
	watchStatus     bool
	watchStop       bool
	watchLogDir     string
	watchNoBackfill bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the folder and upload changed files continuously",
	Long: `Start a process that monitors file changes and keeps the remote project
in sync.

The watcher will:
- Perform an initial sync pass so changes made while it was down are caught
- Debounce rapid writes so a file is uploaded once it settles
- Skip files whose content is already in the upload ledger
- Retry transient upload failures with exponential backoff

Background mode:
  agentsync watch --background   Run detached, logging to the log directory
  agentsync watch --status       Check if a background watcher is running
  agentsync watch --stop         Stop the background watcher

Default log directories:
  Linux:   ~/.local/state/agentsync/logs (or $XDG_STATE_HOME)
  macOS:   ~/Library/Logs/agentsync
  Windows: %LOCALAPPDATA%\agentsync\logs`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().BoolVar(&watchBackground, "background", false, "Run in background mode")
	watchCmd.Flags().BoolVar(&watchStatus, "status", false, "Show background watcher status")
	watchCmd.Flags().BoolVar(&watchStop, "stop", false, "Stop the background watcher")
	watchCmd.Flags().StringVar(&watchLogDir, "log-dir", "", "Directory for log files (default: OS-specific)")
	watchCmd.Flags().BoolVar(&watchNoBackfill, "no-backfill", false, "Skip the initial sync pass")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	activeFlags := 0
	for _, f := range []bool{watchBackground, watchStatus, watchStop} {
		if f {
			activeFlags++
		}
	}
	if activeFlags > 1 {
		return fmt.Errorf("flags --background, --status, and --stop are mutually exclusive")
	}

	logDir := watchLogDir
	if logDir == "" {
		var err error
		logDir, err = daemon.GetDefaultLogDir()
		if err != nil {
			return fmt.Errorf("failed to get default log directory: %w", err)
		}
	}

	if watchStatus {
		return showWatchStatus(logDir)
	}
	if watchStop {
		return stopWatchDaemon(logDir)
	}
	if watchBackground {
		return startBackgroundWatch(logDir)
	}

	// Refuse to double-watch; stale PID files are cleaned up automatically
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 {
		return fmt.Errorf("watcher is already running in background (PID %d)\nUse 'agentsync watch --stop' to stop it", pid)
	}

	return runWatchForeground(logDir)
}

func showWatchStatus(logDir string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	if pid == 0 {
		fmt.Println("Status: not running")
		fmt.Printf("Log directory: %s\n", logDir)
		return nil
	}

	fmt.Println("Status: running")
	fmt.Printf("PID: %d\n", pid)
	fmt.Printf("Log file: %s\n", daemon.GetLogFile(logDir))
	return nil
}

func stopWatchDaemon(logDir string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if pid == 0 {
		fmt.Println("No background watcher is running")
		return nil
	}

	fmt.Printf("Stopping background watcher (PID %d)...\n", pid)
	if err := daemon.StopProcess(pid); err != nil {
		return fmt.Errorf("failed to stop process: %w", err)
	}

	const shutdownTimeout = 30 * time.Second
	deadline := time.Now().Add(shutdownTimeout)
	for time.Now().Before(deadline) {
		if !daemon.IsProcessRunning(pid) {
			break
		}
		time.Sleep(500 * time.Millisecond)
	}

	if daemon.IsProcessRunning(pid) {
		return fmt.Errorf("process did not stop within %v\nStill running? Try: kill -9 %d\nOr check logs at: %s",
			shutdownTimeout, pid, daemon.GetLogFile(logDir))
	}

	if err := daemon.RemovePIDFile(logDir); err != nil {
		return fmt.Errorf("failed to remove PID file: %w", err)
	}

	fmt.Println("Background watcher stopped")
	return nil
}

func startBackgroundWatch(logDir string) error {
	pid, err := daemon.GetRunningPID(logDir)
	if err != nil {
		return fmt.Errorf("failed to check running status: %w", err)
	}
	if pid > 0 {
		return fmt.Errorf("watcher is already running (PID %d)", pid)
	}

	args := []string{"watch"}
	if watchLogDir != "" {
		args = append(args, "--log-dir", watchLogDir)
	}
	if watchNoBackfill {
		args = append(args, "--no-backfill")
	}

	childPID, exitCh, err := daemon.SpawnBackground(logDir, args)
	if err != nil {
		return fmt.Errorf("failed to start background process: %w", err)
	}

	// Wait for the ready marker, or for an early child exit
	const startupTimeout = 30 * time.Second
	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		if daemon.IsReady(logDir) {
			fmt.Printf("Background watcher started (PID %d)\n", childPID)
			fmt.Printf("Logs: %s\n", daemon.GetLogFile(logDir))
			fmt.Printf("\nUse 'agentsync watch --status' to check status\n")
			fmt.Printf("Use 'agentsync watch --stop' to stop the watcher\n")
			return nil
		}

		select {
		case <-exitCh:
			return fmt.Errorf("background process exited during startup (check logs at %s)", daemon.GetLogFile(logDir))
		default:
		}

		time.Sleep(250 * time.Millisecond)
	}

	return fmt.Errorf("timeout waiting for watcher to become ready after %v (check logs at %s)",
		startupTimeout, daemon.GetLogFile(logDir))
}

func runWatchForeground(logDir string) error {
	isBackgroundChild := os.Getenv("AGENTSYNC_BACKGROUND") == "1"

	projectRoot, err := config.FindProjectRoot()
	if err != nil {
		return err
	}

	cfg, err := config.Load(projectRoot)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := requireProject(cfg); err != nil {
		return err
	}

	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	led, err := openLedger(ctx, cfg, projectRoot)
	if err != nil {
		return err
	}
	defer led.Close()

	if isBackgroundChild {
		if err := daemon.WritePIDFile(logDir); err != nil {
			return err
		}
		defer daemon.RemovePIDFile(logDir)
	}

	log.Printf("Watching %s (project %s, ledger backend %s)", projectRoot, cfg.Project.ID, cfg.Ledger.Backend)

	recursive := cfg.Watch.IsRecursive()
	ign := newIgnoreMatcher(cfg, projectRoot)

	// Catch up on anything that changed while the watcher was down
	if !watchNoBackfill {
		sync := uploader.NewSynchronizer(client, led, cfg.Project.ID,
			uploader.WithWorkers(cfg.Upload.Workers),
			uploader.WithRetryPolicy(retryPolicy(cfg)),
		)
		summary, err := sync.Sync(ctx, projectRoot, recursive, ign)
		if err != nil {
			return fmt.Errorf("initial sync failed: %w", err)
		}
		log.Printf("Initial sync complete: %s", summary)
	}

	sched := uploader.NewScheduler(client, led, cfg.Project.ID,
		uploader.WithWorkers(cfg.Upload.Workers),
		uploader.WithRetryPolicy(retryPolicy(cfg)),
		uploader.WithResultHandler(logWatchResult),
	)
	sched.Start(ctx)

	debounce := time.Duration(cfg.Watch.DebounceMs) * time.Millisecond
	w, err := watcher.NewWatcher(projectRoot, ign, debounce, recursive)
	if err != nil {
		return fmt.Errorf("failed to initialize watcher: %w", err)
	}
	defer w.Close()

	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	if isBackgroundChild {
		if err := daemon.WriteReadyFile(logDir); err != nil {
			log.Printf("Warning: failed to write ready file: %v", err)
		}
		defer daemon.RemoveReadyFile(logDir)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	stopCh := daemon.StopChannel()

	if isBackgroundChild {
		log.Println("Watching for changes...")
	} else {
		fmt.Println("Watching for changes... (Press Ctrl+C to stop)")
	}

	for {
		select {
		case <-sigChan:
			log.Println("Shutting down...")
			return shutdownWatch(w, sched)

		case <-stopCh:
			log.Println("Stop requested, shutting down...")
			return shutdownWatch(w, sched)

		case event := <-w.Events():
			sched.Submit(filepath.Join(projectRoot, event.Path))
		}
	}
}

// shutdownWatch stops intake and drains the remaining upload queue.
func shutdownWatch(w *watcher.Watcher, sched *uploader.Scheduler) error {
	w.Close()
	if err := sched.Stop(); err != nil {
		return fmt.Errorf("upload pipeline failed: %w", err)
	}
	return nil
}

func logWatchResult(r uploader.Result) {
	switch r.Outcome {
	case uploader.OutcomeUploaded:
		log.Printf("Uploaded %s (fingerprint %s)", r.Path, r.Fingerprint)
	case uploader.OutcomeAlreadyExists:
		log.Printf("Already synced %s", r.Path)
	case uploader.OutcomeFailed:
		log.Printf("Failed to upload %s: %v", r.Path, r.Err)
	}
}
