package cli

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"agentsync/config"
	"agentsync/uploader"
)

var syncNoRecursive bool

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Upload the folder's files to the remote project once",
	Long: `Walk the folder and upload every file whose content is not yet in the
upload ledger. Files already uploaded (under any name) are skipped, so
running sync repeatedly is cheap and safe.

A failing file does not stop the pass; it is reported in the summary.`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().BoolVar(&syncNoRecursive, "no-recursive", false, "Only sync the top level of the folder")
	rootCmd.AddCommand(syncCmd)
}

var (
	syncOKStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	syncWarnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	syncErrStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
)

func runSync(cmd *cobra.Command, args []string) error {
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

	ctx := cmd.Context()

	led, err := openLedger(ctx, cfg, projectRoot)
	if err != nil {
		return err
	}
	defer led.Close()

	recursive := cfg.Watch.IsRecursive() && !syncNoRecursive

	fmt.Printf("Syncing %s into project %s...\n", projectRoot, cfg.Project.ID)

	sync := uploader.NewSynchronizer(client, led, cfg.Project.ID,
		uploader.WithWorkers(cfg.Upload.Workers),
		uploader.WithRetryPolicy(retryPolicy(cfg)),
		uploader.WithResultHandler(printSyncResult),
	)

	summary, err := sync.Sync(ctx, projectRoot, recursive, newIgnoreMatcher(cfg, projectRoot))
	if err != nil {
		return err
	}

	fmt.Printf("\nSync complete: %s\n", summary)
	if summary.Errored > 0 {
		return fmt.Errorf("%d file(s) failed to upload", summary.Errored)
	}
	return nil
}

func printSyncResult(r uploader.Result) {
	switch r.Outcome {
	case uploader.OutcomeUploaded:
		fmt.Printf("  %s %s\n", syncOKStyle.Render("uploaded"), r.Path)
	case uploader.OutcomeAlreadyExists:
		// Quiet: the common case on re-runs
	case uploader.OutcomeSkipped:
		fmt.Printf("  %s %s\n", syncWarnStyle.Render("skipped"), r.Path)
	case uploader.OutcomeFailed:
		fmt.Printf("  %s %s: %v\n", syncErrStyle.Render("failed"), r.Path, r.Err)
	}
}
