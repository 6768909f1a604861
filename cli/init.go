package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"agentsync/config"
)

var (
	initProject        string
	initBackend        string
	initDSN            string
	initNonInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize agentsync in the current directory",
	Long: `Initialize agentsync by creating a .agentsync directory with configuration.

This command will:
- List the remote projects available to your API key
- Prompt for the project to sync this folder into
- Prompt for the ledger backend (GOB file or PostgreSQL)
- Add .agentsync/ to .gitignore if present

Set AGENTSYNC_API_KEY (or CUSTOMGPT_API_KEY) before running.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVarP(&initProject, "project", "p", "", "Remote project ID to sync into")
	initCmd.Flags().StringVarP(&initBackend, "backend", "b", "", "Ledger backend (gob or postgres)")
	initCmd.Flags().StringVar(&initDSN, "dsn", "", "PostgreSQL DSN (with --backend postgres)")
	initCmd.Flags().BoolVar(&initNonInteractive, "yes", false, "Use defaults without prompting")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	if config.Exists(cwd) {
		fmt.Println("agentsync is already initialized in this directory.")
		fmt.Printf("Configuration: %s\n", config.GetConfigPath(cwd))
		return nil
	}

	cfg := config.DefaultConfig()
	cfg.Project.ID = initProject

	reader := bufio.NewReader(os.Stdin)

	if cfg.Project.ID == "" {
		if initNonInteractive {
			return fmt.Errorf("--project is required with --yes")
		}

		// Offer a project list when the API key works; fall back to a
		// plain prompt when it doesn't.
		if client, clientErr := newAPIClient(cfg); clientErr == nil {
			projects, listErr := client.ListProjects(context.Background())
			if listErr == nil && len(projects) > 0 {
				fmt.Println("\nAvailable projects:")
				for _, p := range projects {
					fmt.Printf("  %d) %s\n", p.ID, p.ProjectName)
				}
			} else if listErr != nil {
				fmt.Printf("Warning: could not list projects: %v\n", listErr)
			}
		}

		fmt.Print("\nProject ID: ")
		input, _ := reader.ReadString('\n')
		cfg.Project.ID = strings.TrimSpace(input)
		if cfg.Project.ID == "" {
			return fmt.Errorf("a project ID is required")
		}
	}

	if _, err := strconv.ParseInt(cfg.Project.ID, 10, 64); err != nil {
		return fmt.Errorf("invalid project ID %q: must be numeric", cfg.Project.ID)
	}

	// Backend selection
	switch {
	case initBackend != "":
		cfg.Ledger.Backend = initBackend
		cfg.Ledger.Postgres.DSN = initDSN
	case initNonInteractive:
		cfg.Ledger.Backend = "gob"
	default:
		fmt.Println("\nSelect ledger backend:")
		fmt.Println("  1) gob (local file, recommended for most folders)")
		fmt.Println("  2) postgres (shared ledger across machines)")
		fmt.Print("Choice [1]: ")

		input, _ := reader.ReadString('\n')
		switch strings.TrimSpace(input) {
		case "2", "postgres":
			cfg.Ledger.Backend = "postgres"
			fmt.Print("PostgreSQL DSN: ")
			dsn, _ := reader.ReadString('\n')
			cfg.Ledger.Postgres.DSN = strings.TrimSpace(dsn)
		default:
			cfg.Ledger.Backend = "gob"
		}
	}

	if cfg.Ledger.Backend == "postgres" && cfg.Ledger.Postgres.DSN == "" {
		return fmt.Errorf("postgres backend requires a DSN")
	}

	if err := cfg.Save(cwd); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	fmt.Printf("\nCreated configuration at %s\n", config.GetConfigPath(cwd))

	if _, err := os.Stat(cwd + "/.gitignore"); err == nil {
		if err := ensureGitignoreEntry(cwd, ".agentsync/"); err != nil {
			fmt.Printf("Warning: could not update .gitignore: %v\n", err)
		} else {
			fmt.Println("Added .agentsync/ to .gitignore")
		}
	}

	fmt.Println("\nagentsync initialized successfully!")
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Upload the folder once: agentsync sync")
	fmt.Println("  2. Keep it in sync: agentsync watch")
	fmt.Println("  3. Chat with the agent: agentsync ask \"your question\"")

	return nil
}
