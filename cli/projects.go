package cli

import (
	"encoding/json"
	"fmt"

	"github.com/alpkeskin/gotoon"
	"github.com/spf13/cobra"

	"agentsync/config"
)

var projectsOutput string

var projectsCmd = &cobra.Command{
	Use:   "projects",
	Short: "List the remote projects available to your API key",
	RunE:  runProjects,
}

func init() {
	projectsCmd.Flags().StringVarP(&projectsOutput, "output", "o", "table", "Output format (table, json, toon)")
	rootCmd.AddCommand(projectsCmd)
}

func runProjects(cmd *cobra.Command, args []string) error {
	// Works outside an initialized folder too: the API key alone is enough.
	cfg := config.DefaultConfig()
	if root, err := config.FindProjectRoot(); err == nil {
		if loaded, loadErr := config.Load(root); loadErr == nil {
			cfg = loaded
		}
	}

	client, err := newAPIClient(cfg)
	if err != nil {
		return err
	}

	projects, err := client.ListProjects(cmd.Context())
	if err != nil {
		return err
	}

	switch projectsOutput {
	case "json":
		out, err := json.MarshalIndent(projects, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	case "toon":
		out, err := gotoon.Encode(projects)
		if err != nil {
			return err
		}
		fmt.Println(out)
	case "table":
		if len(projects) == 0 {
			fmt.Println("No projects found")
			return nil
		}
		fmt.Printf("%-10s %-40s %s\n", "ID", "NAME", "CHAT")
		for _, p := range projects {
			chatState := "inactive"
			if p.IsChatActive {
				chatState = "active"
			}
			fmt.Printf("%-10d %-40s %s\n", p.ID, p.ProjectName, chatState)
		}
	default:
		return fmt.Errorf("unknown output format: %s", projectsOutput)
	}

	return nil
}
