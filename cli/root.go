// Package cli implements the agentsync command-line interface.
package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "agentsync",
	Short: "Keep a local folder in sync with a remote AI knowledge base",
	Long: `agentsync mirrors the files of a local folder into a remote
knowledge base project and lets you chat with the agent trained on it.

Files are identified by content fingerprint: a file is uploaded once per
unique content, no matter how often it is renamed, copied, or touched.
A local ledger remembers what was uploaded so restarts never re-upload.

Typical workflow:
  agentsync init              Pick a project and create .agentsync/
  agentsync sync              One-shot upload of the folder
  agentsync watch             Keep syncing as files change
  agentsync ask "question"    Chat with the project's agent`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
