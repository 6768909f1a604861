package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"agentsync/chat"
	"agentsync/config"
)

var (
	askConversation string
	askNoStream     bool
)

var askCmd = &cobra.Command{
	Use:   "ask <prompt>",
	Short: "Ask the project's agent a question",
	Long: `Send a prompt to the agent trained on this project's documents.

By default the answer is streamed fragment by fragment as the agent
produces it. Use --no-stream to wait for the complete answer instead.

Pass --conversation to continue an earlier conversation; without it a
fresh conversation is created for this turn.`,
	Args: cobra.ExactArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().StringVarP(&askConversation, "conversation", "c", "", "Conversation ID to continue")
	askCmd.Flags().BoolVar(&askNoStream, "no-stream", false, "Wait for the complete answer instead of streaming")
	rootCmd.AddCommand(askCmd)
}

var askMetaStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))

func runAsk(cmd *cobra.Command, args []string) error {
	prompt := args[0]

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

	readTimeout := time.Duration(cfg.Chat.ReadTimeoutSeconds) * time.Second
	session := chat.NewSession(client, cfg.Project.ID, askConversation,
		chat.WithReadTimeout(readTimeout))

	ctx := cmd.Context()

	if askNoStream {
		answer, err := session.Ask(ctx, prompt)
		if err != nil {
			return err
		}
		fmt.Println(answer)
	} else {
		stream, err := session.Stream(ctx, prompt)
		if err != nil {
			return err
		}

		for fragment := range stream.Fragments() {
			fmt.Print(fragment.Text)
		}
		fmt.Println()

		if err := stream.Err(); err != nil {
			return fmt.Errorf("stream ended abnormally: %w", err)
		}
	}

	fmt.Fprintln(os.Stderr, askMetaStyle.Render(
		fmt.Sprintf("conversation: %s", session.ConversationID())))

	return nil
}
