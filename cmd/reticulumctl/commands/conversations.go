package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func conversationsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "conversations",
		Short: "Manage LXMF conversations",
	}

	cmd.AddCommand(conversationsListCmd())
	cmd.AddCommand(conversationsMessagesCmd())

	return cmd
}

func conversationsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List LXMF conversations",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var views []conversationView
			if err := getJSON(adminURL("/admin/v1/conversations"), &views); err != nil {
				return fmt.Errorf("list conversations: %w", err)
			}

			out, err := formatConversations(views, outputFormat)
			if err != nil {
				return fmt.Errorf("format conversations: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

func conversationsMessagesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "messages <peer-hash>",
		Short: "List messages in a conversation, by 32-character hex peer hash",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			url := adminURL("/admin/v1/conversations/" + args[0] + "/messages")

			var views []messageView
			if err := getJSON(url, &views); err != nil {
				return fmt.Errorf("list messages: %w", err)
			}

			out, err := formatMessages(views, outputFormat)
			if err != nil {
				return fmt.Errorf("format messages: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}
