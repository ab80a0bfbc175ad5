package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func peersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "peers",
		Short: "List AutoInterface-discovered peers",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var views []peerView
			if err := getJSON(adminURL("/admin/v1/peers"), &views); err != nil {
				return fmt.Errorf("list peers: %w", err)
			}

			out, err := formatPeers(views, outputFormat)
			if err != nil {
				return fmt.Errorf("format peers: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}
