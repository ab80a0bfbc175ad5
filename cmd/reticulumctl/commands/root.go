// Package commands implements the reticulumctl CLI commands.
package commands

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// httpClient talks to the daemon's JSON admin API.
	httpClient *http.Client

	// outputFormat controls the output format for all commands (table or json).
	outputFormat string

	// serverAddr is the daemon's admin API address (host:port).
	serverAddr string
)

// rootCmd is the top-level cobra command for reticulumctl.
var rootCmd = &cobra.Command{
	Use:   "reticulumctl",
	Short: "CLI client for the reticulumd mesh daemon",
	Long:  "reticulumctl queries the reticulumd admin API to inspect path table, peer, and LXMF conversation state.",
	PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
		httpClient = &http.Client{Timeout: 10 * time.Second}
		return nil
	},
	// Silence cobra's built-in usage/error printing so we control it.
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverAddr, "addr", "localhost:50051",
		"reticulumd admin API address (host:port)")
	rootCmd.PersistentFlags().StringVar(&outputFormat, "format", "table",
		"output format: table, json")

	rootCmd.AddCommand(pathsCmd())
	rootCmd.AddCommand(peersCmd())
	rootCmd.AddCommand(conversationsCmd())
	rootCmd.AddCommand(versionCmd())
}

// adminURL builds a full URL against the configured admin API address.
func adminURL(path string) string {
	return "http://" + serverAddr + path
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
