package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

func pathsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "paths",
		Short: "List known destination paths",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			var views []pathEntryView
			if err := getJSON(adminURL("/admin/v1/paths"), &views); err != nil {
				return fmt.Errorf("list paths: %w", err)
			}

			out, err := formatPaths(views, outputFormat)
			if err != nil {
				return fmt.Errorf("format paths: %w", err)
			}
			fmt.Print(out)
			return nil
		},
	}
}

// getJSON issues a GET request and decodes a successful JSON response
// into v, or returns the daemon's {"error": "..."} body as an error.
func getJSON(url string, v any) error {
	resp, err := httpClient.Get(url)
	if err != nil {
		return fmt.Errorf("request %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&errBody); err == nil && errBody.Error != "" {
			return fmt.Errorf("daemon returned %s: %s", resp.Status, errBody.Error)
		}
		return fmt.Errorf("daemon returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode response from %s: %w", url, err)
	}
	return nil
}
