package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/spf13/cobra"
)

// newStatusCmd creates the `docsentry status` command. It queries the
// running daemon's health endpoint, so it works from cron jobs and Docker
// HEALTHCHECK lines.
func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the running daemon's health",
		Long: `Queries the gateway health endpoint of a running DocSentry daemon
and prints the tracking summary.

Examples:
  docsentry status
  docsentry status --address http://localhost:8086`,
		RunE: runStatus,
	}
	cmd.Flags().String("address", "http://localhost:8086", "gateway base URL")
	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	address, _ := cmd.Flags().GetString("address")

	body, err := gatewayGet(address+"/health", "")
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}

	var pretty map[string]any
	if err := json.Unmarshal(body, &pretty); err != nil {
		return fmt.Errorf("unexpected health response: %w", err)
	}
	out, _ := json.MarshalIndent(pretty, "", "  ")
	fmt.Println(string(out))
	return nil
}

// gatewayGet performs an authenticated GET against the running daemon.
func gatewayGet(url, authToken string) ([]byte, error) {
	client := &http.Client{Timeout: 5 * time.Second}
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %s: %s", resp.Status, string(body))
	}
	return body, nil
}
