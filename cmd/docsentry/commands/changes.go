package commands

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// newChangesCmd creates the `docsentry changes` command that prints the
// recent change history of a tracked document.
func newChangesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes <token>",
		Short: "Show recent changes for a tracked document",
		Long: `Queries the running daemon for the recent change history of a
document token.

Examples:
  docsentry changes doccnXXXX
  docsentry changes doccnXXXX --address http://localhost:8086`,
		Args: cobra.ExactArgs(1),
		RunE: runChanges,
	}
	cmd.Flags().String("address", "http://localhost:8086", "gateway base URL")
	return cmd
}

func runChanges(cmd *cobra.Command, args []string) error {
	address, _ := cmd.Flags().GetString("address")
	token := args[0]

	// API routes may be protected; pick up the operator's token from the
	// environment the same way serve does.
	authToken := os.Getenv("DOCSENTRY_AUTH_TOKEN")

	body, err := gatewayGet(address+"/api/changes/"+token, authToken)
	if err != nil {
		return fmt.Errorf("daemon unreachable: %w", err)
	}

	var resp struct {
		Token  string `json:"token"`
		Events []struct {
			ChangeType  string `json:"change_type"`
			EditorID    string `json:"editor_id"`
			EditedAt    string `json:"edited_at"`
			DetectedVia string `json:"detected_via"`
		} `json:"events"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("unexpected response: %w", err)
	}

	if len(resp.Events) == 0 {
		fmt.Printf("No recorded changes for %s.\n", token)
		return nil
	}

	fmt.Printf("Recent changes for %s:\n", token)
	for _, ev := range resp.Events {
		fmt.Printf("  %s  %-22s by %-12s via %s\n",
			ev.EditedAt, ev.ChangeType, ev.EditorID, ev.DetectedVia)
	}
	return nil
}
