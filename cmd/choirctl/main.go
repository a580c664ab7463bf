// Command choirctl is the operator-facing control CLI: a cobra command
// tree following the teacher's cmd/cli/main.go shape, with a status
// subcommand that drives the bubbletea dashboard directly against the
// event store and git working tree, and thin HTTP wrappers around
// supervisord's control surface for submitting work and triggering runs.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/choiros/supervisor/internal/application"
	"github.com/choiros/supervisor/internal/infrastructure/config"
	"github.com/choiros/supervisor/internal/infrastructure/logger"
	"github.com/choiros/supervisor/internal/interfaces/tui"
)

const (
	cliName    = "choirctl"
	cliVersion = "0.1.0"
)

func main() {
	var serverURL string

	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "choirctl — supervisor control CLI",
		Long:  "Operator CLI for the supervised agent execution platform: submit work, trigger runs, inspect git/run state, and watch the live status dashboard.",
	}
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:8089", "supervisord control surface base URL")

	rootCmd.AddCommand(newStatusCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newSubmitCmd(&serverURL))
	rootCmd.AddCommand(newRunCmd(&serverURL))
	rootCmd.AddCommand(newGitStatusCmd(&serverURL))

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	}
}

// newStatusCmd runs the bubbletea dashboard in-process against the same
// event store and git working tree supervisord uses — it never goes
// through the HTTP surface, since the dashboard only reads.
func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "watch the live run/work-item dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			log, err := logger.New(logger.Config{Level: "error", Format: "console", OutputPath: "/dev/null"})
			if err != nil {
				return fmt.Errorf("logger init: %w", err)
			}
			defer log.Sync()

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}

			app, err := application.New(cfg, log)
			if err != nil {
				return fmt.Errorf("init: %w", err)
			}
			defer app.Stop(cmd.Context())

			return tui.Run(app.Store(), app.Git())
		},
	}
}

func newSubmitCmd(serverURL *string) *cobra.Command {
	var userID, prompt, riskTier string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "submit a work item",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"user_id":   userID,
				"prompt":    prompt,
				"risk_tier": riskTier,
			}
			var resp map[string]any
			if err := postJSON(*serverURL+"/work_item", body, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "requesting user id (required)")
	cmd.Flags().StringVar(&prompt, "prompt", "", "work item prompt (required)")
	cmd.Flags().StringVar(&riskTier, "risk", "low", "risk tier: low, medium, high")
	cmd.MarkFlagRequired("user")
	cmd.MarkFlagRequired("prompt")
	return cmd
}

func newRunCmd(serverURL *string) *cobra.Command {
	var workItemID, moodSeed string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "trigger a run for a work item and block until it finishes",
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"work_item_id": workItemID,
				"mood":         moodSeed,
			}
			client := &http.Client{Timeout: 10 * time.Minute}
			var resp map[string]any
			if err := postJSONWithClient(client, *serverURL+"/run", body, &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVar(&workItemID, "work-item", "", "work item id (required)")
	cmd.Flags().StringVar(&moodSeed, "mood", "calm", "seed mood for this run")
	cmd.MarkFlagRequired("work-item")
	return cmd
}

func newGitStatusCmd(serverURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "git-status",
		Short: "show the supervised workspace's git status",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp map[string]any
			if err := getJSON(*serverURL+"/git/status", &resp); err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func postJSON(url string, body, out any) error {
	return postJSONWithClient(&http.Client{Timeout: 30 * time.Second}, url, body, out)
}

func postJSONWithClient(client *http.Client, url string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := client.Post(url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func getJSON(url string, out any) error {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, out)
}

func decodeResponse(resp *http.Response, out any) error {
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %s: %s", resp.Status, string(data))
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
