package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

type submitRequest struct {
	AppName   string         `json:"app_name"`
	UserID    string         `json:"user_id"`
	AccountID string         `json:"account_id"`
	BoardID   *string        `json:"board_id,omitempty"`
	TaskType  string         `json:"task_type"`
	Schedule  map[string]any `json:"schedule"`
	Data      map[string]any `json:"data,omitempty"`
}

func newSubmitCmd() *cobra.Command {
	var (
		appName, userID, accountID, boardID, taskType string
		scheduleType, runAt, cron, dataJSON           string
		delaySeconds, pollingIntervalSeconds          int
	)

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a job via POST /api/jobs/create",
		RunE: func(cmd *cobra.Command, args []string) error {
			schedule := map[string]any{"type": scheduleType}
			switch scheduleType {
			case "run_at":
				if runAt == "" {
					return fmt.Errorf("--run-at is required for schedule type run_at")
				}
				schedule["run_at"] = runAt
			case "cron":
				if cron == "" {
					return fmt.Errorf("--cron is required for schedule type cron")
				}
				schedule["cron"] = cron
			case "delay_from_now":
				if delaySeconds <= 0 {
					return fmt.Errorf("--delay-seconds must be positive for schedule type delay_from_now")
				}
				schedule["delay_seconds"] = delaySeconds
			case "polling":
				if pollingIntervalSeconds <= 0 {
					return fmt.Errorf("--polling-interval-seconds must be positive for schedule type polling")
				}
				schedule["polling_interval_seconds"] = pollingIntervalSeconds
			}

			var data map[string]any
			if dataJSON != "" {
				if err := json.Unmarshal([]byte(dataJSON), &data); err != nil {
					return fmt.Errorf("parse --data: %w", err)
				}
			}

			req := submitRequest{
				AppName:   appName,
				UserID:    userID,
				AccountID: accountID,
				TaskType:  taskType,
				Schedule:  schedule,
				Data:      data,
			}
			if boardID != "" {
				req.BoardID = &boardID
			}

			var out struct {
				ID string `json:"id"`
			}
			var errOut apiError
			resp, err := newClient().R().SetBody(req).SetResult(&out).SetError(&errOut).Post("/api/jobs/create")
			if err != nil {
				return fmt.Errorf("submit job: %w", err)
			}
			if resp.IsError() {
				return fmt.Errorf("submit job: %s — %s", resp.Status(), errOut.String())
			}

			fmt.Fprintln(cmd.OutOrStdout(), out.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&appName, "app-name", "", "app name (required)")
	cmd.Flags().StringVar(&userID, "user-id", "", "external user id (required)")
	cmd.Flags().StringVar(&accountID, "account-id", "", "account id, for rate limiting (required)")
	cmd.Flags().StringVar(&boardID, "board-id", "", "optional board id")
	cmd.Flags().StringVar(&taskType, "task-type", "", "task type, resolved against the server's handler registry (required)")
	cmd.Flags().StringVar(&scheduleType, "schedule-type", "immediate", "immediate|run_at|cron|delay_from_now|polling")
	cmd.Flags().StringVar(&runAt, "run-at", "", "RFC3339 timestamp, for schedule-type=run_at")
	cmd.Flags().StringVar(&cron, "cron", "", "cron expression, for schedule-type=cron")
	cmd.Flags().IntVar(&delaySeconds, "delay-seconds", 0, "delay in seconds, for schedule-type=delay_from_now")
	cmd.Flags().IntVar(&pollingIntervalSeconds, "polling-interval-seconds", 0, "poll interval in seconds, for schedule-type=polling")
	cmd.Flags().StringVar(&dataJSON, "data", "", "caller payload as a JSON object")

	for _, name := range []string{"app-name", "user-id", "account-id", "task-type"} {
		_ = cmd.MarkFlagRequired(name)
	}

	return cmd
}
