package main

import (
	"encoding/json"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

type jobLogView struct {
	EventType     string         `json:"event_type"`
	AttemptNumber *int           `json:"attempt_number,omitempty"`
	ErrorType     *string        `json:"error_type,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	CreatedAt     string         `json:"created_at"`
}

type jobStatusView struct {
	JobID       string       `json:"job_id"`
	Status      string       `json:"status"`
	TaskType    string       `json:"task_type"`
	CreatedAt   string       `json:"created_at"`
	ScheduledAt *string      `json:"scheduled_at,omitempty"`
	Logs        []jobLogView `json:"logs"`
}

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <job-id>",
		Short: "Print job status and recent attempt history via GET /api/jobs/{id}/status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := args[0]

			var out jobStatusView
			var errOut apiError
			resp, err := newClient().R().SetResult(&out).SetError(&errOut).Get("/api/jobs/" + jobID + "/status")
			if err != nil {
				return fmt.Errorf("get job status: %w", err)
			}
			if resp.IsError() {
				return fmt.Errorf("get job status: %s — %s", resp.Status(), errOut.String())
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Job ID:      %s\n", out.JobID)
			fmt.Fprintf(w, "Status:      %s\n", out.Status)
			fmt.Fprintf(w, "Task type:   %s\n", out.TaskType)
			fmt.Fprintf(w, "Created at:  %s\n", out.CreatedAt)
			if out.ScheduledAt != nil {
				fmt.Fprintf(w, "Scheduled at: %s\n", *out.ScheduledAt)
			}
			fmt.Fprintln(w)

			table := tablewriter.NewWriter(w)
			table.SetHeader([]string{"Event", "Attempt", "Error Type", "Metadata", "Created At"})
			table.SetBorder(false)
			for _, l := range out.Logs {
				table.Append([]string{
					l.EventType,
					attemptString(l.AttemptNumber),
					errorTypeString(l.ErrorType),
					metadataString(l.Metadata),
					l.CreatedAt,
				})
			}
			table.Render()
			return nil
		},
	}
	return cmd
}

func attemptString(n *int) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *n)
}

func errorTypeString(t *string) string {
	if t == nil {
		return "-"
	}
	return *t
}

func metadataString(m map[string]any) string {
	if len(m) == 0 {
		return "-"
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "-"
	}
	return string(b)
}
