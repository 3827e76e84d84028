// seed submits a batch of jobs against a running server's
// /api/jobs/create endpoint, against the app_seed task types registered in
// cmd/server/handlers.go, each targeting a public httpbin.org endpoint
// chosen to exercise one failure-classification scenario: a clean success,
// a permanent 4xx, a transient 5xx (with some chance of eventually
// clearing), and a client-side timeout.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

const (
	seedAppName   = "app_seed"
	seedAccountID = "acct_seed_dev_local"
)

type jobRequest struct {
	AppName   string         `json:"app_name"`
	UserID    string         `json:"user_id"`
	AccountID string         `json:"account_id"`
	TaskType  string         `json:"task_type"`
	Schedule  map[string]any `json:"schedule"`
	Data      map[string]any `json:"data"`
}

// jobs covers one immediate request per httpbin scenario registered for
// app_seed: success, permanent failure, transient-then-(maybe)-success, and
// timeout. runSeed appends the run_at and cron schedule-type variants, whose
// fields depend on the submission time.
var jobs = []jobRequest{
	{
		AppName: seedAppName, UserID: "user-seed-success", AccountID: seedAccountID,
		TaskType: "httpbin_success",
		Schedule: map[string]any{"type": "immediate"},
		Data:     map[string]any{"scenario": "success"},
	},
	{
		AppName: seedAppName, UserID: "user-seed-permanent", AccountID: seedAccountID,
		TaskType: "httpbin_permanent_failure",
		Schedule: map[string]any{"type": "immediate"},
		Data:     map[string]any{"scenario": "permanent_failure"},
	},
	{
		AppName: seedAppName, UserID: "user-seed-transient", AccountID: seedAccountID,
		TaskType: "httpbin_transient_then_success",
		Schedule: map[string]any{"type": "immediate"},
		Data:     map[string]any{"scenario": "transient_then_success"},
	},
	{
		AppName: seedAppName, UserID: "user-seed-timeout", AccountID: seedAccountID,
		TaskType: "httpbin_timeout",
		Schedule: map[string]any{"type": "immediate"},
		Data:     map[string]any{"scenario": "timeout"},
	},
}

func main() {
	var baseURL, secret string

	root := &cobra.Command{
		Use:   "seed",
		Short: "Submit sample httpbin-backed jobs against a running scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd, baseURL, secret)
		},
	}
	root.Flags().StringVar(&baseURL, "base-url", envOr("SCHEDULER_BASE_URL", "http://127.0.0.1:8080"), "scheduler base URL")
	root.Flags().StringVar(&secret, "secret", os.Getenv("INTERNAL_API_SECRET"), "X-Internal-Secret header value")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func runSeed(cmd *cobra.Command, baseURL, secret string) error {
	client := resty.New().
		SetHostURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)
	if secret != "" {
		client.SetHeader("X-Internal-Secret", secret)
	}

	type result struct {
		taskType string
		id       string
		status   string
	}
	var results []result

	batch := append([]jobRequest{}, jobs...)
	batch = append(batch,
		jobRequest{
			AppName: seedAppName, UserID: "user-seed-run-at", AccountID: seedAccountID,
			TaskType: "httpbin_success",
			Schedule: map[string]any{
				"type":   "run_at",
				"run_at": time.Now().UTC().Add(2 * time.Minute).Format(time.RFC3339),
			},
			Data: map[string]any{"scenario": "run_at_future"},
		},
		jobRequest{
			AppName: seedAppName, UserID: "user-seed-cron", AccountID: seedAccountID,
			TaskType: "httpbin_success",
			Schedule: map[string]any{"type": "cron", "cron": "*/5 * * * *"},
			Data:     map[string]any{"scenario": "cron_recurring"},
		},
	)

	for _, j := range batch {
		var out struct {
			ID string `json:"id"`
		}
		resp, err := client.R().SetBody(j).SetResult(&out).Post("/api/jobs/create")
		switch {
		case err != nil:
			results = append(results, result{j.TaskType, "-", err.Error()})
		case resp.IsError():
			results = append(results, result{j.TaskType, "-", resp.Status()})
		default:
			results = append(results, result{j.TaskType, out.ID, "created"})
		}
	}

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"Task Type", "Job ID", "Result"})
	table.SetBorder(false)
	for _, r := range results {
		table.Append([]string{r.taskType, r.id, r.status})
	}
	table.Render()

	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Expect: httpbin_success -> completed; httpbin_permanent_failure -> failed")
	fmt.Fprintln(cmd.OutOrStdout(), "after one attempt (400 is non-retryable); httpbin_transient_then_success ->")
	fmt.Fprintln(cmd.OutOrStdout(), "retries on 500 until httpbin's weighted /status/500,500,200 happens to return")
	fmt.Fprintln(cmd.OutOrStdout(), "200, or failed if max_retries is exhausted first; httpbin_timeout -> retries")
	fmt.Fprintln(cmd.OutOrStdout(), "on the 30s callback timeout until max_retries is exhausted, then failed.")
	fmt.Fprintln(cmd.OutOrStdout(), "The run_at variant fires ~2 minutes from now; the cron variant recurs every")
	fmt.Fprintln(cmd.OutOrStdout(), "5 minutes until cancelled by hand.")
	fmt.Fprintln(cmd.OutOrStdout())
	fmt.Fprintln(cmd.OutOrStdout(), "Check status with:")
	fmt.Fprintln(cmd.OutOrStdout(), "  jobctl status <id> --base-url "+baseURL)
	return nil
}
