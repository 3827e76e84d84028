package main

import (
	"fmt"

	"github.com/relayhook/dispatcher/internal/scheduler"
)

// registerHandlers populates the (app_name, task_type) -> HandlerConfig
// table every CreateJob request resolves against: one entry per task type,
// each naming its own callback path, retry ceiling, and backoff base.
func registerHandlers(registry *scheduler.HandlerRegistry, callbackBaseURL string) {
	registry.Register("app_a", "bulk_excel_insert", scheduler.HandlerConfig{
		CallbackURL:      fmt.Sprintf("%s/internal/jobs/bulk_excel_insert", callbackBaseURL),
		MaxRetries:       3,
		RetryBackoffBase: 60,
	})
	registry.Register("app_a", "delayed_archive", scheduler.HandlerConfig{
		CallbackURL:      fmt.Sprintf("%s/internal/jobs/delayed_archive", callbackBaseURL),
		MaxRetries:       2,
		RetryBackoffBase: 120,
	})
	registry.Register("app_a", "scheduled_cron_task", scheduler.HandlerConfig{
		CallbackURL:      fmt.Sprintf("%s/internal/jobs/scheduled_cron_task", callbackBaseURL),
		MaxRetries:       2,
		RetryBackoffBase: 120,
	})
	registry.Register("app_a", "poll_export_status", scheduler.HandlerConfig{
		CallbackURL:      fmt.Sprintf("%s/internal/jobs/poll_export_status", callbackBaseURL),
		MaxRetries:       3,
		RetryBackoffBase: 30,
	})

	registerSeedHandlers(registry)
}

// registerSeedHandlers registers the task types cmd/seed drives against
// httpbin.org, one per failure-classification scenario: a clean 2xx, a
// permanent 4xx, a transient 5xx that occasionally clears (via httpbin's
// weighted /status/<codes> endpoint), and a timeout that exceeds the
// callback client's 30s budget.
func registerSeedHandlers(registry *scheduler.HandlerRegistry) {
	registry.Register("app_seed", "httpbin_success", scheduler.HandlerConfig{
		CallbackURL:      "https://httpbin.org/post",
		MaxRetries:       3,
		RetryBackoffBase: 5,
	})
	registry.Register("app_seed", "httpbin_permanent_failure", scheduler.HandlerConfig{
		CallbackURL:      "https://httpbin.org/status/400",
		MaxRetries:       3,
		RetryBackoffBase: 5,
	})
	registry.Register("app_seed", "httpbin_transient_then_success", scheduler.HandlerConfig{
		CallbackURL:      "https://httpbin.org/status/500,500,200",
		MaxRetries:       5,
		RetryBackoffBase: 2,
	})
	registry.Register("app_seed", "httpbin_timeout", scheduler.HandlerConfig{
		CallbackURL:      "https://httpbin.org/delay/35",
		MaxRetries:       2,
		RetryBackoffBase: 5,
	})
}
