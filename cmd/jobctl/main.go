// jobctl is an operator CLI for the scheduler's ingress HTTP API: submit a
// job and inspect its status / recent attempt history from a terminal.
package main

import (
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"
)

var (
	baseURL string
	secret  string
)

func main() {
	root := &cobra.Command{
		Use:   "jobctl",
		Short: "Submit and inspect scheduler jobs",
	}
	root.PersistentFlags().StringVar(&baseURL, "base-url", envOr("SCHEDULER_BASE_URL", "http://127.0.0.1:8080"), "scheduler base URL")
	root.PersistentFlags().StringVar(&secret, "secret", os.Getenv("INTERNAL_API_SECRET"), "X-Internal-Secret header value")

	root.AddCommand(newSubmitCmd(), newStatusCmd())

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

func newClient() *resty.Client {
	client := resty.New().
		SetHostURL(baseURL).
		SetHeader("Content-Type", "application/json").
		SetTimeout(10 * time.Second)
	if secret != "" {
		client.SetHeader("X-Internal-Secret", secret)
	}
	return client
}

// apiError is the `{"error": "..."}` / `{"errors": [...]}` shape the ingress
// handlers return on 4xx/5xx (internal/transport/http/handler).
type apiError struct {
	Error  string   `json:"error"`
	Errors []string `json:"errors"`
}

func (e apiError) String() string {
	if e.Error != "" {
		return e.Error
	}
	if len(e.Errors) > 0 {
		out := e.Errors[0]
		for _, s := range e.Errors[1:] {
			out += "; " + s
		}
		return out
	}
	return "unknown error"
}
