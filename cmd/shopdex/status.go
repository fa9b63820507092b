package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/shopdex/shopdex/internal/config"
)

// ProbeStatus holds the result of one health probe against a running server.
type ProbeStatus struct {
	Probe   string `json:"probe"`
	Healthy bool   `json:"healthy"`
	Error   string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	metricsAddr string
	jsonOutput  bool
}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show health of a running Shopdex server",
		Long:  `Query the liveness and readiness probes of a running Shopdex server.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	// Register flags
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", config.Default().Observability.MetricsAddr, "metrics/health HTTP address of the server")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	client := &http.Client{Timeout: 2 * time.Second}

	statuses := map[string]ProbeStatus{
		"liveness":  queryProbe(client, cfg.metricsAddr, "liveness"),
		"readiness": queryProbe(client, cfg.metricsAddr, "readiness"),
	}

	var output string
	var err error

	if cfg.jsonOutput {
		output, err = formatStatusJSON(statuses)
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
	} else {
		output = formatStatusTable(statuses)
	}

	cmd.Println(output)
	return nil
}

// queryProbe hits one healthz endpoint and interprets the response.
func queryProbe(client *http.Client, addr, probe string) ProbeStatus {
	status := ProbeStatus{
		Probe: probe,
	}

	resp, err := client.Get(fmt.Sprintf("http://%s/healthz/%s", addr, probe))
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()
	// Drain so the connection can be reused for the second probe.
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
		status.Healthy = true
	case http.StatusServiceUnavailable:
		status.Error = "not ready"
	default:
		status.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
	}

	return status
}

// formatStatusTable formats the probe results as a human-readable table.
func formatStatusTable(statuses map[string]ProbeStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	// Header
	_, _ = fmt.Fprintln(w, "PROBE\tSTATUS\tDETAIL")
	_, _ = fmt.Fprintln(w, "-----\t------\t------")

	// Probe rows in consistent order
	for _, probe := range []string{"liveness", "readiness"} {
		status := statuses[probe]
		if status.Healthy {
			_, _ = fmt.Fprintf(w, "%s\tup\t-\n", probe)
		} else {
			reason := "unreachable"
			if status.Error != "" {
				reason = status.Error
			}
			_, _ = fmt.Fprintf(w, "%s\tdown\t%s\n", probe, reason)
		}
	}

	_ = w.Flush()
	return string(buf)
}

// formatStatusJSON formats the probe results as JSON.
func formatStatusJSON(statuses map[string]ProbeStatus) (string, error) {
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal status: %w", err)
	}
	return string(data), nil
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
