// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Vidloom Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"
)

// EndpointStatus is the result of probing one accountd endpoint.
type EndpointStatus struct {
	Component string `json:"component"`
	URL       string `json:"url"`
	Healthy   bool   `json:"healthy"`
	Status    int    `json:"status,omitempty"`
	LatencyMS int64  `json:"latency_ms,omitempty"`
	Error     string `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	apiAddr     string
	metricsAddr string
	timeout     time.Duration
	jsonOutput  bool
}

// statusComponents are probed in this order.
var statusComponents = []string{"api", "liveness", "readiness"}

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the health of a running accountd",
		Long: `Probe the API health endpoint and the liveness and readiness
endpoints of a running accountd. Readiness fails while the user store is
unreachable.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.apiAddr, "addr", "127.0.0.1:8080", "API address")
	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9100", "metrics/health address")
	cmd.Flags().DurationVar(&cfg.timeout, "timeout", 2*time.Second, "per-probe timeout")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus probes every endpoint and fails if any is unhealthy.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	client := &http.Client{Timeout: cfg.timeout}
	urls := map[string]string{
		"api":       "http://" + cfg.apiAddr + "/health",
		"liveness":  "http://" + cfg.metricsAddr + "/healthz/liveness",
		"readiness": "http://" + cfg.metricsAddr + "/healthz/readiness",
	}

	statuses := make(map[string]EndpointStatus, len(urls))
	healthy := true
	for _, component := range statusComponents {
		s := probe(cmd.Context(), client, component, urls[component])
		statuses[component] = s
		healthy = healthy && s.Healthy
	}

	var output string
	if cfg.jsonOutput {
		var err error
		output, err = formatStatusJSON(statuses)
		if err != nil {
			return err
		}
	} else {
		output = formatStatusTable(statuses)
	}
	cmd.Println(output)

	if !healthy {
		return oops.Code("SERVICE_UNHEALTHY").Errorf("accountd is not healthy")
	}
	return nil
}

// probe issues a GET and treats any 2xx as healthy.
func probe(ctx context.Context, client *http.Client, component, url string) EndpointStatus {
	if ctx == nil {
		ctx = context.Background()
	}
	status := EndpointStatus{Component: component, URL: url}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		status.Error = err.Error()
		return status
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	status.LatencyMS = time.Since(start).Milliseconds()
	status.Status = resp.StatusCode
	status.Healthy = resp.StatusCode >= 200 && resp.StatusCode < 300
	if !status.Healthy {
		status.Error = resp.Status
	}
	return status
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(statuses map[string]EndpointStatus) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "COMPONENT\tSTATUS\tCODE\tLATENCY\tDETAIL")
	_, _ = fmt.Fprintln(w, "---------\t------\t----\t-------\t------")

	for _, component := range statusComponents {
		s, ok := statuses[component]
		if !ok {
			continue
		}
		state := "healthy"
		if !s.Healthy {
			state = "unhealthy"
		}
		code, latency := "-", "-"
		if s.Status != 0 {
			code = fmt.Sprintf("%d", s.Status)
			latency = fmt.Sprintf("%dms", s.LatencyMS)
		}
		detail := s.Error
		if detail == "" {
			detail = s.URL
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", component, state, code, latency, detail)
	}

	_ = w.Flush()
	return buf.String()
}

// formatStatusJSON formats the status as JSON.
func formatStatusJSON(statuses map[string]EndpointStatus) (string, error) {
	data, err := json.MarshalIndent(statuses, "", "  ")
	if err != nil {
		return "", oops.Code("STATUS_FORMAT_FAILED").Wrap(err)
	}
	return string(data), nil
}
