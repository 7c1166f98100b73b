// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Shorebound Contributors

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// ServerStatus holds the probed state of a running server.
type ServerStatus struct {
	Addr            string  `json:"addr"`
	Running         bool    `json:"running"`
	Ready           bool    `json:"ready"`
	ActiveInstances float64 `json:"active_instances,omitempty"`
	OnlinePlayers   float64 `json:"online_players,omitempty"`
	Error           string  `json:"error,omitempty"`
}

// statusConfig holds configuration for the status command.
type statusConfig struct {
	metricsAddr string
	jsonOutput  bool
}

// newStatusCmd creates the status subcommand with all flags configured.
func newStatusCmd() *cobra.Command {
	cfg := &statusConfig{}

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show status of a running server",
		Long:  `Probe the health endpoints of a running server and report liveness, readiness, and occupancy gauges.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStatus(cmd, cfg)
		},
	}

	cmd.Flags().StringVar(&cfg.metricsAddr, "metrics-addr", "127.0.0.1:9100", "metrics/health HTTP address to probe")
	cmd.Flags().BoolVar(&cfg.jsonOutput, "json", false, "output status as JSON")

	return cmd
}

// runStatus executes the status command.
func runStatus(cmd *cobra.Command, cfg *statusConfig) error {
	status := queryServerStatus(cfg.metricsAddr)

	var output string
	if cfg.jsonOutput {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		output = string(data)
	} else {
		output = formatStatusTable(status)
	}

	cmd.Println(output)
	return nil
}

// queryServerStatus probes the observability endpoints and returns the
// assembled status. A server that cannot be reached is reported as
// stopped, never as an error exit.
func queryServerStatus(addr string) ServerStatus {
	status := ServerStatus{Addr: addr}
	client := &http.Client{Timeout: 2 * time.Second}
	base := "http://" + addr

	resp, err := client.Get(base + "/healthz/liveness")
	if err != nil {
		status.Error = fmt.Sprintf("failed to connect: %v", err)
		return status
	}
	_ = resp.Body.Close()
	status.Running = resp.StatusCode == http.StatusOK

	resp, err = client.Get(base + "/healthz/readiness")
	if err == nil {
		status.Ready = resp.StatusCode == http.StatusOK
		_ = resp.Body.Close()
	}

	resp, err = client.Get(base + "/metrics")
	if err != nil {
		return status
	}
	defer func() { _ = resp.Body.Close() }()

	gauges := scrapeGauges(resp, "shorebound_active_instances", "shorebound_online_players")
	status.ActiveInstances = gauges["shorebound_active_instances"]
	status.OnlinePlayers = gauges["shorebound_online_players"]
	return status
}

// scrapeGauges pulls named gauge values out of a Prometheus text
// exposition response.
func scrapeGauges(resp *http.Response, names ...string) map[string]float64 {
	out := make(map[string]float64, len(names))
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		for _, name := range names {
			rest, ok := strings.CutPrefix(line, name+" ")
			if !ok {
				continue
			}
			if v, err := strconv.ParseFloat(strings.TrimSpace(rest), 64); err == nil {
				out[name] = v
			}
		}
	}
	return out
}

// formatStatusTable formats the status as a human-readable table.
func formatStatusTable(status ServerStatus) string {
	var buf []byte
	w := tabwriter.NewWriter((*byteWriter)(&buf), 0, 0, 2, ' ', 0)

	_, _ = fmt.Fprintln(w, "ADDR\tSTATUS\tREADY\tINSTANCES\tPLAYERS")
	_, _ = fmt.Fprintln(w, "----\t------\t-----\t---------\t-------")

	if status.Running {
		ready := "no"
		if status.Ready {
			ready = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\trunning\t%s\t%.0f\t%.0f\n",
			status.Addr, ready, status.ActiveInstances, status.OnlinePlayers)
	} else {
		reason := "not running"
		if status.Error != "" {
			reason = status.Error
		}
		_, _ = fmt.Fprintf(w, "%s\tstopped\t-\t-\t%s\n", status.Addr, reason)
	}

	_ = w.Flush()
	return string(buf)
}

// byteWriter is a simple writer that appends to a byte slice.
type byteWriter []byte

func (w *byteWriter) Write(p []byte) (int, error) {
	*w = append(*w, p...)
	return len(p), nil
}
