package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/PipeOpsHQ/sai/analytics"
)

// The analytics and export commands read from a running `sai serve`, since a
// session only lives as long as its process.

func serverURL(opts *rootOptions, flagValue string) (string, error) {
	if v := strings.TrimSpace(flagValue); v != "" {
		return strings.TrimRight(v, "/"), nil
	}
	cfg, err := loadConfig(opts)
	if err != nil {
		return "", err
	}
	return "http://" + cfg.Addr, nil
}

func fetch(ctx context.Context, url string) (*http.Response, error) {
	client := &http.Client{Timeout: 30 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("is `sai serve` running? %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: %s: %s", url, resp.Status, strings.TrimSpace(string(body)))
	}
	return resp, nil
}

func newAnalyticsCmd(opts *rootOptions, _ deps) *cobra.Command {
	var (
		server string
		asJSON bool
		days   int
	)
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show usage analytics from a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			base, err := serverURL(opts, server)
			if err != nil {
				return err
			}
			resp, err := fetch(cmd.Context(), base+"/api/v1/analytics")
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			var report analytics.Report
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				return fmt.Errorf("decode analytics: %w", err)
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), report)
			}
			report.DailyUsage = report.RecentDays(days)
			printReport(cmd.OutOrStdout(), report)
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "", "server base URL (defaults to http://<addr>)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw report")
	cmd.Flags().IntVar(&days, "days", 7, "number of most recent days to show")
	return cmd
}

func printReport(w io.Writer, r analytics.Report) {
	fmt.Fprintf(w, "Requests:        %s (%s successful, %d%%)\n",
		humanize.Comma(int64(r.TotalRequests)), humanize.Comma(int64(r.SuccessfulRequests)), r.SuccessRatePercent)
	fmt.Fprintf(w, "Average latency: %s ms\n", humanize.Comma(r.AverageLatencyMs))
	fmt.Fprintf(w, "Tokens used:     %s\n", humanize.Comma(int64(r.TokensUsed)))
	if r.ToolUsage != nil && r.ToolUsage.Len() > 0 {
		fmt.Fprintln(w, "Tool usage:")
		for pair := r.ToolUsage.Oldest(); pair != nil; pair = pair.Next() {
			fmt.Fprintf(w, "  %-12s %s\n", pair.Key, humanize.Comma(int64(pair.Value)))
		}
	}
	if len(r.DailyUsage) > 0 {
		fmt.Fprintln(w, "Daily requests:")
		for _, d := range r.DailyUsage {
			fmt.Fprintf(w, "  %s  %s\n", d.Date, humanize.Comma(int64(d.Requests)))
		}
	}
}
