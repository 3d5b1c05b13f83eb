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

	"github.com/pscheid92/stresspulse/internal/domain"
	"github.com/spf13/cobra"
	"github.com/tidwall/gjson"
)

const summaryTimeout = 10 * time.Second

func newSummaryCmd() *cobra.Command {
	var serverURL string
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Print the current stress summary of a running server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), summaryTimeout)
			defer cancel()

			body, err := fetchSummary(ctx, serverURL)
			if err != nil {
				return err
			}
			if asJSON {
				_, err := fmt.Fprintln(cmd.OutOrStdout(), string(body))
				return err
			}

			var summary domain.Summary
			if err := json.Unmarshal(body, &summary); err != nil {
				return fmt.Errorf("decode summary: %w", err)
			}
			return printSummary(cmd.OutOrStdout(), summary)
		},
	}

	cmd.Flags().StringVar(&serverURL, "server", "http://localhost:8080", "base URL of the stresspulse server")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON response")
	return cmd
}

func fetchSummary(ctx context.Context, serverURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(serverURL, "/")+"/api/summary", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch summary: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read summary: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		msg := gjson.GetBytes(body, "error").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, msg)
	}
	return body, nil
}

func printSummary(out io.Writer, s domain.Summary) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Average stress:\t%.2f\n", s.AverageStressLevel)
	fmt.Fprintf(w, "Updated:\t%s\n\n", s.LastUpdated.Format(time.RFC3339))

	fmt.Fprintln(w, "USER\tLEVEL\tUPDATED")
	for _, u := range s.Users {
		level := fmt.Sprint(u.StressLevel)
		if u.IsSuperstress {
			level += " (superstress)"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", u.Username, level, u.LastUpdated.Format(time.RFC3339))
	}

	if len(s.TimeBasedAverages) > 0 {
		fmt.Fprintln(w, "\nBUCKET\tAVERAGE\tCOUNT")
		for _, b := range s.TimeBasedAverages {
			fmt.Fprintf(w, "%s\t%.2f\t%d\n", b.Bucket, b.AverageLevel, b.SampleCount)
		}
	}
	return w.Flush()
}
