package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/abhisek/lectio/internal/store"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Inspect recorded LLM usage and cost",
}

var usageListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent LLM calls",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := usageQueryOpts(cmd)
		if err != nil {
			return err
		}
		opts.Limit, _ = cmd.Flags().GetInt("limit")

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		events, err := s.QueryUsage(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("query usage: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No LLM usage recorded.")
			return nil
		}

		fmt.Printf("%-5s  %-19s  %-16s  %-11s  %-26s  %-6s  %-6s  %-9s  %-6s  %s\n",
			"ID", "Timestamp", "Feature", "Provider", "Model", "In", "Out", "Cost", "Ms", "OK")
		fmt.Println(strings.Repeat("─", 122))
		for _, e := range events {
			ok := "✓"
			if !e.Success {
				ok = "✗"
			}
			fmt.Printf("%-5d  %-19s  %-16s  %-11s  %-26s  %-6d  %-6d  %-9s  %-6d  %s\n",
				e.ID,
				e.CreatedAt.Local().Format("2006-01-02 15:04:05"),
				truncate(e.Feature, 16),
				truncate(e.Provider, 11),
				truncate(e.Model, 26),
				e.InputTokens,
				e.OutputTokens,
				formatCost(e.CostUSD),
				e.LatencyMs,
				ok,
			)
		}
		return nil
	},
}

var usageViewCmd = &cobra.Command{
	Use:   "view <id>",
	Short: "View one LLM call",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ID %q: %w", args[0], err)
		}

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		e, err := s.GetUsage(cmd.Context(), id)
		if err != nil {
			return fmt.Errorf("get usage: %w", err)
		}
		if e == nil {
			return fmt.Errorf("usage event %d not found", id)
		}

		fmt.Printf("ID:        %d\n", e.ID)
		fmt.Printf("Time:      %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04:05"))
		fmt.Printf("Provider:  %s\n", e.Provider)
		fmt.Printf("Model:     %s\n", e.Model)
		fmt.Printf("Feature:   %s\n", e.Feature)
		fmt.Printf("Kind:      %s\n", e.Kind)
		fmt.Printf("Tokens:    %d in / %d out (%d total)\n", e.InputTokens, e.OutputTokens, e.TotalTokens)
		fmt.Printf("Cost:      %s\n", formatCost(e.CostUSD))
		fmt.Printf("Latency:   %dms\n", e.LatencyMs)
		fmt.Printf("Success:   %v\n", e.Success)
		if e.ErrorMessage != "" {
			fmt.Printf("Error:     %s\n", e.ErrorMessage)
		}
		return nil
	},
}

var usageStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show token usage and cost by feature and provider",
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := usageQueryOpts(cmd)
		if err != nil {
			return err
		}

		s, err := openStore(cmd)
		if err != nil {
			return err
		}
		defer s.Close()

		stats, err := s.UsageStats(cmd.Context(), opts)
		if err != nil {
			return fmt.Errorf("query usage: %w", err)
		}
		if len(stats) == 0 {
			fmt.Println("No LLM usage recorded yet.")
			return nil
		}

		fmt.Printf("%-16s  %-11s  %6s  %6s  %10s  %10s  %10s  %8s\n",
			"Feature", "Provider", "Calls", "Fail", "Input", "Output", "Cost", "Avg Ms")
		fmt.Println(strings.Repeat("─", 90))

		var calls, failures, in, out int
		var cost float64
		for _, st := range stats {
			fmt.Printf("%-16s  %-11s  %6d  %6d  %10d  %10d  %10s  %8d\n",
				truncate(st.Feature, 16), truncate(st.Provider, 11), st.Calls, st.Failures,
				st.InputTokens, st.OutputTokens, formatCost(st.CostUSD), st.AvgLatencyMs)
			calls += st.Calls
			failures += st.Failures
			in += st.InputTokens
			out += st.OutputTokens
			cost += st.CostUSD
		}

		fmt.Println(strings.Repeat("─", 90))
		fmt.Printf("%-16s  %-11s  %6d  %6d  %10d  %10d  %10s\n",
			"TOTAL", "", calls, failures, in, out, formatCost(cost))
		return nil
	},
}

func usageQueryOpts(cmd *cobra.Command) (store.QueryOpts, error) {
	var opts store.QueryOpts
	opts.Feature, _ = cmd.Flags().GetString("feature")
	since, _ := cmd.Flags().GetDuration("since")
	if since < 0 {
		return opts, fmt.Errorf("--since must not be negative")
	}
	if since > 0 {
		opts.From = time.Now().Add(-since)
	}
	return opts, nil
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

func formatCost(usd float64) string {
	if usd < 0.01 {
		return fmt.Sprintf("$%.4f", usd)
	}
	return fmt.Sprintf("$%.2f", usd)
}

func init() {
	for _, c := range []*cobra.Command{usageListCmd, usageStatsCmd} {
		c.Flags().StringP("feature", "f", "", "Filter by feature (e.g. tutor_turn, memory_summary)")
		c.Flags().Duration("since", 0, "Only include calls from this long ago (e.g. 24h)")
	}
	usageListCmd.Flags().IntP("limit", "n", 20, "Number of calls to show")

	usageCmd.AddCommand(usageListCmd)
	usageCmd.AddCommand(usageViewCmd)
	usageCmd.AddCommand(usageStatsCmd)
}
