package report

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/leaderboard"
	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

// Formats accepted by Write.
const (
	FormatTable    = "table"
	FormatMarkdown = "markdown"
	FormatJSON     = "json"
	FormatDetail   = "detail"
)

const na = "N/A"

// Generate reads the leaderboard file at path and renders it.
func Generate(path, format string, w io.Writer) error {
	st, err := leaderboard.ReadState(path)
	if err != nil {
		return err
	}
	return Write(*st, format, w)
}

// Write renders a leaderboard state in the given format.
func Write(st leaderboard.State, format string, w io.Writer) error {
	switch format {
	case FormatMarkdown:
		return writeMarkdown(st.TopResults, w)
	case FormatJSON:
		return writeJSON(st, w)
	case FormatDetail:
		return writeDetail(st.TopResults, w)
	case FormatTable, "":
		return writeTable(st.TopResults, w)
	default:
		return fmt.Errorf("unknown format %q (want table, markdown, json or detail)", format)
	}
}

type row struct {
	run, trades, wdl, avgProfit, profit, duration, objective, drawdown string
}

func rowFor(i int, r result.RunResult) row {
	m := r.Metrics
	out := row{
		run:       runNumber(r.Run, i),
		trades:    na,
		wdl:       na,
		avgProfit: na,
		profit:    na,
		duration:  na,
		objective: na,
		drawdown:  na,
	}
	if m.TotalTrades != nil {
		out.trades = strconv.Itoa(*m.TotalTrades)
	}
	if m.WinsDrawsLosses != nil {
		w := *m.WinsDrawsLosses
		rate := 0.0
		if m.WinRate != nil {
			rate = *m.WinRate
		}
		out.wdl = fmt.Sprintf("%d/%d/%d %5.1f%%", w[0], w[1], w[2], rate*100)
	}
	if m.AvgProfit != nil {
		out.avgProfit = fmt.Sprintf("%.2f%%", *m.AvgProfit)
	}
	if m.TotalProfit != nil {
		cur := "USDT"
		if m.Currency != nil {
			cur = *m.Currency
		}
		out.profit = fmt.Sprintf("%.2f %s", *m.TotalProfit, cur)
		if m.ProfitPercent != nil {
			out.profit += fmt.Sprintf(" (%.2f%%)", *m.ProfitPercent)
		}
	}
	if m.AvgDuration != nil {
		out.duration = *m.AvgDuration
	}
	if r.Objective != nil {
		out.objective = fmt.Sprintf("%.5f", *r.Objective)
	}
	if r.Drawdown != nil && *r.Drawdown != "" {
		out.drawdown = *r.Drawdown
	}
	return out
}

// runNumber pulls the attempt number out of "run_007_..." names.
func runNumber(name string, fallback int) string {
	parts := strings.Split(name, "_")
	if len(parts) > 1 && parts[0] == "run" {
		if n, err := strconv.Atoi(parts[1]); err == nil {
			return strconv.Itoa(n)
		}
	}
	return strconv.Itoa(fallback)
}

func writeTable(results []result.RunResult, w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tRUN\tTRADES\tW/D/L WIN%\tAVG PROFIT\tPROFIT\tAVG DURATION\tOBJECTIVE\tMAX DRAWDOWN")
	fmt.Fprintln(tw, strings.Repeat("-", 110))
	for i, r := range results {
		x := rowFor(i+1, r)
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			i+1, x.run, x.trades, x.wdl, x.avgProfit, x.profit, x.duration, x.objective, x.drawdown)
	}
	return tw.Flush()
}

func writeMarkdown(results []result.RunResult, w io.Writer) error {
	fmt.Fprintln(w, "| # | Run | Trades | W/D/L Win% | Avg Profit | Profit | Avg Duration | Objective | Max Drawdown |")
	fmt.Fprintln(w, "|---|---|---|---|---|---|---|---|---|")
	for i, r := range results {
		x := rowFor(i+1, r)
		fmt.Fprintf(w, "| %d | %s | %s | %s | %s | %s | %s | %s | %s |\n",
			i+1, x.run, x.trades, x.wdl, x.avgProfit, x.profit, x.duration, x.objective, x.drawdown)
	}
	return nil
}

func writeJSON(st leaderboard.State, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(st)
}

// writeDetail prints one block per result with its parameters, then the
// comparison table.
func writeDetail(results []result.RunResult, w io.Writer) error {
	fmt.Fprintf(w, "TOP %d HYPEROPT RESULTS\n", len(results))
	fmt.Fprintln(w, strings.Repeat("=", 60))
	for i, r := range results {
		x := rowFor(i+1, r)
		fmt.Fprintf(w, "#%d %s\n", i+1, r.Run)
		fmt.Fprintf(w, "  Objective   : %s\n", x.objective)
		fmt.Fprintf(w, "  Total Trades: %s\n", x.trades)
		fmt.Fprintf(w, "  Total Profit: %.2f\n", r.Profit)
		fmt.Fprintf(w, "  Avg Profit  : %s\n", x.avgProfit)
		fmt.Fprintln(w, "\n  Parameters:")
		params, err := json.MarshalIndent(r.Params, "  ", "    ")
		if err != nil {
			return fmt.Errorf("rendering parameters of %s: %w", r.Run, err)
		}
		fmt.Fprintf(w, "  %s\n", params)
		fmt.Fprintln(w, strings.Repeat("-", 60))
	}
	fmt.Fprintln(w)
	return writeTable(results, w)
}

// ComputeStats summarizes objectives. Standard deviation is the sample
// deviation and is zero for fewer than two values.
func ComputeStats(objectives []float64) result.Stats {
	s := result.Stats{Count: len(objectives)}
	if len(objectives) == 0 {
		return s
	}
	mean := stat.Mean(objectives, nil)
	sd := 0.0
	if len(objectives) > 1 {
		sd = stat.StdDev(objectives, nil)
	}
	best := floats.Min(objectives)
	s.Mean, s.StdDev, s.Best = &mean, &sd, &best
	return s
}

// WriteSummary prints the end-of-campaign summary.
func WriteSummary(s *result.Summary, w io.Writer) error {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "Campaign %s complete\n", s.CampaignID)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Attempted:\t%d\n", s.Attempted)
	fmt.Fprintf(tw, "Successful:\t%d\n", s.Successful)
	fmt.Fprintf(tw, "Failed:\t%d\n", s.Failed)
	if s.Stats.Count > 0 {
		fmt.Fprintf(tw, "Objective mean:\t%.5f\n", *s.Stats.Mean)
		fmt.Fprintf(tw, "Objective stddev:\t%.5f\n", *s.Stats.StdDev)
		fmt.Fprintf(tw, "Best objective:\t%.5f\n", *s.Stats.Best)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(s.TopResults) == 0 {
		fmt.Fprintln(w, "\nNo results on the leaderboard.")
		return nil
	}
	fmt.Fprintf(w, "\nTop %d results:\n", len(s.TopResults))
	return writeTable(s.TopResults, w)
}
