package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

const num = `(-?\d+(?:\.\d+)?)`

var (
	reTrades        = regexp.MustCompile(`(\d+)\s+trades`)
	reWinsDrawsLoss = regexp.MustCompile(`(\d+)/(\d+)/(\d+)\s+Wins/Draws/Losses`)
	reAvgProfit     = regexp.MustCompile(`Avg profit\s+` + num + `\s*%`)
	reMedianProfit  = regexp.MustCompile(`Median profit\s+` + num + `\s*%`)
	reTotalProfit   = regexp.MustCompile(`Total profit\s+` + num + `\s+([A-Za-z]{2,10})\b`)
	reProfitPercent = regexp.MustCompile(`Total profit\s+-?[\d.]+\s+[A-Za-z]{2,10}\s*\(\s*` + num + `\s*%\s*\)`)
	reAvgDuration   = regexp.MustCompile(`Avg duration\s+(.+?)\s+min`)
	reObjective     = regexp.MustCompile(`Objective:\s+` + num)
	reEpochToken    = regexp.MustCompile(`(\d+)/(\d+):`)
)

// parseResultLine runs every field pattern against the result line. Each one
// is independent; a field that does not match is simply left unset.
func parseResultLine(line string) result.Metrics {
	var m result.Metrics

	if g := reTrades.FindStringSubmatch(line); g != nil {
		if n, err := strconv.Atoi(g[1]); err == nil {
			m.TotalTrades = &n
		}
	}

	if g := reWinsDrawsLoss.FindStringSubmatch(line); g != nil {
		wins, _ := strconv.Atoi(g[1])
		draws, _ := strconv.Atoi(g[2])
		losses, _ := strconv.Atoi(g[3])
		wdl := [3]int{wins, draws, losses}
		m.WinsDrawsLosses = &wdl
		rate := 0.0
		if total := wins + draws + losses; total > 0 {
			rate = float64(wins) / float64(total)
		}
		m.WinRate = &rate
	}

	m.AvgProfit = matchFloat(reAvgProfit, line)
	m.MedianProfit = matchFloat(reMedianProfit, line)

	if g := reTotalProfit.FindStringSubmatch(line); g != nil {
		if f, err := strconv.ParseFloat(g[1], 64); err == nil {
			m.TotalProfit = &f
		}
		cur := g[2]
		m.Currency = &cur
	}
	m.ProfitPercent = matchFloat(reProfitPercent, line)

	if g := reAvgDuration.FindStringSubmatch(line); g != nil {
		d := strings.TrimSpace(g[1])
		m.AvgDuration = &d
	}

	m.Objective = matchFloat(reObjective, line)

	if g := reEpochToken.FindStringSubmatch(line); g != nil {
		epoch := g[1] + "/" + g[2]
		m.Epoch = &epoch
	}
	return m
}

func matchFloat(re *regexp.Regexp, s string) *float64 {
	g := re.FindStringSubmatch(s)
	if g == nil {
		return nil
	}
	f, err := strconv.ParseFloat(g[1], 64)
	if err != nil {
		return nil
	}
	return &f
}
