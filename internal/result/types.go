package result

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Parameter group names, in the order hyperopt prints them.
const (
	GroupBuy           = "buy"
	GroupSell          = "sell"
	GroupProtection    = "protection"
	GroupROI           = "roi"
	GroupStoploss      = "stoploss"
	GroupTrailing      = "trailing"
	GroupMaxOpenTrades = "max_open_trades"
)

// RunAttempt identifies one launch of the optimizer.
type RunAttempt struct {
	RunID     int       `json:"run_id"`
	Dir       string    `json:"directory"`
	StartedAt time.Time `json:"started_at"`
}

// Name is the run identifier stored in results: the run directory's base name.
func (a RunAttempt) Name() string {
	return filepath.Base(a.Dir)
}

type Metrics struct {
	TotalTrades     *int     `json:"total_trades,omitempty"`
	WinsDrawsLosses *[3]int  `json:"wins_draws_losses,omitempty"`
	WinRate         *float64 `json:"win_rate,omitempty"`
	AvgProfit       *float64 `json:"avg_profit,omitempty"`
	MedianProfit    *float64 `json:"median_profit,omitempty"`
	TotalProfit     *float64 `json:"total_profit,omitempty"`
	ProfitPercent   *float64 `json:"profit_percent,omitempty"`
	AvgDuration     *string  `json:"avg_duration,omitempty"`
	Objective       *float64 `json:"objective,omitempty"`
	MaxDrawdown     *string  `json:"max_drawdown,omitempty"`
	Currency        *string  `json:"currency,omitempty"`
	Epoch           *string  `json:"epoch,omitempty"`
}

// Empty reports whether no metric was recovered.
func (m Metrics) Empty() bool {
	return m == Metrics{}
}

// ParameterGroup maps parameter names to scalar values (int64, float64, bool
// or string).
type ParameterGroup map[string]any

// MarshalJSON keeps floats distinguishable from integers so a reload yields
// the same Go types.
func (g ParameterGroup) MarshalJSON() ([]byte, error) {
	if g == nil {
		return []byte("null"), nil
	}
	keys := make([]string, 0, len(g))
	for k := range g {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		switch v := g[k].(type) {
		case float64:
			buf.WriteString(formatFloat(v))
		case float32:
			buf.WriteString(formatFloat(float64(v)))
		default:
			vb, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("marshaling parameter %s: %w", k, err)
			}
			buf.Write(vb)
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (g *ParameterGroup) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	if raw == nil {
		*g = nil
		return nil
	}
	out := make(ParameterGroup, len(raw))
	for k, v := range raw {
		out[k] = NormalizeValue(v)
	}
	*g = out
	return nil
}

// NormalizeValue converts decoded JSON numbers into int64 when the literal has
// no fraction or exponent and float64 otherwise. Nested objects and arrays are
// normalized recursively.
func NormalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			if n, err := strconv.ParseInt(s, 10, 64); err == nil {
				return n
			}
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
		return s
	case int:
		return int64(t)
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, vv := range t {
			out[k] = NormalizeValue(vv)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, vv := range t {
			out[i] = NormalizeValue(vv)
		}
		return out
	default:
		return v
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return "null"
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

// RunResult is the structured outcome of one successful run.
type RunResult struct {
	Run       string                    `json:"run"`
	Profit    float64                   `json:"profit"`
	Objective *float64                  `json:"objective"`
	Drawdown  *string                   `json:"drawdown"`
	Metrics   Metrics                   `json:"metrics"`
	Params    map[string]ParameterGroup `json:"params"`
}

// RankKey is the value results are ordered by; a missing objective ranks last.
func (r *RunResult) RankKey() float64 {
	if r.Objective == nil {
		return math.Inf(1)
	}
	return *r.Objective
}

// FailureRecord describes a run that did not yield a usable result.
type FailureRecord struct {
	RunID     int       `json:"run_id"`
	Timestamp time.Time `json:"timestamp"`
	Error     string    `json:"error"`
	ErrorType string    `json:"error_type"`
}

// Stats summarizes the objectives of a campaign's successful runs.
type Stats struct {
	Count  int      `json:"count"`
	Mean   *float64 `json:"mean"`
	StdDev *float64 `json:"stddev"`
	Best   *float64 `json:"best"`
}

// Summary is the outcome of one campaign.
type Summary struct {
	CampaignID string      `json:"campaign_id"`
	Attempted  int         `json:"attempted"`
	Successful int         `json:"successful"`
	Failed     int         `json:"failed"`
	TopResults []RunResult `json:"top_results"`
	Stats      Stats       `json:"stats"`
}
