// Package extract turns the captured text output of a hyperopt run into a
// structured result. The log format is produced by a tool outside our control,
// so every field is optional and several patterns are tried for the fragile
// ones.
package extract

import (
	"fmt"
	"strings"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

// CompletionMarker announces the best epoch of a finished hyperopt run.
const CompletionMarker = "Best result:"

// DefaultCurrency is assumed when the result line names no stake currency.
const DefaultCurrency = "USDT"

// ExtractionError means the log has no completion marker at all.
type ExtractionError struct {
	Reason string
}

func (e *ExtractionError) Error() string {
	return "extracting results: " + e.Reason
}

func (e *ExtractionError) Kind() string { return "ExtractionError" }

// NoResultError means the marker is present but no usable result line follows.
type NoResultError struct {
	Reason string
}

func (e *NoResultError) Error() string {
	return "no result data: " + e.Reason
}

func (e *NoResultError) Kind() string { return "NoResultError" }

type Extractor struct {
	// Currency is used for the zero-drawdown placeholder when the result line
	// does not name one.
	Currency string
}

// New returns an Extractor; an empty currency falls back to DefaultCurrency.
func New(currency string) *Extractor {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Extractor{Currency: currency}
}

// document is the log split once into lines, shared by all strategies.
type document struct {
	text       string
	lines      []string
	resultLine string
	currency   string
}

// Extract parses logText into a RunResult named run. The same input always
// yields the same result.
func (x *Extractor) Extract(logText, run string) (*result.RunResult, error) {
	lines := strings.Split(strings.ReplaceAll(logText, "\r\n", "\n"), "\n")

	marker := -1
	for i, line := range lines {
		if strings.Contains(line, CompletionMarker) {
			marker = i
			break
		}
	}
	if marker < 0 {
		return nil, &ExtractionError{Reason: "hyperopt finished without a \"Best result:\" section"}
	}

	resultLine := ""
	for _, line := range lines[marker+1:] {
		if strings.TrimSpace(line) != "" {
			resultLine = line
			break
		}
	}
	if resultLine == "" {
		return nil, &NoResultError{Reason: "nothing follows the \"Best result:\" marker"}
	}

	metrics := parseResultLine(resultLine)
	if !recognized(metrics) {
		return nil, &NoResultError{Reason: fmt.Sprintf("unrecognized result line %q", strings.TrimSpace(resultLine))}
	}

	doc := &document{
		text:       logText,
		lines:      lines,
		resultLine: resultLine,
		currency:   x.currency(),
	}
	if metrics.Currency != nil {
		doc.currency = *metrics.Currency
	}
	if dd, ok := maxDrawdown(doc); ok {
		metrics.MaxDrawdown = &dd
	}

	res := &result.RunResult{
		Run:       run,
		Objective: metrics.Objective,
		Drawdown:  metrics.MaxDrawdown,
		Metrics:   metrics,
		Params:    parseParams(lines),
	}
	if metrics.TotalProfit != nil {
		res.Profit = *metrics.TotalProfit
	}
	return res, nil
}

// recognized reports whether the result line carried any metric. The epoch
// token and the currency alone do not count.
func recognized(m result.Metrics) bool {
	m.Epoch, m.Currency = nil, nil
	return !m.Empty()
}

func (x *Extractor) currency() string {
	if x == nil || x.Currency == "" {
		return DefaultCurrency
	}
	return x.Currency
}
