package extract

import (
	"regexp"
	"strings"
)

// tableGlyph separates the columns of the epoch table.
const tableGlyph = "│"

// drawdownColumn is the index of the max drawdown cell after splitting an epoch
// table row on tableGlyph (index 0 is the empty text before the first bar).
const drawdownColumn = 9

type drawdownStrategy func(doc *document) (string, bool)

// drawdownStrategies are tried in order; the first hit wins.
var drawdownStrategies = []drawdownStrategy{
	drawdownFromEpochTable,
	drawdownFromSummary,
	drawdownLoose,
}

var (
	reDrawdownSummary = regexp.MustCompile(`Max drawdown\s*:\s*(-?[\d.]+)\s+([A-Za-z]{2,10})\s*\(\s*(-?[\d.]+)%\s*\)`)
	reDrawdownLoose   = regexp.MustCompile(`Max drawdown\s*[:\s]+(-?[\d.]+)`)
)

func maxDrawdown(doc *document) (string, bool) {
	for _, s := range drawdownStrategies {
		if v, ok := s(doc); ok {
			return v, true
		}
	}
	return "", false
}

// drawdownFromEpochTable finds the table row of the best epoch and reads its
// drawdown cell.
func drawdownFromEpochTable(doc *document) (string, bool) {
	g := reEpochToken.FindStringSubmatch(doc.resultLine)
	if g == nil {
		return "", false
	}
	row := regexp.MustCompile(`(^|[^\d])` + regexp.QuoteMeta(g[1]+"/"+g[2]) + `([^\d]|$)`)
	for _, line := range doc.lines {
		if !strings.Contains(line, tableGlyph) || !row.MatchString(line) {
			continue
		}
		cols := strings.Split(line, tableGlyph)
		if len(cols) <= drawdownColumn {
			return "", false
		}
		cell := strings.Join(strings.Fields(cols[drawdownColumn]), " ")
		switch cell {
		case "":
			return "", false
		case "--":
			return zeroDrawdown(doc.currency), true
		default:
			return cell, true
		}
	}
	return "", false
}

// drawdownFromSummary matches "Max drawdown: 12.3 USDT (1.2%)" anywhere.
func drawdownFromSummary(doc *document) (string, bool) {
	g := reDrawdownSummary.FindStringSubmatch(doc.text)
	if g == nil {
		return "", false
	}
	return g[1] + " " + g[2] + " (" + g[3] + "%)", true
}

// drawdownLoose takes the first number after "Max drawdown".
func drawdownLoose(doc *document) (string, bool) {
	g := reDrawdownLoose.FindStringSubmatch(doc.text)
	if g == nil {
		return "", false
	}
	return g[1], true
}

func zeroDrawdown(currency string) string {
	return "0.000 " + currency + " (0.00%)"
}
