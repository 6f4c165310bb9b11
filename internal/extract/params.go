package extract

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	"github.com/7hr08ik/Freqtrade-HyperLoop/internal/result"
)

type section struct {
	group  string
	header string
}

var sections = []section{
	{result.GroupBuy, "# Buy parameters:"},
	{result.GroupSell, "# Sell parameters:"},
	{result.GroupProtection, "# Protection parameters:"},
	{result.GroupROI, "# ROI parameters:"},
	{result.GroupStoploss, "# Stoploss parameters:"},
	{result.GroupTrailing, "# Trailing stop parameters:"},
	{result.GroupMaxOpenTrades, "# Max open trades parameters:"},
}

var (
	reSectionHeader = regexp.MustCompile(`#\s*[A-Za-z][A-Za-z ]*parameters:`)
	reAssignment    = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*=\s*([^{]+)$`)
	reWhitespace    = regexp.MustCompile(`\s+`)
	reCommaBrace    = regexp.MustCompile(`,(\s*})`)
	reTrailingComma = regexp.MustCompile(`,\s*$`)
	rePyLiteral     = regexp.MustCompile(`:\s*(True|False|None)\b`)
)

var pyLiterals = map[string]string{"True": "true", "False": "false", "None": "null"}

// parseParams collects every parameter group printed after the best result.
// Groups that are absent or empty are left out.
func parseParams(lines []string) map[string]result.ParameterGroup {
	params := make(map[string]result.ParameterGroup)
	for _, s := range sections {
		raw, scalar, ok := collectSection(lines, s)
		if !ok {
			continue
		}
		if scalar != nil {
			params[s.group] = scalar
			continue
		}
		if strings.TrimSpace(raw) == "" {
			continue
		}
		if g := parseBlock(raw, s.group == result.GroupROI); len(g) > 0 {
			params[s.group] = g
		}
	}
	return params
}

// collectSection returns the raw text between the first opening brace after
// the section header and its matching closing brace. Lines carrying a comment
// marker are dropped. Bare "name = value" lines before any brace are gathered
// into a group instead, up to a blank line or the next header.
func collectSection(lines []string, s section) (string, result.ParameterGroup, bool) {
	start := -1
	for i, line := range lines {
		if strings.Contains(line, s.header) {
			start = i
			break
		}
	}
	if start < 0 {
		return "", nil, false
	}
	if s.group == result.GroupROI && strings.Contains(strings.ToLower(lines[start]), "loaded from strategy") {
		return "", nil, false
	}

	var (
		buf     strings.Builder
		scalars result.ParameterGroup
	)
	depth := 0
	for _, line := range lines[start+1:] {
		if depth == 0 {
			if reSectionHeader.MatchString(line) {
				return "", scalars, scalars != nil
			}
			open := strings.Index(line, "{")
			if scalars != nil && open >= 0 {
				return "", scalars, true
			}
			if open < 0 {
				trimmed := strings.TrimSpace(line)
				if trimmed == "" && scalars != nil {
					return "", scalars, true
				}
				if trimmed == "" || strings.Contains(trimmed, "#") {
					continue
				}
				if g := reAssignment.FindStringSubmatch(trimmed); g != nil {
					if scalars == nil {
						scalars = make(result.ParameterGroup)
					}
					scalars[g[1]] = coerce(g[2])
				}
				continue
			}
			depth = 1
			if done := scanBraces(line[open+1:], &depth, &buf); done {
				return buf.String(), nil, true
			}
			buf.WriteByte('\n')
			continue
		}
		if reSectionHeader.MatchString(line) {
			// Unterminated block; parse what was gathered.
			return buf.String(), nil, true
		}
		if strings.Contains(line, "#") {
			continue
		}
		if done := scanBraces(line, &depth, &buf); done {
			return buf.String(), nil, true
		}
		buf.WriteByte('\n')
	}
	if scalars != nil {
		return "", scalars, true
	}
	return buf.String(), nil, depth > 0
}

// scanBraces appends s to buf up to the brace that closes the block and
// reports whether that brace was found.
func scanBraces(s string, depth *int, buf *strings.Builder) bool {
	for i, r := range s {
		switch r {
		case '{':
			*depth++
		case '}':
			*depth--
			if *depth == 0 {
				buf.WriteString(s[:i])
				return true
			}
		}
	}
	buf.WriteString(s)
	return false
}

// parseBlock reads the inside of a brace block. Strict JSON is tried first;
// the line parser is the fallback.
func parseBlock(raw string, roi bool) result.ParameterGroup {
	if g, err := parseStructured(raw, roi); err == nil {
		return g
	}
	return parseLines(raw)
}

func parseStructured(raw string, roi bool) (result.ParameterGroup, error) {
	text := strings.TrimSpace(raw)
	if roi {
		text = balanceBraces(text)
	}
	text = reWhitespace.ReplaceAllString(text, " ")
	text = rePyLiteral.ReplaceAllStringFunc(text, func(m string) string {
		g := rePyLiteral.FindStringSubmatch(m)
		return ": " + pyLiterals[g[1]]
	})
	text = reTrailingComma.ReplaceAllString(text, "")
	text = reCommaBrace.ReplaceAllString("{"+text+"}", "$1")

	dec := json.NewDecoder(bytes.NewReader([]byte(text)))
	dec.UseNumber()
	var decoded map[string]any
	if err := dec.Decode(&decoded); err != nil {
		return nil, err
	}
	g := make(result.ParameterGroup, len(decoded))
	for k, v := range decoded {
		g[k] = result.NormalizeValue(v)
	}
	return g, nil
}

// balanceBraces makes nested braces inside a multi-line ROI block pair up:
// surplus closers are dropped and missing ones appended.
func balanceBraces(text string) string {
	var b strings.Builder
	depth := 0
	for _, r := range text {
		switch r {
		case '{':
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
		}
		b.WriteRune(r)
	}
	for ; depth > 0; depth-- {
		b.WriteByte('}')
	}
	return b.String()
}

// parseLines is the tolerant fallback: one "key: value" pair per line.
func parseLines(raw string) result.ParameterGroup {
	g := make(result.ParameterGroup)
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.Contains(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.Trim(strings.TrimSpace(key), `"'`)
		if key == "" {
			continue
		}
		g[key] = coerce(value)
	}
	return g
}

// coerce strips quoting and converts booleans, then to int when there is no
// decimal point, float otherwise, falling back to the string itself.
func coerce(value string) any {
	v := strings.TrimSpace(value)
	v = strings.TrimSpace(strings.TrimSuffix(v, ","))
	v = strings.Trim(v, `"'`)
	switch v {
	case "true", "True":
		return true
	case "false", "False":
		return false
	}
	if !strings.Contains(v, ".") {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		return v
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}
