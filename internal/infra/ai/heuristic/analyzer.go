// Package heuristic is the offline analyzer used when no model API key is configured.
// It scans the document for common financial line items and renders a markdown report.
package heuristic

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/ai"
)

// Metric is one detected line item.
type Metric struct {
	Name  string
	Raw   string
	Value float64
}

type Client struct{}

func New() *Client { return &Client{} }

func (c *Client) Analyze(ctx context.Context, req ai.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if strings.TrimSpace(req.Document) == "" {
		return "", fmt.Errorf("document %s has no readable text", req.FileName)
	}
	return Render(req, Scan(req.Document)), nil
}

const amount = `[-(]?\$?\s?[0-9][0-9,]*(?:\.[0-9]+)?\)?(?:[ \t]?(?:billion|million|thousand|bn|mn|[bmk])\b)?`

var detectors = []struct {
	name string
	re   *regexp.Regexp
}{
	{"Revenue", regexp.MustCompile(`(?i)(?:total\s+)?(?:revenues?|net\s+sales)\s*[:\-]?\s*(` + amount + `)`)},
	{"Gross Profit", regexp.MustCompile(`(?i)gross\s+(?:profit|margin)\s*[:\-]?\s*(` + amount + `)`)},
	{"Operating Income", regexp.MustCompile(`(?i)(?:operating\s+income|income\s+from\s+operations)\s*[:\-]?\s*(` + amount + `)`)},
	{"Net Income", regexp.MustCompile(`(?i)net\s+(?:income|earnings|profit)\s*[:\-]?\s*(` + amount + `)`)},
	{"EPS", regexp.MustCompile(`(?i)(?:diluted\s+)?(?:eps|earnings\s+per\s+share)\s*[:\-]?\s*(` + amount + `)`)},
	{"Total Assets", regexp.MustCompile(`(?i)total\s+assets\s*[:\-]?\s*(` + amount + `)`)},
	{"Total Liabilities", regexp.MustCompile(`(?i)total\s+liabilities\s*[:\-]?\s*(` + amount + `)`)},
	{"Shareholders' Equity", regexp.MustCompile(`(?i)(?:total\s+)?(?:shareholders'?|stockholders'?)\s+equity\s*[:\-]?\s*(` + amount + `)`)},
	{"Cash", regexp.MustCompile(`(?i)cash\s+and\s+cash\s+equivalents\s*[:\-]?\s*(` + amount + `)`)},
	{"Operating Cash Flow", regexp.MustCompile(`(?i)(?:net\s+)?cash\s+(?:provided\s+by|from)\s+operating\s+activities\s*[:\-]?\s*(` + amount + `)`)},
	{"Free Cash Flow", regexp.MustCompile(`(?i)free\s+cash\s+flow\s*[:\-]?\s*(` + amount + `)`)},
	{"Current Assets", regexp.MustCompile(`(?i)total\s+current\s+assets\s*[:\-]?\s*(` + amount + `)`)},
	{"Current Liabilities", regexp.MustCompile(`(?i)total\s+current\s+liabilities\s*[:\-]?\s*(` + amount + `)`)},
	{"Long-term Debt", regexp.MustCompile(`(?i)long[\s-]term\s+debt\s*[:\-]?\s*(` + amount + `)`)},
}

var financialTerms = []string{
	"balance sheet", "income statement", "cash flow", "revenue", "net income", "assets", "liabilities",
	"equity", "fiscal", "quarter", "earnings", "operating", "ebitda", "dividend", "audit",
}

// Scan returns the first match of every detector, in detector order.
func Scan(text string) []Metric {
	var out []Metric
	for _, d := range detectors {
		m := d.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		raw := strings.TrimSpace(m[1])
		v, ok := parseAmount(raw)
		if !ok {
			continue
		}
		out = append(out, Metric{Name: d.name, Raw: raw, Value: v})
	}
	return out
}

var scale = map[string]float64{
	"billion": 1e9, "bn": 1e9, "b": 1e9,
	"million": 1e6, "mn": 1e6, "m": 1e6,
	"thousand": 1e3, "k": 1e3,
}

func parseAmount(raw string) (float64, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	neg := strings.HasPrefix(s, "-") || strings.HasPrefix(s, "(")
	s = strings.Trim(s, "-()$ ")

	mult := 1.0
	for _, unit := range []string{"billion", "million", "thousand", "bn", "mn", "b", "m", "k"} {
		if strings.HasSuffix(s, unit) {
			mult = scale[unit]
			s = strings.TrimSpace(strings.TrimSuffix(s, unit))
			s = strings.TrimSuffix(s, ")")
			break
		}
	}
	s = strings.ReplaceAll(s, ",", "")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return v * mult, true
}

func find(ms []Metric, name string) (float64, bool) {
	for _, m := range ms {
		if m.Name == name {
			return m.Value, true
		}
	}
	return 0, false
}

// Ratio is a derived indicator.
type Ratio struct {
	Name  string
	Value float64
	Note  string
}

// Ratios derives what it can from the detected metrics; divisions by zero are skipped.
func Ratios(ms []Metric) []Ratio {
	var out []Ratio
	add := func(name, num, den string, pct bool, note func(float64) string) {
		n, ok1 := find(ms, num)
		d, ok2 := find(ms, den)
		if !ok1 || !ok2 || d == 0 {
			return
		}
		v := n / d
		if pct {
			v *= 100
		}
		out = append(out, Ratio{Name: name, Value: v, Note: note(v)})
	}

	add("Net margin (%)", "Net Income", "Revenue", true, func(v float64) string {
		switch {
		case v < 0:
			return "loss-making"
		case v < 5:
			return "thin"
		case v < 15:
			return "moderate"
		}
		return "strong"
	})
	add("Gross margin (%)", "Gross Profit", "Revenue", true, func(v float64) string {
		if v < 30 {
			return "low pricing power"
		}
		return "healthy"
	})
	add("Debt to equity", "Total Liabilities", "Shareholders' Equity", false, func(v float64) string {
		switch {
		case v < 0:
			return "negative equity"
		case v > 2:
			return "highly leveraged"
		case v > 1:
			return "leveraged"
		}
		return "conservative"
	})
	add("Current ratio", "Current Assets", "Current Liabilities", false, func(v float64) string {
		if v < 1 {
			return "liquidity pressure"
		}
		return "adequate liquidity"
	})
	add("Return on assets (%)", "Net Income", "Total Assets", true, func(v float64) string {
		if v < 2 {
			return "weak"
		}
		return "reasonable"
	})
	return out
}

// termHits counts distinct financial terms present in text.
func termHits(text string) int {
	lower := strings.ToLower(text)
	n := 0
	for _, t := range financialTerms {
		if strings.Contains(lower, t) {
			n++
		}
	}
	return n
}

// Render formats the findings for the requested analysis.
func Render(req ai.Request, ms []Metric) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## Overview\n\nPrepared as: %s\n\nRequest: %s\n\n", req.Role, req.Prompt)

	b.WriteString("## Key Metrics\n\n")
	if len(ms) == 0 {
		b.WriteString("No standard financial line items could be identified in the document.\n\n")
	} else {
		b.WriteString("| Metric | Reported |\n|---|---|\n")
		for _, m := range ms {
			fmt.Fprintf(&b, "| %s | %s |\n", m.Name, m.Raw)
		}
		b.WriteString("\n")
	}

	ratios := Ratios(ms)
	if len(ratios) > 0 {
		b.WriteString("## Derived Indicators\n\n")
		for _, r := range ratios {
			fmt.Fprintf(&b, "- %s: %.2f (%s)\n", r.Name, r.Value, r.Note)
		}
		b.WriteString("\n")
	}

	hits := termHits(req.Document)
	b.WriteString("## Assessment\n\n")
	switch {
	case len(ms) >= 3 && hits >= 4:
		b.WriteString("The document reads as a structured financial record with enough reported figures for a first-pass review.\n")
	case len(ms) > 0 || hits >= 2:
		b.WriteString("The document contains some financial content but key statements appear incomplete.\n")
	default:
		b.WriteString("The document does not look like a financial record; verify the upload before relying on this report.\n")
	}
	fmt.Fprintf(&b, "\nFinancial terminology matched: %d of %d checked terms.\n", hits, len(financialTerms))

	b.WriteString("\n## Areas of Uncertainty\n\n")
	b.WriteString("- Figures are pattern-matched from text and may miss tables or restated values.\n")
	b.WriteString("- Periods and currencies are not reconciled across statements.\n")
	return b.String()
}
