// Package prompt renders the chat messages sent to the language model.
package prompt

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/ai"
)

// System gives the model its persona and output rules.
func System(req ai.Request) string {
	return fmt.Sprintf(`You are a %s.

Goal: %s

Rules:
- Answer in GitHub-flavoured markdown with short sections and bullet points.
- Use only figures that appear in the document. Quote them with their period and unit.
- When a value is missing or ambiguous, say so instead of estimating.
- Do not give personalised financial advice; frame recommendations as analysis.`, req.Role, req.Goal)
}

// User wraps the task and the document text. The document is cut to maxChars runes (0 = no limit).
func User(req ai.Request, maxChars int) string {
	doc, cut := Truncate(req.Document, maxChars)

	var b strings.Builder
	b.WriteString("Task: ")
	b.WriteString(req.Prompt)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Document: %s\n", req.FileName)
	if cut {
		fmt.Fprintf(&b, "(document truncated to the first %d characters)\n", maxChars)
	}
	b.WriteString("<document>\n")
	b.WriteString(doc)
	b.WriteString("\n</document>")
	return b.String()
}

// Truncate keeps the first n runes of s.
func Truncate(s string, n int) (string, bool) {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s, false
	}
	return string([]rune(s)[:n]), true
}
