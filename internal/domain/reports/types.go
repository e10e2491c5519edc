package reports

import (
	"strings"
)

// Type is the closed set of analysis kinds.
type Type string

const (
	TypeComprehensive Type = "comprehensive"
	TypeInvestment    Type = "investment"
	TypeRisk          Type = "risk"
	TypeVerification  Type = "verification"
)

// Spec describes how one analysis type is run.
type Spec struct {
	Type         Type   `json:"type"`
	Role         string `json:"-"`
	Goal         string `json:"-"`
	Task         string `json:"-"`
	DefaultQuery string `json:"default_query"`
	Description  string `json:"description"`
}

// Title is the capitalized type name used in summaries and report headers.
func (t Type) Title() string {
	s := string(t)
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var catalog = []Spec{
	{
		Type: TypeComprehensive,
		Role: "Senior Financial Analyst",
		Goal: "Provide accurate, data-driven insights into company performance. Extract and analyze financial metrics " +
			"and deliver actionable analysis. Flag uncertainty instead of guessing when the data is unclear.",
		Task: "Analyze the financial document in detail and address the user's query: {query}. " +
			"Extract key metrics, then cover quantitative metrics, trends, strengths, weaknesses, risks, opportunities " +
			"and clear recommendations. Finish with the areas of uncertainty.",
		DefaultQuery: "Analyze this financial document for comprehensive insights",
		Description:  "Comprehensive financial document analysis with all metrics and insights",
	},
	{
		Type: TypeInvestment,
		Role: "Investment Advisor",
		Goal: "Recommend suitable investment strategies based on the financial analysis. Highlight opportunities " +
			"without unverified claims.",
		Task: "Conduct an investment analysis of the financial document and address the user's query: {query}. " +
			"Compute investment-relevant ratios, give 5-7 specific recommendations with reasoning, a risk-return " +
			"view and short and long term outlooks.",
		DefaultQuery: "Analyze this financial document for investment opportunities",
		Description:  "Investment-focused analysis with specific recommendations",
	},
	{
		Type: TypeRisk,
		Role: "Financial Risk Assessment Expert",
		Goal: "Evaluate liquidity, credit, market and operational risk with quantitative scores and plain-language " +
			"explanations.",
		Task: "Conduct a risk assessment of the financial document and address the user's query: {query}. " +
			"Score each risk dimension, describe upside and downside scenarios and propose mitigation strategies " +
			"and early warning indicators.",
		DefaultQuery: "Analyze this financial document for risk assessment",
		Description:  "Risk assessment analysis across multiple dimensions",
	},
	{
		Type: TypeVerification,
		Role: "Financial Document Verifier",
		Goal: "Verify whether a document is a valid financial record. Do not assume a file is a financial report " +
			"without checking its structure and terminology.",
		Task: "Verify whether the document is a valid financial record and address the user's query: {query}. " +
			"Examine structure, terminology, data consistency and formatting. Give an evidence-based verdict with a " +
			"confidence level and list missing or inconsistent elements.",
		DefaultQuery: "Verify if this is a valid financial document",
		Description:  "Verify if document is a valid financial record",
	},
}

// Catalog returns every analysis type in a stable order.
func Catalog() []Spec {
	out := make([]Spec, len(catalog))
	copy(out, catalog)
	return out
}

// Lookup returns the spec for t.
func Lookup(t Type) (Spec, bool) {
	for _, s := range catalog {
		if s.Type == t {
			return s, true
		}
	}
	return Spec{}, false
}

// ParseType accepts a type name case-insensitively.
func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	_, ok := Lookup(t)
	return t, ok
}

// Types lists the type names.
func Types() []Type {
	out := make([]Type, 0, len(catalog))
	for _, s := range catalog {
		out = append(out, s.Type)
	}
	return out
}

// Prompt renders the task template for the given query.
func (s Spec) Prompt(query string) string {
	return strings.ReplaceAll(s.Task, "{query}", query)
}
