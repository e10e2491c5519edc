package middleware

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Input validation and sanitization utilities

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateID accepts uuid and ObjectID style identifiers.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("id cannot be empty")
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid id format")
	}
	return nil
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}

// QueryInt reads an integer query parameter. Missing means def; garbage is an error.
func QueryInt(q url.Values, key string, def int) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// ValidateLimit validates pagination limit
func ValidateLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// ValidatePage clamps the 1-based page number.
func ValidatePage(page int) int {
	if page < 1 {
		return 1
	}
	return page
}
