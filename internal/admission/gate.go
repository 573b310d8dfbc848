// Package admission decides whether OCR output is worth analysing.
package admission

import (
	"strings"
	"unicode/utf8"
)

// Reason explains a rejection.
type Reason string

const (
	ReasonContentTooShort Reason = "content_too_short"
	ReasonNoTables        Reason = "no_tables"
	ReasonTablesTooShort  Reason = "tables_too_short"
)

// Result is the gate's verdict. Reason is empty when Accepted.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   Reason `json:"reason,omitempty"`
}

// Gate holds the admission thresholds, counted in characters.
type Gate struct {
	MinContentLength int
	MinTableLength   int
}

// DefaultGate returns the production thresholds.
func DefaultGate() Gate {
	return Gate{MinContentLength: 1000, MinTableLength: 50}
}

// Check applies the rules in order: enough text, at least one table, and
// enough table text.
func (g Gate) Check(content string) Result {
	if utf8.RuneCountInString(content) < g.MinContentLength {
		return Result{Reason: ReasonContentTooShort}
	}
	tables := ExtractTables(content)
	if len(tables) == 0 {
		return Result{Reason: ReasonNoTables}
	}
	src := strings.TrimSpace(strings.Join(tables, "\n\n"))
	if utf8.RuneCountInString(src) < g.MinTableLength {
		return Result{Reason: ReasonTablesTooShort}
	}
	return Result{Accepted: true}
}
