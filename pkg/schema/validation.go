package schema

import (
	"fmt"
	"strings"
)

// maxReportedIssues caps how many issues ToError spells out in its message.
const maxReportedIssues = 3

// ValidationIssue is one problem found in a step definition. Path
// addresses the offending field, e.g. "steps[2].if".
type ValidationIssue struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

func (i ValidationIssue) String() string {
	return i.Path + ": " + i.Message
}

// ValidationResult collects the definition errors of a step list.
type ValidationResult struct {
	Errors []ValidationIssue `json:"errors,omitempty"`
}

// Valid reports whether no issue was recorded.
func (r *ValidationResult) Valid() bool {
	return len(r.Errors) == 0
}

// AddError records an issue at path.
func (r *ValidationResult) AddError(path, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Message: message})
}

// ToError returns nil when valid, otherwise a VALIDATION_ERROR naming the
// first few issues and carrying all of them in its details.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	shown := r.Errors[:min(len(r.Errors), maxReportedIssues)]
	parts := make([]string, len(shown))
	for i, issue := range shown {
		parts[i] = issue.String()
	}
	msg := strings.Join(parts, "; ")
	if extra := len(r.Errors) - len(shown); extra > 0 {
		msg += fmt.Sprintf(" (and %d more)", extra)
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{"issues": r.Errors})
}
