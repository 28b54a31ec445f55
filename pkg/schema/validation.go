package schema

import "strings"

// ValidationSeverity ranks an issue. Only errors make a flow unplayable.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue locates one problem in a flow document. Path uses the
// document's field names, e.g. "steps[2].durationMs".
type ValidationIssue struct {
	Path     string             `json:"path"`
	Code     string             `json:"code"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

// String renders the issue as "path: message", or just the message when the
// issue applies to the whole document.
func (i ValidationIssue) String() string {
	if i.Path == "" || i.Path == "/" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues found by the structural and semantic
// passes over one flow document.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether no errors were recorded. Warnings do not count.
func (r *ValidationResult) Valid() bool {
	return r == nil || len(r.Errors) == 0
}

func (r *ValidationResult) AddError(path, code, message string) {
	r.Errors = append(r.Errors, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityError})
}

func (r *ValidationResult) AddWarning(path, code, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{Path: path, Code: code, Message: message, Severity: SeverityWarning})
}

// Messages returns the error messages in the order they were found.
func (r *ValidationResult) Messages() []string {
	msgs := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		msgs[i] = issue.Message
	}
	return msgs
}

// Merge appends other's issues after r's.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other != nil {
		r.Errors = append(r.Errors, other.Errors...)
		r.Warnings = append(r.Warnings, other.Warnings...)
	}
}

// ToError folds every error into one VALIDATION_ERROR whose message joins the
// error messages with "; ". It returns nil when the result is valid.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}
	return NewError(ErrCodeValidation, strings.Join(r.Messages(), "; ")).WithDetails(map[string]any{
		"error_count":   len(r.Errors),
		"warning_count": len(r.Warnings),
		"errors":        r.Errors,
		"warnings":      r.Warnings,
	})
}
