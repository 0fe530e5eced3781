package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrUnknownType            = errors.New("unknown artifact type")
	ErrDuplicateType          = errors.New("duplicate artifact type")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrIncompleteArtifact     = errors.New("incomplete artifact")
	ErrQuotaExceeded          = errors.New("quota exceeded")
	ErrSlotOccupied           = errors.New("blob slot occupied")
	ErrChecksumMismatch       = errors.New("checksum mismatch")
	ErrConflict               = errors.New("conflict")
	ErrCircularDependency     = errors.New("circular dependency")
	ErrStorageUnavailable     = errors.New("storage backend unavailable")
)

// Violation rule identifiers carried inside ValidationError.
const (
	RuleUnexpectedField = "UNEXPECTED_FIELD"
	RuleRequiredField   = "REQUIRED_FIELD"
	RuleWrongKind       = "WRONG_KIND"
	RuleImmutableField  = "IMMUTABLE_FIELD"
	RuleBadValue        = "BAD_VALUE"
)

type Violation struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

// ValidationError aggregates every field-level violation found in one
// validation pass so the caller can report all of them at once.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, fmt.Sprintf("%s: %s", v.Field, v.Message))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Add(field, rule, message string) {
	e.Violations = append(e.Violations, Violation{Field: field, Rule: rule, Message: message})
}

// HasRule reports whether any violation carries the given rule identifier.
func (e *ValidationError) HasRule(rule string) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}
