package common

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// FieldError is a single rule violation.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	return e.Field + " " + e.Message
}

// Rule checks one string value.
type Rule func(value string) (string, bool)

// Validator collects field errors across several checks.
type Validator struct {
	errs []FieldError
}

func NewValidator() *Validator {
	return &Validator{}
}

// Field applies rules to value, recording the first failure for the field.
func (v *Validator) Field(name, value string, rules ...Rule) *Validator {
	for _, rule := range rules {
		if msg, ok := rule(value); !ok {
			v.errs = append(v.errs, FieldError{Field: name, Message: msg})
			return v
		}
	}
	return v
}

func (v *Validator) HasErrors() bool { return len(v.errs) > 0 }

func (v *Validator) Errors() []FieldError { return v.errs }

// ErrorMessage joins all failures with "; ".
func (v *Validator) ErrorMessage() string {
	parts := make([]string, len(v.errs))
	for i, e := range v.errs {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Err returns nil when valid, otherwise sentinel wrapped with the collected messages.
func (v *Validator) Err(sentinel error) error {
	if !v.HasErrors() {
		return nil
	}
	return fmt.Errorf("%w: %s", sentinel, v.ErrorMessage())
}

func Required(value string) (string, bool) {
	return "is required", strings.TrimSpace(value) != ""
}

// MaxLen limits the value to n runes.
func MaxLen(n int) Rule {
	return func(value string) (string, bool) {
		return fmt.Sprintf("must be at most %d characters", n), utf8.RuneCountInString(value) <= n
	}
}

var schemaKeyRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_.-]{0,63}$`)

// SchemaKey accepts lowercase registry keys such as "receipt" or "invoice.v2".
func SchemaKey(value string) (string, bool) {
	return "must be a lowercase schema key", schemaKeyRegex.MatchString(value)
}
