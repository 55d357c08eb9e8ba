package manifest

import (
	"fmt"
)

// FailureKind classifies why a single manifest could not become a release
type FailureKind int

const (
	FailureTransport FailureKind = iota + 1
	FailureDecode
	FailureMissingField
	FailureUnexpected
)

// String returns the kind name used in logs and reports
func (k FailureKind) String() string {
	switch k {
	case FailureTransport:
		return "transport"
	case FailureDecode:
		return "decode"
	case FailureMissingField:
		return "missing-field"
	case FailureUnexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("FailureKind(%d)", int(k))
	}
}

// ParseError is a per-document failure. It never aborts a batch.
type ParseError struct {
	Kind     FailureKind
	Manifest string
	Field    string
	Err      error
}

func (e *ParseError) Error() string {
	switch {
	case e.Field != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s failure at %s: %v", e.Manifest, e.Kind, e.Field, e.Err)
	case e.Field != "":
		return fmt.Sprintf("%s: %s failure: %s", e.Manifest, e.Kind, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("%s: %s failure: %v", e.Manifest, e.Kind, e.Err)
	default:
		return fmt.Sprintf("%s: %s failure", e.Manifest, e.Kind)
	}
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func missingField(manifest, field string) *ParseError {
	return &ParseError{Kind: FailureMissingField, Manifest: manifest, Field: field}
}

func unexpected(manifest, field string, err error) *ParseError {
	return &ParseError{Kind: FailureUnexpected, Manifest: manifest, Field: field, Err: err}
}
