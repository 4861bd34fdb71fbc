package parse

import (
	"fmt"

	"github.com/sells-group/drawsync/internal/model"
)

// ErrorKind classifies a ParseError.
type ErrorKind string

const (
	// MissingField means the payload lacks numbers or stars, or the source
	// has no usable selectors.
	MissingField ErrorKind = "MissingField"
	// UnexpectedCount means HTML extraction did not yield exactly 7 tokens.
	UnexpectedCount ErrorKind = "UnexpectedCount"
	// InvalidDraw means the extracted values failed draw validation.
	InvalidDraw ErrorKind = "InvalidDraw"
	// MalformedPayload means the payload could not be decoded at all.
	MalformedPayload ErrorKind = "MalformedPayload"
	// DateMismatch means the payload describes a different draw date.
	DateMismatch ErrorKind = "DateMismatch"
)

// ParseError is fatal for one source attempt only.
type ParseError struct {
	Kind     ErrorKind
	SourceID string
	Field    string
	Got      int
	Err      error
}

func (e *ParseError) Error() string {
	msg := fmt.Sprintf("parse %s: %s", e.SourceID, e.Kind)
	switch {
	case e.Kind == UnexpectedCount && e.Field != "":
		msg += fmt.Sprintf(": got %s, want numbers=%d stars=%d", e.Field, model.NumberCount, model.StarCount)
	case e.Kind == UnexpectedCount:
		msg += fmt.Sprintf(": got %d numeric tokens, want 7", e.Got)
	case e.Field != "":
		msg += ": " + e.Field
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ParseError) Unwrap() error { return e.Err }
