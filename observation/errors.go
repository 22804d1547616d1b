package observation

import (
	"errors"
	"fmt"

	"github.com/hupe1980/obsmesh/internal/util"
)

var (
	// ErrUnknownKind is returned when a tag is not in the registered set.
	ErrUnknownKind = errors.New("unknown observation kind")
	// ErrInvalidPayload is returned by Classify when the raw result does not
	// match the payload shape registered for the kind.
	ErrInvalidPayload = errors.New("invalid payload")
	// ErrMalformedPayload is returned by Deserialize when the wire form does not
	// satisfy the envelope or the payload shape of its declared tag.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrKindRegistered is returned when registering a tag that is already live.
	ErrKindRegistered = errors.New("observation kind already registered")
	// ErrKindRetired is returned when registering a tag that was retired.
	ErrKindRetired = errors.New("observation kind retired")
	// ErrInvalidPolicy is returned for an unknown-kind policy that is not strict or lenient.
	ErrInvalidPolicy = errors.New("invalid unknown-kind policy")
)

// ValidationError describes the payload field that violates its shape.
type ValidationError = util.ValidationError

// Error carries the operation and tag that failed together with the sentinel
// (Err) and the underlying cause (Detail). errors.Is matches either.
type Error struct {
	Op     string // classify, serialize, deserialize, register
	Kind   Kind
	Err    error
	Detail error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("observation %s", e.Op)
	if e.Kind != "" {
		msg += fmt.Sprintf(" %q", string(e.Kind))
	}
	msg += ": " + e.Err.Error()
	if e.Detail != nil {
		msg += ": " + e.Detail.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the detail to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Detail == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Detail}
}

func newError(op string, kind Kind, sentinel, detail error) *Error {
	return &Error{Op: op, Kind: kind, Err: sentinel, Detail: detail}
}

func fieldError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}
