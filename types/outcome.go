package types

import (
	"encoding/json"
	"fmt"
)

// OutcomeKind tags how a value crossing a JSON boundary was obtained.
type OutcomeKind int

const (
	// OutcomeOk means the payload decoded cleanly.
	OutcomeOk OutcomeKind = iota
	// OutcomeMalformedInput means the payload was present but could not be decoded.
	OutcomeMalformedInput
	// OutcomeDependencyError means the producer of the payload failed.
	OutcomeDependencyError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOk:
		return "ok"
	case OutcomeMalformedInput:
		return "malformed_input"
	case OutcomeDependencyError:
		return "dependency_error"
	default:
		return fmt.Sprintf("outcome(%d)", int(k))
	}
}

// Outcome is a discriminated result at the edge where external JSON is parsed.
// Callers switch on Kind and never inspect raw strings.
type Outcome[T any] struct {
	Kind  OutcomeKind
	Value T
	Err   error
}

// Ok wraps a decoded value.
func Ok[T any](v T) Outcome[T] {
	return Outcome[T]{Kind: OutcomeOk, Value: v}
}

// Malformed records a decode failure.
func Malformed[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: OutcomeMalformedInput, Err: err}
}

// DependencyFailed records a failure of the producing dependency.
func DependencyFailed[T any](err error) Outcome[T] {
	return Outcome[T]{Kind: OutcomeDependencyError, Err: err}
}

// IsOk reports whether the outcome carries a usable value.
func (o Outcome[T]) IsOk() bool { return o.Kind == OutcomeOk }

// OrElse returns the value when ok and fallback otherwise.
func (o Outcome[T]) OrElse(fallback T) T {
	if o.Kind == OutcomeOk {
		return o.Value
	}
	return fallback
}

// DecodeJSON decodes raw into T. Empty input decodes as the zero value.
func DecodeJSON[T any](raw []byte) Outcome[T] {
	var v T
	if len(raw) == 0 {
		return Ok(v)
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return Malformed[T](err)
	}
	return Ok(v)
}

// DecodeArguments parses a tool-call argument payload into an object.
// Anything that is not a JSON object is reported as malformed.
func DecodeArguments(raw json.RawMessage) Outcome[map[string]any] {
	o := DecodeJSON[map[string]any](raw)
	if o.IsOk() && o.Value == nil {
		o.Value = map[string]any{}
	}
	return o
}
