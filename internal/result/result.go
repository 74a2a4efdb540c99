// Package result implements the success / typed-error convention used by every
// fallible operation in the dispatcher.
//
// A Result is either {success:true, data} or {success:false, kind, error}. Kind is
// a short stable tag; callers branch on Success and Kind, never on message text.
package result

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies an error category.
type Kind string

const (
	KindValidation      Kind = "VALIDATION_ERROR"
	KindSchema          Kind = "SCHEMA_ERROR"
	KindInternal        Kind = "INTERNAL_ERROR"
	KindProfileNotFound Kind = "PROFILE_NOT_FOUND"
	KindTimeout         Kind = "TIMEOUT"
	KindExecution       Kind = "EXECUTION_ERROR"
	KindTaskNotFound    Kind = "TASK_NOT_FOUND"
	KindSessionNotFound Kind = "SESSION_NOT_FOUND"
	KindModuleNotFound  Kind = "MODULE_NOT_FOUND"
	KindConfiguration   Kind = "CONFIGURATION_ERROR"
	KindPolicyDenied    Kind = "POLICY_DENIED"
	KindConflict        Kind = "CONFLICT"
	KindUnknown         Kind = "UNKNOWN_ERROR"
)

// Error is the error form of a failed Result.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Message
}

// Errorf builds an *Error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf reports the Kind carried by err, or KindUnknown.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindUnknown
}

// Result carries either Data or a Kind and message.
type Result[T any] struct {
	Success bool
	Data    T
	Kind    Kind
	Err     string
}

// Ok returns a successful Result.
func Ok[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail returns a failed Result.
func Fail[T any](kind Kind, message string) Result[T] {
	if kind == "" {
		kind = KindUnknown
	}
	return Result[T]{Kind: kind, Err: message}
}

// Failf returns a failed Result with a formatted message.
func Failf[T any](kind Kind, format string, args ...any) Result[T] {
	return Fail[T](kind, fmt.Sprintf(format, args...))
}

// FromError converts err into a failed Result. An *Error keeps its Kind; any
// other error becomes UNKNOWN_ERROR.
func FromError[T any](err error) Result[T] {
	if err == nil {
		return Fail[T](KindUnknown, "nil error")
	}
	var re *Error
	if errors.As(err, &re) {
		return Fail[T](re.Kind, re.Message)
	}
	return Fail[T](KindUnknown, err.Error())
}

// Forward re-types a failed Result. Forwarding a success is a programming error
// and yields INTERNAL_ERROR.
func Forward[T, U any](r Result[U]) Result[T] {
	if r.Success {
		return Fail[T](KindInternal, "cannot forward a successful result")
	}
	return Fail[T](r.Kind, r.Err)
}

// AsError returns the failure as *Error, or nil on success.
func (r Result[T]) AsError() *Error {
	if r.Success {
		return nil
	}
	return &Error{Kind: r.Kind, Message: r.Err}
}

// Unwrap returns (Data, nil) on success and (zero, *Error) on failure.
func (r Result[T]) Unwrap() (T, error) {
	if r.Success {
		return r.Data, nil
	}
	var zero T
	return zero, r.AsError()
}

type wire struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Kind    Kind            `json:"kind,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// MarshalJSON renders {success,data} or {success,kind,error}.
func (r Result[T]) MarshalJSON() ([]byte, error) {
	if !r.Success {
		return json.Marshal(wire{Kind: r.Kind, Error: r.Err})
	}
	data, err := json.Marshal(r.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wire{Success: true, Data: data})
}

// UnmarshalJSON parses the wire form produced by MarshalJSON.
func (r *Result[T]) UnmarshalJSON(b []byte) error {
	var w wire
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*r = Result[T]{Success: w.Success, Kind: w.Kind, Err: w.Error}
	if w.Success && len(w.Data) > 0 {
		return json.Unmarshal(w.Data, &r.Data)
	}
	return nil
}
