// Package contract builds Result-returning operations from a declared input
// contract, a handler and a declared output contract.
package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/xiaot623/flowdispatch/internal/result"
)

// Contract validates a value of type T.
type Contract[T any] interface {
	Validate(v T) error
}

// Func adapts a function to Contract.
type Func[T any] func(v T) error

// Validate calls f.
func (f Func[T]) Validate(v T) error { return f(v) }

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates T with `validate` struct tags. T must be a struct or a
// pointer to one.
func Struct[T any]() Contract[T] {
	return Func[T](func(v T) error {
		return validate.Struct(v)
	})
}

// Any accepts every value.
func Any[T any]() Contract[T] {
	return Func[T](func(T) error { return nil })
}

// All runs each contract in order and stops at the first failure.
func All[T any](contracts ...Contract[T]) Contract[T] {
	return Func[T](func(v T) error {
		for _, c := range contracts {
			if err := c.Validate(v); err != nil {
				return err
			}
		}
		return nil
	})
}

// Handler produces the operation's Result.
type Handler[In, Out any] func(ctx context.Context, in In) result.Result[Out]

// Operation is a contract-wrapped handler.
type Operation[In, Out any] struct {
	Name    string
	Input   Contract[In]
	Output  Contract[Out]
	Handler Handler[In, Out]
}

// Run validates in, calls the handler and validates its success payload.
//
// Missing contracts or handler yield SCHEMA_ERROR, a rejected input yields
// VALIDATION_ERROR, a rejected output yields SCHEMA_ERROR and a panic anywhere
// inside yields INTERNAL_ERROR. Handler failures are returned unchanged.
func (op Operation[In, Out]) Run(ctx context.Context, in In) (res result.Result[Out]) {
	name := op.Name
	if name == "" {
		name = "operation"
	}
	if op.Input == nil || op.Output == nil || op.Handler == nil {
		return result.Failf[Out](result.KindSchema, "%s is missing its input contract, output contract or handler", name)
	}

	defer func() {
		if r := recover(); r != nil {
			res = result.Failf[Out](result.KindInternal, "%s: %v", name, r)
		}
	}()

	if err := op.Input.Validate(in); err != nil {
		return result.Fail[Out](result.KindValidation, describe(err))
	}

	res = op.Handler(ctx, in)
	if !res.Success {
		return res
	}

	if err := op.Output.Validate(res.Data); err != nil {
		return result.Failf[Out](result.KindSchema, "%s produced an invalid result: %s", name, describe(err))
	}
	return res
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s: failed %s=%s", fieldName(fe), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: failed %s", fieldName(fe), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
