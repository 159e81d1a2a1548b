// Package validation rejects user input locally, before any remote call is made.
package validation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrRejected is matched by every validation failure
var ErrRejected = errors.New("validation rejected")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Struct validates s using go-playground/validator tags
func Struct(s interface{}) error {
	if err := validate.Struct(s); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			return &Error{Errors: ve}
		}
		return err
	}
	return nil
}

// Reject returns a validation failure with a plain reason
func Reject(reason string) error {
	return fmt.Errorf("%w: %s", ErrRejected, reason)
}

// Error wraps validator.ValidationErrors with readable messages
type Error struct {
	Errors validator.ValidationErrors
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("field '%s' %s", fe.Field(), msgForTag(fe)))
	}
	return strings.Join(msgs, "; ")
}

// Is makes errors.Is(err, ErrRejected) hold
func (e *Error) Is(target error) bool {
	return target == ErrRejected
}

// Fields maps field names to messages
func (e *Error) Fields() map[string]string {
	fields := make(map[string]string, len(e.Errors))
	for _, fe := range e.Errors {
		fields[fe.Field()] = msgForTag(fe)
	}
	return fields
}

func msgForTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", fe.Param())
	default:
		return fmt.Sprintf("failed on '%s' validation", fe.Tag())
	}
}
