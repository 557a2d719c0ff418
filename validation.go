package oneclient

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is a package-level singleton; building a validator is expensive.
var validate = validator.New()

// DecodeResult converts a perform result into T and validates it using the
// `validate` struct tags of T. Byte values in the result decode into
// wireformat.Buffer fields.
func DecodeResult[T any](result any) (T, error) {
	var target T

	data, err := json.Marshal(result)
	if err != nil {
		return target, fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(data, &target); err != nil {
		return target, fmt.Errorf("failed to unmarshal result into %T: %w", target, err)
	}
	if err := validateValue(target); err != nil {
		return target, fmt.Errorf("result validation failed: %w", err)
	}
	return target, nil
}

// ValidateInput checks a typed use case input before it is sent to the core.
// Non-struct inputs are accepted as they are.
func ValidateInput(input any) error {
	if err := validateValue(input); err != nil {
		return fmt.Errorf("input validation failed: %w", err)
	}
	return nil
}

func validateValue(v any) error {
	err := validate.Struct(v)
	if _, ok := err.(*validator.InvalidValidationError); ok {
		return nil
	}
	return err
}
