// Package schema generates JSON schemas for configuration files and protocol messages.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/invopop/jsonschema"
)

// ErrUnnamedType is returned for values whose type has no name, such as anonymous structs.
// The reflector derives schema identifiers from type names.
var ErrUnnamedType = errors.New("schema requires a named type")

// GenerateSchema creates an indented JSON schema (Draft 2020-12) for the type of v.
// Nested structs are expanded inline.
func GenerateSchema(v any) ([]byte, error) {
	if err := checkNamed(v); err != nil {
		return nil, err
	}
	reflector := jsonschema.Reflector{
		ExpandedStruct: true,
	}
	data, err := json.MarshalIndent(reflector.Reflect(v), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

// GenerateCompactSchema creates a JSON schema for the type of v without indentation.
// Unlike GenerateSchema, additional properties are allowed and nothing is referenced.
func GenerateCompactSchema(v any) ([]byte, error) {
	if err := checkNamed(v); err != nil {
		return nil, err
	}
	reflector := jsonschema.Reflector{
		ExpandedStruct:            true,
		AllowAdditionalProperties: true,
		DoNotReference:            true,
	}
	data, err := json.Marshal(reflector.Reflect(v))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal schema: %w", err)
	}
	return data, nil
}

func checkNamed(v any) error {
	t := reflect.TypeOf(v)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Name() == "" {
		return fmt.Errorf("%w: %T", ErrUnnamedType, v)
	}
	return nil
}
