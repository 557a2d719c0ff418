package coretest

import (
	"context"
	"fmt"
)

// Input requests the perform input and returns it. An error aborts the core.
func Input(ctx context.Context, inst *Instance) (map[string]any, error) {
	resp, err := inst.Exchange(ctx, map[string]any{"kind": "perform-input"})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTrap, err)
	}
	if resp["kind"] != "ok" {
		return nil, fmt.Errorf("%w: perform-input answered %v", ErrTrap, resp)
	}
	return resp, nil
}

func output(msg map[string]any) CallFunc {
	return func(ctx context.Context, inst *Instance) error {
		if _, err := Input(ctx, inst); err != nil {
			return err
		}
		inst.RecordMetric("perform")
		if _, err := inst.Exchange(ctx, msg); err != nil {
			return fmt.Errorf("%w: %v", ErrTrap, err)
		}
		return nil
	}
}

// Result delivers result after reading the input.
func Result(result any) CallFunc {
	return output(map[string]any{"kind": "perform-output-result", "result": result})
}

// MapError delivers a map error after reading the input.
func MapError(value any) CallFunc {
	return output(map[string]any{"kind": "perform-output-error", "error": value})
}

// Exception delivers an exception after reading the input.
func Exception(code, message string) CallFunc {
	return output(map[string]any{
		"kind":      "perform-output-exception",
		"exception": map[string]any{"error_code": code, "message": message},
	})
}

// Echo delivers the received map_input as the result.
func Echo() CallFunc {
	return func(ctx context.Context, inst *Instance) error {
		in, err := Input(ctx, inst)
		if err != nil {
			return err
		}
		_, err = inst.Exchange(ctx, map[string]any{"kind": "perform-output-result", "result": in["map_input"]})
		return err
	}
}

// Trap reads the input and then traps.
func Trap() CallFunc {
	return func(ctx context.Context, inst *Instance) error {
		if _, err := Input(ctx, inst); err != nil {
			return err
		}
		return ErrTrap
	}
}

// NoOutput reads the input and returns without output.
func NoOutput() CallFunc {
	return func(ctx context.Context, inst *Instance) error {
		_, err := Input(ctx, inst)
		return err
	}
}

// Send exchanges raw documents in order and returns the first bridge error.
func Send(docs ...string) CallFunc {
	return func(ctx context.Context, inst *Instance) error {
		for _, doc := range docs {
			if _, err := inst.ExchangeRaw(ctx, []byte(doc)); err != nil {
				return err
			}
		}
		return nil
	}
}
