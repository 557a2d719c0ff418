package ports

import "context"

// Persistence durably stores telemetry produced by the core.
// Both methods either store every event in order or return an error.
type Persistence interface {
	PersistMetrics(ctx context.Context, events []string) error
	PersistDeveloperDump(ctx context.Context, events []string) error
}
