package host

import (
	"github.com/oneclient-dev/oneclient-host/domain/ports"
	"github.com/oneclient-dev/oneclient-host/infrastructure/textcoder"
	"github.com/oneclient-dev/oneclient-host/infrastructure/timers"
	"go.uber.org/zap"
)

// Capabilities are the services the runtime exposes to the core.
// Network and FileSystem may be nil: the core then receives an err response for
// messages that need them. Timers and TextCoder default to the built-in adapters.
// Without Persistence, metrics and developer dumps are only logged.
type Capabilities struct {
	Network     ports.Network
	FileSystem  ports.FileSystem
	Timers      ports.Timers
	TextCoder   ports.TextCoder
	Persistence ports.Persistence
}

func (c Capabilities) withDefaults(logger *zap.Logger) Capabilities {
	if c.Timers == nil {
		c.Timers = timers.New(timers.WithLogger(logger))
	}
	if c.TextCoder == nil {
		c.TextCoder = textcoder.New()
	}
	return c
}
