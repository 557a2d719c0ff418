package hostfuncs

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Middleware is a function that wraps a ByteHandler to add cross-cutting behavior.
// Middleware executes in FIFO order (first registered wraps first, onion model).
type Middleware func(next ByteHandler) ByteHandler

// RegistryOption is a functional option for configuring a HandlerRegistry.
type RegistryOption func(*registryBuilder)

// PanicRecoveryMiddleware returns a middleware that catches handler panics and answers
// the core with an err response, so a faulty capability never aborts the core.
func PanicRecoveryMiddleware() Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) (resp []byte, err error) {
			defer func() {
				if r := recover(); r != nil {
					resp, err = toJSON(NewPanicError(r))
				}
			}()
			return next(ctx, payload)
		}
	}
}

// LoggingMiddleware returns a middleware that logs each handled message at debug level
// and handler failures at warn level.
func LoggingMiddleware(logger *zap.Logger) Middleware {
	return func(next ByteHandler) ByteHandler {
		return func(ctx context.Context, payload []byte) ([]byte, error) {
			kind := "unknown"
			start := time.Now()
			if hc, ok := ctx.(HostContext); ok {
				kind = string(hc.MessageKind())
				start = hc.Received()
			}

			resp, err := next(ctx, payload)
			if err != nil {
				logger.Warn("message handler failed",
					zap.String("kind", kind),
					zap.Duration("elapsed", time.Since(start)),
					zap.Error(err))
				return resp, err
			}
			logger.Debug("message handled",
				zap.String("kind", kind),
				zap.Int("request_bytes", len(payload)),
				zap.Int("response_bytes", len(resp)),
				zap.Duration("elapsed", time.Since(start)))
			return resp, nil
		}
	}
}
