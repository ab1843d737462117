package messaging

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/drblury/procflow/internal/runtime/ids"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	metadatapkg "github.com/drblury/procflow/internal/runtime/metadata"
	"github.com/drblury/procflow/internal/runtime/telemetry"
)

// MiddlewareBuilder constructs a callback middleware for the adapter.
type MiddlewareBuilder func(*Adapter) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware is added to the callback
// router. Builders returning a nil middleware are skipped.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour. Zero
// values fall back to the messaging config, then to defaults.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the middleware chain used unless replaced with
// WithMiddlewares. The first entry is the outermost.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		RetryMiddleware(RetryMiddlewareConfig{}),
		PoisonQueueMiddleware(nil),
		RecovererMiddleware(),
	}
}

// CorrelationIDMiddleware ensures each callback carries a correlation id.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "correlation_id",
		Middleware: func(h message.HandlerFunc) message.HandlerFunc {
			return func(msg *message.Message) ([]*message.Message, error) {
				if _, ok := msg.Metadata[metadatapkg.KeyCorrelationID]; !ok {
					msg.Metadata.Set(metadatapkg.KeyCorrelationID, ids.CreateULID())
				}
				return h(msg)
			}
		},
	}
}

// LogMessagesMiddleware logs the payload and metadata of every callback.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(a *Adapter) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = a.logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) ([]*message.Message, error) {
					l.Debug("Processing task callback", loggingpkg.LogFields{
						"message_uuid": msg.UUID,
						"payload":      string(msg.Payload),
						"metadata":     msg.Metadata,
					})
					return h(msg)
				}
			}, nil
		},
	}
}

// TracerMiddleware wraps callback handling in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(a *Adapter) (message.HandlerMiddleware, error) {
			return func(h message.HandlerFunc) message.HandlerFunc {
				return func(msg *message.Message) (_ []*message.Message, err error) {
					ctx, span := telemetry.Start(msg.Context(), "procflow.callback",
						telemetry.AttrAdapter.String(a.id),
						attribute.String("message.uuid", msg.UUID),
						attribute.String("message.metadata", fmt.Sprintf("%v", msg.Metadata)),
					)
					defer func() { telemetry.End(span, err) }()
					msg.SetContext(ctx)
					return h(msg)
				}
			}, nil
		},
	}
}

// RetryMiddleware retries failed callbacks with exponential backoff.
func RetryMiddleware(cfg RetryMiddlewareConfig) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(a *Adapter) (message.HandlerMiddleware, error) {
			c := cfg
			if c.MaxRetries <= 0 {
				c.MaxRetries = a.conf.RetryMaxRetries
			}
			if c.InitialInterval <= 0 {
				c.InitialInterval = a.conf.RetryInitialInterval
			}
			if c.MaxInterval <= 0 {
				c.MaxInterval = a.conf.RetryMaxInterval
			}
			c = c.withDefaults()

			return middleware.Retry{
				MaxRetries:      c.MaxRetries,
				InitialInterval: c.InitialInterval,
				MaxInterval:     c.MaxInterval,
				Logger:          loggingpkg.NewWatermillAdapter(a.logger),
				ShouldRetry: func(params middleware.RetryParams) bool {
					var unprocessable *UnprocessableCallbackError
					if errors.As(params.Err, &unprocessable) {
						return false
					}
					if c.RetryIf != nil {
						return c.RetryIf(params.Err)
					}
					return true
				},
			}.Middleware, nil
		},
	}
}

// PoisonQueueMiddleware publishes callbacks matching filter to the poison
// topic. The default filter matches UnprocessableCallbackError. It is
// skipped for transports with a native dead letter queue unless a poison
// queue is configured explicitly.
func PoisonQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "poison_queue",
		Builder: func(a *Adapter) (message.HandlerMiddleware, error) {
			if a.conf.PoisonQueue == "" && !a.caps.RequiresDLQEmulation() {
				return nil, nil
			}
			f := filter
			if f == nil {
				f = func(err error) bool {
					var unprocessable *UnprocessableCallbackError
					return errors.As(err, &unprocessable)
				}
			}
			return middleware.PoisonQueueWithFilter(a.publisher, a.PoisonTopic(), f)
		},
	}
}

// RecovererMiddleware converts handler panics into errors.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}
