// Package messaging provides an adapter for process engines running outside
// the service. Workflow operations are published as commands on a watermill
// command bus, and the engine reports created and cancelled tasks back on a
// callback topic.
//
// Topics are derived from the configured topic prefix:
//
//	<prefix>.commands  commands published by the adapter
//	<prefix>.tasks     task callbacks consumed by the adapter
//	<prefix>.poison    callbacks that cannot be processed, unless configured otherwise
package messaging

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/drblury/procflow/adapter"
	"github.com/drblury/procflow/internal/runtime/config"
	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/transport"
)

// ID is the adapter id used unless overridden with WithID.
const ID = "messaging"

// DefaultTopicPrefix is used when the messaging config has no topic prefix.
const DefaultTopicPrefix = "procflow"

// Capabilities of the messaging adapter.
var Capabilities = adapter.Capabilities{
	Name:                  "Messaging",
	RemoteEngine:          true,
	SupportsCorrelationID: true,
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithID registers the adapter under id instead of ID.
func WithID(id string) Option {
	return func(a *Adapter) { a.id = id }
}

// WithLogger sets the logger of the adapter and its router.
func WithLogger(logger loggingpkg.ServiceLogger) Option {
	return func(a *Adapter) { a.logger = logger }
}

// WithTransport uses a prebuilt publisher and subscriber instead of building
// one from the config.
func WithTransport(t transport.Transport) Option {
	return func(a *Adapter) { a.transport = &t }
}

// WithTransportRegistry builds the transport from reg instead of
// transport.DefaultRegistry.
func WithTransportRegistry(reg *transport.Registry) Option {
	return func(a *Adapter) { a.transports = reg }
}

// WithMetrics records watermill router and publisher metrics on registerer.
func WithMetrics(registerer prometheus.Registerer) Option {
	return func(a *Adapter) { a.registerer = registerer }
}

// WithMiddlewares replaces the default callback middleware chain.
func WithMiddlewares(mws ...MiddlewareRegistration) Option {
	return func(a *Adapter) { a.middlewares = mws }
}

type openTask struct {
	aggregateID string
	processID   string
	userTask    bool
}

// Adapter publishes workflow commands and dispatches task callbacks.
type Adapter struct {
	id          string
	conf        config.MessagingConfig
	logger      loggingpkg.ServiceLogger
	transports  *transport.Registry
	transport   *transport.Transport
	caps        transport.Capabilities
	registerer  prometheus.Registerer
	middlewares []MiddlewareRegistration

	publisher message.Publisher
	router    *message.Router

	mu       sync.RWMutex
	models   map[string]adapter.ProcessModel
	handlers map[string]taskNode
	open     map[string]openTask
}

type taskNode struct {
	handler  adapter.TaskHandler
	userTask bool
}

var _ adapter.Adapter = (*Adapter)(nil)

// New creates the adapter, builds its transport and prepares the callback
// router. The router starts consuming on Run.
func New(ctx context.Context, conf config.MessagingConfig, opts ...Option) (*Adapter, error) {
	a := &Adapter{
		id:          ID,
		conf:        conf,
		logger:      loggingpkg.NopLogger{},
		transports:  transport.DefaultRegistry,
		middlewares: DefaultMiddlewares(),
		models:      make(map[string]adapter.ProcessModel),
		handlers:    make(map[string]taskNode),
		open:        make(map[string]openTask),
	}
	for _, opt := range opts {
		opt(a)
	}

	wmLogger := loggingpkg.NewWatermillAdapter(a.logger)

	name := conf.PubSubSystem
	if name == "" {
		name = transport.DefaultTransport
	}
	if a.transport == nil {
		t, err := a.transports.Build(ctx, &a.conf, wmLogger)
		if err != nil {
			return nil, fmt.Errorf("messaging: build %s transport: %w", name, err)
		}
		a.transport = &t
	}
	if a.transport.Publisher == nil || a.transport.Subscriber == nil {
		return nil, multierr.Combine(fmt.Errorf("messaging: %s transport: %w", name, errspkg.ErrPublisherRequired), a.transport.Close())
	}
	a.caps = a.transports.GetCapabilities(name)
	a.publisher = a.transport.Publisher
	a.logger.Info("Built command bus transport", loggingpkg.LogFields{
		"transport":         a.caps.Name,
		"reliable_delivery": a.caps.SupportsReliableDelivery(),
		"ordered":           a.caps.SupportsOrdering,
		"native_dlq":        a.caps.SupportsNativeDLQ,
	})

	router, err := message.NewRouter(message.RouterConfig{}, wmLogger)
	if err != nil {
		return nil, multierr.Combine(err, a.transport.Close())
	}
	a.router = router

	if a.registerer != nil {
		builder := metrics.NewPrometheusMetricsBuilder(a.registerer, "procflow", "messaging")
		builder.AddPrometheusRouterMetrics(router)
		pub, err := builder.DecoratePublisher(a.publisher)
		if err != nil {
			return nil, multierr.Combine(err, a.transport.Close())
		}
		a.publisher = pub
	}

	for _, mw := range a.middlewares {
		if err := a.registerMiddleware(mw); err != nil {
			return nil, multierr.Combine(fmt.Errorf("messaging: middleware %s: %w", mw.Name, err), a.transport.Close())
		}
	}

	router.AddNoPublisherHandler(
		"procflow_task_callbacks",
		a.TasksTopic(),
		a.transport.Subscriber,
		a.handleCallback,
	)

	a.logger.Info("Messaging adapter created", loggingpkg.LogFields{
		"workflow_adapter_id": a.id,
		"transport":           name,
		"commands_topic":      a.CommandsTopic(),
		"tasks_topic":         a.TasksTopic(),
	})
	return a, nil
}

// Register creates an adapter and adds it to reg.
func Register(ctx context.Context, reg *adapter.Registry, conf config.MessagingConfig, opts ...Option) (*Adapter, error) {
	a, err := New(ctx, conf, opts...)
	if err != nil {
		return nil, err
	}
	reg.Register(a, Capabilities)
	return a, nil
}

// ID returns the adapter id.
func (a *Adapter) ID() string { return a.id }

// TransportCapabilities returns the capabilities of the command bus transport.
func (a *Adapter) TransportCapabilities() transport.Capabilities { return a.caps }

// CommandsTopic is the topic commands are published to.
func (a *Adapter) CommandsTopic() string { return a.topicPrefix() + ".commands" }

// TasksTopic is the topic task callbacks are consumed from.
func (a *Adapter) TasksTopic() string { return a.topicPrefix() + ".tasks" }

// PoisonTopic receives callbacks that cannot be processed.
func (a *Adapter) PoisonTopic() string {
	if a.conf.PoisonQueue != "" {
		return a.conf.PoisonQueue
	}
	return a.topicPrefix() + ".poison"
}

func (a *Adapter) topicPrefix() string {
	if a.conf.TopicPrefix == "" {
		return DefaultTopicPrefix
	}
	return a.conf.TopicPrefix
}

// Executor returns the executor of one aggregate type.
func (a *Adapter) Executor(_ context.Context, binding adapter.Binding) (adapter.Executor, error) {
	if binding.Repository == nil {
		return nil, fmt.Errorf("messaging: aggregate %q has no repository", binding.AggregateType)
	}
	if binding.Parent == nil {
		return nil, fmt.Errorf("messaging: aggregate %q has no dispatcher", binding.AggregateType)
	}
	if binding.Logger == nil {
		binding.Logger = a.logger
	}
	return &executor{adapter: a, binding: binding}, nil
}

// Deploy wires every model of the deployment and the tasks of the executable
// ones. The engine owns the process definitions; nothing is sent on deploy.
func (a *Adapter) Deploy(ctx context.Context, deployment adapter.Deployment, wirer adapter.Wirer) error {
	var errs error
	for _, model := range deployment.Models {
		if err := wirer.WireProcess(ctx, a.id, deployment.ModuleID, model); err != nil {
			return err
		}

		a.mu.Lock()
		a.models[model.ID] = model
		a.mu.Unlock()

		if model.Reference {
			continue
		}
		for _, n := range model.Tasks {
			c := model.Connectable(n)
			h, err := wirer.WireTask(ctx, a.id, deployment.ModuleID, c)
			if err != nil {
				errs = multierr.Append(errs, err)
				continue
			}
			a.mu.Lock()
			a.handlers[c.String()] = taskNode{handler: h, userTask: n.UserTask}
			a.mu.Unlock()
		}
	}
	return errs
}

// Run consumes task callbacks until ctx is done, then closes the transport.
func (a *Adapter) Run(ctx context.Context) error {
	err := a.router.Run(ctx)
	return multierr.Combine(err, a.router.Close(), a.transport.Close())
}

// Running is closed once the callback router consumes messages.
func (a *Adapter) Running() chan struct{} {
	return a.router.Running()
}

func (a *Adapter) registerMiddleware(cfg MiddlewareRegistration) error {
	var mw message.HandlerMiddleware
	switch {
	case cfg.Middleware != nil:
		mw = cfg.Middleware
	case cfg.Builder != nil:
		var err error
		mw, err = cfg.Builder(a)
		if err != nil {
			return err
		}
	default:
		return errors.New("middleware registration requires Middleware or Builder")
	}

	if mw == nil {
		return nil
	}
	a.router.AddMiddleware(mw)
	return nil
}
