package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/drblury/procflow/adapter"
	configpkg "github.com/drblury/procflow/internal/runtime/config"
	"github.com/drblury/procflow/internal/runtime/dispatch"
	errspkg "github.com/drblury/procflow/internal/runtime/errors"
	"github.com/drblury/procflow/internal/runtime/handlers"
	loggingpkg "github.com/drblury/procflow/internal/runtime/logging"
	"github.com/drblury/procflow/internal/runtime/parameters"
	"github.com/drblury/procflow/internal/runtime/telemetry"
	"github.com/drblury/procflow/internal/runtime/wiring"
	"github.com/drblury/procflow/repository"
)

var listenAndServe = func(server *http.Server) error {
	return server.ListenAndServe()
}

// Runner is implemented by adapters that need a long-running loop, for
// example to consume task callbacks. Start runs it until ctx is cancelled.
type Runner interface {
	Run(ctx context.Context) error
}

// ServiceDependencies holds the optional collaborators that the Service can use.
// Leave fields nil to use the defaults.
type ServiceDependencies struct {
	// Adapters defaults to adapter.DefaultRegistry.
	Adapters *adapter.Registry
	// Handlers defaults to an empty registry.
	Handlers *handlers.Registry
	// Registerer receives the dispatch metrics when metrics are enabled.
	// Defaults to prometheus.DefaultRegisterer.
	Registerer prometheus.Registerer
	// Gatherer backs the /metrics endpoint. Defaults to prometheus.DefaultGatherer.
	Gatherer prometheus.Gatherer
	// Hooks run around every task handler invocation.
	Hooks TaskHooks
	// ErrorClassifier groups handler failures in the wiring overview.
	ErrorClassifier ErrorClassifier
}

// Service is the composition root: it owns the adapter and handler
// registries, one dispatcher per aggregate type and every wired task handler.
// It is the adapter.Wirer adapters report their processes and tasks to.
type Service struct {
	Conf   *configpkg.Config
	Logger loggingpkg.ServiceLogger

	adapters *adapter.Registry
	handlers *handlers.Registry
	metrics  *telemetry.Metrics
	gatherer prometheus.Gatherer
	hooks    TaskHooks
	classify ErrorClassifier

	mu          sync.RWMutex
	dispatchers map[string]*dispatch.Dispatcher
	byType      map[reflect.Type]*dispatch.Dispatcher
	models      map[string][]adapter.ProcessModel
	processes   []ProcessWiring
	tasks       []*TaskHandler
	deployed    bool

	httpServers   map[int]*http.ServeMux
	httpServersMu sync.Mutex
}

var _ adapter.Wirer = (*Service)(nil)

// NewService constructs a Service for the supplied configuration. Register
// aggregates, services and models on the returned Service before calling
// Deploy or Start.
func NewService(conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (*Service, error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if err := configpkg.ValidateConfig(conf); err != nil {
		return nil, err
	}

	s := &Service{
		Conf:        conf,
		Logger:      log,
		adapters:    deps.Adapters,
		handlers:    deps.Handlers,
		gatherer:    deps.Gatherer,
		hooks:       deps.Hooks,
		classify:    deps.ErrorClassifier,
		dispatchers: make(map[string]*dispatch.Dispatcher),
		byType:      make(map[reflect.Type]*dispatch.Dispatcher),
		models:      make(map[string][]adapter.ProcessModel),
	}
	if s.adapters == nil {
		s.adapters = adapter.DefaultRegistry
	}
	if s.handlers == nil {
		s.handlers = handlers.NewRegistry()
	}

	if conf.MetricsEnabled {
		registerer := deps.Registerer
		if registerer == nil {
			registerer = prometheus.DefaultRegisterer
		}
		if s.gatherer == nil {
			s.gatherer = prometheus.DefaultGatherer
		}
		s.metrics = telemetry.NewMetrics(registerer)
		if err := s.metrics.Register(); err != nil {
			return nil, fmt.Errorf("procflow: register metrics: %w", err)
		}
		if conf.MetricsPort > 0 {
			s.RegisterHTTPHandler(conf.MetricsPort, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
		}
	}

	log.Info("Creating workflow service", loggingpkg.LogFields{
		"adapters": s.adapters.Names(),
		"config":   conf,
	})
	return s, nil
}

// Metrics returns the dispatch metrics, nil when metrics are disabled.
func (s *Service) Metrics() *telemetry.Metrics { return s.metrics }

// Adapters returns the adapter registry.
func (s *Service) Adapters() *adapter.Registry { return s.adapters }

// Handlers returns the handler registry.
func (s *Service) Handlers() *handlers.Registry { return s.handlers }

// RegisterAggregate creates the dispatcher of one aggregate type and asks
// every registered adapter for its executor. The adapter registry is sealed by
// the first call.
func (s *Service) RegisterAggregate(ctx context.Context, name string, aggregateType reflect.Type, repo repository.Repository) (*dispatch.Dispatcher, error) {
	if aggregateType == nil {
		return nil, fmt.Errorf("procflow: aggregate %q has no type", name)
	}
	if name == "" {
		name = aggregateType.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deployed {
		return nil, fmt.Errorf("%w: cannot register aggregate %q after deploy", errspkg.ErrRegistrySealed, name)
	}
	if _, ok := s.dispatchers[name]; ok {
		return nil, fmt.Errorf("procflow: aggregate %q is already registered", name)
	}

	d, err := dispatch.New(dispatch.Options{
		AggregateType: name,
		Repository:    repo,
		Routing:       s.Conf,
		Logger:        s.Logger,
		Metrics:       s.metrics,
	})
	if err != nil {
		return nil, err
	}

	s.adapters.Seal()
	for _, id := range s.adapters.Names() {
		a, _ := s.adapters.Get(id)
		executor, err := a.Executor(ctx, adapter.Binding{
			AdapterID:     id,
			AggregateType: name,
			Repository:    repo,
			Logger:        loggingpkg.WorkflowContext{AdapterID: id}.Apply(s.Logger),
			Parent:        d,
		})
		if err != nil {
			return nil, fmt.Errorf("procflow: adapter %q: executor for %q: %w", id, name, err)
		}
		d.Attach(id, executor)
	}

	s.dispatchers[name] = d
	s.byType[aggregateType] = d
	s.Logger.Debug("Registered workflow aggregate", loggingpkg.LogFields{
		"aggregate_type": name,
		"adapters":       d.AdapterIDs(),
	})
	return d, nil
}

// RegisterServices adds workflow services to the handler registry.
func (s *Service) RegisterServices(services ...handlers.WorkflowService) {
	s.handlers.Add(services...)
}

// RegisterModels adds process models to deploy for moduleID. An empty
// moduleID means the application module.
func (s *Service) RegisterModels(moduleID string, models ...adapter.ProcessModel) {
	if moduleID == "" {
		moduleID = s.Conf.ApplicationName
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[moduleID] = append(s.models[moduleID], models...)
}

// Dispatcher returns the dispatcher of the aggregate type registered as name.
func (s *Service) Dispatcher(name string) (*dispatch.Dispatcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.dispatchers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errspkg.ErrUnknownAggregate, name)
	}
	return d, nil
}

// DispatcherFor returns the dispatcher of aggregateType.
func (s *Service) DispatcherFor(aggregateType reflect.Type) (*dispatch.Dispatcher, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dispatcherForLocked(aggregateType)
}

func (s *Service) dispatcherForLocked(aggregateType reflect.Type) (*dispatch.Dispatcher, error) {
	if d, ok := s.byType[aggregateType]; ok {
		return d, nil
	}
	if aggregateType != nil && aggregateType.Kind() == reflect.Interface {
		var found *dispatch.Dispatcher
		for t, d := range s.byType {
			if !t.Implements(aggregateType) {
				continue
			}
			if found != nil {
				return nil, fmt.Errorf("%w: %v is implemented by several aggregate types", errspkg.ErrUnknownAggregate, aggregateType)
			}
			found = d
		}
		if found != nil {
			return found, nil
		}
	}
	return nil, fmt.Errorf("%w: %v", errspkg.ErrUnknownAggregate, aggregateType)
}

// Deploy validates the routing configuration and deploys the models of every
// workflow module to every adapter. Adapters wire back through WireProcess
// and WireTask. The handler cache is dropped once deployment is done.
func (s *Service) Deploy(ctx context.Context) error {
	s.mu.RLock()
	deployed := s.deployed
	s.mu.RUnlock()
	if deployed {
		return nil
	}

	s.adapters.Seal()
	adapterIDs := s.adapters.Names()
	if err := s.Conf.ValidateRouting(adapterIDs); err != nil {
		return errspkg.NewConfigValidationError(err)
	}

	moduleIDs, err := s.moduleIDs()
	if err != nil {
		return err
	}

	for _, moduleID := range moduleIDs {
		s.mu.RLock()
		models := append([]adapter.ProcessModel(nil), s.models[moduleID]...)
		s.mu.RUnlock()

		for _, adapterID := range adapterIDs {
			if err := s.deploy(ctx, moduleID, adapterID, models); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	s.deployed = true
	for name, d := range s.dispatchers {
		if d.PrimaryProcessID() == "" {
			s.Logger.Info("Workflow aggregate is not wired to any process", loggingpkg.LogFields{"aggregate_type": name})
		}
	}
	s.mu.Unlock()
	s.handlers.Invalidate()

	s.Logger.Info("Workflow deployment completed", loggingpkg.LogFields{
		"modules":  moduleIDs,
		"adapters": adapterIDs,
	})
	return nil
}

func (s *Service) deploy(ctx context.Context, moduleID, adapterID string, models []adapter.ProcessModel) error {
	a, _ := s.adapters.Get(adapterID)
	deployment := adapter.Deployment{ModuleID: moduleID, Models: models}
	if s.adapters.Capabilities(adapterID).NeedsResources {
		location, err := s.Conf.ResourcesLocation(moduleID, adapterID)
		if err != nil {
			return err
		}
		deployment.ResourcesLocation = location
	}

	fields := loggingpkg.WorkflowContext{ModuleID: moduleID, AdapterID: adapterID}.Fields()
	s.Logger.Debug("Deploying workflow module", fields.Merge(loggingpkg.LogFields{"models": len(models)}))
	if err := a.Deploy(ctx, deployment, s); err != nil {
		s.Logger.Error("Failed to deploy workflow module", err, fields)
		return fmt.Errorf("procflow: deploy module %q on adapter %q: %w", moduleID, adapterID, err)
	}
	return nil
}

// moduleIDs returns the configured modules plus every module models were
// registered for, sorted.
func (s *Service) moduleIDs() ([]string, error) {
	configured, err := s.Conf.ModuleIDs()

	s.mu.RLock()
	defer s.mu.RUnlock()
	set := make(map[string]struct{}, len(configured)+len(s.models))
	for _, id := range configured {
		set[id] = struct{}{}
	}
	for id := range s.models {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	if len(set) == 0 {
		return nil, err
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// WireProcess binds the process of model to the aggregate type of the
// service implementing it. Reference models are recorded but not claimed.
func (s *Service) WireProcess(_ context.Context, adapterID, moduleID string, model adapter.ProcessModel) error {
	record := ProcessWiring{
		AdapterID:     adapterID,
		ModuleID:      moduleID,
		ProcessID:     model.ID,
		VersionInfo:   model.VersionInfo,
		StartMessages: model.StartMessages,
		StartSignals:  model.StartSignals,
		Reference:     model.Reference,
	}
	if model.Reference {
		s.record(record)
		return nil
	}

	svc, primary, err := wiring.NewResolver(s.handlers, moduleID).WireService(model.ID)
	if err != nil {
		return err
	}
	d, err := s.DispatcherFor(svc.AggregateType)
	if err != nil {
		return err
	}

	var startMessages []string
	if primary {
		startMessages = model.StartMessages
	}
	if err := d.Wire(adapterID, moduleID, model.ID, primary, startMessages); err != nil {
		return err
	}

	record.Service = svc.Name
	record.AggregateType = d.AggregateType()
	record.Primary = primary
	s.record(record)
	return nil
}

// WireTask resolves the handler func of c and returns the TaskHandler the
// adapter calls for every callback of that task.
func (s *Service) WireTask(_ context.Context, adapterID, moduleID string, c wiring.Connectable) (adapter.TaskHandler, error) {
	h, err := s.wireTask(adapterID, moduleID, c)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (s *Service) wireTask(adapterID, moduleID string, c wiring.Connectable) (*TaskHandler, error) {
	match, err := wiring.NewResolver(s.handlers, moduleID).Resolve(c)
	if err != nil {
		return nil, err
	}
	d, err := s.DispatcherFor(match.Service.AggregateType)
	if err != nil {
		return nil, err
	}

	logger := loggingpkg.WorkflowContext{
		ModuleID:   moduleID,
		AdapterID:  adapterID,
		ProcessID:  c.ProcessID,
		TaskNode:   c.TaskDefinition,
		TaskNodeID: c.ElementID,
	}.Apply(s.Logger)
	h := &TaskHandler{
		adapterID:   adapterID,
		moduleID:    moduleID,
		connectable: c,
		match:       match,
		binder:      parameters.NewBinder(d.Repository()),
		logger:      logger,
		metrics:     s.metrics,
		hooks:       s.hooks,
		stats:       newHandlerStats(s.classify),
	}

	s.mu.Lock()
	s.tasks = append(s.tasks, h)
	s.mu.Unlock()

	logger.Info("Wired task handler", loggingpkg.LogFields{"handler": match.Method()})
	return h, nil
}

func (s *Service) record(p ProcessWiring) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processes = append(s.processes, p)
}

// Start deploys if needed, then runs every adapter implementing Runner
// together with the HTTP servers until ctx is cancelled or one of them fails.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Deploy(ctx); err != nil {
		return err
	}

	s.StartWebUIServer()

	g, ctx := errgroup.WithContext(ctx)
	for _, id := range s.adapters.Names() {
		a, _ := s.adapters.Get(id)
		runner, ok := a.(Runner)
		if !ok {
			continue
		}
		id := id
		g.Go(func() error {
			s.Logger.Info("Starting adapter", loggingpkg.LogFields{loggingpkg.FieldWorkflowAdapterID: id})
			if err := runner.Run(ctx); err != nil {
				return fmt.Errorf("procflow: adapter %q: %w", id, err)
			}
			return nil
		})
	}
	s.startHTTPServers(ctx, g)
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// RegisterHTTPHandler mounts handler on the HTTP server listening on port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*http.ServeMux)
	}

	mux, ok := s.httpServers[port]
	if !ok {
		mux = http.NewServeMux()
		s.httpServers[port] = mux
	}

	mux.Handle(pattern, handler)
}

func (s *Service) startHTTPServers(ctx context.Context, g *errgroup.Group) {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	for port, mux := range s.httpServers {
		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": server.Addr})
		g.Go(func() error {
			if err := listenAndServe(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("Failed to start HTTP server", err, loggingpkg.LogFields{"address": server.Addr})
				return err
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}
}
