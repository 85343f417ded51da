package runtime

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	wmplugin "github.com/ThreeDotsLabs/watermill/message/router/plugin"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	configpkg "github.com/drblury/funcflow/internal/runtime/config"
	errspkg "github.com/drblury/funcflow/internal/runtime/errors"
	"github.com/drblury/funcflow/internal/runtime/function"
	"github.com/drblury/funcflow/internal/runtime/loader"
	loggingpkg "github.com/drblury/funcflow/internal/runtime/logging"
	"github.com/drblury/funcflow/internal/runtime/plugin"
	"github.com/drblury/funcflow/internal/runtime/plugin/builtin"
	"github.com/drblury/funcflow/internal/runtime/sidecar"
	"github.com/drblury/funcflow/internal/runtime/sidecar/broker"
	"github.com/drblury/funcflow/internal/runtime/sidecar/dapr"
	"github.com/drblury/funcflow/internal/runtime/statestore"
	transportpkg "github.com/drblury/funcflow/internal/runtime/transport"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

var listenAndServe = func(srv *http.Server) error {
	return srv.ListenAndServe()
}

const shutdownTimeout = 10 * time.Second

// ServiceDependencies holds the optional collaborators that the Service can use.
// Only Function is required; everything else is derived from the configuration.
type ServiceDependencies struct {
	// Function is the declarative function configuration.
	Function *configpkg.Function
	// Handler skips resolution from Config.Source and Config.Target when set.
	Handler function.Handler
	// ResolverOptions customise handler resolution.
	ResolverOptions []loader.ResolverOption
	// Sidecar overrides the client selected by Config.SidecarMode.
	Sidecar sidecar.Client
	// UserPlugins overrides plugin loading from the code location.
	UserPlugins *plugin.Registry
	// PluginManifest lists plugins compiled into the host. They win over
	// plugins discovered on disk.
	PluginManifest plugin.Manifest
	PluginOptions  []plugin.LoadOption
	// SystemPlugins overrides the built-in system plugins.
	SystemPlugins *plugin.Registry

	Middlewares               []MiddlewareRegistration // Appended after the default middleware chain.
	DisableDefaultMiddlewares bool                     // Skips registering the default middleware chain when true.
	TransportFactory          transportpkg.Factory
	Hooks                     InvocationHooks
	ErrorClassifier           ErrorClassifier
}

// Service hosts one function. Async functions consume their inputs through
// a Watermill router; knative functions are served over HTTP.
type Service struct {
	Conf     *configpkg.Config
	Function *configpkg.Function
	Logger   loggingpkg.ServiceLogger

	pipeline *Pipeline
	sidecar  sidecar.Client
	stats    *InvocationStats
	registry *prometheus.Registry
	shutdown builtin.Shutdown

	publisher     message.Publisher
	subscriber    message.Subscriber
	transportCaps *transportpkg.Capabilities
	router        *message.Router
	inputs        []string

	httpServers   map[int]*gin.Engine
	httpServersMu sync.Mutex
}

// NewService resolves the function, loads its plugins, builds the sidecar
// client and wires the runtime selected by the function configuration.
func NewService(ctx context.Context, conf *configpkg.Config, log loggingpkg.ServiceLogger, deps ServiceDependencies) (_ *Service, err error) {
	if conf == nil {
		return nil, errspkg.ErrConfigRequired
	}
	if log == nil {
		return nil, errspkg.ErrLoggerRequired
	}
	if deps.Function == nil {
		return nil, errspkg.ErrFunctionConfigRequired
	}
	fn := deps.Function
	if !fn.IsAsyncRuntime() && !fn.IsKnativeRuntime() {
		return nil, fmt.Errorf("%w: %q", errspkg.ErrUnknownRuntime, fn.Runtime)
	}

	log = log.With(loggingpkg.LogFields{"function": fn.Name, "runtime": string(fn.Runtime)})
	log.Info("Creating function service", loggingpkg.LogFields{
		"pubsub_system": conf.PubSubSystem,
		"sidecar_mode":  conf.SidecarMode,
		"config":        conf.String(),
	})

	s := &Service{
		Conf:     conf,
		Function: fn,
		Logger:   log,
		stats:    NewInvocationStats(deps.ErrorClassifier),
		registry: newMetricsRegistry(),
		shutdown: func(context.Context) error { return nil },
	}
	defer func() {
		if err != nil {
			if cerr := s.Close(); cerr != nil {
				log.Error("Failed to release partially built service", cerr, nil)
			}
		}
	}()

	handler, err := s.resolveHandler(ctx, deps)
	if err != nil {
		return nil, err
	}

	if fn.IsAsyncRuntime() || (deps.Sidecar == nil && conf.SidecarMode == configpkg.SidecarModeBroker) {
		if err := s.buildTransport(ctx, deps.TransportFactory); err != nil {
			return nil, err
		}
	}

	if err := s.buildSidecar(ctx, deps.Sidecar); err != nil {
		return nil, err
	}

	user := deps.UserPlugins
	if user == nil {
		opts := append([]plugin.LoadOption{plugin.WithLogger(log)}, deps.PluginOptions...)
		user = plugin.Load(ctx, conf.Source, fn, deps.PluginManifest, opts...)
	}
	system := deps.SystemPlugins
	if system == nil {
		system, s.shutdown = builtin.Load(ctx, fn, builtin.WithLogger(log))
	}

	metrics, err := newInvocationMetrics(s.registry)
	if err != nil {
		return nil, fmt.Errorf("register invocation metrics: %w", err)
	}
	hooks := LoggingHooks(log).Merge(s.stats.Hooks()).Merge(metrics.Hooks()).Merge(deps.Hooks)

	s.pipeline, err = NewPipeline(handler, fn, PipelineDependencies{
		UserPlugins:   user,
		SystemPlugins: system,
		Sidecar:       s.sidecar,
		Logger:        log,
		Hooks:         hooks,
	})
	if err != nil {
		return nil, err
	}

	if fn.IsAsyncRuntime() {
		if err := s.buildRouter(deps); err != nil {
			return nil, err
		}
		s.registerAsyncInputs()
	} else {
		s.registerKnativeHandler()
	}

	s.registerMetricsEndpoint()
	s.registerIntrospectionEndpoint()
	return s, nil
}

func (s *Service) resolveHandler(ctx context.Context, deps ServiceDependencies) (function.Handler, error) {
	if deps.Handler != nil {
		return deps.Handler, nil
	}
	opts := []loader.ResolverOption{loader.WithLogger(s.Logger)}
	if s.Conf.ESModuleMinVersion != "" {
		opts = append(opts, loader.WithMinVersion(s.Conf.ESModuleMinVersion))
	}
	opts = append(opts, deps.ResolverOptions...)
	return loader.NewResolver(opts...).Resolve(ctx, s.Conf.Source, s.Conf.Target)
}

func (s *Service) buildTransport(ctx context.Context, factory transportpkg.Factory) error {
	if factory == nil {
		factory = transportpkg.DefaultFactory()
	}
	t, err := factory.Build(ctx, s.Conf, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return fmt.Errorf("build %s transport: %w", s.Conf.PubSubSystem, err)
	}
	s.publisher = t.Publisher
	s.subscriber = t.Subscriber

	caps := transportpkg.GetCapabilities(s.Conf.PubSubSystem)
	s.transportCaps = &caps
	s.Logger.Info("Transport ready", loggingpkg.LogFields{
		"transport":         caps.Name,
		"reliable_delivery": caps.SupportsReliableDelivery(),
		"ordering":          caps.SupportsOrdering,
	})
	return nil
}

func (s *Service) buildSidecar(ctx context.Context, client sidecar.Client) error {
	if client != nil {
		s.sidecar = client
		return nil
	}
	switch s.Conf.SidecarMode {
	case configpkg.SidecarModeDapr:
		s.sidecar = dapr.NewFromConfig(s.Conf, s.Logger)
	case configpkg.SidecarModeBroker:
		store, err := statestore.Open(ctx, s.Conf.StateDriver, s.Conf.StateDSN)
		if err != nil {
			return fmt.Errorf("open state store: %w", err)
		}
		b, err := broker.New(s.publisher, store, s.Logger)
		if err != nil {
			_ = store.Close()
			return err
		}
		s.sidecar = b
	default:
		s.Logger.Info("No sidecar configured, outputs and state are unavailable", nil)
	}
	return nil
}

func (s *Service) buildRouter(deps ServiceDependencies) error {
	router, err := message.NewRouter(message.RouterConfig{}, loggingpkg.NewWatermillAdapter(s.Logger))
	if err != nil {
		return err
	}
	s.router = router
	s.router.AddPlugin(wmplugin.SignalsHandler)
	return s.registerConfiguredMiddlewares(deps)
}

// Start serves the function until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	servers := s.httpServerList()
	errCh := make(chan error, len(servers))
	for _, srv := range servers {
		s.Logger.Info("Starting HTTP server", loggingpkg.LogFields{"address": srv.Addr})
		go func(srv *http.Server) {
			if err := listenAndServe(srv); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.Logger.Error("HTTP server stopped", err, loggingpkg.LogFields{"address": srv.Addr})
				errCh <- err
			}
		}(srv)
	}
	defer s.stopHTTPServers(servers)

	if s.router != nil {
		return routerRun(s.router, ctx)
	}

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Invoke runs one event through the function pipeline.
func (s *Service) Invoke(ctx context.Context, data []byte, opts ...InvokeOption) error {
	return s.pipeline.Invoke(ctx, data, opts...)
}

// Stats returns the invocation statistics collected so far.
func (s *Service) Stats() *InvocationStats {
	return s.stats
}

// Close releases the sidecar, the transport and the system plugins.
func (s *Service) Close() error {
	var errs []error
	if s.router != nil {
		errs = append(errs, s.router.Close())
	}
	if s.sidecar != nil {
		errs = append(errs, s.sidecar.Close())
	}
	if s.subscriber != nil {
		errs = append(errs, s.subscriber.Close())
	}
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	errs = append(errs, s.shutdown(ctx))
	return errors.Join(errs...)
}

func (s *Service) registerConfiguredMiddlewares(deps ServiceDependencies) error {
	var defaults []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		defaults = DefaultMiddlewares()
	}
	registrations := make([]MiddlewareRegistration, 0, len(defaults)+len(deps.Middlewares))
	registrations = append(registrations, defaults...)
	registrations = append(registrations, deps.Middlewares...)

	for _, reg := range registrations {
		if err := s.RegisterMiddleware(reg); err != nil {
			name := reg.Name
			if name == "" {
				name = "anonymous_middleware"
			}
			return fmt.Errorf("register middleware %s: %w", name, err)
		}
	}
	return nil
}

func (s *Service) metricsRegistry() *prometheus.Registry {
	return s.registry
}

// RegisterHTTPHandler mounts handler on the HTTP server listening on port.
func (s *Service) RegisterHTTPHandler(port int, pattern string, handler http.Handler) {
	s.engine(port).Any(pattern, gin.WrapH(handler))
}

func (s *Service) engine(port int) *gin.Engine {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	if s.httpServers == nil {
		s.httpServers = make(map[int]*gin.Engine)
	}
	e, ok := s.httpServers[port]
	if !ok {
		e = gin.New()
		e.Use(gin.Recovery())
		s.httpServers[port] = e
	}
	return e
}

func (s *Service) httpServerList() []*http.Server {
	s.httpServersMu.Lock()
	defer s.httpServersMu.Unlock()

	ports := make([]int, 0, len(s.httpServers))
	for port := range s.httpServers {
		ports = append(ports, port)
	}
	sort.Ints(ports)

	servers := make([]*http.Server, 0, len(ports))
	for _, port := range ports {
		servers = append(servers, &http.Server{
			Addr:              ":" + strconv.Itoa(port),
			Handler:           s.httpServers[port],
			ReadHeaderTimeout: 10 * time.Second,
		})
	}
	return servers
}

func (s *Service) stopHTTPServers(servers []*http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(ctx); err != nil {
			s.Logger.Error("Failed to stop HTTP server", err, loggingpkg.LogFields{"address": srv.Addr})
		}
	}
}
