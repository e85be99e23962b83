package connections

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"

	"github.com/openfroyo/herd/pkg/config"
	"github.com/openfroyo/herd/pkg/inventory"
	"github.com/openfroyo/herd/pkg/telemetry"
)

// Manager holds the open connections of every host. It is safe for
// concurrent use; each host is normally touched by one worker at a time.
type Manager struct {
	registry *Registry
	config   *config.Config
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	mu    sync.Mutex
	conns map[string]map[string]Connection
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithRegistry sets the plugin registry. Defaults to DefaultRegistry.
func WithRegistry(r *Registry) ManagerOption {
	return func(m *Manager) { m.registry = r }
}

// WithConfig sets the configuration passed to plugins on open.
func WithConfig(cfg *config.Config) ManagerOption {
	return func(m *Manager) { m.config = cfg }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithMetrics records open attempts.
func WithMetrics(metrics *telemetry.Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// WithTracer records a span per open.
func WithTracer(tracer *telemetry.Tracer) ManagerOption {
	return func(m *Manager) { m.tracer = tracer }
}

// NewManager creates a manager with no open connections.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		registry: DefaultRegistry,
		logger:   zerolog.Nop(),
		conns:    make(map[string]map[string]Connection),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Open opens a new plugin connection for h. It fails with ErrAlreadyOpen if
// one is already open.
func (m *Manager) Open(ctx context.Context, h *inventory.Host, plugin string) (Connection, error) {
	m.mu.Lock()
	if _, ok := m.conns[h.Name()][plugin]; ok {
		m.mu.Unlock()
		return nil, &ConnectionError{Host: h.Name(), Plugin: plugin, Op: "open", Err: ErrAlreadyOpen}
	}
	m.mu.Unlock()

	return m.open(ctx, h, plugin)
}

// Get returns the open plugin connection for h, opening it first if needed.
func (m *Manager) Get(ctx context.Context, h *inventory.Host, plugin string) (Connection, error) {
	m.mu.Lock()
	if conn, ok := m.conns[h.Name()][plugin]; ok {
		m.mu.Unlock()
		return conn, nil
	}
	m.mu.Unlock()

	return m.open(ctx, h, plugin)
}

func (m *Manager) open(ctx context.Context, h *inventory.Host, plugin string) (Connection, error) {
	factory, err := m.registry.Get(plugin)
	if err != nil {
		return nil, &ConnectionError{Host: h.Name(), Plugin: plugin, Op: "open", Err: err}
	}

	var span trace.Span
	if m.tracer != nil {
		ctx, span = m.tracer.StartConnectionSpan(ctx, plugin, h.Name())
		defer span.End()
	}

	params := h.ConnectionParameters(plugin)
	if params.Hostname == "" {
		params.Hostname = h.Name()
	}
	logger := m.logger.With().Str("host", h.Name()).Str("connection", plugin).Logger()
	ctx = logger.WithContext(ctx)

	conn := factory()
	err = conn.Open(ctx, params, m.config)
	if span != nil {
		telemetry.RecordError(span, err)
	}
	if m.metrics != nil {
		m.metrics.RecordConnectionOpen(plugin, err)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("failed to open connection")
		return nil, &ConnectionError{Host: h.Name(), Plugin: plugin, Op: "open", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Another caller may have opened the same connection meanwhile.
	if existing, ok := m.conns[h.Name()][plugin]; ok {
		_ = conn.Close()
		return existing, nil
	}
	if m.conns[h.Name()] == nil {
		m.conns[h.Name()] = make(map[string]Connection)
	}
	m.conns[h.Name()][plugin] = conn

	logger.Debug().Msg("connection opened")
	return conn, nil
}

// Close closes the plugin connection of host. It fails with ErrNotOpen if
// none is open.
func (m *Manager) Close(host, plugin string) error {
	m.mu.Lock()
	conn, ok := m.conns[host][plugin]
	if ok {
		delete(m.conns[host], plugin)
		if len(m.conns[host]) == 0 {
			delete(m.conns, host)
		}
	}
	m.mu.Unlock()

	if !ok {
		return &ConnectionError{Host: host, Plugin: plugin, Op: "close", Err: ErrNotOpen}
	}
	if err := conn.Close(); err != nil {
		return &ConnectionError{Host: host, Plugin: plugin, Op: "close", Err: err}
	}
	return nil
}

// CloseHost closes every connection of host.
func (m *Manager) CloseHost(host string) error {
	var errs []error
	for _, plugin := range m.Opened(host) {
		if err := m.Close(host, plugin); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseAll closes every open connection.
func (m *Manager) CloseAll() error {
	m.mu.Lock()
	hosts := make([]string, 0, len(m.conns))
	for host := range m.conns {
		hosts = append(hosts, host)
	}
	m.mu.Unlock()
	sort.Strings(hosts)

	var errs []error
	for _, host := range hosts {
		if err := m.CloseHost(host); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Opened returns the plugin names open for host, sorted.
func (m *Manager) Opened(host string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	plugins := make([]string, 0, len(m.conns[host]))
	for plugin := range m.conns[host] {
		plugins = append(plugins, plugin)
	}
	sort.Strings(plugins)
	return plugins
}

// Config returns the configuration handed to plugins.
func (m *Manager) Config() *config.Config {
	return m.config
}
