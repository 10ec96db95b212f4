package symphra

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// Manager is the public facade of the lifecycle runtime. It owns the
// registry, the dependency graph, the resolver and the event bus, and it
// orchestrates discovery, loading, installation, start/stop, uninstall and
// hot reload under concurrency.
//
// Operations on different modules proceed concurrently; operations on the
// same module are serialized by a per-module lock, so no two lifecycle
// hooks of one module ever run at the same time.
type Manager struct {
	source   ModuleSource
	bus      *EventBus
	registry *Registry
	graph    *DependencyGraph
	resolver *Resolver
	logger   Logger
	metrics  *Metrics

	moduleDirs []string
	exclude    map[string]bool
	hotReload  bool

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	watchMu     sync.Mutex
	watchCancel context.CancelFunc
}

// ManagerOption configures a Manager during construction.
type ManagerOption func(*Manager)

// WithLogger sets the structured logger used by the manager and every
// component it creates.
func WithLogger(logger Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// WithModuleDirs records the source paths handed to directory-based
// sources and watchers. The manager itself treats them as opaque.
func WithModuleDirs(dirs ...string) ManagerOption {
	return func(m *Manager) { m.moduleDirs = append(m.moduleDirs, dirs...) }
}

// WithExcludeModules names modules that are never loaded or discovered.
// Matching is case-insensitive.
func WithExcludeModules(names ...string) ManagerOption {
	return func(m *Manager) {
		for _, name := range names {
			m.exclude[strings.ToLower(name)] = true
		}
	}
}

// WithHotReload enables TriggerReload and the source-change subscription
// started by StartHotReload.
func WithHotReload() ManagerOption {
	return func(m *Manager) { m.hotReload = true }
}

// WithMetrics attaches a metrics collector; it observes the manager's
// event bus.
func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) { m.metrics = metrics }
}

// NewManager creates a manager over the given module source.
func NewManager(source ModuleSource, opts ...ManagerOption) *Manager {
	m := &Manager{
		source:  source,
		exclude: make(map[string]bool),
		locks:   make(map[string]*sync.Mutex),
		logger:  noopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.bus = NewEventBus(m.logger)
	m.registry = NewRegistry(m.bus, m.logger)
	m.graph = NewDependencyGraph()
	m.resolver = NewResolver(m.registry, m.graph)
	if m.metrics != nil {
		m.metrics.Observe(m.bus)
	}
	return m
}

// Bus returns the manager's event bus for subscriptions.
func (m *Manager) Bus() *EventBus { return m.bus }

// Registry returns the authoritative module registry.
func (m *Manager) Registry() *Registry { return m.registry }

// Resolver returns the ordering resolver.
func (m *Manager) Resolver() *Resolver { return m.resolver }

// Graph returns the dependency graph.
func (m *Manager) Graph() *DependencyGraph { return m.graph }

// Logger returns the configured logger.
func (m *Manager) Logger() Logger { return m.logger }

// ModuleDirs returns the configured source paths.
func (m *Manager) ModuleDirs() []string { return m.moduleDirs }

// Discover asks the source for the available module names, filters the
// exclusion list and returns the remainder sorted. It never instantiates
// anything and is idempotent.
func (m *Manager) Discover(ctx context.Context) ([]string, error) {
	names, err := m.source.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("module discovery failed: %w", err)
	}
	filtered := make([]string, 0, len(names))
	for _, name := range names {
		if !m.isExcluded(name) {
			filtered = append(filtered, name)
		}
	}
	sort.Strings(filtered)
	return filtered, nil
}

// LoadModule fetches the factory for name from the source, constructs and
// bootstraps a fresh instance, validates its metadata, and registers it.
// On success the module is in StateLoaded and module.loaded has been
// published.
//
// If registering the module would introduce a dependency cycle, the load
// is rolled back completely and ErrCyclicDependency is returned; no event
// is published for the rolled-back module.
func (m *Manager) LoadModule(ctx context.Context, name string) error {
	if m.isExcluded(name) {
		return fmt.Errorf("%w: %s is excluded", ErrModuleNotFound, name)
	}

	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	if m.registry.Has(name) {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, name)
	}

	factory, err := m.source.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to load %s from source: %w", name, err)
	}

	instance, err := m.newInstance(name, factory)
	if err != nil {
		return err
	}

	if err := m.registry.Add(name, factory); err != nil {
		return err
	}

	meta := instance.Metadata()
	hadNode := m.graph.HasNode(name)
	m.graph.AddNode(name)
	for _, dep := range meta.Dependencies {
		m.graph.AddEdge(name, dep)
	}

	if cycles := m.graph.DetectCycles(); len(cycles) > 0 {
		m.graph.RemoveEdges(name)
		if !hadNode {
			m.graph.RemoveNode(name)
		}
		_ = m.registry.Remove(name)
		return fmt.Errorf("%w: loading %s would create %v", ErrCyclicDependency, name, formatCycles(cycles))
	}

	if err := m.registry.AttachInstance(name, instance); err != nil {
		return err
	}
	m.logger.Info("Module loaded", "module", name, "version", meta.Version, "dependencies", meta.Dependencies)
	return nil
}

// LoadAll discovers and loads every available module, skipping names that
// are excluded or already registered. Load failures do not abort the
// sweep; they are returned per module.
func (m *Manager) LoadAll(ctx context.Context) (map[string]error, error) {
	names, err := m.Discover(ctx)
	if err != nil {
		return nil, err
	}
	failures := make(map[string]error)
	for _, name := range names {
		if m.registry.Has(name) {
			continue
		}
		if err := m.LoadModule(ctx, name); err != nil {
			m.logger.Error("Failed to load module", "module", name, "error", err)
			failures[name] = err
		}
	}
	return failures, nil
}

// UnloadModule removes a module in StateLoaded from the registry and
// drops its graph edges. Publishes module.unloaded.
func (m *Manager) UnloadModule(ctx context.Context, name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.registry.State(name)
	if err != nil {
		return err
	}
	if state != StateLoaded {
		return fmt.Errorf("%w: cannot unload %s in state %s", ErrIllegalTransition, name, state)
	}
	if err := m.registry.Remove(name); err != nil {
		return err
	}
	m.dropGraphNode(name)
	m.logger.Info("Module unloaded", "module", name)
	return nil
}

// GetModule returns the live instance of a loaded module, the hook modules
// use to reach their dependencies.
func (m *Manager) GetModule(name string) (Module, error) {
	return m.registry.Get(name)
}

// newInstance invokes the factory with panic recovery, runs the optional
// bootstrap hook and validates the metadata.
func (m *Manager) newInstance(name string, factory ModuleFactory) (Module, error) {
	var instance Module
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("factory panicked: %v", r)
			}
		}()
		instance, err = factory()
		return
	}()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrModuleLoad, name, err)
	}
	if instance == nil {
		return nil, fmt.Errorf("%w: %s: factory returned nil", ErrModuleLoad, name)
	}
	if b, ok := instance.(Bootstrapper); ok {
		if err := b.Bootstrap(); err != nil {
			return nil, fmt.Errorf("%w: bootstrap of %s: %v", ErrModuleLoad, name, err)
		}
	}
	if err := validateMetadata(name, instance.Metadata()); err != nil {
		return nil, err
	}
	return instance, nil
}

// validateMetadata enforces the naming rules: non-empty, no whitespace,
// and matching the name the module was requested under.
func validateMetadata(name string, meta ModuleMetadata) error {
	if meta.Name == "" {
		return fmt.Errorf("%w: %s: metadata has empty name", ErrModuleLoad, name)
	}
	if strings.ContainsFunc(meta.Name, unicode.IsSpace) {
		return fmt.Errorf("%w: %s: metadata name %q contains whitespace", ErrModuleLoad, name, meta.Name)
	}
	if meta.Name != name {
		return fmt.Errorf("%w: requested %q but metadata declares %q", ErrModuleLoad, name, meta.Name)
	}
	return nil
}

// callHook runs one lifecycle hook with panic recovery and deadline
// handling. A hook error or panic is wrapped as ErrHookFailure; a context
// expiry while the hook runs is reported as ErrTimeout and the hook's
// context is the one that was cancelled, so cooperative hooks unwind.
func (m *Manager) callHook(ctx context.Context, name, hook string, fn func(context.Context) error) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %s hook of %s panicked: %v", ErrHookFailure, hook, name, r)
			}
		}()
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		if err == nil || errors.Is(err, ErrHookFailure) {
			return err
		}
		return fmt.Errorf("%w: %s hook of %s: %v", ErrHookFailure, hook, name, err)
	case <-ctx.Done():
		return fmt.Errorf("%w: %s hook of %s: %v", ErrTimeout, hook, name, ctx.Err())
	}
}

// lockFor returns the per-module mutex, creating it on first use. Locks
// are never discarded; the set of names a manager touches is small.
func (m *Manager) lockFor(name string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[name]
	if !ok {
		l = &sync.Mutex{}
		m.locks[name] = l
	}
	return l
}

func (m *Manager) isExcluded(name string) bool {
	return m.exclude[strings.ToLower(name)]
}

// dropGraphNode removes a module's outgoing edges. The node itself is
// kept while other modules still declare it as a dependency, so the graph
// keeps mirroring their metadata.
func (m *Manager) dropGraphNode(name string) {
	m.graph.RemoveEdges(name)
	if len(m.graph.DependentsOf(name)) == 0 {
		m.graph.RemoveNode(name)
	}
}

func formatCycles(cycles [][]string) []string {
	formatted := make([]string, 0, len(cycles))
	for _, cycle := range cycles {
		formatted = append(formatted, strings.Join(cycle, " -> "))
	}
	return formatted
}
