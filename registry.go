package symphra

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// ModuleInfo is a point-in-time snapshot of one registry entry. The maps
// and slices it carries are copies; mutating them does not affect the
// registry.
type ModuleInfo struct {
	Name            string         `json:"name"`
	Metadata        ModuleMetadata `json:"metadata"`
	State           ModuleState    `json:"state"`
	LastStableState ModuleState    `json:"lastStableState,omitempty"`
	Config          map[string]any `json:"config,omitempty"`
	Err             string         `json:"error,omitempty"`
	LoadedAt        time.Time      `json:"loadedAt,omitzero"`
	InstalledAt     time.Time      `json:"installedAt,omitzero"`
	StartedAt       time.Time      `json:"startedAt,omitzero"`
}

// entry is the authoritative record for one module. State and config
// mutations are guarded by the entry mutex; the name-to-entry map is
// guarded by the registry lock.
type entry struct {
	mu sync.Mutex

	name            string
	factory         ModuleFactory
	instance        Module
	metadata        ModuleMetadata
	state           ModuleState
	lastStableState ModuleState
	config          map[string]any
	err             error

	loadedAt    time.Time
	installedAt time.Time
	startedAt   time.Time
}

// Registry is the single source of truth for module instances, metadata,
// states and configurations. All state mutations funnel through it, and
// every successful transition is published on the injected event bus as a
// module.state_changed event plus the type-specific event.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry

	bus    *EventBus
	logger Logger
}

// NewRegistry creates a registry publishing on bus. A nil logger is
// replaced with a no-op logger.
func NewRegistry(bus *EventBus, logger Logger) *Registry {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Registry{
		entries: make(map[string]*entry),
		bus:     bus,
		logger:  logger,
	}
}

// Add creates an entry in StateNotInstalled with no instance attached.
func (r *Registry) Add(name string, factory ModuleFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateModule, name)
	}
	r.entries[name] = &entry{
		name:    name,
		factory: factory,
		state:   StateNotInstalled,
	}
	return nil
}

// AttachInstance binds the live instance to an entry, caches its metadata
// and transitions StateNotInstalled to StateLoaded, publishing
// module.loaded.
func (r *Registry) AttachInstance(name string, instance Module) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.state != StateNotInstalled {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: cannot attach %s in state %s", ErrIllegalTransition, name, state)
	}
	e.instance = instance
	e.metadata = instance.Metadata()
	e.mu.Unlock()
	return r.SetState(name, StateLoaded)
}

// ReplaceInstance swaps in a freshly constructed instance during reload.
// The entry must already be in StateLoaded; the state does not change and
// no event is published, the reload pipeline reports module.reloaded when
// it completes.
func (r *Registry) ReplaceInstance(name string, instance Module) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateLoaded {
		return fmt.Errorf("%w: cannot replace instance of %s in state %s", ErrIllegalTransition, name, e.state)
	}
	e.instance = instance
	e.metadata = instance.Metadata()
	e.loadedAt = time.Now()
	return nil
}

// SetFactory updates the factory used for subsequent reloads, typically
// after the source re-discovered the module.
func (r *Registry) SetFactory(name string, factory ModuleFactory) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.factory = factory
	return nil
}

// Factory returns the factory the module was registered with.
func (r *Registry) Factory(name string) (ModuleFactory, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.factory, nil
}

// SetState performs a guarded state transition and publishes the
// corresponding events. The error recorded on the entry is cleared on
// every successful transition.
func (r *Registry) SetState(name string, newState ModuleState) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}

	e.mu.Lock()
	from := e.state
	if !IsValidTransition(from, newState) {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s cannot move from %s to %s", ErrIllegalTransition, name, from, newState)
	}
	e.state = newState
	e.err = nil
	now := time.Now()
	switch newState {
	case StateLoaded:
		if from == StateNotInstalled {
			e.loadedAt = now
		}
		e.installedAt = time.Time{}
		e.startedAt = time.Time{}
	case StateInstalled:
		e.installedAt = now
	case StateStarted:
		e.startedAt = now
	case StateStopped:
		e.startedAt = time.Time{}
	}
	e.mu.Unlock()

	r.logger.Debug("Module state changed", "module", name, "from", from, "to", newState)
	r.publishTransition(name, from, newState)
	return nil
}

// publishTransition emits module.state_changed plus the event specific to
// the transition, when one exists.
func (r *Registry) publishTransition(name string, from, to ModuleState) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(NewEvent(EventTypeModuleStateChanged, name, map[string]any{
		"from": from.String(),
		"to":   to.String(),
	}))
	if specific := transitionEventType(from, to); specific != "" {
		r.bus.Publish(NewEvent(specific, name, nil))
	}
}

// transitionEventType maps a state machine edge to its type-specific
// event. The reset out of StateError has no specific event; only
// module.state_changed is published for it.
func transitionEventType(from, to ModuleState) string {
	switch to {
	case StateLoaded:
		switch from {
		case StateNotInstalled:
			return EventTypeModuleLoaded
		case StateInstalled, StateStopped:
			return EventTypeModuleUninstalled
		}
	case StateInstalled:
		return EventTypeModuleInstalled
	case StateStarted:
		return EventTypeModuleStarted
	case StateStopped:
		return EventTypeModuleStopped
	case StateNotInstalled:
		return EventTypeModuleUnloaded
	}
	return ""
}

// SetConfig stores the configuration on the entry. It is overwritten on
// every install and cleared (set to nil) on uninstall.
func (r *Registry) SetConfig(name string, config map[string]any) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cloneConfig(config)
	return nil
}

// Config returns a copy of the stored configuration, nil if the module
// has never been installed.
func (r *Registry) Config(name string) (map[string]any, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneConfig(e.config), nil
}

// RecordError moves the module to StateError, preserving the previous
// state for ResetError, and publishes module.error plus
// module.state_changed.
func (r *Registry) RecordError(name string, cause error) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	from := e.state
	if from != StateError {
		e.lastStableState = from
	}
	e.state = StateError
	e.err = cause
	e.mu.Unlock()

	r.logger.Error("Module entered error state", "module", name, "from", from, "error", cause)
	if r.bus != nil {
		r.bus.Publish(NewEvent(EventTypeModuleStateChanged, name, map[string]any{
			"from": from.String(),
			"to":   StateError.String(),
		}))
		r.bus.Publish(NewEvent(EventTypeModuleError, name, map[string]any{
			"error":  cause.Error(),
			"source": "lifecycle",
		}))
	}
	return nil
}

// ResetError returns a module from StateError to its last stable state,
// or StateLoaded when no stable state was recorded. Only
// module.state_changed is published.
func (r *Registry) ResetError(name string) error {
	e, err := r.lookup(name)
	if err != nil {
		return err
	}
	e.mu.Lock()
	if e.state != StateError {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("%w: %s is not in error state (current %s)", ErrIllegalTransition, name, state)
	}
	target := e.lastStableState
	if target == "" || target == StateNotInstalled {
		target = StateLoaded
	}
	e.state = target
	e.err = nil
	e.mu.Unlock()

	r.logger.Info("Module error reset", "module", name, "state", target)
	if r.bus != nil {
		r.bus.Publish(NewEvent(EventTypeModuleStateChanged, name, map[string]any{
			"from": StateError.String(),
			"to":   target.String(),
		}))
	}
	return nil
}

// Get returns the live module instance.
func (r *Registry) Get(name string) (Module, error) {
	e, err := r.lookup(name)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.instance == nil {
		return nil, fmt.Errorf("%w: %s has no instance", ErrModuleNotFound, name)
	}
	return e.instance, nil
}

// State returns the current state of the module.
func (r *Registry) State(name string) (ModuleState, error) {
	e, err := r.lookup(name)
	if err != nil {
		return "", err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, nil
}

// Metadata returns the cached metadata snapshot of the module.
func (r *Registry) Metadata(name string) (ModuleMetadata, error) {
	e, err := r.lookup(name)
	if err != nil {
		return ModuleMetadata{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.metadata, nil
}

// Info returns a snapshot of the entry.
func (r *Registry) Info(name string) (ModuleInfo, error) {
	e, err := r.lookup(name)
	if err != nil {
		return ModuleInfo{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	meta := e.metadata
	meta.Dependencies = append([]string(nil), meta.Dependencies...)
	meta.OptionalDependencies = append([]string(nil), meta.OptionalDependencies...)
	if meta.ConfigSchema != nil {
		schema := make(ConfigSchema, len(meta.ConfigSchema))
		for option, typeName := range meta.ConfigSchema {
			schema[option] = typeName
		}
		meta.ConfigSchema = schema
	}
	info := ModuleInfo{
		Name:            e.name,
		Metadata:        meta,
		State:           e.state,
		LastStableState: e.lastStableState,
		Config:          cloneConfig(e.config),
		LoadedAt:        e.loadedAt,
		InstalledAt:     e.installedAt,
		StartedAt:       e.startedAt,
	}
	if e.err != nil {
		info.Err = e.err.Error()
	}
	return info, nil
}

// List returns the names of all known modules, sorted.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ListByState returns the names of all modules currently in the given
// state, sorted.
func (r *Registry) ListByState(state ModuleState) []string {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var names []string
	for _, e := range entries {
		e.mu.Lock()
		if e.state == state {
			names = append(names, e.name)
		}
		e.mu.Unlock()
	}
	sort.Strings(names)
	return names
}

// States returns a snapshot of every module's current state.
func (r *Registry) States() map[string]ModuleState {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	states := make(map[string]ModuleState, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		states[e.name] = e.state
		e.mu.Unlock()
	}
	return states
}

// Has reports whether the name is known to the registry.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[name]
	return ok
}

// IsLoaded reports whether the module has a live instance attached.
func (r *Registry) IsLoaded(name string) bool {
	e, err := r.lookup(name)
	if err != nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.instance != nil
}

// IsStarted reports whether the module exists and is running.
func (r *Registry) IsStarted(name string) bool {
	state, err := r.State(name)
	return err == nil && state == StateStarted
}

// IsInstalled reports whether the module exists and its install hook has
// run without being reversed.
func (r *Registry) IsInstalled(name string) bool {
	state, err := r.State(name)
	return err == nil && state.AtLeastInstalled()
}

// Remove deletes the entry. When the entry was in StateLoaded the removal
// is announced as module.unloaded plus the state change to not_installed;
// entries removed during a load rollback never became visible and are
// dropped silently.
func (r *Registry) Remove(name string) error {
	r.mu.Lock()
	e, ok := r.entries[name]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	delete(r.entries, name)
	r.mu.Unlock()

	e.mu.Lock()
	from := e.state
	e.mu.Unlock()

	if from == StateLoaded {
		r.publishTransition(name, StateLoaded, StateNotInstalled)
	}
	r.logger.Info("Module removed from registry", "module", name)
	return nil
}

func (r *Registry) lookup(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return e, nil
}

func cloneConfig(config map[string]any) map[string]any {
	if config == nil {
		return nil
	}
	clone := make(map[string]any, len(config))
	for key, value := range config {
		clone[key] = value
	}
	return clone
}
