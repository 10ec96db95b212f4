package symphra

import (
	"context"
	"fmt"
)

// ReloadModule re-instantiates a module in place while preserving the
// eventual running state of its dependents:
//
//  1. Started transitive dependents are stopped in reverse topological
//     order and remembered.
//  2. The module itself is stopped (if running) and uninstalled (if
//     installed), keeping its stored configuration.
//  3. The factory produces a fresh instance, which is bootstrapped,
//     validated, attached and offered the optional Reload hook.
//  4. The module is reinstalled with the previously stored configuration
//     and restarted if it had been running.
//  5. The remembered dependents are restarted in topological order.
//
// Publishes module.reloaded on success. A failing factory, bootstrap or
// hook of the module leaves it in StateError. A fresh instance whose
// dependencies would form a cycle is discarded, and the module stays in
// StateLoaded with its old instance and edges. A configuration rejected
// on reinstall leaves it in StateLoaded. A failing stop of a dependent
// leaves that dependent in StateError and the module itself untouched.
// After a failure before step 5 no dependent is restarted; in step 5 the
// first failing restart ends the sweep.
func (m *Manager) ReloadModule(ctx context.Context, name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	info, err := m.registry.Info(name)
	if err != nil {
		return err
	}
	if info.State == StateError {
		// A broken module is the most common reload target; recover it to
		// its last stable state and rebuild from there.
		if err := m.registry.ResetError(name); err != nil {
			return err
		}
		if info, err = m.registry.Info(name); err != nil {
			return err
		}
	}
	wasStarted := info.State == StateStarted

	running := m.startedSubset(m.graph.TransitiveDependentsOf(name))
	restartOrder, err := m.resolver.ResolveStartOrder(running)
	if err != nil {
		return err
	}

	if wasStarted {
		if err := m.stopDependents(ctx, name); err != nil {
			return err
		}
		if err := m.stopLocked(ctx, name); err != nil {
			return err
		}
	}

	state, err := m.registry.State(name)
	if err != nil {
		return err
	}
	if state.AtLeastInstalled() {
		if err := m.uninstallLocked(ctx, name, false); err != nil {
			return err
		}
	}

	if err := m.refreshInstance(ctx, name, info.Metadata); err != nil {
		return err
	}

	if info.State.AtLeastInstalled() {
		if err := m.installLocked(ctx, name, info.Config); err != nil {
			return err
		}
	}
	if wasStarted {
		if err := m.startLocked(ctx, name); err != nil {
			return err
		}
	}

	for _, dependent := range restartOrder {
		if err := m.StartModule(ctx, dependent); err != nil {
			return fmt.Errorf("failed to restart dependent %s after reloading %s: %w", dependent, name, err)
		}
	}

	m.bus.Publish(NewEvent(EventTypeModuleReloaded, name, map[string]any{
		"restartedDependents": restartOrder,
	}))
	m.logger.Info("Module reloaded", "module", name, "restartedDependents", restartOrder)
	return nil
}

// refreshInstance builds the replacement instance for a reload, swaps the
// module's graph edges to the new metadata (rolling back on a cycle) and
// attaches it. The caller holds the module lock and guarantees the entry
// is in StateLoaded.
func (m *Manager) refreshInstance(ctx context.Context, name string, oldMeta ModuleMetadata) error {
	factory, err := m.registry.Factory(name)
	if err != nil {
		return err
	}
	instance, err := m.newInstance(name, factory)
	if err != nil {
		_ = m.registry.RecordError(name, err)
		return err
	}

	newMeta := instance.Metadata()
	m.graph.RemoveEdges(name)
	for _, dep := range newMeta.Dependencies {
		m.graph.AddEdge(name, dep)
	}
	if cycles := m.graph.DetectCycles(); len(cycles) > 0 {
		m.graph.RemoveEdges(name)
		for _, dep := range oldMeta.Dependencies {
			m.graph.AddEdge(name, dep)
		}
		return fmt.Errorf("%w: reloading %s would create %v", ErrCyclicDependency, name, formatCycles(cycles))
	}

	if err := m.registry.ReplaceInstance(name, instance); err != nil {
		return err
	}

	if reloadable, ok := instance.(Reloadable); ok {
		err := m.callHook(ctx, name, "reload", reloadable.Reload)
		if err != nil {
			_ = m.registry.RecordError(name, err)
			return err
		}
	}
	return nil
}

// ReloadAll reloads every registered module best-effort, collecting
// per-module failures.
func (m *Manager) ReloadAll(ctx context.Context) map[string]error {
	failures := make(map[string]error)
	for _, name := range m.registry.List() {
		if err := m.ReloadModule(ctx, name); err != nil {
			m.logger.Error("Failed to reload module", "module", name, "error", err)
			failures[name] = err
		}
	}
	return failures
}

// TriggerReload reacts to a source-change signal for one module. It is
// only available when hot reload is enabled. A module the registry does
// not know yet is loaded fresh; a known module has its factory refreshed
// from the source and is then reloaded.
func (m *Manager) TriggerReload(ctx context.Context, name string) error {
	if !m.hotReload {
		return ErrHotReloadDisabled
	}
	if m.isExcluded(name) {
		return fmt.Errorf("%w: %s is excluded", ErrModuleNotFound, name)
	}

	if !m.registry.Has(name) {
		return m.LoadModule(ctx, name)
	}

	factory, err := m.source.Load(ctx, name)
	if err != nil {
		return fmt.Errorf("failed to refresh %s from source: %w", name, err)
	}
	if err := m.registry.SetFactory(name, factory); err != nil {
		return err
	}
	return m.ReloadModule(ctx, name)
}

// StartHotReload subscribes to the source's change stream and triggers a
// reload for every signal until ctx is cancelled or StopHotReload is
// called. The source must implement WatchingSource; wrap plain sources
// with NewDirectoryWatcher, or use a ReloadScheduler for periodic rescans.
func (m *Manager) StartHotReload(ctx context.Context) error {
	if !m.hotReload {
		return ErrHotReloadDisabled
	}
	watching, ok := m.source.(WatchingSource)
	if !ok {
		return ErrWatchNotSupported
	}

	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watchCancel != nil {
		return nil
	}

	watchCtx, cancel := context.WithCancel(ctx)
	changed, err := watching.Watch(watchCtx)
	if err != nil {
		cancel()
		return err
	}
	m.watchCancel = cancel

	go func() {
		for name := range changed {
			if err := m.TriggerReload(watchCtx, name); err != nil {
				m.logger.Warn("Hot reload failed", "module", name, "error", err)
			}
		}
	}()
	m.logger.Info("Hot reload watching started")
	return nil
}

// StopHotReload cancels the watch subscription started by StartHotReload.
// It is a no-op when watching is not active.
func (m *Manager) StopHotReload() {
	m.watchMu.Lock()
	defer m.watchMu.Unlock()
	if m.watchCancel != nil {
		m.watchCancel()
		m.watchCancel = nil
		m.logger.Info("Hot reload watching stopped")
	}
}
