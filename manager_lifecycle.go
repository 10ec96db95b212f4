package symphra

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// InstallModule validates the configuration and runs the install hook.
// The module must be in StateLoaded.
//
// Validation failures (schema mismatch or the module's own ValidateConfig
// returning false) fail with ErrModuleConfig and leave the state
// untouched; no event is published. A failing install hook moves the
// module to StateError and publishes module.error.
func (m *Manager) InstallModule(ctx context.Context, name string, config map[string]any) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	return m.installLocked(ctx, name, config)
}

func (m *Manager) installLocked(ctx context.Context, name string, config map[string]any) error {
	state, err := m.registry.State(name)
	if err != nil {
		return err
	}
	if state != StateLoaded {
		return fmt.Errorf("%w: cannot install %s in state %s", ErrIllegalTransition, name, state)
	}

	meta, err := m.registry.Metadata(name)
	if err != nil {
		return err
	}
	if err := ValidateSchema(config, meta.ConfigSchema); err != nil {
		return err
	}

	instance, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	if validator, ok := instance.(ConfigValidator); ok && !validator.ValidateConfig(config) {
		return fmt.Errorf("%w: %s rejected configuration", ErrModuleConfig, name)
	}

	if installable, ok := instance.(Installable); ok {
		err := m.callHook(ctx, name, "install", func(ctx context.Context) error {
			return installable.Install(ctx, config)
		})
		if err != nil {
			_ = m.registry.RecordError(name, err)
			return err
		}
	}

	if err := m.registry.SetConfig(name, config); err != nil {
		return err
	}
	if err := m.registry.SetState(name, StateInstalled); err != nil {
		return err
	}
	m.logger.Info("Module installed", "module", name)
	return nil
}

// StartModule runs the start hook of a module in StateInstalled or
// StateStopped. Every required dependency must already be started; the
// manager does not auto-start dependencies here, use StartAll for that.
func (m *Manager) StartModule(ctx context.Context, name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	return m.startLocked(ctx, name)
}

func (m *Manager) startLocked(ctx context.Context, name string) error {
	state, err := m.registry.State(name)
	if err != nil {
		return err
	}
	if state != StateInstalled && state != StateStopped {
		return fmt.Errorf("%w: cannot start %s in state %s", ErrIllegalTransition, name, state)
	}

	meta, err := m.registry.Metadata(name)
	if err != nil {
		return err
	}
	for _, dep := range meta.Dependencies {
		if !m.registry.IsStarted(dep) {
			return fmt.Errorf("%w: %s requires %s", ErrDependencyNotStarted, name, dep)
		}
	}

	instance, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	if startable, ok := instance.(Startable); ok {
		err := m.callHook(ctx, name, "start", startable.Start)
		if err != nil {
			_ = m.registry.RecordError(name, err)
			return err
		}
	}

	if err := m.registry.SetState(name, StateStarted); err != nil {
		return err
	}
	m.logger.Info("Module started", "module", name)
	return nil
}

// StopModule stops a started module. Without cascade the call fails with
// ErrDependentStillRunning while any started dependent exists; with
// cascade the started transitive dependents are stopped first, in reverse
// topological order.
func (m *Manager) StopModule(ctx context.Context, name string, cascade bool) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.registry.State(name)
	if err != nil {
		return err
	}
	if state != StateStarted {
		return fmt.Errorf("%w: cannot stop %s in state %s", ErrIllegalTransition, name, state)
	}

	if cascade {
		if err := m.stopDependents(ctx, name); err != nil {
			return err
		}
	} else {
		for _, dependent := range m.graph.DependentsOf(name) {
			if m.registry.IsStarted(dependent) {
				return fmt.Errorf("%w: %s is required by started module %s", ErrDependentStillRunning, name, dependent)
			}
		}
	}
	return m.stopLocked(ctx, name)
}

// stopDependents stops every started transitive dependent of name in
// reverse topological order.
func (m *Manager) stopDependents(ctx context.Context, name string) error {
	running := m.startedSubset(m.graph.TransitiveDependentsOf(name))
	order, err := m.resolver.ResolveStopOrder(running)
	if err != nil {
		return err
	}
	for _, dependent := range order {
		if err := m.stopIfStarted(ctx, dependent); err != nil {
			return err
		}
	}
	return nil
}

// stopIfStarted stops the module when it is running and is a no-op
// otherwise. Used by cascades and sweeps.
func (m *Manager) stopIfStarted(ctx context.Context, name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.registry.State(name)
	if err != nil {
		return err
	}
	if state != StateStarted {
		m.logger.Debug("Module not started, skipping stop", "module", name, "state", state)
		return nil
	}
	return m.stopLocked(ctx, name)
}

func (m *Manager) stopLocked(ctx context.Context, name string) error {
	instance, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	if stoppable, ok := instance.(Stoppable); ok {
		err := m.callHook(ctx, name, "stop", stoppable.Stop)
		if err != nil {
			_ = m.registry.RecordError(name, err)
			return err
		}
	}
	if err := m.registry.SetState(name, StateStopped); err != nil {
		return err
	}
	m.logger.Info("Module stopped", "module", name)
	return nil
}

// UninstallModule runs the uninstall hook of a module in StateInstalled
// or StateStopped. The module returns to StateLoaded and its stored
// configuration is cleared.
func (m *Manager) UninstallModule(ctx context.Context, name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()
	return m.uninstallLocked(ctx, name, true)
}

// uninstallLocked reverses an install. clearConfig is false during reload,
// which needs the stored configuration for the reinstall that follows.
func (m *Manager) uninstallLocked(ctx context.Context, name string, clearConfig bool) error {
	state, err := m.registry.State(name)
	if err != nil {
		return err
	}
	if state != StateInstalled && state != StateStopped {
		return fmt.Errorf("%w: cannot uninstall %s in state %s", ErrIllegalTransition, name, state)
	}
	for _, dependent := range m.graph.DependentsOf(name) {
		if m.registry.IsStarted(dependent) {
			return fmt.Errorf("%w: %s is required by started module %s", ErrDependentStillRunning, name, dependent)
		}
	}

	instance, err := m.registry.Get(name)
	if err != nil {
		return err
	}
	if uninstallable, ok := instance.(Uninstallable); ok {
		err := m.callHook(ctx, name, "uninstall", uninstallable.Uninstall)
		if err != nil {
			_ = m.registry.RecordError(name, err)
			return err
		}
	}

	if err := m.registry.SetState(name, StateLoaded); err != nil {
		return err
	}
	if clearConfig {
		if err := m.registry.SetConfig(name, nil); err != nil {
			return err
		}
	}
	m.logger.Info("Module uninstalled", "module", name)
	return nil
}

// StartAll installs and starts every loadable module in dependency order.
//
// Entries still in StateLoaded are installed first with their stored
// (usually nil) configuration; entries whose own ValidateConfig rejects
// that configuration are skipped and left loaded. Any other failure moves
// the failing module to StateError and aborts the remaining starts;
// modules already started stay running.
func (m *Manager) StartAll(ctx context.Context) error {
	order, err := m.startCandidates()
	if err != nil {
		return err
	}
	for _, name := range order {
		if err := m.installAndStart(ctx, name); err != nil {
			if errors.Is(err, errSkippedByValidation) {
				continue
			}
			return err
		}
	}
	return nil
}

// errSkippedByValidation marks modules StartAll leaves loaded because
// their validator rejected the stored configuration.
var errSkippedByValidation = errors.New("skipped by config validation")

// installAndStart drives one module from its current state to started.
func (m *Manager) installAndStart(ctx context.Context, name string) error {
	lock := m.lockFor(name)
	lock.Lock()
	defer lock.Unlock()

	state, err := m.registry.State(name)
	if err != nil {
		return err
	}
	switch state {
	case StateStarted:
		return nil
	case StateLoaded:
		config, err := m.registry.Config(name)
		if err != nil {
			return err
		}
		instance, err := m.registry.Get(name)
		if err != nil {
			return err
		}
		if validator, ok := instance.(ConfigValidator); ok && !validator.ValidateConfig(config) {
			m.logger.Warn("Skipping module, configuration rejected", "module", name)
			return errSkippedByValidation
		}
		if err := m.installLocked(ctx, name, config); err != nil {
			return err
		}
	}
	return m.startLocked(ctx, name)
}

// startCandidates returns the modules StartAll should consider, in start
// order.
func (m *Manager) startCandidates() ([]string, error) {
	return m.resolver.ResolveStartOrder(m.startableNames())
}

// startableNames lists every module that StartAll could bring up: loaded,
// installed or stopped.
func (m *Manager) startableNames() []string {
	// Non-nil even when empty: the resolver orders every registered module
	// for a nil subset.
	names := []string{}
	for name, state := range m.registry.States() {
		switch state {
		case StateLoaded, StateInstalled, StateStopped:
			names = append(names, name)
		}
	}
	return names
}

// StartAllConcurrent is StartAll with per-level fan-out: modules on the
// same topological level start in parallel, levels run strictly in
// sequence. Within a level every module is attempted (fail-soft); a
// failing level aborts the remaining levels (fail-fast), which is the
// same abort boundary StartAll draws after a failing module.
func (m *Manager) StartAllConcurrent(ctx context.Context) error {
	levels, err := m.resolver.StartLevels(m.startableNames())
	if err != nil {
		return err
	}

	for _, level := range levels {
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			errs []error
		)
		for _, name := range level {
			wg.Add(1)
			go func(name string) {
				defer wg.Done()
				if err := m.installAndStart(ctx, name); err != nil && !errors.Is(err, errSkippedByValidation) {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
			}(name)
		}
		wg.Wait()
		if len(errs) > 0 {
			return errors.Join(errs...)
		}
	}
	return nil
}

// StopAll stops every started module in reverse dependency order. The
// sweep is best-effort: a failing stop surfaces as a module.error event
// and the sweep continues. The last failure is returned.
func (m *Manager) StopAll(ctx context.Context) error {
	order, err := m.resolver.ResolveStopOrder(m.registry.ListByState(StateStarted))
	if err != nil {
		return err
	}
	var lastErr error
	for _, name := range order {
		if err := m.stopIfStarted(ctx, name); err != nil {
			m.logger.Error("Error stopping module", "module", name, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// startedSubset filters names down to those currently started.
func (m *Manager) startedSubset(names []string) []string {
	started := make([]string, 0, len(names))
	for _, name := range names {
		if m.registry.IsStarted(name) {
			started = append(started, name)
		}
	}
	return started
}
