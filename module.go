// Package symphra provides a module lifecycle manager for Go.
// It discovers pluggable units of code ("modules") through a ModuleSource,
// resolves their declared dependencies, drives each module through a fixed
// state machine (load, install, start, stop, uninstall), and broadcasts
// every state transition on a typed event bus. Modules can be hot reloaded
// in place while their running dependents are stopped and restarted in
// dependency order.
//
// A module is any value implementing the Module interface. All lifecycle
// hooks beyond Metadata are optional; the manager detects them by type
// assertion and treats missing hooks as no-ops.
//
// Basic usage:
//
//	src := symphra.NewMapSource()
//	src.Register("database", func() (symphra.Module, error) { return &DBModule{}, nil })
//	mgr := symphra.NewManager(src, symphra.WithLogger(logger))
//	if err := mgr.LoadModule(ctx, "database"); err != nil {
//		log.Fatal(err)
//	}
//	if err := mgr.StartAll(ctx); err != nil {
//		log.Fatal(err)
//	}
package symphra

import "context"

// Module represents a managed unit of code. Metadata is the only required
// capability; everything else is declared through the optional interfaces
// below.
//
// The metadata must be immutable for the lifetime of the instance: the
// manager caches a snapshot at load time and uses it for dependency
// resolution until the module is reloaded or unloaded.
type Module interface {
	// Metadata returns the declarative description of this module: its
	// unique name, version label, required and optional dependencies, and
	// an optional configuration schema.
	Metadata() ModuleMetadata
}

// ModuleFactory produces a fresh module instance. The manager invokes the
// factory on initial load and again on every reload, so factories must not
// return a shared instance.
type ModuleFactory func() (Module, error)

// Bootstrapper is an optional interface for modules that need to run setup
// logic immediately after construction, before the instance is attached to
// the registry. A bootstrap failure is reported as a load error.
type Bootstrapper interface {
	Bootstrap() error
}

// Installable is an optional interface for modules with install-time work.
// Install receives the configuration passed to Manager.InstallModule; it
// runs after the configuration has been validated.
type Installable interface {
	Install(ctx context.Context, config map[string]any) error
}

// Startable is an optional interface for modules that perform startup
// operations. Start is called only after every required dependency of the
// module has been started.
//
// Start should be non-blocking for long-running work: spawn goroutines and
// use the provided context for graceful shutdown.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is an optional interface for modules that need cleanup when
// they stop. Dependents are always stopped before their dependencies.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// Uninstallable is an optional interface for modules with uninstall-time
// work, the inverse of Install. On success the module returns to the
// loaded state and its stored configuration is cleared.
type Uninstallable interface {
	Uninstall(ctx context.Context) error
}

// Reloadable is an optional interface for modules that want a notification
// hook during hot reload. The manager invokes Reload on the freshly
// constructed instance after it is attached and before it is reinstalled,
// giving the new instance a chance to migrate or warm state.
type Reloadable interface {
	Reload(ctx context.Context) error
}

// ConfigValidator is an optional interface for modules that validate their
// own configuration. Returning false fails InstallModule with a
// configuration error before the Install hook runs and without changing
// the module's state.
type ConfigValidator interface {
	ValidateConfig(config map[string]any) bool
}

// ModuleMetadata describes a module. It is immutable once the instance is
// attached to the registry.
type ModuleMetadata struct {
	// Name is the unique, case-sensitive identifier of the module.
	// It must be non-empty, contain no whitespace, and match the name the
	// module was requested under.
	Name string `json:"name"`

	// Version is a free-form semantic version label. The core records it
	// for diagnostics but does not interpret it.
	Version string `json:"version,omitempty"`

	// Description is an optional human-readable summary.
	Description string `json:"description,omitempty"`

	// Dependencies lists the names of modules that must be started before
	// this module can start. Order is preserved for diagnostics only.
	Dependencies []string `json:"dependencies,omitempty"`

	// OptionalDependencies lists modules that are used when present.
	// Their absence is never an error and they do not gate startup.
	OptionalDependencies []string `json:"optionalDependencies,omitempty"`

	// ConfigSchema optionally declares the expected type of each known
	// configuration option. See ValidateSchema.
	ConfigSchema ConfigSchema `json:"configSchema,omitempty"`
}
