package symphra

import (
	"errors"
)

// Lifecycle errors
var (
	// ErrModuleNotFound indicates a module name unknown to the registry or
	// to the attached source.
	ErrModuleNotFound = errors.New("module not found")

	// ErrDuplicateModule indicates a load attempt for an already
	// registered name.
	ErrDuplicateModule = errors.New("module already registered")

	// ErrModuleLoad indicates that a factory failed, or that the metadata
	// returned by a fresh instance did not validate.
	ErrModuleLoad = errors.New("module load failed")

	// ErrModuleConfig indicates that validate_config rejected the supplied
	// configuration or that it mismatched the declared schema.
	ErrModuleConfig = errors.New("module config invalid")

	// ErrIllegalTransition indicates a lifecycle operation invoked from an
	// incompatible state.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrCyclicDependency indicates that the dependency graph cannot be
	// linearized.
	ErrCyclicDependency = errors.New("cyclic dependency detected")

	// ErrDependencyNotStarted indicates a start attempt before every
	// required dependency was started.
	ErrDependencyNotStarted = errors.New("required dependency not started")

	// ErrDependentStillRunning indicates a stop or uninstall attempt while
	// a started dependent exists and cascading was not requested.
	ErrDependentStillRunning = errors.New("dependent module still running")

	// ErrHookFailure indicates a user lifecycle hook returned an error or
	// panicked.
	ErrHookFailure = errors.New("module hook failed")

	// ErrTimeout indicates the context deadline expired while a lifecycle
	// hook was running.
	ErrTimeout = errors.New("lifecycle operation timed out")
)

// Infrastructure errors
var (
	ErrWatchNotSupported       = errors.New("module source does not support watching")
	ErrHotReloadDisabled       = errors.New("hot reload is not enabled")
	ErrUnsupportedConfigFormat = errors.New("unsupported config file format")
	ErrSchedulerAlreadyRunning = errors.New("reload scheduler already running")
)
