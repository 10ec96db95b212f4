package symphra

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
)

// stubModule is the configurable module used across the test suite. It
// implements every optional lifecycle interface and records hook
// invocations in order.
type stubModule struct {
	meta ModuleMetadata

	mu         sync.Mutex
	calls      []string
	lastConfig map[string]any

	bootstrapErr error
	installErr   error
	startErr     error
	stopErr      error
	uninstallErr error
	reloadErr    error

	// validate overrides ValidateConfig; nil accepts everything.
	validate func(config map[string]any) bool

	// blockStart, when non-nil, makes Start wait until the channel is
	// closed or the context expires.
	blockStart chan struct{}
}

func newStub(name string, deps ...string) *stubModule {
	return &stubModule{meta: ModuleMetadata{
		Name:         name,
		Version:      "1.0.0",
		Dependencies: deps,
	}}
}

func (s *stubModule) Metadata() ModuleMetadata { return s.meta }

func (s *stubModule) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, call)
}

func (s *stubModule) Calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func (s *stubModule) Bootstrap() error {
	s.record("bootstrap")
	return s.bootstrapErr
}

func (s *stubModule) Install(_ context.Context, config map[string]any) error {
	s.record("install")
	s.mu.Lock()
	s.lastConfig = config
	s.mu.Unlock()
	return s.installErr
}

func (s *stubModule) Start(ctx context.Context) error {
	s.record("start")
	if s.blockStart != nil {
		select {
		case <-s.blockStart:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return s.startErr
}

func (s *stubModule) Stop(context.Context) error {
	s.record("stop")
	return s.stopErr
}

func (s *stubModule) Uninstall(context.Context) error {
	s.record("uninstall")
	return s.uninstallErr
}

func (s *stubModule) Reload(context.Context) error {
	s.record("reload")
	return s.reloadErr
}

func (s *stubModule) ValidateConfig(config map[string]any) bool {
	s.record("validate_config")
	if s.validate == nil {
		return true
	}
	return s.validate(config)
}

// bareModule implements only Metadata; every hook is absent.
type bareModule struct {
	meta ModuleMetadata
}

func (b *bareModule) Metadata() ModuleMetadata { return b.meta }

// eventRecorder collects bus events for assertions.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) handler(event Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *eventRecorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) typed(eventType string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []Event
	for _, event := range r.events {
		if event.Type == eventType {
			matched = append(matched, event)
		}
	}
	return matched
}

// moduleSequence extracts "type(module)" strings for the given event
// types in recording order, making ordering assertions readable.
func (r *eventRecorder) moduleSequence(eventTypes ...string) []string {
	include := make(map[string]bool, len(eventTypes))
	for _, t := range eventTypes {
		include[t] = true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var seq []string
	for _, event := range r.events {
		if include[event.Type] {
			seq = append(seq, fmt.Sprintf("%s(%s)", event.Type, event.ModuleName))
		}
	}
	return seq
}

// testLogger captures structured log lines.
type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) log(level, msg string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf("%s: %s %v", level, msg, args))
}

func (l *testLogger) Info(msg string, args ...any)  { l.log("INFO", msg, args...) }
func (l *testLogger) Error(msg string, args ...any) { l.log("ERROR", msg, args...) }
func (l *testLogger) Warn(msg string, args ...any)  { l.log("WARN", msg, args...) }
func (l *testLogger) Debug(msg string, args ...any) { l.log("DEBUG", msg, args...) }

// newTestManager wires a manager over a MapSource populated with the
// given modules.
func newTestManager(modules ...*stubModule) (*Manager, *MapSource) {
	src := NewMapSource()
	for _, mod := range modules {
		mod := mod
		src.Register(mod.meta.Name, func() (Module, error) { return mod, nil })
	}
	mgr := NewManager(src, WithLogger(&testLogger{}))
	return mgr, src
}

// writeTestFile creates a file under dir, used to provoke watcher events.
func writeTestFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
}

// loadAll loads the given names in order and returns the first load
// error; the caller asserts on it.
func loadAll(ctx context.Context, mgr *Manager, names ...string) error {
	for _, name := range names {
		if err := mgr.LoadModule(ctx, name); err != nil {
			return err
		}
	}
	return nil
}
