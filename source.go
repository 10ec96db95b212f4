package symphra

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// ModuleSource supplies modules to the manager. The core never scans the
// filesystem itself; whatever mechanism discovers module code lives behind
// this seam.
type ModuleSource interface {
	// Discover lists the names of all currently available modules.
	Discover(ctx context.Context) ([]string, error)

	// Load returns the factory for one module. It returns an error
	// wrapping ErrModuleNotFound when the name is unknown.
	Load(ctx context.Context, name string) (ModuleFactory, error)
}

// WatchingSource is an optional extension of ModuleSource for sources that
// can report changes to a module's backing code. The manager subscribes to
// the stream when hot reload is enabled and triggers a reload for every
// name received.
type WatchingSource interface {
	ModuleSource

	// Watch emits the name of each changed module until ctx is cancelled.
	// The returned channel is closed when watching stops.
	Watch(ctx context.Context) (<-chan string, error)
}

// MapSource is an in-memory ModuleSource backed by a name-to-factory map.
// It is the building block for embedding modules compiled into the host
// binary, and for tests.
type MapSource struct {
	mu        sync.RWMutex
	factories map[string]ModuleFactory
}

// NewMapSource creates an empty MapSource.
func NewMapSource() *MapSource {
	return &MapSource{factories: make(map[string]ModuleFactory)}
}

// Register adds or replaces the factory for a name.
func (s *MapSource) Register(name string, factory ModuleFactory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.factories[name] = factory
}

// Unregister removes a name. Unknown names are ignored.
func (s *MapSource) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.factories, name)
}

// Discover returns the registered names, sorted.
func (s *MapSource) Discover(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.factories))
	for name := range s.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Load returns the registered factory for name.
func (s *MapSource) Load(_ context.Context, name string) (ModuleFactory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	factory, ok := s.factories[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModuleNotFound, name)
	}
	return factory, nil
}

// DirectoryWatcher decorates a ModuleSource with filesystem watching. It
// maps file events under the watched directories to module names (the file
// base name without extension, or the containing directory name for
// nested paths) and emits those names on the Watch stream. This gives any
// source the WatchingSource capability needed for hot reload. Watching is
// not recursive: only entries directly inside a watched directory produce
// events, so a change to a file inside a subdirectory is not reported.
type DirectoryWatcher struct {
	ModuleSource

	dirs   []string
	logger Logger
}

// NewDirectoryWatcher wraps src with fsnotify-based change reporting over
// dirs. A nil logger is replaced with a no-op logger.
func NewDirectoryWatcher(src ModuleSource, logger Logger, dirs ...string) *DirectoryWatcher {
	if logger == nil {
		logger = noopLogger{}
	}
	return &DirectoryWatcher{ModuleSource: src, dirs: dirs, logger: logger}
}

// Watch starts the filesystem watcher and streams changed module names
// until ctx is cancelled.
func (w *DirectoryWatcher) Watch(ctx context.Context) (<-chan string, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	for _, dir := range w.dirs {
		if err := watcher.Add(dir); err != nil {
			_ = watcher.Close()
			return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}

	changed := make(chan string)
	go func() {
		defer close(changed)
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				name := w.moduleNameFor(event.Name)
				if name == "" {
					continue
				}
				w.logger.Debug("Source change detected", "module", name, "path", event.Name, "op", event.Op.String())
				select {
				case changed <- name:
				case <-ctx.Done():
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				w.logger.Warn("Filesystem watcher error", "error", err)
			}
		}
	}()
	return changed, nil
}

// moduleNameFor derives the module name a changed path belongs to: the
// name of the first path element below the watched directory, stripped of
// any file extension. Hidden files are ignored.
func (w *DirectoryWatcher) moduleNameFor(path string) string {
	for _, dir := range w.dirs {
		rel, err := filepath.Rel(dir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			continue
		}
		first := rel
		if idx := strings.IndexRune(rel, filepath.Separator); idx >= 0 {
			first = rel[:idx]
		}
		if strings.HasPrefix(first, ".") {
			return ""
		}
		return strings.TrimSuffix(first, filepath.Ext(first))
	}
	return ""
}
