package symphra

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapSource(t *testing.T) {
	src := NewMapSource()
	src.Register("db", func() (Module, error) { return newStub("db"), nil })
	src.Register("api", func() (Module, error) { return newStub("api"), nil })
	ctx := context.Background()

	names, err := src.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "db"}, names)

	factory, err := src.Load(ctx, "db")
	require.NoError(t, err)
	mod, err := factory()
	require.NoError(t, err)
	assert.Equal(t, "db", mod.Metadata().Name)

	_, err = src.Load(ctx, "ghost")
	assert.True(t, errors.Is(err, ErrModuleNotFound))

	src.Unregister("db")
	_, err = src.Load(ctx, "db")
	assert.True(t, errors.Is(err, ErrModuleNotFound))
}

func TestDirectoryWatcherDelegates(t *testing.T) {
	src := NewMapSource()
	src.Register("db", func() (Module, error) { return newStub("db"), nil })
	watcher := NewDirectoryWatcher(src, nil, t.TempDir())
	ctx := context.Background()

	names, err := watcher.Discover(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"db"}, names)

	_, err = watcher.Load(ctx, "db")
	require.NoError(t, err)
}

func TestDirectoryWatcherEmitsChangedNames(t *testing.T) {
	dir := t.TempDir()
	watcher := NewDirectoryWatcher(NewMapSource(), nil, dir)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed, err := watcher.Watch(ctx)
	require.NoError(t, err)

	writeTestFile(t, dir, "database.go", "package database")

	select {
	case name := <-changed:
		assert.Equal(t, "database", name)
	case <-time.After(3 * time.Second):
		t.Fatal("no change signal received")
	}
}

func TestDirectoryWatcherClosesOnCancel(t *testing.T) {
	dir := t.TempDir()
	watcher := NewDirectoryWatcher(NewMapSource(), nil, dir)
	ctx, cancel := context.WithCancel(context.Background())

	changed, err := watcher.Watch(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-changed:
		assert.False(t, open, "channel closes when watching stops")
	case <-time.After(3 * time.Second):
		t.Fatal("channel was not closed")
	}
}

func TestDirectoryWatcherUnknownDir(t *testing.T) {
	watcher := NewDirectoryWatcher(NewMapSource(), nil, "/does/not/exist")
	_, err := watcher.Watch(context.Background())
	require.Error(t, err)
}

func TestDirectoryWatcherModuleNameMapping(t *testing.T) {
	w := NewDirectoryWatcher(NewMapSource(), nil, "/modules")
	assert.Equal(t, "database", w.moduleNameFor("/modules/database.go"))
	assert.Equal(t, "database", w.moduleNameFor("/modules/database/impl.go"))
	assert.Equal(t, "", w.moduleNameFor("/modules/.hidden"))
	assert.Equal(t, "", w.moduleNameFor("/elsewhere/database.go"))
}
