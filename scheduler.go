package symphra

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
)

// ReloadScheduler rescans the module source on a cron schedule and feeds
// the results through the manager's hot reload path. It is the fallback
// for sources that cannot watch their backing store; sources that can
// should be wrapped in a DirectoryWatcher and driven by StartHotReload
// instead.
//
// Each rescan discovers the currently available names, loads any that are
// new, and triggers a reload for every name already registered.
type ReloadScheduler struct {
	manager *Manager
	cron    *cron.Cron
	spec    string
	logger  Logger

	mu      sync.Mutex
	entryID cron.EntryID
	running bool
}

// NewReloadScheduler creates a scheduler using a standard 5-field cron
// spec or a descriptor like "@every 30s".
func NewReloadScheduler(m *Manager, spec string) *ReloadScheduler {
	return &ReloadScheduler{
		manager: m,
		cron:    cron.New(),
		spec:    spec,
		logger:  m.Logger(),
	}
}

// Start validates the spec and begins scheduling rescans. The provided
// context bounds each individual rescan, not the scheduler's lifetime;
// use Stop for that.
func (s *ReloadScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerAlreadyRunning
	}
	id, err := s.cron.AddFunc(s.spec, func() { s.Rescan(ctx) })
	if err != nil {
		return err
	}
	s.entryID = id
	s.running = true
	s.cron.Start()
	s.logger.Info("Reload scheduler started", "spec", s.spec)
	return nil
}

// Stop halts scheduling. In-flight rescans finish on their own.
func (s *ReloadScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Remove(s.entryID)
	s.cron.Stop()
	s.running = false
	s.logger.Info("Reload scheduler stopped")
}

// Rescan performs one synchronous sweep: discover the source and run
// every discovered name through TriggerReload. Failures are logged and do
// not abort the sweep.
func (s *ReloadScheduler) Rescan(ctx context.Context) {
	names, err := s.manager.Discover(ctx)
	if err != nil {
		s.logger.Error("Scheduled rescan failed to discover modules", "error", err)
		return
	}
	for _, name := range names {
		if err := s.manager.TriggerReload(ctx, name); err != nil {
			s.logger.Warn("Scheduled reload failed", "module", name, "error", err)
		}
	}
}
