package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/vadim/kidsight/internal/domain/sync/entity"
)

// ChildSyncer runs one import pass for a child, resolving the provider
// credential itself.
type ChildSyncer interface {
	SyncChild(ctx context.Context, childID string) (*entity.RunSummary, error)
}

// ChildLister returns children whose last run is older than the threshold
type ChildLister interface {
	ChildrenNeedingSync(ctx context.Context, olderThan time.Duration, limit int) ([]string, error)
}

// Scheduler periodically refreshes stale children, one at a time. Sequential
// processing keeps provider traffic predictable; a child hitting its run
// budget simply waits for the next tick.
type Scheduler struct {
	syncer    ChildSyncer
	lister    ChildLister
	interval  time.Duration
	syncAge   time.Duration // how old a child's last run can be before refreshing
	batchSize int           // how many children to refresh per tick
	logger    *slog.Logger
	stopCh    chan struct{}
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// Config holds scheduler configuration
type Config struct {
	Interval  time.Duration
	SyncAge   time.Duration
	BatchSize int
}

// New creates a new background sync scheduler
func New(syncer ChildSyncer, lister ChildLister, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.Interval == 0 {
		cfg.Interval = 10 * time.Minute
	}
	if cfg.SyncAge == 0 {
		cfg.SyncAge = 30 * time.Minute
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 5
	}

	return &Scheduler{
		syncer:    syncer,
		lister:    lister,
		interval:  cfg.Interval,
		syncAge:   cfg.SyncAge,
		batchSize: cfg.BatchSize,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}
}

// Start starts the scheduler
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true

	// Cancellable context so Stop can abort in-flight provider calls.
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("sync scheduler started", "interval", s.interval, "sync_age", s.syncAge)

	s.wg.Add(1)
	go s.run(ctx)
}

// Stop stops the scheduler and waits for the current pass to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First pass after a short delay so the app finishes initializing.
	select {
	case <-time.After(15 * time.Second):
		s.process(ctx)
	case <-s.stopCh:
		return
	case <-ctx.Done():
		return
	}

	for {
		select {
		case <-ticker.C:
			s.process(ctx)
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		}
	}
}

// process refreshes the stalest children, one at a time
func (s *Scheduler) process(ctx context.Context) {
	s.logger.Debug("checking for children needing sync")

	childIDs, err := s.lister.ChildrenNeedingSync(ctx, s.syncAge, s.batchSize)
	if err != nil {
		s.logger.Error("failed to list children needing sync", "error", err)
		return
	}

	if len(childIDs) == 0 {
		s.logger.Debug("no children need sync")
		return
	}

	s.logger.Info("refreshing stale children", "count", len(childIDs))

	for _, childID := range childIDs {
		select {
		case <-ctx.Done():
			return
		default:
		}

		summary, err := s.syncer.SyncChild(ctx, childID)
		if err != nil {
			s.logger.Error("background sync failed", "child_id", childID, "error", err)
			continue
		}
		s.logger.Debug("background sync complete",
			"child_id", childID,
			"conversations", summary.ConversationsProcessed,
			"messages", summary.MessagesImported,
		)
	}
}
