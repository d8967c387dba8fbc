package history

import (
	"context"
	"sync"
	"time"
)

// DefaultPruneInterval is how often the pruner runs.
const DefaultPruneInterval = 24 * time.Hour

// Logger is the logging surface the pruner needs.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// Pruner deletes entries older than the retention window on a schedule.
type Pruner struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewPruner creates a pruner. A non-positive interval uses DefaultPruneInterval.
func NewPruner(store *Store, retention, interval time.Duration, logger Logger) *Pruner {
	if interval <= 0 {
		interval = DefaultPruneInterval
	}
	return &Pruner{
		store:     store,
		retention: retention,
		interval:  interval,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Start prunes once immediately and then every interval until ctx is
// cancelled or Stop is called.
func (p *Pruner) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		p.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.done:
				return
			case <-ticker.C:
				p.runOnce(ctx)
			}
		}
	}()
}

// Stop halts the pruner and waits for an in-flight prune. Safe to call twice.
func (p *Pruner) Stop() {
	p.stopOnce.Do(func() {
		close(p.done)
		p.wg.Wait()
	})
}

func (p *Pruner) runOnce(ctx context.Context) {
	n, err := p.store.Prune(ctx, p.retention)
	if p.logger == nil {
		return
	}
	if err != nil {
		p.logger.Error("state history prune failed", "error", err)
		return
	}
	if n > 0 {
		p.logger.Info("state history pruned", "deleted", n, "retention", p.retention.String())
	}
}
