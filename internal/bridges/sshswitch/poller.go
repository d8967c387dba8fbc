package sshswitch

import (
	"context"
	"sync"
	"time"
)

// DefaultPollInterval is the minimum time between two status commands.
const DefaultPollInterval = 30 * time.Second

// Refresher is the part of Controller the poller needs.
type Refresher interface {
	RefreshStatus(ctx context.Context)
	State() SwitchState
}

// outcomeRefresher is a Refresher that also reports whether the refresh
// reached the device. *Controller implements it.
type outcomeRefresher interface {
	refresh(ctx context.Context) bool
}

// Poller throttles status refreshes to at most one per interval, however
// often it is asked.
//
// The clock is supplied by the caller on every call, which keeps the
// throttle deterministic in tests.
//
// Thread Safety: All methods are safe for concurrent use. Concurrent callers
// inside the window all get the cached state; only one refresh runs.
type Poller struct {
	refresher   Refresher
	minInterval time.Duration

	mu        sync.Mutex
	last      time.Time
	refreshed bool
}

// NewPoller creates a poller. A non-positive interval uses DefaultPollInterval.
func NewPoller(refresher Refresher, minInterval time.Duration) *Poller {
	if minInterval <= 0 {
		minInterval = DefaultPollInterval
	}
	return &Poller{
		refresher:   refresher,
		minInterval: minInterval,
	}
}

// MaybeRefresh refreshes unless the previous attempt was less than the
// interval before now. A failed attempt still starts a new window.
func (p *Poller) MaybeRefresh(ctx context.Context, now time.Time) SwitchState {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.refreshed && now.Sub(p.last) < p.minInterval {
		return p.refresher.State()
	}
	state, _ := p.refreshLocked(ctx, now)
	return state
}

// Force refreshes regardless of the window and starts a new one at now.
func (p *Poller) Force(ctx context.Context, now time.Time) SwitchState {
	state, _ := p.force(ctx, now)
	return state
}

// force is Force that also reports whether the refresh succeeded. A
// Refresher that cannot tell is assumed to have succeeded.
func (p *Poller) force(ctx context.Context, now time.Time) (SwitchState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.refreshLocked(ctx, now)
}

func (p *Poller) refreshLocked(ctx context.Context, now time.Time) (SwitchState, bool) {
	ok := true
	if r, reports := p.refresher.(outcomeRefresher); reports {
		ok = r.refresh(ctx)
	} else {
		p.refresher.RefreshStatus(ctx)
	}
	p.last = now
	p.refreshed = true
	return p.refresher.State(), ok
}

// LastRefresh returns when the last refresh was attempted. Zero if never.
func (p *Poller) LastRefresh() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Interval returns the throttle window.
func (p *Poller) Interval() time.Duration {
	return p.minInterval
}
