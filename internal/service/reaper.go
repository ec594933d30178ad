package service

import (
	"context"
	"time"
)

// Cancel reasons recorded by the system itself.
const (
	ReasonPaymentExpired  = "payment window expired"
	ReasonCheckoutExpired = "checkout session expired"
)

const reapBatch = 100

// Reaper cancels pending bookings whose payment window has passed so
// their seats return to the inventory.  Paid bookings are never touched.
type Reaper struct {
	ledger   *Ledger
	ttl      time.Duration
	interval time.Duration
	settings
}

// NewReaper returns a Reaper expiring bookings pending for longer than
// ttl, checked every interval.
func NewReaper(ledger *Ledger, ttl, interval time.Duration, opts ...Option) *Reaper {
	return &Reaper{ledger: ledger, ttl: ttl, interval: interval, settings: newSettings(opts)}
}

// RunOnce expires every stale pending booking and returns how many
// were released.
func (r *Reaper) RunOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.ttl)
	released := 0
	for {
		ids, err := r.ledger.StalePending(ctx, cutoff, reapBatch)
		if err != nil {
			return released, err
		}
		progressed := false
		for _, id := range ids {
			ok, err := r.ledger.ExpirePending(ctx, id, ReasonPaymentExpired)
			if err != nil {
				return released, err
			}
			if ok {
				released++
				progressed = true
			}
		}
		if len(ids) < reapBatch || !progressed {
			return released, nil
		}
	}
}

// Start runs the reaper until ctx is done.  It returns immediately when
// ttl or interval is not positive.
func (r *Reaper) Start(ctx context.Context) {
	if r.ttl <= 0 || r.interval <= 0 {
		r.logger.Info("pending booking reaper disabled", "component", "reaper")
		return
	}
	r.logger.Info("pending booking reaper started", "component", "reaper", "ttl", r.ttl, "interval", r.interval)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		r.tick(ctx)
		select {
		case <-ctx.Done():
			r.logger.Info("pending booking reaper stopped", "component", "reaper")
			return
		case <-ticker.C:
		}
	}
}

func (r *Reaper) tick(ctx context.Context) {
	n, err := r.RunOnce(ctx)
	if err != nil {
		r.logger.Error("reap pending bookings", "component", "reaper", "error", err)
	}
	if n > 0 {
		r.logger.Info("released stale pending bookings", "component", "reaper", "count", n)
	}
}
