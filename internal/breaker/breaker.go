package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ertvault/ertvault/internal/pkg/metrics"
)

const bpsDenominator = 10000

// LossStore persists the daily accumulator so a restart mid-day does not
// forget realized losses. Best-effort: the in-memory state is
// authoritative.
type LossStore interface {
	DailyLoss(ctx context.Context, day string) (int64, error)
	AddDailyLoss(ctx context.Context, day string, amount int64) error
}

// CircuitBreaker tracks realized loss inside a rolling UTC day window.
// Once the loss ratio against the pool snapshot exceeds the threshold it
// pauses, blocking new rights issuance and settlement-driven allocation.
// There is no automatic un-pause: clearing requires an explicit admin
// call, so a bad day can never silently self-heal.
type CircuitBreaker struct {
	mu              sync.Mutex
	maxDailyLossBps int64
	dailyLoss       int64
	windowStart     time.Time
	paused          bool

	store LossStore
	now   func() time.Time
}

func New(maxDailyLossBps int64, store LossStore) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxDailyLossBps: maxDailyLossBps,
		store:           store,
		now:             time.Now,
	}
	cb.windowStart = dayStart(cb.now())
	if store != nil {
		if loss, err := store.DailyLoss(context.Background(), dayKey(cb.windowStart)); err == nil {
			cb.dailyLoss = loss
		}
	}
	return cb
}

// WithClock overrides the clock, for tests.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.mu.Lock()
	cb.now = now
	cb.windowStart = dayStart(now())
	cb.mu.Unlock()
	return cb
}

// RecordLoss adds a realized loss (positive amount) to the accumulator,
// rolling the window first if the day boundary has passed, and pauses
// when the loss ratio against totalAssetsSnapshot crosses the threshold.
// Returns whether the breaker is paused after the report.
func (cb *CircuitBreaker) RecordLoss(ctx context.Context, amount, totalAssetsSnapshot int64) bool {
	if amount <= 0 {
		return cb.IsPaused()
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.rolloverLocked()
	cb.dailyLoss += amount
	if cb.store != nil {
		_ = cb.store.AddDailyLoss(ctx, dayKey(cb.windowStart), amount)
	}

	if totalAssetsSnapshot > 0 && cb.dailyLoss*bpsDenominator > totalAssetsSnapshot*cb.maxDailyLossBps {
		if !cb.paused {
			logger.Warn("circuit breaker tripped",
				"daily_loss", cb.dailyLoss,
				"total_assets", totalAssetsSnapshot,
				"threshold_bps", cb.maxDailyLossBps)
			metrics.CircuitBreakerPaused.Set(1)
		}
		cb.paused = true
	}
	return cb.paused
}

// IsPaused reports the pause flag. The flag only clears via Clear.
func (cb *CircuitBreaker) IsPaused() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.paused
}

// EmergencyPause forces PAUSED regardless of accumulated loss.
func (cb *CircuitBreaker) EmergencyPause() {
	cb.mu.Lock()
	cb.paused = true
	cb.mu.Unlock()
	metrics.CircuitBreakerPaused.Set(1)
	logger.Warn("circuit breaker paused by admin override")
}

// Clear un-pauses and zeroes the current window's accumulator. Without
// the zeroing, the very next loss report would trip the breaker again
// off the same already-counted losses.
func (cb *CircuitBreaker) Clear() {
	cb.mu.Lock()
	cb.paused = false
	cb.dailyLoss = 0
	cb.windowStart = dayStart(cb.now())
	cb.mu.Unlock()
	metrics.CircuitBreakerPaused.Set(0)
	logger.Info("circuit breaker cleared by admin")
}

// DailyLoss returns the accumulator for the current window.
func (cb *CircuitBreaker) DailyLoss() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.rolloverLocked()
	return cb.dailyLoss
}

// WindowStart returns the start of the current loss window.
func (cb *CircuitBreaker) WindowStart() time.Time {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.windowStart
}

func (cb *CircuitBreaker) MaxDailyLossBps() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.maxDailyLossBps
}

// rolloverLocked resets the accumulator when the UTC day has changed.
// The pause flag survives rollover: only an admin clears it.
func (cb *CircuitBreaker) rolloverLocked() {
	today := dayStart(cb.now())
	if today.After(cb.windowStart) {
		cb.dailyLoss = 0
		cb.windowStart = today
	}
}

func dayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
