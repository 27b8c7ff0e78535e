package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ertvault/ertvault/internal/pkg/metrics"
	"github.com/ertvault/ertvault/internal/registry"
	"github.com/ertvault/ertvault/internal/vault"
	"github.com/google/uuid"
)

// LossReporter is the slice of the circuit breaker the engine feeds.
type LossReporter interface {
	RecordLoss(ctx context.Context, amount, totalAssetsSnapshot int64) bool
}

// HistoryRepo persists settlement rows. Optional; nil disables history.
type HistoryRepo interface {
	Insert(ctx context.Context, rec *model.SettlementRecord) error
}

// PositionCloser unwinds a record's open positions through the
// allocation controller. Optional; nil means no controller is attached.
type PositionCloser interface {
	UnwindAll(ctx context.Context, id uint64) (int64, error)
}

// Engine performs the terminal settlement transition: waterfall
// computation, ledger release, insurance and breaker side effects. A
// single mutex serializes settlements so no two of them, nor a
// settlement and a later retry on the same id, can interleave their
// registry/vault writes.
type Engine struct {
	mu        sync.Mutex
	registry  *registry.Registry
	vault     *vault.Vault
	insurance *InsuranceFund
	breaker   LossReporter
	history   HistoryRepo
	positions PositionCloser

	insuranceFeeBps  int64
	lossToleranceBps int64
	now              func() time.Time
}

func NewEngine(reg *registry.Registry, v *vault.Vault, fund *InsuranceFund, breaker LossReporter, history HistoryRepo, insuranceFeeBps, lossToleranceBps int64) *Engine {
	return &Engine{
		registry:         reg,
		vault:            v,
		insurance:        fund,
		breaker:          breaker,
		history:          history,
		insuranceFeeBps:  insuranceFeeBps,
		lossToleranceBps: lossToleranceBps,
		now:              time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.mu.Lock()
	e.now = now
	e.mu.Unlock()
	return e
}

// WithPositionCloser attaches the allocation controller so every
// terminal transition closes the record's open positions before the
// books are released.
func (e *Engine) WithPositionCloser(pc PositionCloser) *Engine {
	e.mu.Lock()
	e.positions = pc
	e.mu.Unlock()
	return e
}

// Settle finalizes an ACTIVE record at the given final PnL. Caller is
// the settlement authority. Re-settling an already-settled record fails
// with a state conflict; it never silently succeeds.
func (e *Engine) Settle(ctx context.Context, id uint64, finalPnl int64) (*model.SettlementRecord, error) {
	return e.settle(ctx, id, finalPnl, "settle")
}

// ForceSettle is callable by anyone once the record's expiry has
// passed. The record settles at its last marked PnL, since no final
// valuation accompanies the call.
func (e *Engine) ForceSettle(ctx context.Context, id uint64) (*model.SettlementRecord, error) {
	return e.settle(ctx, id, 0, "force_settle")
}

// Expire finalizes a record whose expiry has passed: open positions
// unwound, books released at the last marked PnL, lifecycle moved to
// EXPIRED. Callable by anyone; repeating it returns (nil, nil).
func (e *Engine) Expire(ctx context.Context, id uint64) (*model.SettlementRecord, error) {
	return e.settle(ctx, id, 0, "expire")
}

func (e *Engine) settle(ctx context.Context, id uint64, finalPnl int64, kind string) (*model.SettlementRecord, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Open positions close first: their realized PnL must be on the
	// record before the terminal snapshot, and the adapter books must
	// match the ledger release below.
	if e.positions != nil {
		if _, err := e.positions.UnwindAll(ctx, id); err != nil {
			return nil, err
		}
	}

	// The terminal transition snapshots the record under the registry
	// lock; no mark can land between the figure settled and the state
	// change.
	var rec *model.RightsRecord
	var err error
	switch kind {
	case "force_settle":
		rec, err = e.registry.CompleteSettlementAtMark(id)
	case "expire":
		rec, err = e.registry.MarkExpired(id)
		if err == nil && rec == nil {
			return nil, nil
		}
	default:
		rec, err = e.registry.CompleteSettlement(id, finalPnl)
	}
	if err != nil {
		return nil, err
	}
	finalPnl = rec.Status.RealizedPnl

	// Fee accrual stops at expiry even when settlement happens later.
	end := e.now()
	if end.After(rec.ExpiryTime) {
		end = rec.ExpiryTime
	}
	w := ComputeWaterfall(WaterfallTerms{
		CapitalLimit:     rec.CapitalLimit,
		FinalPnl:         finalPnl,
		BaseFeeAprBps:    rec.Fees.BaseFeeAprBps,
		ProfitShareBps:   rec.Fees.ProfitShareBps,
		InsuranceFeeBps:  e.insuranceFeeBps,
		LossToleranceBps: e.lossToleranceBps,
		StakedAmount:     rec.Fees.StakedAmount,
		Elapsed:          end.Sub(rec.StartTime),
	})

	// The fund can only pay what it holds; shrink the payout and the
	// pool credit together.
	if w.InsurancePayout > 0 {
		paid := e.insurance.Payout(w.InsurancePayout)
		w.LPNet -= w.InsurancePayout - paid
		w.InsurancePayout = paid
	}

	e.vault.Release(id, w.LPNet)
	e.insurance.Collect(w.InsuranceFee)

	if finalPnl < 0 && e.breaker != nil {
		e.breaker.RecordLoss(ctx, -finalPnl, e.vault.TotalAssets())
	}

	out := &model.SettlementRecord{
		ID:        uuid.New().String(),
		RightsID:  id,
		Executor:  rec.Executor,
		Kind:      kind,
		FinalPnl:  finalPnl,
		Waterfall: w,
		SettledAt: e.now(),
	}
	if e.history != nil {
		if err := e.history.Insert(ctx, out); err != nil {
			logger.LogError(ctx, err, "failed to persist settlement history", "rights_id", id)
		}
	}

	outcome := "profit"
	switch {
	case w.StakeSlashed > 0:
		outcome = "slashed"
	case finalPnl < 0:
		outcome = "loss"
	}
	metrics.SettlementsTotal.WithLabelValues(outcome).Inc()
	logger.Info("rights record settled",
		"id", id,
		"kind", kind,
		"final_pnl", finalPnl,
		"base_fee", w.BaseFee,
		"executor_profit", w.ExecutorProfit,
		"stake_slashed", w.StakeSlashed)
	return out, nil
}
