package service

import (
	"context"
	"sync"
	"time"

	"github.com/ertvault/ertvault/internal/adapter"
	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/oracle"
	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ertvault/ertvault/internal/registry"
	"github.com/ertvault/ertvault/internal/vault"
)

// MaxMarkAge rejects mark-to-market on data older than this; a stale
// oracle must never drive a liquidation.
const MaxMarkAge = 10 * time.Second

type position struct {
	adapter.Position
	unrealized int64
}

// Allocator is the allocation controller: it deploys capital drawn
// against a rights record through capability adapters, feeds performance
// deltas back into the registry, and liquidates on drawdown breach. One
// mutex serializes all draws/unwinds so the per-record constraint checks
// and the vault write happen without a yield point between them.
type Allocator struct {
	mu        sync.Mutex
	registry  *registry.Registry
	vault     *vault.Vault
	oracle    oracle.PriceSource
	adapters  map[string]adapter.CapabilityAdapter
	positions map[uint64][]*position
}

func NewAllocator(reg *registry.Registry, v *vault.Vault, prices oracle.PriceSource, adapters map[string]adapter.CapabilityAdapter) *Allocator {
	if adapters == nil {
		adapters = make(map[string]adapter.CapabilityAdapter)
	}
	return &Allocator{
		registry:  reg,
		vault:     v,
		oracle:    prices,
		adapters:  adapters,
		positions: make(map[uint64][]*position),
	}
}

// RegisterAdapter makes a capability provider available for draws.
func (a *Allocator) RegisterAdapter(ad adapter.CapabilityAdapter) {
	a.mu.Lock()
	a.adapters[ad.Name()] = ad
	a.mu.Unlock()
}

// Draw deploys amount base units of pooled capital for the record
// through the named adapter. All record constraints and vault policy
// gates are validated before any capital moves.
func (a *Allocator) Draw(ctx context.Context, recordID uint64, adapterName, asset string, amount int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, err := a.registry.GetRights(recordID)
	if err != nil {
		return err
	}
	if rec.State != model.StateActive || !a.registry.IsValid(recordID) {
		return apperrors.StateConflict(apperrors.ReasonERTNotActive,
			"rights record %d is not active and unexpired", recordID)
	}
	if !rec.AdapterAllowed(adapterName) {
		return apperrors.PolicyViolation(apperrors.ReasonAdapterNotAllowed,
			"adapter %s not permitted by rights record %d", adapterName, recordID)
	}
	if !rec.AssetAllowed(asset) {
		return apperrors.PolicyViolation(apperrors.ReasonAssetNotAllowed,
			"asset %s not permitted by rights record %d", asset, recordID)
	}
	if rec.Status.CapitalDeployed+amount > rec.CapitalLimit {
		return apperrors.PolicyViolation(apperrors.ReasonCapitalLimitExceeded,
			"draw %d would exceed capital limit %d (deployed %d)", amount, rec.CapitalLimit, rec.Status.CapitalDeployed)
	}
	if rec.Constraints.MaxPositionSizeBps > 0 &&
		amount*10000 > rec.CapitalLimit*rec.Constraints.MaxPositionSizeBps {
		return apperrors.PolicyViolation(apperrors.ReasonPositionTooLarge,
			"draw %d exceeds %d bps of capital limit %d", amount, rec.Constraints.MaxPositionSizeBps, rec.CapitalLimit)
	}
	ad, ok := a.adapters[adapterName]
	if !ok {
		return apperrors.InvalidRequest("adapter %s is not registered", adapterName)
	}

	if err := a.vault.Allocate(recordID, asset, amount); err != nil {
		return err
	}
	pos, err := ad.Deploy(ctx, asset, amount)
	if err != nil {
		// Roll the draw back; no capital left the pool.
		if uerr := a.vault.Unwind(recordID, asset, amount); uerr != nil {
			logger.Error("failed to roll back allocation", "record_id", recordID, "error", uerr)
		}
		return apperrors.Wrap(err)
	}
	if _, err := a.registry.UpdateStatus(recordID, amount, 0, 0); err != nil {
		return err
	}
	a.positions[recordID] = append(a.positions[recordID], &position{Position: pos})
	logger.Info("capital drawn",
		"record_id", recordID, "adapter", adapterName, "asset", asset, "amount", amount)
	return nil
}

// UnwindAll closes every open position for the record, returning the
// summed realized PnL.
func (a *Allocator) UnwindAll(ctx context.Context, recordID uint64) (int64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.unwindAllLocked(ctx, recordID, true)
}

func (a *Allocator) unwindAllLocked(ctx context.Context, recordID uint64, updateStatus bool) (int64, error) {
	var realizedTotal int64
	open := a.positions[recordID]
	for len(open) > 0 {
		pos := open[0]
		ad, ok := a.adapters[pos.Adapter]
		if !ok {
			a.positions[recordID] = open
			return realizedTotal, apperrors.InvalidRequest("adapter %s is not registered", pos.Adapter)
		}
		realized, err := ad.Unwind(ctx, pos.Position)
		if err != nil {
			a.positions[recordID] = open
			return realizedTotal, apperrors.Wrap(err)
		}
		if err := a.vault.Unwind(recordID, pos.Asset, pos.Amount); err != nil {
			a.positions[recordID] = open
			return realizedTotal, err
		}
		open = open[1:]
		a.positions[recordID] = open
		if updateStatus {
			if _, err := a.registry.UpdateStatus(recordID, -pos.Amount, realized, -pos.unrealized); err != nil {
				return realizedTotal, err
			}
		}
		realizedTotal += realized
	}
	delete(a.positions, recordID)
	return realizedTotal, nil
}

// MarkToMarket revalues the record's open positions from the oracle and
// pushes the unrealized delta into the registry. When the updated
// drawdown breaches the record's constraint, the record is liquidated.
func (a *Allocator) MarkToMarket(ctx context.Context, recordID uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	rec, err := a.registry.GetRights(recordID)
	if err != nil {
		return err
	}
	if rec.State != model.StateActive {
		return apperrors.StateConflict(apperrors.ReasonERTNotActive,
			"rights record %d is %s, not ACTIVE", recordID, rec.State)
	}

	var delta int64
	for _, pos := range a.positions[recordID] {
		price, at, ok := a.oracle.Mark(pos.Asset)
		if !ok {
			continue
		}
		if time.Since(at) > MaxMarkAge {
			return apperrors.SafetyHalt(apperrors.ReasonNone,
				"oracle mark for %s is stale, cannot value positions safely", pos.Asset)
		}
		value := price.Sub(pos.EntryPrice).Mul(pos.Quantity)
		unrealized := value.Round(0).IntPart()
		delta += unrealized - pos.unrealized
		pos.unrealized = unrealized
	}
	if delta == 0 {
		return nil
	}

	updated, err := a.registry.UpdateStatus(recordID, 0, 0, delta)
	if err != nil {
		return err
	}
	if updated.Status.MaxDrawdownHitBps > updated.Constraints.MaxDrawdownBps {
		return a.liquidateLocked(ctx, recordID, updated)
	}
	return nil
}

// liquidateLocked force-closes a record on constraint breach: positions
// unwound, allocation released with the record's final PnL, lifecycle
// moved to LIQUIDATED.
func (a *Allocator) liquidateLocked(ctx context.Context, recordID uint64, rec *model.RightsRecord) error {
	logger.Warn("liquidating rights record on drawdown breach",
		"record_id", recordID,
		"drawdown_bps", rec.Status.MaxDrawdownHitBps,
		"limit_bps", rec.Constraints.MaxDrawdownBps)

	realized, err := a.unwindAllLocked(ctx, recordID, false)
	if err != nil {
		logger.Error("partial unwind during liquidation", "record_id", recordID, "error", err)
	}
	if err := a.registry.MarkLiquidated(recordID); err != nil {
		return err
	}
	finalPnl := rec.Status.RealizedPnl + realized + remainingUnrealized(a.positions[recordID])
	a.vault.Release(recordID, finalPnl)
	return nil
}

// Positions returns copies of the record's open positions.
func (a *Allocator) Positions(recordID uint64) []adapter.Position {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]adapter.Position, 0, len(a.positions[recordID]))
	for _, pos := range a.positions[recordID] {
		out = append(out, pos.Position)
	}
	return out
}

func remainingUnrealized(positions []*position) int64 {
	var total int64
	for _, pos := range positions {
		total += pos.unrealized
	}
	return total
}
