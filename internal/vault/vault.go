package vault

import (
	"sync"

	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ertvault/ertvault/internal/pkg/metrics"
	"github.com/ertvault/ertvault/internal/policy"
)

// PauseCheck is the slice of the circuit breaker the ledger consults.
type PauseCheck interface {
	IsPaused() bool
}

// Vault owns the pooled capital balance and the per-record allocation
// ledger. Every mutation re-validates the policy gates under the same
// lock that performs the write, so a check result can never go stale
// between check and act.
type Vault struct {
	mu            sync.Mutex
	totalAssets   int64
	allocated     map[uint64]int64            // record id -> capital drawn
	byAsset       map[uint64]map[string]int64 // record id -> asset -> drawn
	assetExposure map[string]int64            // asset -> total drawn
	totalAlloc    int64

	util     *policy.UtilizationController
	exposure *policy.ExposureManager
	breaker  PauseCheck
}

func New(initialAssets int64, util *policy.UtilizationController, exposure *policy.ExposureManager, breaker PauseCheck) *Vault {
	return &Vault{
		totalAssets:   initialAssets,
		allocated:     make(map[uint64]int64),
		byAsset:       make(map[uint64]map[string]int64),
		assetExposure: make(map[string]int64),
		util:          util,
		exposure:      exposure,
		breaker:       breaker,
	}
}

// Deposit credits the pool (LP share accounting happens upstream).
func (v *Vault) Deposit(amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidRequest("deposit amount must be positive")
	}
	v.mu.Lock()
	v.totalAssets += amount
	v.publishUtilizationLocked()
	v.mu.Unlock()
	return nil
}

// Withdraw releases pool capital to the LP facade, gated by the
// utilization ceiling and the never-drain-while-allocated rule.
func (v *Vault) Withdraw(amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidRequest("withdraw amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.util.CanWithdraw(v.totalAssets, v.totalAlloc, amount) {
		if v.totalAssets-amount == 0 && v.totalAlloc != 0 {
			return apperrors.SafetyHalt(apperrors.ReasonVaultWouldDrain,
				"withdrawal would drain the pool while %d is still allocated", v.totalAlloc)
		}
		return apperrors.SafetyHalt(apperrors.ReasonUtilizationExceeded,
			"withdrawing %d would push utilization above %d bps", amount, v.util.MaxUtilizationBps())
	}
	v.totalAssets -= amount
	v.publishUtilizationLocked()
	return nil
}

// Allocate draws capital against an active rights record. The breaker,
// utilization and exposure gates are all re-checked atomically here.
func (v *Vault) Allocate(recordID uint64, asset string, amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidRequest("allocation amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.breaker != nil && v.breaker.IsPaused() {
		return apperrors.SafetyHalt(apperrors.ReasonCircuitBreakerActive,
			"circuit breaker is paused, allocation blocked")
	}
	if !v.util.CanAllocate(v.totalAssets, v.totalAlloc, amount) {
		metrics.PolicyRejects.WithLabelValues(string(apperrors.ReasonUtilizationExceeded)).Inc()
		return apperrors.SafetyHalt(apperrors.ReasonUtilizationExceeded,
			"allocating %d would push utilization above %d bps", amount, v.util.MaxUtilizationBps())
	}
	proposed := v.assetExposure[asset] + amount
	if !v.exposure.CanAddExposure(asset, proposed, v.totalAssets) {
		metrics.PolicyRejects.WithLabelValues(string(apperrors.ReasonExposureExceeded)).Inc()
		return apperrors.SafetyHalt(apperrors.ReasonExposureExceeded,
			"asset %s exposure %d would exceed %d bps of pool", asset, proposed, v.exposure.MaxSingleAssetBps())
	}

	v.allocated[recordID] += amount
	v.totalAlloc += amount
	v.assetExposure[asset] = proposed
	assets := v.byAsset[recordID]
	if assets == nil {
		assets = make(map[string]int64)
		v.byAsset[recordID] = assets
	}
	assets[asset] += amount
	v.publishUtilizationLocked()
	return nil
}

// Unwind returns part of a record's draw on an asset to the pool without
// touching totalAssets (realized PnL flows through Release).
func (v *Vault) Unwind(recordID uint64, asset string, amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidRequest("unwind amount must be positive")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	assets := v.byAsset[recordID]
	if assets == nil || assets[asset] < amount {
		return apperrors.InvalidRequest("record %d has only %d drawn on %s", recordID, assets[asset], asset)
	}
	assets[asset] -= amount
	v.allocated[recordID] -= amount
	v.totalAlloc -= amount
	v.assetExposure[asset] -= amount
	v.publishUtilizationLocked()
	return nil
}

// Release zeroes a record's allocation on settlement/expiry/liquidation
// and applies the pool's net cash delta (PnL, slashed stake, insurance
// flows) to totalAssets in the same critical section.
func (v *Vault) Release(recordID uint64, netCashDelta int64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if assets, ok := v.byAsset[recordID]; ok {
		for asset, amt := range assets {
			v.assetExposure[asset] -= amt
		}
		delete(v.byAsset, recordID)
	}
	if alloc, ok := v.allocated[recordID]; ok {
		v.totalAlloc -= alloc
		delete(v.allocated, recordID)
	}
	v.totalAssets += netCashDelta
	if v.totalAssets < 0 {
		// Book value can go negative only if a loss exceeded stake and
		// insurance combined; record it loudly rather than clamping.
		logger.Error("vault book value negative after release",
			"record_id", recordID, "total_assets", v.totalAssets)
	}
	v.publishUtilizationLocked()
}

// TotalAssets returns the pooled capital balance.
func (v *Vault) TotalAssets() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAssets
}

// TotalAllocated returns the sum of live per-record allocations.
func (v *Vault) TotalAllocated() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.totalAlloc
}

// AllocatedCapital returns the live draw for one record.
func (v *Vault) AllocatedCapital(recordID uint64) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.allocated[recordID]
}

// AssetExposure returns the live draw against one asset.
func (v *Vault) AssetExposure(asset string) int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.assetExposure[asset]
}

// AvailableForAllocation delegates to the utilization policy with the
// vault's own totals.
func (v *Vault) AvailableForAllocation() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.util.AvailableForAllocation(v.totalAssets, v.totalAlloc)
}

// ReserveAmount delegates to the utilization policy.
func (v *Vault) ReserveAmount() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.util.ReserveAmount(v.totalAssets)
}

// MaxWithdrawable delegates to the utilization policy.
func (v *Vault) MaxWithdrawable() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.util.MaxWithdrawable(v.totalAssets, v.totalAlloc)
}

func (v *Vault) publishUtilizationLocked() {
	if v.totalAssets <= 0 {
		metrics.UtilizationBps.Set(0)
		return
	}
	metrics.UtilizationBps.Set(float64(v.totalAlloc*10000) / float64(v.totalAssets))
}
