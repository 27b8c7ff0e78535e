package policy

import (
	"sync"

	"github.com/ertvault/ertvault/internal/pkg/apperrors"
)

const bpsDenominator = 10000

// UtilizationController decides whether allocations and withdrawals keep
// pool utilization at or below the configured ceiling. All checks are
// pure functions over the supplied totals; the only state is the
// admin-settable ceiling.
//
// Rounding is deliberately asymmetric: hard gates (CanAllocate,
// CanWithdraw) use ceiling division so rounding can never understate
// utilization, while capacity estimates (AvailableForAllocation,
// ReserveAmount) floor. Do not make these symmetric.
type UtilizationController struct {
	mu                sync.RWMutex
	maxUtilizationBps int64
}

func NewUtilizationController(maxBps int64) (*UtilizationController, error) {
	if maxBps < 0 || maxBps > bpsDenominator {
		return nil, apperrors.InvalidRequest("max utilization %d bps out of range", maxBps)
	}
	return &UtilizationController{maxUtilizationBps: maxBps}, nil
}

// SetMaxUtilization updates the ceiling. Admin only; rejects values
// above 10000 bps.
func (u *UtilizationController) SetMaxUtilization(bps int64) error {
	if bps < 0 || bps > bpsDenominator {
		return apperrors.InvalidRequest("max utilization %d bps out of range", bps)
	}
	u.mu.Lock()
	u.maxUtilizationBps = bps
	u.mu.Unlock()
	return nil
}

func (u *UtilizationController) MaxUtilizationBps() int64 {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.maxUtilizationBps
}

// CanAllocate reports whether allocating newAllocation on top of
// currentAllocated keeps utilization at or below the ceiling. An
// exactly-at-the-boundary pool rejects even one additional minimal unit.
func (u *UtilizationController) CanAllocate(totalAssets, currentAllocated, newAllocation int64) bool {
	if totalAssets <= 0 || newAllocation < 0 || currentAllocated < 0 {
		return false
	}
	newUtilization := ceilDiv((currentAllocated+newAllocation)*bpsDenominator, totalAssets)
	return newUtilization <= u.MaxUtilizationBps()
}

// CanWithdraw reports whether the pool can release withdrawAmount. A
// ledger may never be drained to zero while capital is still allocated
// against it.
func (u *UtilizationController) CanWithdraw(totalAssets, currentAllocated, withdrawAmount int64) bool {
	if withdrawAmount < 0 || currentAllocated < 0 || withdrawAmount > totalAssets {
		return false
	}
	remaining := totalAssets - withdrawAmount
	if remaining == 0 {
		return currentAllocated == 0
	}
	return ceilDiv(currentAllocated*bpsDenominator, remaining) <= u.MaxUtilizationBps()
}

// AvailableForAllocation is the optimistic (floored) remaining capacity.
func (u *UtilizationController) AvailableForAllocation(totalAssets, currentAllocated int64) int64 {
	if totalAssets <= 0 {
		return 0
	}
	capacity := totalAssets * u.MaxUtilizationBps() / bpsDenominator
	if capacity <= currentAllocated {
		return 0
	}
	return capacity - currentAllocated
}

// ReserveAmount is the slice of the pool the ceiling keeps out of reach.
func (u *UtilizationController) ReserveAmount(totalAssets int64) int64 {
	if totalAssets <= 0 {
		return 0
	}
	return totalAssets - totalAssets*u.MaxUtilizationBps()/bpsDenominator
}

// MaxWithdrawable is the largest withdrawal that still passes
// CanWithdraw given the current allocation.
func (u *UtilizationController) MaxWithdrawable(totalAssets, currentAllocated int64) int64 {
	if totalAssets <= 0 {
		return 0
	}
	maxBps := u.MaxUtilizationBps()
	if maxBps == 0 {
		if currentAllocated > 0 {
			return 0
		}
		return totalAssets
	}
	floor := ceilDiv(currentAllocated*bpsDenominator, maxBps)
	if floor >= totalAssets {
		return 0
	}
	return totalAssets - floor
}

// ceilDiv divides a by b rounding up. Callers guarantee b > 0 and
// a >= 0.
func ceilDiv(a, b int64) int64 {
	if a == 0 {
		return 0
	}
	return (a-1)/b + 1
}
