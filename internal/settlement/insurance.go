package settlement

import (
	"sync"

	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/pkg/metrics"
)

const bpsDenominator = 10000

// InsuranceFund accumulates a slice of settlement fees and absorbs
// losses beyond what staked collateral covers. Largely an external
// ledger; only the balance and coverage ratio live here.
type InsuranceFund struct {
	mu      sync.Mutex
	balance int64
}

func NewInsuranceFund(initial int64) *InsuranceFund {
	f := &InsuranceFund{balance: initial}
	metrics.InsuranceBalance.Set(float64(initial))
	return f
}

// Collect credits settlement fees to the fund.
func (f *InsuranceFund) Collect(amount int64) {
	if amount <= 0 {
		return
	}
	f.mu.Lock()
	f.balance += amount
	metrics.InsuranceBalance.Set(float64(f.balance))
	f.mu.Unlock()
}

// Payout debits up to amount, bounded by the balance, and returns what
// was actually paid.
func (f *InsuranceFund) Payout(amount int64) int64 {
	if amount <= 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	paid := amount
	if paid > f.balance {
		paid = f.balance
	}
	f.balance -= paid
	metrics.InsuranceBalance.Set(float64(f.balance))
	return paid
}

// AdminWithdraw removes funds via the administrative collaborator.
func (f *InsuranceFund) AdminWithdraw(amount int64) error {
	if amount <= 0 {
		return apperrors.InvalidRequest("withdraw amount must be positive")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if amount > f.balance {
		return apperrors.InvalidRequest("insurance balance %d below requested %d", f.balance, amount)
	}
	f.balance -= amount
	metrics.InsuranceBalance.Set(float64(f.balance))
	return nil
}

func (f *InsuranceFund) Balance() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance
}

// CoverageRatioBps is the fund balance as basis points of totalAssets.
func (f *InsuranceFund) CoverageRatioBps(totalAssets int64) int64 {
	if totalAssets <= 0 {
		return 0
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balance * bpsDenominator / totalAssets
}
