package settlement

import (
	"time"

	"github.com/ertvault/ertvault/internal/model"
)

const secondsPerYear = 365 * 24 * 60 * 60

// WaterfallTerms are the per-record and engine-wide parameters feeding
// one waterfall computation.
type WaterfallTerms struct {
	CapitalLimit     int64
	FinalPnl         int64
	BaseFeeAprBps    int64
	ProfitShareBps   int64
	InsuranceFeeBps  int64
	LossToleranceBps int64
	StakedAmount     int64
	Elapsed          time.Duration
}

// ComputeWaterfall distributes final PnL in the fixed order: LP base
// fee, LP profit share, insurance fee, executor profit, stake
// disposition. Pure function; all rounding floors, which never favors
// the claimant side of each step.
func ComputeWaterfall(t WaterfallTerms) model.Waterfall {
	var w model.Waterfall

	grossProfit := t.FinalPnl
	if grossProfit < 0 {
		grossProfit = 0
	}

	// 1. LP base fee accrues on capitalLimit regardless of PnL sign,
	// floor-rounded, capped so it never exceeds the value on the table.
	elapsedSec := int64(t.Elapsed / time.Second)
	if elapsedSec < 0 {
		elapsedSec = 0
	}
	annualFee := t.CapitalLimit * t.BaseFeeAprBps / 10000
	w.BaseFee = annualFee * elapsedSec / secondsPerYear
	if feeCap := t.CapitalLimit + grossProfit; w.BaseFee > feeCap {
		w.BaseFee = feeCap
	}

	// 2. LP profit share, computed only on profit remaining after the
	// base fee.
	available := grossProfit - w.BaseFee
	if available < 0 {
		available = 0
	}
	w.LPProfitShare = available * t.ProfitShareBps / 10000
	available -= w.LPProfitShare

	// 3. Insurance fee on gross profit, bounded by what remains.
	w.InsuranceFee = grossProfit * t.InsuranceFeeBps / 10000
	if w.InsuranceFee > available {
		w.InsuranceFee = available
	}
	available -= w.InsuranceFee

	// 4. Executor keeps the remainder of positive PnL.
	w.ExecutorProfit = available

	// 5. Stake disposition. Losses within the tolerance band of the
	// posted stake return it whole; beyond that, slash up to the stake.
	tolerance := t.StakedAmount * t.LossToleranceBps / 10000
	if t.FinalPnl >= -tolerance {
		w.StakeReturned = t.StakedAmount
	} else {
		shortfall := -t.FinalPnl
		w.StakeSlashed = shortfall
		if w.StakeSlashed > t.StakedAmount {
			w.StakeSlashed = t.StakedAmount
		}
		w.StakeReturned = t.StakedAmount - w.StakeSlashed
		// Loss beyond the full stake is absorbed by insurance, bounded
		// later by the fund balance.
		w.InsurancePayout = shortfall - w.StakeSlashed
	}

	// Net cash applied to the pool: raw PnL plus slashed stake and
	// insurance cover, minus the flows leaving the pool.
	w.LPNet = t.FinalPnl + w.StakeSlashed + w.InsurancePayout - w.ExecutorProfit - w.InsuranceFee
	return w
}
