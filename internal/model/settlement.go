package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Waterfall is the fixed-order distribution of a record's final PnL.
// All amounts are base units; every field is non-negative except LPNet,
// which is the signed cash delta applied to the pool.
type Waterfall struct {
	BaseFee         int64 `json:"base_fee"`
	LPProfitShare   int64 `json:"lp_profit_share"`
	InsuranceFee    int64 `json:"insurance_fee"`
	ExecutorProfit  int64 `json:"executor_profit"`
	StakeSlashed    int64 `json:"stake_slashed"`
	StakeReturned   int64 `json:"stake_returned"`
	InsurancePayout int64 `json:"insurance_payout"`
	LPNet           int64 `json:"lp_net"`
}

// SettlementRecord is the durable history row written per settlement.
type SettlementRecord struct {
	ID        string         `json:"id" db:"id"`
	RightsID  uint64         `json:"rights_id" db:"rights_id"`
	Executor  common.Address `json:"executor" db:"-"`
	Kind      string         `json:"kind" db:"kind"` // "settle" | "force_settle"
	FinalPnl  int64          `json:"final_pnl" db:"final_pnl"`
	Waterfall Waterfall      `json:"waterfall" db:"-"`
	SettledAt time.Time      `json:"settled_at" db:"settled_at"`
}
