package model

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// LifecycleState of a rights record. PENDING exists only inside the mint
// call; all terminal states are final.
type LifecycleState string

const (
	StatePending    LifecycleState = "PENDING"
	StateActive     LifecycleState = "ACTIVE"
	StateSettled    LifecycleState = "SETTLED"
	StateExpired    LifecycleState = "EXPIRED"
	StateLiquidated LifecycleState = "LIQUIDATED"
)

// Terminal reports whether s is a final state.
func (s LifecycleState) Terminal() bool {
	return s == StateSettled || s == StateExpired || s == StateLiquidated
}

// Constraints bound what the holder may do with the allocated capital.
type Constraints struct {
	MaxLeverage        int      `json:"max_leverage"`
	MaxDrawdownBps     int64    `json:"max_drawdown_bps"`
	MaxPositionSizeBps int64    `json:"max_position_size_bps"`
	AllowedAdapters    []string `json:"allowed_adapters"`
	AllowedAssets      []string `json:"allowed_assets"`
}

// FeeTerms fixed at mint time.
type FeeTerms struct {
	BaseFeeAprBps  int64 `json:"base_fee_apr_bps"`
	ProfitShareBps int64 `json:"profit_share_bps"`
	StakedAmount   int64 `json:"staked_amount"`
}

// PerformanceStatus is the running performance of an active record.
// HighWaterMark and MaxDrawdownHitBps are monotonically non-decreasing.
type PerformanceStatus struct {
	CapitalDeployed   int64 `json:"capital_deployed"`
	RealizedPnl       int64 `json:"realized_pnl"`
	UnrealizedPnl     int64 `json:"unrealized_pnl"`
	HighWaterMark     int64 `json:"high_water_mark"`
	MaxDrawdownHitBps int64 `json:"max_drawdown_hit_bps"`
}

// RightsRecord (ERT) is a time-boxed, capital-bounded claim authorizing
// its holder to direct a bounded slice of pooled capital.
type RightsRecord struct {
	ID           uint64            `json:"id"`
	Executor     common.Address    `json:"executor"`
	CapitalLimit int64             `json:"capital_limit"`
	StartTime    time.Time         `json:"start_time"`
	ExpiryTime   time.Time         `json:"expiry_time"`
	Constraints  Constraints       `json:"constraints"`
	Fees         FeeTerms          `json:"fees"`
	Status       PerformanceStatus `json:"status"`
	State        LifecycleState    `json:"lifecycle_state"`
}

// Clone returns a copy safe to hand to callers outside the registry lock.
func (r *RightsRecord) Clone() *RightsRecord {
	cp := *r
	cp.Constraints.AllowedAdapters = append([]string(nil), r.Constraints.AllowedAdapters...)
	cp.Constraints.AllowedAssets = append([]string(nil), r.Constraints.AllowedAssets...)
	return &cp
}

// AssetAllowed reports whether asset is in the record's allow-list.
// An empty allow-list permits nothing.
func (r *RightsRecord) AssetAllowed(asset string) bool {
	for _, a := range r.Constraints.AllowedAssets {
		if a == asset {
			return true
		}
	}
	return false
}

// AdapterAllowed reports whether adapter is in the record's allow-list.
func (r *RightsRecord) AdapterAllowed(adapter string) bool {
	for _, a := range r.Constraints.AllowedAdapters {
		if a == adapter {
			return true
		}
	}
	return false
}
