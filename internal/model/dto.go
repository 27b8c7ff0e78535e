package model

// MintRequest is the API payload for minting a rights record. Amounts in
// base units; duration in seconds.
type MintRequest struct {
	CapitalLimit    int64 `json:"capital_limit" binding:"required,gt=0"`
	DurationSeconds int64 `json:"duration_seconds" binding:"required,gt=0"`

	MaxLeverage        int      `json:"max_leverage"`
	MaxDrawdownBps     int64    `json:"max_drawdown_bps"`
	MaxPositionSizeBps int64    `json:"max_position_size_bps"`
	AllowedAdapters    []string `json:"allowed_adapters"`
	AllowedAssets      []string `json:"allowed_assets"`

	BaseFeeAprBps  int64 `json:"base_fee_apr_bps"`
	ProfitShareBps int64 `json:"profit_share_bps"`
	StakePosted    int64 `json:"stake_posted"`
}

// SettleRequest carries the final PnL from the settlement authority.
type SettleRequest struct {
	FinalPnl int64 `json:"final_pnl"`
}

// AmountRequest is the shared deposit/withdraw/payout payload.
type AmountRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// TierRequest sets an executor's tier.
type TierRequest struct {
	Tier int `json:"tier"`
}

// BanRequest bans an executor.
type BanRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// CapRequest updates a policy ceiling.
type CapRequest struct {
	Bps int64 `json:"bps" binding:"required,gte=0"`
}

// DrawRequest deploys capital from an active record through an adapter.
type DrawRequest struct {
	Adapter string `json:"adapter" binding:"required"`
	Asset   string `json:"asset" binding:"required"`
	Amount  int64  `json:"amount" binding:"required,gt=0"`
}
