package model

// Tier is an executor's risk classification. Ordinals are wire-stable.
type Tier int

const (
	TierUnverified Tier = iota
	TierNovice
	TierVerified
	TierPro
	TierElite
)

func (t Tier) String() string {
	switch t {
	case TierUnverified:
		return "UNVERIFIED"
	case TierNovice:
		return "NOVICE"
	case TierVerified:
		return "VERIFIED"
	case TierPro:
		return "PRO"
	case TierElite:
		return "ELITE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether t is a configured tier ordinal.
func (t Tier) Valid() bool {
	return t >= TierUnverified && t <= TierElite
}

// TierConfig is per-tier configuration, not per-executor state.
// Invariant enforced at load time: StakeRequiredBps > MaxDrawdownBps,
// so posted collateral always exceeds the maximum permitted loss.
type TierConfig struct {
	MaxCapital       int64 `json:"max_capital" mapstructure:"max_capital"`
	StakeRequiredBps int64 `json:"stake_required_bps" mapstructure:"stake_required_bps"`
	MaxDrawdownBps   int64 `json:"max_drawdown_bps" mapstructure:"max_drawdown_bps"`
	RiskLevelCeiling int   `json:"risk_level_ceiling" mapstructure:"risk_level_ceiling"`
}

// ExecutorReputation is the per-executor identity state. The ban flag is
// sticky: there is no unban operation.
type ExecutorReputation struct {
	Tier          Tier   `json:"tier"`
	IsWhitelisted bool   `json:"is_whitelisted"`
	IsBanned      bool   `json:"is_banned"`
	BanReason     string `json:"ban_reason,omitempty"`
}

// DefaultTierTable returns the built-in tier ladder, used when the config
// file does not override it. Amounts are micro-USDC.
func DefaultTierTable() []TierConfig {
	return []TierConfig{
		{MaxCapital: 100_000_000, StakeRequiredBps: 5000, MaxDrawdownBps: 1000, RiskLevelCeiling: 1},          // UNVERIFIED: $100
		{MaxCapital: 1_000_000_000, StakeRequiredBps: 3000, MaxDrawdownBps: 1500, RiskLevelCeiling: 2},        // NOVICE: $1k
		{MaxCapital: 10_000_000_000, StakeRequiredBps: 2500, MaxDrawdownBps: 2000, RiskLevelCeiling: 3},       // VERIFIED: $10k
		{MaxCapital: 100_000_000_000, StakeRequiredBps: 2000, MaxDrawdownBps: 1500, RiskLevelCeiling: 5},      // PRO: $100k
		{MaxCapital: 1_000_000_000_000, StakeRequiredBps: 1500, MaxDrawdownBps: 1000, RiskLevelCeiling: 10},   // ELITE: $1m
	}
}
