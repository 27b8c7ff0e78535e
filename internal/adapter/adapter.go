package adapter

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Position is an open deployment of pooled capital through a capability
// adapter. Quantity and EntryPrice are oracle-denominated; Amount is the
// base-unit capital the position consumed.
type Position struct {
	Adapter    string          `json:"adapter"`
	Asset      string          `json:"asset"`
	Amount     int64           `json:"amount"`
	Quantity   decimal.Decimal `json:"quantity"`
	EntryPrice decimal.Decimal `json:"entry_price"`
	OpenedAt   time.Time       `json:"opened_at"`
}

// CapabilityAdapter is the fixed interface capital deployment goes
// through (swap/lend/stake/perp). Implementations are external
// collaborators; the engine only sees capital in, PnL out.
type CapabilityAdapter interface {
	Name() string

	// Deploy commits amount base units to the asset and returns the
	// resulting position.
	Deploy(ctx context.Context, asset string, amount int64) (Position, error)

	// Unwind closes the position and returns the realized PnL in base
	// units.
	Unwind(ctx context.Context, pos Position) (int64, error)
}
