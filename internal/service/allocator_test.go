package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ertvault/ertvault/internal/adapter"
	"github.com/ertvault/ertvault/internal/breaker"
	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/oracle"
	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/policy"
	"github.com/ertvault/ertvault/internal/registry"
	"github.com/ertvault/ertvault/internal/reputation"
	"github.com/ertvault/ertvault/internal/settlement"
	"github.com/ertvault/ertvault/internal/vault"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var allocExecutor = common.HexToAddress("0x00000000000000000000000000000000000000e1")

// fakeAdapter deploys at a fixed entry price and realizes a programmed
// PnL on unwind.
type fakeAdapter struct {
	name      string
	entry     decimal.Decimal
	unwindPnl int64
	deployErr error
	deploys   int
	unwinds   int
}

func (f *fakeAdapter) Name() string { return f.name }

func (f *fakeAdapter) Deploy(_ context.Context, asset string, amount int64) (adapter.Position, error) {
	if f.deployErr != nil {
		return adapter.Position{}, f.deployErr
	}
	f.deploys++
	return adapter.Position{
		Adapter:    f.name,
		Asset:      asset,
		Amount:     amount,
		Quantity:   decimal.NewFromInt(amount).Div(f.entry),
		EntryPrice: f.entry,
		OpenedAt:   time.Now(),
	}, nil
}

func (f *fakeAdapter) Unwind(_ context.Context, _ adapter.Position) (int64, error) {
	f.unwinds++
	return f.unwindPnl, nil
}

type allocFixture struct {
	reg   *registry.Registry
	vault *vault.Vault
	feed  *oracle.Feed
	alloc *Allocator
	ad    *fakeAdapter
}

func newAllocFixture(t *testing.T) *allocFixture {
	t.Helper()
	util, err := policy.NewUtilizationController(7000)
	if err != nil {
		t.Fatalf("NewUtilizationController: %v", err)
	}
	exposure, err := policy.NewExposureManager(3000)
	if err != nil {
		t.Fatalf("NewExposureManager: %v", err)
	}
	rep, err := reputation.NewManager(model.DefaultTierTable())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cb := breaker.New(500, nil)
	pool := vault.New(1_000_000_000, util, exposure, cb)
	reg := registry.New(rep, cb, 24*time.Hour, 90*24*time.Hour)

	feed := oracle.NewFeed("", nil)
	ad := &fakeAdapter{name: "swap", entry: decimal.NewFromInt(100)}
	alloc := NewAllocator(reg, pool, feed, map[string]adapter.CapabilityAdapter{ad.name: ad})
	return &allocFixture{reg: reg, vault: pool, feed: feed, alloc: alloc, ad: ad}
}

func (f *allocFixture) mint(t *testing.T, maxDrawdownBps int64) *model.RightsRecord {
	t.Helper()
	rec, err := f.reg.Mint(registry.MintParams{
		Executor:     allocExecutor,
		CapitalLimit: 50_000_000,
		Duration:     7 * 24 * time.Hour,
		Constraints: model.Constraints{
			MaxLeverage:     1,
			MaxDrawdownBps:  maxDrawdownBps,
			AllowedAdapters: []string{"swap"},
			AllowedAssets:   []string{"WETH"},
		},
		Fees: model.FeeTerms{
			StakedAmount: 25_000_000,
		},
		StakePosted: 25_000_000,
	})
	if err != nil {
		t.Fatalf("Mint: %v", err)
	}
	return rec
}

func TestDrawDeploysThroughAdapter(t *testing.T) {
	f := newAllocFixture(t)
	rec := f.mint(t, 1000)

	if err := f.alloc.Draw(context.Background(), rec.ID, "swap", "WETH", 10_000_000); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	if f.ad.deploys != 1 {
		t.Fatalf("adapter deploys = %d, want 1", f.ad.deploys)
	}
	if got := f.vault.AllocatedCapital(rec.ID); got != 10_000_000 {
		t.Fatalf("AllocatedCapital = %d, want 10000000", got)
	}
	got, _ := f.reg.GetRights(rec.ID)
	if got.Status.CapitalDeployed != 10_000_000 {
		t.Fatalf("CapitalDeployed = %d, want 10000000", got.Status.CapitalDeployed)
	}
}

func TestDrawRejectsDisallowedAssetAndAdapter(t *testing.T) {
	f := newAllocFixture(t)
	rec := f.mint(t, 1000)

	err := f.alloc.Draw(context.Background(), rec.ID, "swap", "WBTC", 1_000_000)
	if apperrors.ReasonOf(err) != apperrors.ReasonAssetNotAllowed {
		t.Fatalf("disallowed asset: %v, want ASSET_NOT_ALLOWED", err)
	}
	err = f.alloc.Draw(context.Background(), rec.ID, "perp", "WETH", 1_000_000)
	if apperrors.ReasonOf(err) != apperrors.ReasonAdapterNotAllowed {
		t.Fatalf("disallowed adapter: %v, want ADAPTER_NOT_ALLOWED", err)
	}
}

func TestDrawRejectsOverCapitalLimit(t *testing.T) {
	f := newAllocFixture(t)
	rec := f.mint(t, 1000)

	err := f.alloc.Draw(context.Background(), rec.ID, "swap", "WETH", 50_000_001)
	if apperrors.ReasonOf(err) != apperrors.ReasonCapitalLimitExceeded {
		t.Fatalf("over-limit draw: %v, want CAPITAL_LIMIT_EXCEEDED", err)
	}
}

func TestDrawRollsBackOnDeployFailure(t *testing.T) {
	f := newAllocFixture(t)
	rec := f.mint(t, 1000)
	f.ad.deployErr = errors.New("venue offline")

	if err := f.alloc.Draw(context.Background(), rec.ID, "swap", "WETH", 10_000_000); err == nil {
		t.Fatal("expected deploy failure to surface")
	}
	if got := f.vault.AllocatedCapital(rec.ID); got != 0 {
		t.Fatalf("allocation not rolled back: %d", got)
	}
	if got := f.vault.TotalAllocated(); got != 0 {
		t.Fatalf("TotalAllocated = %d, want 0", got)
	}
}

func TestUnwindAllRealizesPnl(t *testing.T) {
	f := newAllocFixture(t)
	rec := f.mint(t, 1000)
	f.ad.unwindPnl = 2_000_000

	if err := f.alloc.Draw(context.Background(), rec.ID, "swap", "WETH", 10_000_000); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	realized, err := f.alloc.UnwindAll(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("UnwindAll: %v", err)
	}
	if realized != 2_000_000 {
		t.Fatalf("realized = %d, want 2000000", realized)
	}
	if got := f.vault.AllocatedCapital(rec.ID); got != 0 {
		t.Fatalf("AllocatedCapital = %d, want 0", got)
	}
	got, _ := f.reg.GetRights(rec.ID)
	if got.Status.RealizedPnl != 2_000_000 || got.Status.CapitalDeployed != 0 {
		t.Fatalf("status after unwind: %+v", got.Status)
	}
}

func TestSettleUnwindsOpenPositions(t *testing.T) {
	f := newAllocFixture(t)
	rec := f.mint(t, 1000)
	f.ad.unwindPnl = 1_000_000

	if err := f.alloc.Draw(context.Background(), rec.ID, "swap", "WETH", 10_000_000); err != nil {
		t.Fatalf("Draw: %v", err)
	}

	engine := settlement.NewEngine(f.reg, f.vault, settlement.NewInsuranceFund(0), nil, nil, 100, 0).
		WithPositionCloser(f.alloc)
	if _, err := engine.Settle(context.Background(), rec.ID, 1_000_000); err != nil {
		t.Fatalf("Settle: %v", err)
	}

	// The position closed at the adapter and left the controller's books.
	if f.ad.unwinds != 1 {
		t.Fatalf("adapter unwinds = %d, want 1", f.ad.unwinds)
	}
	if got := f.alloc.Positions(rec.ID); len(got) != 0 {
		t.Fatalf("open positions after settlement = %d, want 0", len(got))
	}
	if got := f.vault.TotalAllocated(); got != 0 {
		t.Fatalf("TotalAllocated after settlement = %d, want 0", got)
	}

	// A later unwind finds nothing to close instead of double-unwinding.
	realized, err := f.alloc.UnwindAll(context.Background(), rec.ID)
	if err != nil || realized != 0 {
		t.Fatalf("UnwindAll after settle = (%d, %v), want clean no-op", realized, err)
	}
	if f.ad.unwinds != 1 {
		t.Fatalf("adapter unwinds after retry = %d, want 1", f.ad.unwinds)
	}
}

func TestMarkToMarketLiquidatesOnDrawdownBreach(t *testing.T) {
	f := newAllocFixture(t)
	rec := f.mint(t, 1000) // 10% drawdown ceiling

	if err := f.alloc.Draw(context.Background(), rec.ID, "swap", "WETH", 50_000_000); err != nil {
		t.Fatalf("Draw: %v", err)
	}

	// Entry at 100; an 11% drop on a fully deployed record breaches the
	// 10% drawdown constraint.
	f.feed.SetMark("WETH", decimal.NewFromInt(89))
	if err := f.alloc.MarkToMarket(context.Background(), rec.ID); err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}

	got, _ := f.reg.GetRights(rec.ID)
	if got.State != model.StateLiquidated {
		t.Fatalf("state = %s, want LIQUIDATED", got.State)
	}
	if f.ad.unwinds != 1 {
		t.Fatalf("adapter unwinds = %d, want 1", f.ad.unwinds)
	}
	if got := f.vault.AllocatedCapital(rec.ID); got != 0 {
		t.Fatalf("allocation not released: %d", got)
	}
}

func TestMarkToMarketWithinConstraintKeepsActive(t *testing.T) {
	f := newAllocFixture(t)
	rec := f.mint(t, 1000)

	if err := f.alloc.Draw(context.Background(), rec.ID, "swap", "WETH", 50_000_000); err != nil {
		t.Fatalf("Draw: %v", err)
	}
	f.feed.SetMark("WETH", decimal.NewFromInt(95)) // 5% drop
	if err := f.alloc.MarkToMarket(context.Background(), rec.ID); err != nil {
		t.Fatalf("MarkToMarket: %v", err)
	}

	got, _ := f.reg.GetRights(rec.ID)
	if got.State != model.StateActive {
		t.Fatalf("state = %s, want ACTIVE", got.State)
	}
	if got.Status.MaxDrawdownHitBps != 500 {
		t.Fatalf("drawdown = %d bps, want 500", got.Status.MaxDrawdownHitBps)
	}
}
