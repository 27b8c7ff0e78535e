package vault

import (
	"testing"

	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/policy"
)

const million = int64(1_000_000)

type stubBreaker struct{ paused bool }

func (s *stubBreaker) IsPaused() bool { return s.paused }

func newTestVault(t *testing.T, initial int64) (*Vault, *stubBreaker) {
	t.Helper()
	util, err := policy.NewUtilizationController(7000)
	if err != nil {
		t.Fatalf("NewUtilizationController: %v", err)
	}
	exposure, err := policy.NewExposureManager(3000)
	if err != nil {
		t.Fatalf("NewExposureManager: %v", err)
	}
	cb := &stubBreaker{}
	return New(initial, util, exposure, cb), cb
}

func TestAllocateRespectsUtilizationCap(t *testing.T) {
	v, _ := newTestVault(t, million)

	if err := v.Allocate(1, "WETH", 300_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := v.Allocate(2, "USDC", 300_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := v.Allocate(3, "WBTC", 100_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	// Pool is now at the 70% ceiling exactly.
	err := v.Allocate(4, "DAI", 1)
	if apperrors.ReasonOf(err) != apperrors.ReasonUtilizationExceeded {
		t.Fatalf("over-cap Allocate: %v, want UTILIZATION_EXCEEDED", err)
	}
	if got := v.TotalAllocated(); got != 700_000 {
		t.Fatalf("TotalAllocated = %d, want 700000", got)
	}
}

func TestAllocateRespectsExposureCap(t *testing.T) {
	v, _ := newTestVault(t, million)

	if err := v.Allocate(1, "WETH", 300_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	// WETH is at 30% of the pool; one more unit breaches the asset cap
	// even though utilization has headroom.
	err := v.Allocate(2, "WETH", 1)
	if apperrors.ReasonOf(err) != apperrors.ReasonExposureExceeded {
		t.Fatalf("over-exposure Allocate: %v, want EXPOSURE_EXCEEDED", err)
	}
	if err := v.Allocate(2, "USDC", 1); err != nil {
		t.Fatalf("different asset should still pass: %v", err)
	}
}

func TestAllocateBlockedWhilePaused(t *testing.T) {
	v, cb := newTestVault(t, million)
	cb.paused = true
	err := v.Allocate(1, "WETH", 1)
	if apperrors.ReasonOf(err) != apperrors.ReasonCircuitBreakerActive {
		t.Fatalf("paused Allocate: %v, want CIRCUIT_BREAKER_ACTIVE", err)
	}
}

func TestWithdrawDrainRule(t *testing.T) {
	v, _ := newTestVault(t, million)
	if err := v.Allocate(1, "WETH", 100_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	err := v.Withdraw(million)
	if apperrors.ReasonOf(err) != apperrors.ReasonVaultWouldDrain {
		t.Fatalf("draining Withdraw: %v, want VAULT_WOULD_DRAIN", err)
	}

	// Withdrawing down to where utilization would breach the cap fails
	// with the utilization reason instead.
	err = v.Withdraw(million - 100_001)
	if apperrors.ReasonOf(err) != apperrors.ReasonUtilizationExceeded {
		t.Fatalf("over-utilizing Withdraw: %v, want UTILIZATION_EXCEEDED", err)
	}

	if err := v.Withdraw(v.MaxWithdrawable()); err != nil {
		t.Fatalf("Withdraw(MaxWithdrawable): %v", err)
	}
}

func TestReleaseClearsAllocationAndAppliesNet(t *testing.T) {
	v, _ := newTestVault(t, million)
	if err := v.Allocate(7, "WETH", 200_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := v.Allocate(7, "USDC", 100_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}

	v.Release(7, 50_000)

	if got := v.TotalAssets(); got != million+50_000 {
		t.Fatalf("TotalAssets = %d, want %d", got, million+50_000)
	}
	if got := v.TotalAllocated(); got != 0 {
		t.Fatalf("TotalAllocated = %d, want 0", got)
	}
	if got := v.AllocatedCapital(7); got != 0 {
		t.Fatalf("AllocatedCapital = %d, want 0", got)
	}
	if got := v.AssetExposure("WETH"); got != 0 {
		t.Fatalf("AssetExposure(WETH) = %d, want 0", got)
	}
}

func TestUnwindReturnsPartialDraw(t *testing.T) {
	v, _ := newTestVault(t, million)
	if err := v.Allocate(1, "WETH", 200_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if err := v.Unwind(1, "WETH", 150_000); err != nil {
		t.Fatalf("Unwind: %v", err)
	}
	if got := v.AllocatedCapital(1); got != 50_000 {
		t.Fatalf("AllocatedCapital = %d, want 50000", got)
	}
	// TotalAssets untouched; realized PnL flows through Release.
	if got := v.TotalAssets(); got != million {
		t.Fatalf("TotalAssets = %d, want %d", got, million)
	}
	if err := v.Unwind(1, "WETH", 60_000); err == nil {
		t.Fatal("expected unwind beyond remaining draw to fail")
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	v, _ := newTestVault(t, 0)
	if err := v.Deposit(million); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	if err := v.Withdraw(million); err != nil {
		t.Fatalf("Withdraw: %v", err)
	}
	if got := v.TotalAssets(); got != 0 {
		t.Fatalf("TotalAssets = %d, want 0", got)
	}
	if err := v.Deposit(0); err == nil {
		t.Fatal("expected zero deposit to fail")
	}
}

func TestAvailableAndReserveViews(t *testing.T) {
	v, _ := newTestVault(t, million)
	if got := v.AvailableForAllocation(); got != 700_000 {
		t.Fatalf("AvailableForAllocation = %d, want 700000", got)
	}
	if got := v.ReserveAmount(); got != 300_000 {
		t.Fatalf("ReserveAmount = %d, want 300000", got)
	}
	if err := v.Allocate(1, "WETH", 300_000); err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if got := v.AvailableForAllocation(); got != 400_000 {
		t.Fatalf("AvailableForAllocation after draw = %d, want 400000", got)
	}
}
