package reputation

import (
	"testing"

	"github.com/ertvault/ertvault/internal/model"
	"github.com/ethereum/go-ethereum/common"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	bob   = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(model.DefaultTierTable())
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestUnknownExecutorIsUnverified(t *testing.T) {
	m := newTestManager(t)
	if got := m.GetTier(alice); got != model.TierUnverified {
		t.Fatalf("GetTier(unknown) = %s, want UNVERIFIED", got)
	}
	rep := m.Get(alice)
	if rep.IsWhitelisted || rep.IsBanned {
		t.Fatalf("unknown executor has flags set: %+v", rep)
	}
}

func TestSetTierWhitelists(t *testing.T) {
	m := newTestManager(t)
	if err := m.SetTier(alice, model.TierPro); err != nil {
		t.Fatalf("SetTier: %v", err)
	}
	rep := m.Get(alice)
	if rep.Tier != model.TierPro || !rep.IsWhitelisted {
		t.Fatalf("after SetTier: %+v", rep)
	}
}

func TestSetTierRejectsUnknownOrdinal(t *testing.T) {
	m := newTestManager(t)
	if err := m.SetTier(alice, model.Tier(9)); err == nil {
		t.Fatal("expected unknown tier ordinal to be rejected")
	}
	if err := m.SetTier(alice, model.Tier(-1)); err == nil {
		t.Fatal("expected negative tier ordinal to be rejected")
	}
}

func TestBanIsSticky(t *testing.T) {
	m := newTestManager(t)
	m.Ban(bob, "oracle manipulation")
	if !m.IsBanned(bob) {
		t.Fatal("Ban did not take")
	}

	// Tier changes do not lift the ban.
	if err := m.SetTier(bob, model.TierElite); err != nil {
		t.Fatalf("SetTier: %v", err)
	}
	if !m.IsBanned(bob) {
		t.Fatal("ban flag must survive tier changes")
	}
	if got := m.Get(bob).BanReason; got != "oracle manipulation" {
		t.Fatalf("BanReason = %q", got)
	}
}

func TestNewManagerValidatesTierTable(t *testing.T) {
	bad := model.DefaultTierTable()
	bad[2].StakeRequiredBps = bad[2].MaxDrawdownBps // violates stake > drawdown
	if _, err := NewManager(bad); err == nil {
		t.Fatal("expected stake<=drawdown tier table to be rejected")
	}
	if _, err := NewManager(nil); err == nil {
		t.Fatal("expected empty tier table to be rejected")
	}
}

func TestGetTierConfigIsPure(t *testing.T) {
	m := newTestManager(t)
	tc, ok := m.GetTierConfig(model.TierUnverified)
	if !ok {
		t.Fatal("missing UNVERIFIED config")
	}
	if tc.MaxCapital != 100_000_000 || tc.StakeRequiredBps != 5000 {
		t.Fatalf("UNVERIFIED config = %+v", tc)
	}
	if _, ok := m.GetTierConfig(model.Tier(99)); ok {
		t.Fatal("expected lookup of unknown tier to fail")
	}
}
