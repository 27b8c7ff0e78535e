package policy

import "testing"

const million = 1_000_000

func newUtil(t *testing.T, bps int64) *UtilizationController {
	t.Helper()
	u, err := NewUtilizationController(bps)
	if err != nil {
		t.Fatalf("NewUtilizationController(%d): %v", bps, err)
	}
	return u
}

func TestCanAllocateBoundary(t *testing.T) {
	u := newUtil(t, 7000)

	cases := []struct {
		name      string
		total     int64
		allocated int64
		request   int64
		want      bool
	}{
		{"exactly at cap", million, 0, 700_000, true},
		{"one unit over cap", million, 700_000, 1, false},
		{"under cap", million, 500_000, 100_000, true},
		{"rounding cannot understate", million, 0, 700_001, false},
		{"zero pool", 0, 0, 1, false},
		{"negative request", million, 0, -1, false},
	}
	for _, tc := range cases {
		if got := u.CanAllocate(tc.total, tc.allocated, tc.request); got != tc.want {
			t.Errorf("%s: CanAllocate(%d, %d, %d) = %v, want %v",
				tc.name, tc.total, tc.allocated, tc.request, got, tc.want)
		}
	}
}

func TestCanWithdrawDrainRule(t *testing.T) {
	u := newUtil(t, 7000)

	// Draining to zero is fine only with nothing allocated.
	if !u.CanWithdraw(million, 0, million) {
		t.Fatal("expected full withdrawal with zero allocation to pass")
	}
	if u.CanWithdraw(million, 1, million) {
		t.Fatal("expected full withdrawal with live allocation to fail")
	}
	// Withdrawal that pushes utilization of the remainder over the cap.
	if u.CanWithdraw(million, 700_000, 100_000) {
		t.Fatal("expected withdrawal pushing utilization over cap to fail")
	}
	if u.CanWithdraw(million, 0, million+1) {
		t.Fatal("expected overdraw to fail")
	}
}

func TestAvailablePlusReserveCoversPool(t *testing.T) {
	u := newUtil(t, 7000)

	for _, total := range []int64{million, 999_999, 3, 10_000_000_001} {
		available := u.AvailableForAllocation(total, 0)
		reserve := u.ReserveAmount(total)
		if available+reserve != total {
			t.Errorf("total %d: available %d + reserve %d != total", total, available, reserve)
		}
	}
}

func TestAvailableIsFloorEstimate(t *testing.T) {
	u := newUtil(t, 7000)

	// The estimate floors while the gate ceils, so the estimate is always
	// admissible but the estimate plus one unit may not be.
	total, allocated := int64(999_999), int64(100_000)
	available := u.AvailableForAllocation(total, allocated)
	if available > 0 && !u.CanAllocate(total, allocated, available) {
		t.Fatalf("available %d rejected by its own gate", available)
	}
	if u.CanAllocate(total, allocated, available+1) {
		t.Fatalf("available+1 = %d unexpectedly passed the gate", available+1)
	}
}

func TestMaxWithdrawableComposition(t *testing.T) {
	u := newUtil(t, 7000)

	cases := []struct {
		total     int64
		allocated int64
	}{
		{million, 0},
		{million, 700_000},
		{million, 350_000},
		{million, 123_457},
		{3, 1},
	}
	for _, tc := range cases {
		maxW := u.MaxWithdrawable(tc.total, tc.allocated)
		if maxW > 0 && !u.CanWithdraw(tc.total, tc.allocated, maxW) {
			t.Errorf("MaxWithdrawable(%d, %d) = %d rejected by CanWithdraw",
				tc.total, tc.allocated, maxW)
		}
		if u.CanWithdraw(tc.total, tc.allocated, maxW+1) {
			t.Errorf("MaxWithdrawable(%d, %d)+1 = %d unexpectedly passed CanWithdraw",
				tc.total, tc.allocated, maxW+1)
		}
	}
}

func TestMaxWithdrawableZeroCap(t *testing.T) {
	u := newUtil(t, 0)
	if got := u.MaxWithdrawable(million, 1); got != 0 {
		t.Fatalf("zero cap with allocation: MaxWithdrawable = %d, want 0", got)
	}
	if got := u.MaxWithdrawable(million, 0); got != million {
		t.Fatalf("zero cap without allocation: MaxWithdrawable = %d, want %d", got, million)
	}
}

func TestSetMaxUtilizationBounds(t *testing.T) {
	u := newUtil(t, 7000)
	if err := u.SetMaxUtilization(10_001); err == nil {
		t.Fatal("expected >10000 bps to be rejected")
	}
	if err := u.SetMaxUtilization(-1); err == nil {
		t.Fatal("expected negative bps to be rejected")
	}
	if err := u.SetMaxUtilization(9000); err != nil {
		t.Fatalf("SetMaxUtilization(9000): %v", err)
	}
	if got := u.MaxUtilizationBps(); got != 9000 {
		t.Fatalf("MaxUtilizationBps = %d, want 9000", got)
	}
}

func TestCeilDiv(t *testing.T) {
	cases := []struct{ a, b, want int64 }{
		{0, 7, 0},
		{1, 7, 1},
		{7, 7, 1},
		{8, 7, 2},
		{7_000_000_000, 1_000_000, 7000},
		{7_000_000_001, 1_000_000, 7001},
	}
	for _, tc := range cases {
		if got := ceilDiv(tc.a, tc.b); got != tc.want {
			t.Errorf("ceilDiv(%d, %d) = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}
