package policy

import "testing"

func TestCanAddExposure(t *testing.T) {
	e, err := NewExposureManager(3000)
	if err != nil {
		t.Fatalf("NewExposureManager: %v", err)
	}

	cases := []struct {
		name     string
		proposed int64
		total    int64
		want     bool
	}{
		{"exactly at cap", 300_000, million, true},
		{"one unit over", 300_001, million, false},
		{"well under", 100_000, million, true},
		{"zero pool", 1, 0, false},
		{"negative proposed", -1, million, false},
	}
	for _, tc := range cases {
		if got := e.CanAddExposure("WETH", tc.proposed, tc.total); got != tc.want {
			t.Errorf("%s: CanAddExposure(%d, %d) = %v, want %v",
				tc.name, tc.proposed, tc.total, got, tc.want)
		}
	}
}

func TestSetMaxSingleAssetBounds(t *testing.T) {
	e, err := NewExposureManager(3000)
	if err != nil {
		t.Fatalf("NewExposureManager: %v", err)
	}
	if err := e.SetMaxSingleAsset(10_001); err == nil {
		t.Fatal("expected >10000 bps to be rejected")
	}
	if err := e.SetMaxSingleAsset(5000); err != nil {
		t.Fatalf("SetMaxSingleAsset(5000): %v", err)
	}
	if !e.CanAddExposure("WETH", 500_000, million) {
		t.Fatal("expected raised cap to admit 50% exposure")
	}
}

func TestNewExposureManagerRejectsOutOfRange(t *testing.T) {
	if _, err := NewExposureManager(10_001); err == nil {
		t.Fatal("expected out-of-range cap to be rejected")
	}
	if _, err := NewExposureManager(-1); err == nil {
		t.Fatal("expected negative cap to be rejected")
	}
}
