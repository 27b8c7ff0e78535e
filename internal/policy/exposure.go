package policy

import (
	"sync"

	"github.com/ertvault/ertvault/internal/pkg/apperrors"
)

// ExposureManager caps the share of the pool committed to any single
// asset. It owns no per-asset running totals; the caller supplies the
// proposed post-allocation total for the asset, keeping this a stateless
// policy check.
type ExposureManager struct {
	mu                sync.RWMutex
	maxSingleAssetBps int64
}

func NewExposureManager(maxBps int64) (*ExposureManager, error) {
	if maxBps < 0 || maxBps > bpsDenominator {
		return nil, apperrors.InvalidRequest("max single-asset exposure %d bps out of range", maxBps)
	}
	return &ExposureManager{maxSingleAssetBps: maxBps}, nil
}

func (e *ExposureManager) SetMaxSingleAsset(bps int64) error {
	if bps < 0 || bps > bpsDenominator {
		return apperrors.InvalidRequest("max single-asset exposure %d bps out of range", bps)
	}
	e.mu.Lock()
	e.maxSingleAssetBps = bps
	e.mu.Unlock()
	return nil
}

func (e *ExposureManager) MaxSingleAssetBps() int64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.maxSingleAssetBps
}

// CanAddExposure reports whether proposedAssetAllocation (the asset's
// total after the new draw) keeps the asset's share at or below the
// ceiling. The limit is the same for every asset, so the name does not
// enter the check.
func (e *ExposureManager) CanAddExposure(asset string, proposedAssetAllocation, totalAssets int64) bool {
	if totalAssets <= 0 || proposedAssetAllocation < 0 {
		return false
	}
	return proposedAssetAllocation*bpsDenominator <= totalAssets*e.MaxSingleAssetBps()
}
