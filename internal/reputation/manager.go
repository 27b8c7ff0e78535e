package reputation

import (
	"sync"

	"github.com/ertvault/ertvault/internal/config"
	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ethereum/go-ethereum/common"
)

// Manager holds executor identity state (tier, whitelist, sticky ban)
// and the injected per-tier configuration table. Reputations are never
// deleted; unknown executors read as UNVERIFIED.
type Manager struct {
	mu    sync.RWMutex
	reps  map[common.Address]*model.ExecutorReputation
	tiers []model.TierConfig
}

// NewManager validates the tier table (stake must exceed drawdown for
// every tier) and returns a manager seeded with it.
func NewManager(tiers []model.TierConfig) (*Manager, error) {
	if err := config.ValidateTiers(tiers); err != nil {
		return nil, err
	}
	return &Manager{
		reps:  make(map[common.Address]*model.ExecutorReputation),
		tiers: append([]model.TierConfig(nil), tiers...),
	}, nil
}

// GetTier returns the executor's tier; unknown executors are UNVERIFIED.
func (m *Manager) GetTier(executor common.Address) model.Tier {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rep, ok := m.reps[executor]; ok {
		return rep.Tier
	}
	return model.TierUnverified
}

// Get returns a copy of the executor's reputation record.
func (m *Manager) Get(executor common.Address) model.ExecutorReputation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rep, ok := m.reps[executor]; ok {
		return *rep
	}
	return model.ExecutorReputation{Tier: model.TierUnverified}
}

// SetTier assigns a tier and implicitly whitelists. Admin only; the
// access check lives at the API boundary.
func (m *Manager) SetTier(executor common.Address, tier model.Tier) error {
	if !tier.Valid() {
		return apperrors.InvalidRequest("unknown tier ordinal %d", tier)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(tier) >= len(m.tiers) {
		return apperrors.InvalidRequest("tier %d has no configuration", tier)
	}
	rep, ok := m.reps[executor]
	if !ok {
		rep = &model.ExecutorReputation{}
		m.reps[executor] = rep
	}
	rep.Tier = tier
	rep.IsWhitelisted = true
	logger.Info("executor tier set", "executor", executor.Hex(), "tier", tier.String())
	return nil
}

// Ban sets the sticky ban flag. There is no unban path.
func (m *Manager) Ban(executor common.Address, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rep, ok := m.reps[executor]
	if !ok {
		rep = &model.ExecutorReputation{Tier: model.TierUnverified}
		m.reps[executor] = rep
	}
	rep.IsBanned = true
	rep.BanReason = reason
	logger.Warn("executor banned", "executor", executor.Hex(), "reason", reason)
}

// IsBanned reports the sticky ban flag.
func (m *Manager) IsBanned(executor common.Address) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rep, ok := m.reps[executor]
	return ok && rep.IsBanned
}

// GetTierConfig is a pure lookup with no side effects, safe from any
// context.
func (m *Manager) GetTierConfig(tier model.Tier) (model.TierConfig, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if int(tier) < 0 || int(tier) >= len(m.tiers) {
		return model.TierConfig{}, false
	}
	return m.tiers[int(tier)], true
}

// TierTable returns a copy of the configured ladder.
func (m *Manager) TierTable() []model.TierConfig {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.TierConfig(nil), m.tiers...)
}
