package service

import (
	"sync"

	"github.com/ertvault/ertvault/internal/config"
	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ertvault/ertvault/internal/reputation"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"
)

// ExecutorAccount is an API principal: an on-chain executor identity
// plus the gateway key it authenticates with.
type ExecutorAccount struct {
	Address common.Address
	APIKey  string
}

// ExecutorManager resolves API keys to executor accounts and owns the
// per-executor rate limiters. Config-registered executors are also
// bootstrapped into the reputation manager at startup.
type ExecutorManager struct {
	mu       sync.RWMutex
	byKey    map[string]*ExecutorAccount
	limiters map[common.Address]*rate.Limiter
}

func NewExecutorManager(cfg *config.Config, rep *reputation.Manager) *ExecutorManager {
	em := &ExecutorManager{
		byKey:    make(map[string]*ExecutorAccount),
		limiters: make(map[common.Address]*rate.Limiter),
	}
	for _, ec := range cfg.Executors {
		if !common.IsHexAddress(ec.Address) {
			logger.Warn("skipping executor with invalid address", "address", ec.Address)
			continue
		}
		addr := common.HexToAddress(ec.Address)
		em.Register(&ExecutorAccount{Address: addr, APIKey: ec.APIKey}, ec.RateQPS, ec.RateBurst)
		if rep != nil && ec.Tier > 0 {
			if err := rep.SetTier(addr, model.Tier(ec.Tier)); err != nil {
				logger.Warn("failed to bootstrap executor tier", "address", ec.Address, "error", err)
			}
		}
	}
	return em
}

// Register adds or replaces an executor account.
func (em *ExecutorManager) Register(acct *ExecutorAccount, qps float64, burst int) {
	if qps <= 0 {
		qps = 10
	}
	if burst <= 0 {
		burst = 20
	}
	em.mu.Lock()
	em.byKey[acct.APIKey] = acct
	em.limiters[acct.Address] = rate.NewLimiter(rate.Limit(qps), burst)
	em.mu.Unlock()
}

// ByAPIKey resolves a gateway key to its executor account.
func (em *ExecutorManager) ByAPIKey(key string) (*ExecutorAccount, bool) {
	em.mu.RLock()
	defer em.mu.RUnlock()
	acct, ok := em.byKey[key]
	return acct, ok
}

// LimiterFor returns the executor's rate limiter, or nil if unknown.
func (em *ExecutorManager) LimiterFor(addr common.Address) *rate.Limiter {
	em.mu.RLock()
	defer em.mu.RUnlock()
	return em.limiters[addr]
}
