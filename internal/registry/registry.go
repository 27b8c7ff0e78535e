package registry

import (
	"sort"
	"sync"
	"time"

	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ertvault/ertvault/internal/pkg/metrics"
	"github.com/ertvault/ertvault/internal/reputation"
	"github.com/ethereum/go-ethereum/common"
)

const (
	bpsDenominator = 10000
	dayLength      = 24 * time.Hour
)

// PauseCheck is the slice of the circuit breaker the registry consults
// before minting. A nil breaker disables the check.
type PauseCheck interface {
	IsPaused() bool
}

// MintParams is the validated input to Mint. StakePosted is the
// collateral actually transferred by the executor; Fees.StakedAmount is
// what the record will carry.
type MintParams struct {
	Executor     common.Address
	CapitalLimit int64
	Duration     time.Duration
	Constraints  model.Constraints
	Fees         model.FeeTerms
	StakePosted  int64
}

// Registry mints, tracks and terminates rights records. It is the single
// writer for record lifecycle state; every mutation holds the registry
// lock end to end.
type Registry struct {
	mu         sync.Mutex
	records    map[uint64]*model.RightsRecord
	byExecutor map[common.Address][]uint64
	nextID     uint64

	// expiryBuckets maps a UTC day boundary (unix seconds) to the sum of
	// capitalLimit expiring that day. Append-only: early settlement does
	// not decrement; the buckets are a forward-capacity hint, not truth.
	expiryBuckets map[int64]int64

	rep         *reputation.Manager
	breaker     PauseCheck
	minDuration time.Duration
	maxDuration time.Duration
	now         func() time.Time
}

func New(rep *reputation.Manager, breaker PauseCheck, minDuration, maxDuration time.Duration) *Registry {
	return &Registry{
		records:       make(map[uint64]*model.RightsRecord),
		byExecutor:    make(map[common.Address][]uint64),
		expiryBuckets: make(map[int64]int64),
		rep:           rep,
		breaker:       breaker,
		minDuration:   minDuration,
		maxDuration:   maxDuration,
		now:           time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

// Mint validates the request against the executor's tier configuration
// and the circuit breaker, then creates an ACTIVE record. The PENDING
// state exists only inside this call.
func (r *Registry) Mint(p MintParams) (*model.RightsRecord, error) {
	rec, err := r.mint(p)
	if err != nil {
		metrics.MintsTotal.WithLabelValues("rejected").Inc()
		if reason := apperrors.ReasonOf(err); reason != apperrors.ReasonNone {
			metrics.PolicyRejects.WithLabelValues(string(reason)).Inc()
		}
		return nil, err
	}
	metrics.MintsTotal.WithLabelValues("minted").Inc()
	logger.Info("rights record minted",
		"id", rec.ID,
		"executor", rec.Executor.Hex(),
		"capital_limit", rec.CapitalLimit,
		"expiry", rec.ExpiryTime)
	return rec, nil
}

func (r *Registry) mint(p MintParams) (*model.RightsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	// 1. Banned executors never mint.
	if r.rep.IsBanned(p.Executor) {
		return nil, apperrors.PolicyViolation(apperrors.ReasonExecutorBanned,
			"executor %s is banned", p.Executor.Hex())
	}

	tier := r.rep.GetTier(p.Executor)
	tc, ok := r.rep.GetTierConfig(tier)
	if !ok {
		return nil, apperrors.InvalidRequest("tier %s has no configuration", tier)
	}

	// 2. Capital limit bounded by tier.
	if p.CapitalLimit <= 0 || p.CapitalLimit > tc.MaxCapital {
		return nil, apperrors.PolicyViolation(apperrors.ReasonCapitalExceedsTierLimit,
			"capital limit %d exceeds tier %s maximum %d", p.CapitalLimit, tier, tc.MaxCapital)
	}

	// 3. Requested drawdown bounded by tier.
	if p.Constraints.MaxDrawdownBps > tc.MaxDrawdownBps {
		return nil, apperrors.PolicyViolation(apperrors.ReasonDrawdownExceedsTierLimit,
			"max drawdown %d bps exceeds tier %s ceiling %d bps", p.Constraints.MaxDrawdownBps, tier, tc.MaxDrawdownBps)
	}

	// 4. Leverage bounded by the tier's risk-level ceiling.
	if p.Constraints.MaxLeverage > tc.RiskLevelCeiling {
		return nil, apperrors.PolicyViolation(apperrors.ReasonRiskLevelExceedsTier,
			"leverage %dx exceeds tier %s ceiling %dx", p.Constraints.MaxLeverage, tier, tc.RiskLevelCeiling)
	}

	// 5. Duration window.
	if p.Duration < r.minDuration {
		return nil, apperrors.PolicyViolation(apperrors.ReasonDurationTooShort,
			"duration %s below minimum %s", p.Duration, r.minDuration)
	}
	if p.Duration > r.maxDuration {
		return nil, apperrors.PolicyViolation(apperrors.ReasonDurationTooLong,
			"duration %s above maximum %s", p.Duration, r.maxDuration)
	}

	// 6. Stake: both the recorded amount and what was actually posted
	// must cover capitalLimit * stakeRequiredBps / 10000.
	required := p.CapitalLimit * tc.StakeRequiredBps / bpsDenominator
	if p.Fees.StakedAmount < required || p.StakePosted < required {
		return nil, apperrors.PolicyViolation(apperrors.ReasonInsufficientStake,
			"stake %d below required %d (%d bps of %d)", min64(p.Fees.StakedAmount, p.StakePosted), required, tc.StakeRequiredBps, p.CapitalLimit)
	}

	// 7. Circuit breaker blocks new issuance, unless none is configured.
	if r.breaker != nil && r.breaker.IsPaused() {
		return nil, apperrors.SafetyHalt(apperrors.ReasonCircuitBreakerActive,
			"circuit breaker is paused, minting blocked")
	}

	// 8. Create the record. PENDING is transient within this critical
	// section; callers only ever observe ACTIVE.
	now := r.now()
	r.nextID++
	rec := &model.RightsRecord{
		ID:           r.nextID,
		Executor:     p.Executor,
		CapitalLimit: p.CapitalLimit,
		StartTime:    now,
		ExpiryTime:   now.Add(p.Duration),
		Constraints:  p.Constraints,
		Fees:         p.Fees,
		State:        model.StatePending,
	}
	rec.Status.HighWaterMark = p.CapitalLimit
	rec.State = model.StateActive

	r.records[rec.ID] = rec
	r.byExecutor[p.Executor] = append(r.byExecutor[p.Executor], rec.ID)

	bucket := rec.ExpiryTime.UTC().Truncate(dayLength).Unix()
	r.expiryBuckets[bucket] += p.CapitalLimit

	return rec.Clone(), nil
}

// UpdateStatus applies performance deltas from the allocation
// controller. High-water mark and max drawdown are recomputed against
// the record's current total value; both are monotone.
func (r *Registry) UpdateStatus(id uint64, deployedDelta, realizedDelta, unrealizedDelta int64) (*model.RightsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("rights record %d not found", id)
	}
	if rec.State != model.StateActive {
		return nil, apperrors.StateConflict(apperrors.ReasonERTNotActive,
			"rights record %d is %s, not ACTIVE", id, rec.State)
	}

	rec.Status.CapitalDeployed += deployedDelta
	rec.Status.RealizedPnl += realizedDelta
	rec.Status.UnrealizedPnl += unrealizedDelta

	// Drawdown is measured against the high-water mark, not the original
	// capital: a record that profited and then gave gains back is still
	// tracked correctly.
	totalValue := rec.CapitalLimit + rec.Status.RealizedPnl + rec.Status.UnrealizedPnl
	if totalValue > rec.Status.HighWaterMark {
		rec.Status.HighWaterMark = totalValue
	}
	drop := rec.Status.HighWaterMark - totalValue
	if drop > 0 {
		ddBps := drop * bpsDenominator / rec.CapitalLimit
		if ddBps > rec.Status.MaxDrawdownHitBps {
			rec.Status.MaxDrawdownHitBps = ddBps
		}
	}
	return rec.Clone(), nil
}

// MarkExpired finalizes an ACTIVE record past its expiry: EXPIRED state,
// performance status settled at the last marked PnL. Caller is the
// settlement engine, which releases the capital books in the same
// operation. Re-calling on an EXPIRED record returns (nil, nil); calling
// before expiry fails.
func (r *Registry) MarkExpired(id uint64) (*model.RightsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("rights record %d not found", id)
	}
	if rec.State == model.StateExpired {
		return nil, nil
	}
	if rec.State != model.StateActive {
		return nil, apperrors.StateConflict(apperrors.ReasonERTNotActive,
			"rights record %d is %s, not ACTIVE", id, rec.State)
	}
	if r.now().Before(rec.ExpiryTime) {
		return nil, apperrors.StateConflict(apperrors.ReasonNotYetExpired,
			"rights record %d does not expire until %s", id, rec.ExpiryTime)
	}
	r.finalizeLocked(rec, model.StateExpired, rec.Status.RealizedPnl+rec.Status.UnrealizedPnl)
	logger.Info("rights record expired", "id", id)
	return rec.Clone(), nil
}

// MarkLiquidated transitions ACTIVE -> LIQUIDATED unconditionally.
// Caller is the allocation controller on constraint breach.
func (r *Registry) MarkLiquidated(id uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return apperrors.NotFound("rights record %d not found", id)
	}
	if rec.State != model.StateActive {
		return apperrors.StateConflict(apperrors.ReasonERTNotActive,
			"rights record %d is %s, not ACTIVE", id, rec.State)
	}
	rec.State = model.StateLiquidated
	metrics.LiquidationsTotal.Inc()
	logger.Warn("rights record liquidated", "id", id)
	return nil
}

// CompleteSettlement finalizes ACTIVE -> SETTLED at the given figure.
// Caller is the settlement engine, which holds its own serialization
// around the full waterfall.
func (r *Registry) CompleteSettlement(id uint64, finalPnl int64) (*model.RightsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("rights record %d not found", id)
	}
	if rec.State != model.StateActive {
		return nil, apperrors.StateConflict(apperrors.ReasonERTNotActive,
			"rights record %d is %s, not ACTIVE", id, rec.State)
	}
	r.finalizeLocked(rec, model.StateSettled, finalPnl)
	return rec.Clone(), nil
}

// CompleteSettlementAtMark finalizes ACTIVE -> SETTLED at the record's
// last marked PnL once expiryTime has passed. The snapshot and the
// terminal transition share one lock acquisition, so no concurrent mark
// can land between the figure used and the state change.
func (r *Registry) CompleteSettlementAtMark(id uint64) (*model.RightsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("rights record %d not found", id)
	}
	if rec.State != model.StateActive {
		return nil, apperrors.StateConflict(apperrors.ReasonERTNotActive,
			"rights record %d is %s, not ACTIVE", id, rec.State)
	}
	if r.now().Before(rec.ExpiryTime) {
		return nil, apperrors.StateConflict(apperrors.ReasonNotYetExpired,
			"rights record %d has not reached expiry", id)
	}
	r.finalizeLocked(rec, model.StateSettled, rec.Status.RealizedPnl+rec.Status.UnrealizedPnl)
	return rec.Clone(), nil
}

// finalizeLocked moves a record into a terminal state with its
// performance status settled at finalPnl.
func (r *Registry) finalizeLocked(rec *model.RightsRecord, state model.LifecycleState, finalPnl int64) {
	rec.State = state
	rec.Status.RealizedPnl = finalPnl
	rec.Status.UnrealizedPnl = 0
	rec.Status.CapitalDeployed = 0
}

// GetRights returns a copy of the record.
func (r *Registry) GetRights(id uint64) (*model.RightsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, apperrors.NotFound("rights record %d not found", id)
	}
	return rec.Clone(), nil
}

// IsValid reports whether the record is ACTIVE and not yet past expiry.
func (r *Registry) IsValid(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return ok && rec.State == model.StateActive && r.now().Before(rec.ExpiryTime)
}

// IsExpired reports whether now >= expiryTime, regardless of lifecycle
// state.
func (r *Registry) IsExpired(id uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	return ok && !r.now().Before(rec.ExpiryTime)
}

// ActiveRecords returns copies of the executor's ACTIVE records.
func (r *Registry) ActiveRecords(executor common.Address) []*model.RightsRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.RightsRecord
	for _, id := range r.byExecutor[executor] {
		if rec := r.records[id]; rec != nil && rec.State == model.StateActive {
			out = append(out, rec.Clone())
		}
	}
	return out
}

// DueForExpiry returns ids of ACTIVE records whose expiry has passed,
// for the background sweeper.
func (r *Registry) DueForExpiry() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	var due []uint64
	for id, rec := range r.records {
		if rec.State == model.StateActive && !now.Before(rec.ExpiryTime) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i] < due[j] })
	return due
}

// ExpiryBucket returns the scheduled capital expiring on the day
// containing t.
func (r *Registry) ExpiryBucket(t time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.expiryBuckets[t.UTC().Truncate(dayLength).Unix()]
}

// ExpiryBuckets returns a copy of the whole append-only bucket map.
func (r *Registry) ExpiryBuckets() map[int64]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]int64, len(r.expiryBuckets))
	for k, v := range r.expiryBuckets {
		out[k] = v
	}
	return out
}

func min64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}
