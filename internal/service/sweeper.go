package service

import (
	"context"
	"time"

	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/logger"
	"github.com/ertvault/ertvault/internal/registry"
)

// RecordExpirer is the slice of the settlement engine the sweeper
// drives: a terminal expiry that unwinds positions and releases the
// record's allocation and stake.
type RecordExpirer interface {
	Expire(ctx context.Context, id uint64) (*model.SettlementRecord, error)
}

// ExpirySweeper finalizes due records through the settlement engine on
// an interval, so records whose holders walk away still return their
// capital to the pool instead of leaving ACTIVE.
type ExpirySweeper struct {
	registry *registry.Registry
	engine   RecordExpirer
	interval time.Duration
	cancel   context.CancelFunc
}

func NewExpirySweeper(reg *registry.Registry, engine RecordExpirer, interval time.Duration) *ExpirySweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{registry: reg, engine: engine, interval: interval}
}

func (s *ExpirySweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go s.run(ctx)
}

func (s *ExpirySweeper) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *ExpirySweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *ExpirySweeper) sweep(ctx context.Context) {
	for _, id := range s.registry.DueForExpiry() {
		if _, err := s.engine.Expire(ctx, id); err != nil {
			logger.Warn("sweeper failed to expire record", "id", id, "error", err)
		}
	}
}
