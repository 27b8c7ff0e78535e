package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/ertvault/ertvault/internal/middleware"
	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/registry"
	"github.com/ertvault/ertvault/internal/service"
	"github.com/ertvault/ertvault/internal/settlement"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// RightsHandler exposes the rights record lifecycle: mint, lookup,
// capital draw, settlement and expiry marking.
type RightsHandler struct {
	registry *registry.Registry
	engine   *settlement.Engine
	alloc    *service.Allocator
}

func NewRightsHandler(reg *registry.Registry, engine *settlement.Engine, alloc *service.Allocator) *RightsHandler {
	return &RightsHandler{registry: reg, engine: engine, alloc: alloc}
}

// Mint creates a rights record for the authenticated executor.
func (h *RightsHandler) Mint(c *gin.Context) {
	acct, ok := middleware.ExecutorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "executor identity required"})
		return
	}

	var req model.MintRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid mint request: %v", err))
		return
	}

	rec, err := h.registry.Mint(registry.MintParams{
		Executor:     acct.Address,
		CapitalLimit: req.CapitalLimit,
		Duration:     time.Duration(req.DurationSeconds) * time.Second,
		Constraints: model.Constraints{
			MaxLeverage:        req.MaxLeverage,
			MaxDrawdownBps:     req.MaxDrawdownBps,
			MaxPositionSizeBps: req.MaxPositionSizeBps,
			AllowedAdapters:    req.AllowedAdapters,
			AllowedAssets:      req.AllowedAssets,
		},
		Fees: model.FeeTerms{
			BaseFeeAprBps:  req.BaseFeeAprBps,
			ProfitShareBps: req.ProfitShareBps,
			StakedAmount:   req.StakePosted,
		},
		StakePosted: req.StakePosted,
	})
	if err != nil {
		middleware.AddAuditContext(c, "reject_reason", string(apperrors.ReasonOf(err)))
		c.Error(err)
		return
	}

	middleware.AddAuditContext(c, "rights_id", rec.ID)
	c.JSON(http.StatusCreated, rec)
}

// Get returns a rights record by id.
func (h *RightsHandler) Get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.registry.GetRights(id)
	if err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

// Valid reports whether the record is ACTIVE and unexpired.
func (h *RightsHandler) Valid(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.registry.GetRights(id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":      id,
		"valid":   h.registry.IsValid(id),
		"expired": h.registry.IsExpired(id),
	})
}

// ActiveByExecutor lists the executor's ACTIVE records.
func (h *RightsHandler) ActiveByExecutor(c *gin.Context) {
	addr := c.Param("address")
	if !common.IsHexAddress(addr) {
		c.Error(apperrors.InvalidRequest("invalid executor address %q", addr))
		return
	}
	records := h.registry.ActiveRecords(common.HexToAddress(addr))
	if records == nil {
		records = []*model.RightsRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

// Settle finalizes the record at the supplied final PnL. Admin-gated:
// the settlement authority is whoever holds the admin key.
func (h *RightsHandler) Settle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req model.SettleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid settle request: %v", err))
		return
	}

	out, err := h.engine.Settle(c.Request.Context(), id, req.FinalPnl)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "rights_id", id)
	middleware.AddAuditContext(c, "final_pnl", out.FinalPnl)
	c.JSON(http.StatusOK, out)
}

// ForceSettle settles an expired record at its last marked PnL.
// Callable by anyone.
func (h *RightsHandler) ForceSettle(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	out, err := h.engine.ForceSettle(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "rights_id", id)
	c.JSON(http.StatusOK, out)
}

// Expire finalizes an ACTIVE record past its expiry: positions unwound,
// allocation and stake released, state EXPIRED. Callable by anyone;
// repeating the call is a no-op.
func (h *RightsHandler) Expire(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.engine.Expire(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "rights_id", id)
	c.JSON(http.StatusOK, gin.H{"id": id, "state": model.StateExpired})
}

// Draw deploys pooled capital for the record through a capability
// adapter. Only the record's executor may draw.
func (h *RightsHandler) Draw(c *gin.Context) {
	acct, ok := middleware.ExecutorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "executor identity required"})
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req model.DrawRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid draw request: %v", err))
		return
	}

	rec, err := h.registry.GetRights(id)
	if err != nil {
		c.Error(err)
		return
	}
	if rec.Executor != acct.Address {
		c.Error(apperrors.AccessViolation("only the record's executor may draw capital"))
		return
	}

	if err := h.alloc.Draw(c.Request.Context(), id, req.Adapter, req.Asset, req.Amount); err != nil {
		middleware.AddAuditContext(c, "reject_reason", string(apperrors.ReasonOf(err)))
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "rights_id", id)
	middleware.AddAuditContext(c, "amount", req.Amount)
	c.JSON(http.StatusOK, gin.H{"id": id, "drawn": req.Amount, "asset": req.Asset})
}

// Unwind closes all of the record's open positions. Only the record's
// executor may unwind.
func (h *RightsHandler) Unwind(c *gin.Context) {
	acct, ok := middleware.ExecutorFrom(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "executor identity required"})
		return
	}
	id, ok := parseID(c)
	if !ok {
		return
	}
	rec, err := h.registry.GetRights(id)
	if err != nil {
		c.Error(err)
		return
	}
	if rec.Executor != acct.Address {
		c.Error(apperrors.AccessViolation("only the record's executor may unwind positions"))
		return
	}

	realized, err := h.alloc.UnwindAll(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "rights_id", id)
	c.JSON(http.StatusOK, gin.H{"id": id, "realized_pnl": realized})
}

// Positions returns the record's open positions.
func (h *RightsHandler) Positions(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if _, err := h.registry.GetRights(id); err != nil {
		c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": id, "positions": h.alloc.Positions(id)})
}

func parseID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.Error(apperrors.InvalidRequest("invalid rights id %q", c.Param("id")))
		return 0, false
	}
	return id, true
}
