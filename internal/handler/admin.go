package handler

import (
	"net/http"

	"github.com/ertvault/ertvault/internal/breaker"
	"github.com/ertvault/ertvault/internal/middleware"
	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/policy"
	"github.com/ertvault/ertvault/internal/reputation"
	"github.com/ertvault/ertvault/internal/settlement"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// AdminHandler is the administrative collaborator surface: executor
// tiers and bans, circuit breaker control, policy ceilings, insurance
// withdrawals.
type AdminHandler struct {
	rep       *reputation.Manager
	breaker   *breaker.CircuitBreaker
	util      *policy.UtilizationController
	exposure  *policy.ExposureManager
	insurance *settlement.InsuranceFund
}

func NewAdminHandler(rep *reputation.Manager, cb *breaker.CircuitBreaker, util *policy.UtilizationController, exp *policy.ExposureManager, fund *settlement.InsuranceFund) *AdminHandler {
	return &AdminHandler{rep: rep, breaker: cb, util: util, exposure: exp, insurance: fund}
}

// SetTier assigns an executor's tier, implicitly whitelisting it.
func (h *AdminHandler) SetTier(c *gin.Context) {
	addr, ok := parseExecutor(c)
	if !ok {
		return
	}
	var req model.TierRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid tier request: %v", err))
		return
	}
	if err := h.rep.SetTier(addr, model.Tier(req.Tier)); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "executor", addr.Hex())
	middleware.AddAuditContext(c, "tier", req.Tier)
	c.JSON(http.StatusOK, h.rep.Get(addr))
}

// Ban flags an executor permanently. There is no unban endpoint.
func (h *AdminHandler) Ban(c *gin.Context) {
	addr, ok := parseExecutor(c)
	if !ok {
		return
	}
	var req model.BanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid ban request: %v", err))
		return
	}
	h.rep.Ban(addr, req.Reason)
	middleware.AddAuditContext(c, "executor", addr.Hex())
	middleware.AddAuditContext(c, "reason", req.Reason)
	c.JSON(http.StatusOK, h.rep.Get(addr))
}

// GetReputation returns an executor's reputation record.
func (h *AdminHandler) GetReputation(c *gin.Context) {
	addr, ok := parseExecutor(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.rep.Get(addr))
}

// Tiers returns the configured tier ladder.
func (h *AdminHandler) Tiers(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tiers": h.rep.TierTable()})
}

// BreakerStatus reports the breaker's window and pause flag.
func (h *AdminHandler) BreakerStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"paused":             h.breaker.IsPaused(),
		"daily_loss":         h.breaker.DailyLoss(),
		"window_start":       h.breaker.WindowStart(),
		"max_daily_loss_bps": h.breaker.MaxDailyLossBps(),
	})
}

// Pause forces the breaker into PAUSED.
func (h *AdminHandler) Pause(c *gin.Context) {
	h.breaker.EmergencyPause()
	middleware.AddAuditContext(c, "action", "breaker_pause")
	c.JSON(http.StatusOK, gin.H{"paused": true})
}

// Clear un-pauses the breaker and zeroes the loss window.
func (h *AdminHandler) Clear(c *gin.Context) {
	h.breaker.Clear()
	middleware.AddAuditContext(c, "action", "breaker_clear")
	c.JSON(http.StatusOK, gin.H{"paused": false})
}

// SetUtilizationCap updates the pool utilization ceiling.
func (h *AdminHandler) SetUtilizationCap(c *gin.Context) {
	var req model.CapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid cap request: %v", err))
		return
	}
	if err := h.util.SetMaxUtilization(req.Bps); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "max_utilization_bps", req.Bps)
	c.JSON(http.StatusOK, gin.H{"max_utilization_bps": req.Bps})
}

// SetExposureCap updates the single-asset exposure ceiling.
func (h *AdminHandler) SetExposureCap(c *gin.Context) {
	var req model.CapRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid cap request: %v", err))
		return
	}
	if err := h.exposure.SetMaxSingleAsset(req.Bps); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "max_single_asset_bps", req.Bps)
	c.JSON(http.StatusOK, gin.H{"max_single_asset_bps": req.Bps})
}

// InsuranceWithdraw removes funds from the insurance ledger.
func (h *AdminHandler) InsuranceWithdraw(c *gin.Context) {
	var req model.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid withdraw request: %v", err))
		return
	}
	if err := h.insurance.AdminWithdraw(req.Amount); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "amount", req.Amount)
	c.JSON(http.StatusOK, gin.H{"balance": h.insurance.Balance()})
}

func parseExecutor(c *gin.Context) (common.Address, bool) {
	addr := c.Param("address")
	if !common.IsHexAddress(addr) {
		c.Error(apperrors.InvalidRequest("invalid executor address %q", addr))
		return common.Address{}, false
	}
	return common.HexToAddress(addr), true
}
