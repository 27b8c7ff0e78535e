package handler

import (
	"net/http"
	"time"

	"github.com/ertvault/ertvault/internal/middleware"
	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/registry"
	"github.com/ertvault/ertvault/internal/settlement"
	"github.com/ertvault/ertvault/internal/vault"
	"github.com/gin-gonic/gin"
)

// VaultHandler exposes the pooled ledger views and the LP deposit and
// withdraw facade.
type VaultHandler struct {
	vault     *vault.Vault
	registry  *registry.Registry
	insurance *settlement.InsuranceFund
}

func NewVaultHandler(v *vault.Vault, reg *registry.Registry, fund *settlement.InsuranceFund) *VaultHandler {
	return &VaultHandler{vault: v, registry: reg, insurance: fund}
}

// Status returns the pool totals and derived utilization figures.
func (h *VaultHandler) Status(c *gin.Context) {
	total := h.vault.TotalAssets()
	alloc := h.vault.TotalAllocated()
	var utilizationBps int64
	if total > 0 {
		utilizationBps = alloc * 10000 / total
	}
	c.JSON(http.StatusOK, gin.H{
		"total_assets":             total,
		"total_allocated":          alloc,
		"utilization_bps":          utilizationBps,
		"available_for_allocation": h.vault.AvailableForAllocation(),
		"reserve_amount":           h.vault.ReserveAmount(),
		"max_withdrawable":         h.vault.MaxWithdrawable(),
	})
}

// Deposit credits the pool. LP facade, admin-gated.
func (h *VaultHandler) Deposit(c *gin.Context) {
	var req model.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid deposit request: %v", err))
		return
	}
	if err := h.vault.Deposit(req.Amount); err != nil {
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "amount", req.Amount)
	c.JSON(http.StatusOK, gin.H{"total_assets": h.vault.TotalAssets()})
}

// Withdraw releases pool capital, gated by the utilization ceiling and
// the never-drain rule. LP facade, admin-gated.
func (h *VaultHandler) Withdraw(c *gin.Context) {
	var req model.AmountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.Error(apperrors.InvalidRequest("invalid withdraw request: %v", err))
		return
	}
	if err := h.vault.Withdraw(req.Amount); err != nil {
		middleware.AddAuditContext(c, "reject_reason", string(apperrors.ReasonOf(err)))
		c.Error(err)
		return
	}
	middleware.AddAuditContext(c, "amount", req.Amount)
	c.JSON(http.StatusOK, gin.H{"total_assets": h.vault.TotalAssets()})
}

// Expiries returns the scheduled-expiry capital for one day (?day=
// RFC3339 date) or the whole bucket map when no day is given.
func (h *VaultHandler) Expiries(c *gin.Context) {
	day := c.Query("day")
	if day == "" {
		c.JSON(http.StatusOK, gin.H{"buckets": h.registry.ExpiryBuckets()})
		return
	}
	t, err := time.Parse("2006-01-02", day)
	if err != nil {
		c.Error(apperrors.InvalidRequest("invalid day %q, want YYYY-MM-DD", day))
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"day":              day,
		"expiring_capital": h.registry.ExpiryBucket(t),
	})
}

// Insurance returns the fund balance and its coverage of the pool.
func (h *VaultHandler) Insurance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"balance":            h.insurance.Balance(),
		"coverage_ratio_bps": h.insurance.CoverageRatioBps(h.vault.TotalAssets()),
	})
}
