package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/pkg/apperrors"
	"github.com/ertvault/ertvault/internal/service"
	"github.com/gin-gonic/gin"
)

// SettlementLister is the query side of the settlement history store.
type SettlementLister interface {
	List(ctx context.Context, executor string, limit int, from, to *time.Time) ([]*model.SettlementRecord, error)
}

// HistoryHandler serves the settlement history and the audit trail.
type HistoryHandler struct {
	settlements SettlementLister
	audit       *service.AuditService
}

func NewHistoryHandler(settlements SettlementLister, audit *service.AuditService) *HistoryHandler {
	return &HistoryHandler{settlements: settlements, audit: audit}
}

// Settlements lists settlement rows, filterable by executor and time
// range. Requires the Postgres history store.
func (h *HistoryHandler) Settlements(c *gin.Context) {
	if h.settlements == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "settlement history store not configured"})
		return
	}
	limit, from, to, ok := parseHistoryQuery(c)
	if !ok {
		return
	}
	records, err := h.settlements.List(c.Request.Context(), c.Query("executor"), limit, from, to)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	if records == nil {
		records = []*model.SettlementRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"settlements": records, "count": len(records)})
}

// Audit lists recent audit entries, filterable by executor.
func (h *HistoryHandler) Audit(c *gin.Context) {
	limit, from, to, ok := parseHistoryQuery(c)
	if !ok {
		return
	}
	entries, err := h.audit.List(c.Request.Context(), c.Query("executor"), limit, from, to)
	if err != nil {
		c.Error(apperrors.Wrap(err))
		return
	}
	if entries == nil {
		entries = []*model.AuditLog{}
	}
	c.JSON(http.StatusOK, gin.H{"entries": entries, "count": len(entries)})
}

func parseHistoryQuery(c *gin.Context) (int, *time.Time, *time.Time, bool) {
	limit := 100
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.Error(apperrors.InvalidRequest("invalid limit %q", raw))
			return 0, nil, nil, false
		}
		limit = parsed
	}
	var from, to *time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.Error(apperrors.InvalidRequest("invalid from time %q", raw))
			return 0, nil, nil, false
		}
		from = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.Error(apperrors.InvalidRequest("invalid to time %q", raw))
			return 0, nil, nil, false
		}
		to = &t
	}
	return limit, from, to, true
}
