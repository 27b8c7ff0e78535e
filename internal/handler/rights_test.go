package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ertvault/ertvault/internal/breaker"
	"github.com/ertvault/ertvault/internal/config"
	"github.com/ertvault/ertvault/internal/middleware"
	"github.com/ertvault/ertvault/internal/model"
	"github.com/ertvault/ertvault/internal/policy"
	"github.com/ertvault/ertvault/internal/registry"
	"github.com/ertvault/ertvault/internal/reputation"
	"github.com/ertvault/ertvault/internal/service"
	"github.com/ertvault/ertvault/internal/settlement"
	"github.com/ertvault/ertvault/internal/vault"
	"github.com/gin-gonic/gin"
)

const testExecutorAddr = "0x00000000000000000000000000000000000000e1"

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		Auth:  config.AuthConfig{RequireAPIKey: true, AdminKey: "admin"},
		Tiers: model.DefaultTierTable(),
		Executors: []config.ExecutorConfig{
			{Address: testExecutorAddr, APIKey: "sk-exec-1", Tier: 0},
		},
	}

	util, err := policy.NewUtilizationController(7000)
	if err != nil {
		t.Fatalf("NewUtilizationController: %v", err)
	}
	exposure, err := policy.NewExposureManager(3000)
	if err != nil {
		t.Fatalf("NewExposureManager: %v", err)
	}
	rep, err := reputation.NewManager(cfg.Tiers)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	cb := breaker.New(500, nil)
	pool := vault.New(1_000_000_000, util, exposure, cb)
	reg := registry.New(rep, cb, 24*time.Hour, 90*24*time.Hour)
	fund := settlement.NewInsuranceFund(0)
	engine := settlement.NewEngine(reg, pool, fund, cb, nil, 100, 0)
	alloc := service.NewAllocator(reg, pool, nil, nil)
	executors := service.NewExecutorManager(cfg, rep)

	rightsHandler := NewRightsHandler(reg, engine, alloc)

	router := gin.New()
	router.Use(middleware.ErrorHandler())
	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg, executors))
	{
		v1.POST("/rights", rightsHandler.Mint)
		v1.GET("/rights/:id", rightsHandler.Get)
		v1.GET("/rights/:id/valid", rightsHandler.Valid)
	}
	return router
}

func mintBody(capital, stake int64) []byte {
	body, _ := json.Marshal(map[string]interface{}{
		"capital_limit":    capital,
		"duration_seconds": 7 * 86400,
		"max_leverage":     1,
		"max_drawdown_bps": 1000,
		"base_fee_apr_bps": 200,
		"profit_share_bps": 2000,
		"stake_posted":     stake,
	})
	return body
}

func TestMintRequiresExecutorKey(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/rights", bytes.NewReader(mintBody(50_000_000, 25_000_000)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without executor key, got %d", rec.Code)
	}
}

func TestMintHappyPathOverHTTP(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/rights", bytes.NewReader(mintBody(50_000_000, 25_000_000)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderExecutorKey, "sk-exec-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	var resp model.RightsRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	if resp.State != model.StateActive {
		t.Fatalf("state = %s, want ACTIVE", resp.State)
	}
	if resp.Executor.Hex() != "0x00000000000000000000000000000000000000E1" {
		t.Fatalf("executor = %s", resp.Executor.Hex())
	}

	// Round-trip through the lookup endpoints.
	getReq := httptest.NewRequest(http.MethodGet, "/v1/rights/1/valid", nil)
	getReq.Header.Set(middleware.HeaderExecutorKey, "sk-exec-1")
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)

	if getRec.Code != http.StatusOK {
		t.Fatalf("valid endpoint: %d", getRec.Code)
	}
	var valid map[string]interface{}
	if err := json.Unmarshal(getRec.Body.Bytes(), &valid); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if valid["valid"] != true {
		t.Fatalf("valid = %v, want true", valid["valid"])
	}
}

func TestMintPolicyRejectionRendersReason(t *testing.T) {
	router := newTestRouter(t)

	// $50 capital at UNVERIFIED requires a $25 stake; $24 is short.
	req := httptest.NewRequest(http.MethodPost, "/v1/rights", bytes.NewReader(mintBody(50_000_000, 24_000_000)))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(middleware.HeaderExecutorKey, "sk-exec-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json: %v", err)
	}
	if resp["code"] != "POLICY_VIOLATION" {
		t.Fatalf("code = %v, want POLICY_VIOLATION", resp["code"])
	}
	if resp["reason"] != "INSUFFICIENT_STAKE" {
		t.Fatalf("reason = %v, want INSUFFICIENT_STAKE", resp["reason"])
	}
}

func TestGetUnknownRecordIs404(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/rights/99", nil)
	req.Header.Set(middleware.HeaderExecutorKey, "sk-exec-1")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}
