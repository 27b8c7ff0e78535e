package model

import (
	"time"
)

// AuditLog is one recorded mutating call against the engine.
type AuditLog struct {
	ID         string `json:"id"`
	ExecutorID string `json:"executor_id"`
	Method     string `json:"method"`
	Path       string `json:"path"`
	IP         string `json:"ip"`
	UserAgent  string `json:"user_agent"`

	RequestBody  string `json:"request_body"`
	StatusCode   int    `json:"status_code"`
	ResponseBody string `json:"response_body"`
	LatencyMs    int64  `json:"latency_ms"`

	// Context carries business fields the handlers attach (rights id,
	// reject reason, waterfall totals).
	Context map[string]interface{} `json:"context"`

	CreatedAt time.Time `json:"created_at"`
}
