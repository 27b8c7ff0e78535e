package middleware

import (
	"net/http"

	"github.com/ertvault/ertvault/internal/config"
	"github.com/ertvault/ertvault/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const (
	HeaderExecutorKey  = "X-Executor-Key"
	ContextExecutorKey = "executor"
)

// AuthMiddleware resolves the executor account from its gateway key.
// When require_api_key is off, an unauthenticated caller may instead
// name itself via the executor_address query parameter, which is enough
// for the anyone-may-call operations (expiry marking, force settle).
func AuthMiddleware(cfg *config.Config, em *service.ExecutorManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := c.GetHeader(HeaderExecutorKey)
		if apiKey == "" {
			if cfg != nil && !cfg.Auth.RequireAPIKey {
				if addr := c.Query("executor_address"); common.IsHexAddress(addr) {
					c.Set(ContextExecutorKey, &service.ExecutorAccount{Address: common.HexToAddress(addr)})
				}
				c.Next()
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing executor key"})
			c.Abort()
			return
		}

		acct, ok := em.ByAPIKey(apiKey)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid executor key"})
			c.Abort()
			return
		}

		c.Set(ContextExecutorKey, acct)
		c.Next()
	}
}

// ExecutorFrom extracts the authenticated executor account, if any.
func ExecutorFrom(c *gin.Context) (*service.ExecutorAccount, bool) {
	val, exists := c.Get(ContextExecutorKey)
	if !exists {
		return nil, false
	}
	acct, ok := val.(*service.ExecutorAccount)
	return acct, ok
}
