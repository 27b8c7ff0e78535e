package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ertvault/ertvault/internal/service"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func idemRouter(store IdempotencyStore, counter *int) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	setExecutor := func(c *gin.Context) {
		c.Set(ContextExecutorKey, &service.ExecutorAccount{
			Address: common.HexToAddress("0x00000000000000000000000000000000000000e1"),
		})
	}
	r.POST("/mint", setExecutor, IdempotencyMiddleware(store), func(c *gin.Context) {
		*counter++
		c.JSON(http.StatusCreated, gin.H{"n": *counter})
	})
	return r
}

func TestIdempotencyReplaysStoredResponse(t *testing.T) {
	store := NewInMemIdempotencyStore()
	var handled int
	r := idemRouter(store, &handled)

	first := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mint", nil)
	req.Header.Set(HeaderIdempotencyKey, "key-1")
	r.ServeHTTP(first, req)

	if first.Code != http.StatusCreated {
		t.Fatalf("first call: %d", first.Code)
	}
	if handled != 1 {
		t.Fatalf("handler runs = %d, want 1", handled)
	}

	second := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodPost, "/mint", nil)
	req2.Header.Set(HeaderIdempotencyKey, "key-1")
	r.ServeHTTP(second, req2)

	if handled != 1 {
		t.Fatalf("replay re-ran the handler (%d runs)", handled)
	}
	if second.Code != first.Code || second.Body.String() != first.Body.String() {
		t.Fatalf("replay mismatch: %d %q vs %d %q",
			second.Code, second.Body.String(), first.Code, first.Body.String())
	}
}

func TestIdempotencyDistinctKeysRunSeparately(t *testing.T) {
	store := NewInMemIdempotencyStore()
	var handled int
	r := idemRouter(store, &handled)

	for _, key := range []string{"key-a", "key-b"} {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/mint", nil)
		req.Header.Set(HeaderIdempotencyKey, key)
		r.ServeHTTP(rec, req)
	}
	if handled != 2 {
		t.Fatalf("handler runs = %d, want 2", handled)
	}
}

func TestIdempotencyInFlightConflicts(t *testing.T) {
	store := NewInMemIdempotencyStore()

	// Simulate a request holding the lock.
	if _, hit := store.GetOrLock("0xabc:key-1"); hit {
		t.Fatal("fresh key should acquire the lock")
	}
	rec, hit := store.GetOrLock("0xabc:key-1")
	if !hit || !rec.Processing {
		t.Fatalf("expected in-flight record, got hit=%v rec=%+v", hit, rec)
	}

	store.Unlock("0xabc:key-1")
	if _, hit := store.GetOrLock("0xabc:key-1"); hit {
		t.Fatal("unlocked key should be reusable")
	}
}

func TestIdempotencyWithoutHeaderPassesThrough(t *testing.T) {
	store := NewInMemIdempotencyStore()
	var handled int
	r := idemRouter(store, &handled)

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/mint", nil))
	}
	if handled != 2 {
		t.Fatalf("handler runs = %d, want 2", handled)
	}
}
