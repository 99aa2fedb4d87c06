package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterAllow(t *testing.T) {
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	limiter := NewRateLimiter(2, time.Minute)
	limiter.now = func() time.Time { return now }

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatal("Expected the first two requests to pass")
	}
	if limiter.Allow("a") {
		t.Error("Expected the third request to be limited")
	}
	if !limiter.Allow("b") {
		t.Error("Expected a separate budget for another key")
	}

	now = now.Add(time.Minute)
	if !limiter.Allow("a") {
		t.Error("Expected the budget to reset after the window")
	}
	if len(limiter.windows) != 1 {
		t.Errorf("Expected expired windows to be pruned, got %d", len(limiter.windows))
	}
}

func TestRateLimitMiddlewareByIP(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.Use(NewRateLimiter(5, time.Minute).Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "ok"})
	})

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "192.168.1.1:12345"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("Request %d: Expected status 200, got %d", i+1, w.Code)
		}
	}

	req := httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.1:12345"
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", w.Code)
	}

	req = httptest.NewRequest("GET", "/test", nil)
	req.RemoteAddr = "192.168.1.2:12345"
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("Different IP should not be rate limited, got %d", w.Code)
	}
}

func TestRateLimitMiddlewareByUser(t *testing.T) {
	router := gin.New()
	router.Use(func(c *gin.Context) {
		c.Set(usernameKey, c.GetHeader("X-Test-User"))
		c.Next()
	})
	router.Use(NewRateLimiter(1, time.Minute).Middleware())
	router.GET("/test", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	codes := make([]int, 0, 3)
	for _, user := range []string{"alice", "alice", "bob"} {
		req := httptest.NewRequest("GET", "/test", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		req.Header.Set("X-Test-User", user)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		codes = append(codes, w.Code)
	}

	expected := []int{http.StatusOK, http.StatusTooManyRequests, http.StatusOK}
	for i := range expected {
		if codes[i] != expected[i] {
			t.Errorf("Request %d: expected %d, got %d", i+1, expected[i], codes[i])
		}
	}
}
