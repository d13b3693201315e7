package auth

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"github.com/rajalamdev/notu.ai-backend-sub000/internal/config"
)

func testRouter(t *testing.T) (*gin.Engine, *Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	hash, err := bcrypt.GenerateFromPassword([]byte("correct-horse"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	cfg := &config.Config{
		AppUsername:     "operator",
		AppPasswordHash: string(hash),
		SessionSecret:   "test-secret",
		SessionMaxAge:   time.Hour,
	}

	manager := NewManager(cfg)
	router := gin.New()
	store := cookie.NewStore([]byte(cfg.SessionSecret))
	router.Use(sessions.Sessions(SessionCookieName, store))
	router.POST("/auth/login", manager.Login)
	router.POST("/auth/logout", manager.Logout)

	protected := router.Group("/api", manager.RequireLogin(), manager.VerifyCSRF())
	protected.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user": c.GetString(ContextUserKey)})
	})
	protected.POST("/ping", func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router, manager
}

func doLogin(t *testing.T, router *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestLoginIssuesSessionAndCSRFToken(t *testing.T) {
	router, _ := testRouter(t)

	rec := doLogin(t, router, `{"username":"operator","password":"correct-horse"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("login status = %d, want 204: %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get(csrfHeader) == "" {
		t.Fatal("no CSRF token issued")
	}
	if len(rec.Result().Cookies()) == 0 {
		t.Fatal("no session cookie issued")
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	router, _ := testRouter(t)

	rec := doLogin(t, router, `{"username":"operator","password":"wrong"}`)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("login status = %d, want 401", rec.Code)
	}
}

func TestLoginLocksAfterRepeatedFailures(t *testing.T) {
	router, _ := testRouter(t)

	for i := 0; i < maxLoginAttempts; i++ {
		rec := doLogin(t, router, `{"username":"operator","password":"wrong"}`)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d status = %d, want 401", i+1, rec.Code)
		}
	}

	rec := doLogin(t, router, `{"username":"operator","password":"correct-horse"}`)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("locked status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Fatal("no Retry-After header on lockout")
	}
}

func TestRequireLoginRejectsAnonymous(t *testing.T) {
	router, _ := testRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestAuthenticatedRequestFlow(t *testing.T) {
	router, _ := testRouter(t)

	login := doLogin(t, router, `{"username":"operator","password":"correct-horse"}`)
	if login.Code != http.StatusNoContent {
		t.Fatalf("login status = %d", login.Code)
	}
	token := login.Header().Get(csrfHeader)
	cookies := login.Result().Cookies()

	// GET passes without a CSRF token.
	req := httptest.NewRequest(http.MethodGet, "/api/ping", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "operator") {
		t.Fatalf("user not set in context: %s", rec.Body.String())
	}

	// POST without the token is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/ping", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("POST without token status = %d, want 403", rec.Code)
	}

	// POST with the issued token passes.
	req = httptest.NewRequest(http.MethodPost, "/api/ping", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	req.Header.Set(csrfHeader, token)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("POST with token status = %d, want 204", rec.Code)
	}
}
