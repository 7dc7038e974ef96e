package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

// cheapHasher keeps tests fast; verification reads parameters from the hash.
var cheapHasher = &PasswordHasher{memory: 1024, iterations: 1, parallelism: 1, saltLength: 16, keyLength: 32}

func newTestService(t *testing.T, enabled bool) (*AuthService, string) {
	t.Helper()
	hash, err := cheapHasher.HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	token, digest, err := NewMachineTokenGenerator().GenerateMachineToken()
	if err != nil {
		t.Fatalf("GenerateMachineToken: %v", err)
	}

	cfg := config.AuthConfig{
		Enabled:        enabled,
		JWTSecretEnv:   "XKOP_TEST_UNSET_SECRET",
		AccessTokenTTL: time.Minute,
		Users: []config.UserConfig{
			{Username: "tech", PasswordHash: hash, Role: "technician"},
		},
		MachineTokens: []config.MachineTokenConfig{
			{Name: "instation", TokenHash: digest, Permissions: []string{"operator"}},
		},
	}
	return NewAuthService(cfg, zaptest.NewLogger(t)), token
}

func TestPasswordHasher(t *testing.T) {
	hash, err := cheapHasher.HashPassword("pw")
	if err != nil {
		t.Fatal(err)
	}
	if ok, err := cheapHasher.VerifyPassword("pw", hash); err != nil || !ok {
		t.Fatalf("VerifyPassword(correct) = %v, %v", ok, err)
	}
	if ok, _ := cheapHasher.VerifyPassword("wrong", hash); ok {
		t.Fatal("wrong password verified")
	}
	if _, err := cheapHasher.VerifyPassword("pw", "$bcrypt$x"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("bad hash error = %v", err)
	}
}

func TestLoginAndValidate(t *testing.T) {
	a, _ := newTestService(t, true)

	session, err := a.LoginUser(context.Background(), "tech", "s3cret", "127.0.0.1")
	if err != nil {
		t.Fatalf("LoginUser: %v", err)
	}
	if session.Role != "technician" || session.UserID != userID("tech") {
		t.Fatalf("session = %+v", session)
	}

	perms, err := a.ValidateToken(context.Background(), session.AccessToken, "127.0.0.1")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if !HasPermission(perms, PermTechnician) || HasPermission(perms, PermAdmin) {
		t.Fatalf("permissions = %v", perms)
	}

	if _, err := a.LoginUser(context.Background(), "tech", "nope", "127.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong password error = %v", err)
	}
	if _, err := a.LoginUser(context.Background(), "ghost", "s3cret", "127.0.0.1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("unknown user error = %v", err)
	}
}

func TestLoginLockout(t *testing.T) {
	a, _ := newTestService(t, true)
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return now }

	for i := 0; i < maxFailedLogins; i++ {
		a.LoginUser(context.Background(), "tech", "bad", "")
	}
	if _, err := a.LoginUser(context.Background(), "tech", "s3cret", ""); !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("error = %v, want ErrAccountLocked", err)
	}

	now = now.Add(lockoutDuration + time.Second)
	if _, err := a.LoginUser(context.Background(), "tech", "s3cret", ""); err != nil {
		t.Fatalf("login after lockout: %v", err)
	}
}

func TestMachineToken(t *testing.T) {
	a, token := newTestService(t, true)

	perms, err := a.ValidateToken(context.Background(), token, "")
	if err != nil {
		t.Fatalf("ValidateToken: %v", err)
	}
	if len(perms) != 1 || perms[0] != PermOperator {
		t.Fatalf("permissions = %v", perms)
	}

	forged := token[:len(token)-1] + "0"
	if forged == token {
		forged = token[:len(token)-1] + "1"
	}
	if _, err := a.ValidateToken(context.Background(), forged, ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("forged token error = %v", err)
	}
	if _, err := a.ValidateMachineToken(context.Background(), "xkg_short", ""); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("short token error = %v", err)
	}
}

func TestJWTRejectsForeignSecret(t *testing.T) {
	other := NewJWTHandler("another-secret-another-secret-123", time.Minute)
	token, _, err := other.GenerateAccessToken(userID("x"), "x", "admin")
	if err != nil {
		t.Fatal(err)
	}
	a, _ := newTestService(t, true)
	if _, err := a.jwtHandler.ValidateAccessToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("error = %v, want ErrInvalidToken", err)
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, machine := newTestService(t, true)
	session, err := a.LoginUser(context.Background(), "tech", "s3cret", "")
	if err != nil {
		t.Fatal(err)
	}

	r := gin.New()
	r.Use(a.AuthMiddleware())
	r.GET("/read", RequirePermission(PermOperator), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/admin", RequirePermission(PermAdmin), func(c *gin.Context) { c.Status(http.StatusOK) })

	tests := []struct {
		name  string
		path  string
		token string
		want  int
	}{
		{"no header", "/read", "", http.StatusUnauthorized},
		{"garbage", "/read", "abc", http.StatusUnauthorized},
		{"jwt read", "/read", session.AccessToken, http.StatusOK},
		{"jwt admin", "/admin", session.AccessToken, http.StatusForbidden},
		{"machine read", "/read", machine, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestMiddlewareDisabledGrantsAll(t *testing.T) {
	gin.SetMode(gin.TestMode)
	a, _ := newTestService(t, false)

	r := gin.New()
	r.Use(a.AuthMiddleware())
	r.GET("/admin", RequirePermission(PermAdmin), func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/admin", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
}
