// Package auth guards the control surface with JWT access tokens for
// configured users and static machine tokens for instation systems.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/xkop-gateway/internal/config"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Permission string

const (
	PermOperator   Permission = "operator"
	PermTechnician Permission = "technician"
	PermAdmin      Permission = "admin"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountLocked      = errors.New("account locked")
	ErrInvalidToken       = errors.New("invalid token")
	ErrInvalidHash        = errors.New("invalid password hash")
)

const (
	maxFailedLogins = 5
	lockoutDuration = 5 * time.Minute
)

type user struct {
	id           uuid.UUID
	username     string
	passwordHash string
	role         string
}

type machineToken struct {
	name        string
	permissions []Permission
}

type loginState struct {
	failures    int
	lockedUntil time.Time
}

// Session is what a successful login hands back to the client.
type Session struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      uuid.UUID `json:"user_id"`
	Username    string    `json:"username"`
	Role        string    `json:"role"`
}

type AuthService struct {
	enabled         bool
	users           map[string]user
	machineTokens   map[string]machineToken
	jwtHandler      *JWTHandler
	passwordHasher  *PasswordHasher
	machineTokenGen *MachineTokenGenerator
	logger          *zap.Logger

	mu     sync.Mutex
	logins map[string]*loginState
	now    func() time.Time
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	a := &AuthService{
		enabled:         cfg.Enabled,
		users:           make(map[string]user, len(cfg.Users)),
		machineTokens:   make(map[string]machineToken, len(cfg.MachineTokens)),
		jwtHandler:      NewJWTHandler(cfg.GetJWTSecret(), cfg.AccessTokenTTL),
		passwordHasher:  NewPasswordHasher(),
		machineTokenGen: NewMachineTokenGenerator(),
		logger:          logger,
		logins:          make(map[string]*loginState),
		now:             time.Now,
	}

	for _, u := range cfg.Users {
		a.users[u.Username] = user{
			id:           userID(u.Username),
			username:     u.Username,
			passwordHash: u.PasswordHash,
			role:         u.Role,
		}
	}
	for _, t := range cfg.MachineTokens {
		perms := make([]Permission, len(t.Permissions))
		for i, p := range t.Permissions {
			perms[i] = Permission(p)
		}
		a.machineTokens[t.TokenHash] = machineToken{name: t.Name, permissions: perms}
	}

	if cfg.Enabled && !cfg.IsProductionReady() {
		logger.Warn("Auth enabled with development JWT secret",
			zap.String("env", cfg.JWTSecretEnv))
	}
	return a
}

func (a *AuthService) Enabled() bool { return a.enabled }

// LoginUser authenticates a user and returns an access token
func (a *AuthService) LoginUser(ctx context.Context, username, password, ipAddress string) (*Session, error) {
	if until, locked := a.lockedUntil(username); locked {
		a.logger.Warn("Login refused, account locked",
			zap.String("username", username),
			zap.String("ip", ipAddress),
			zap.Time("until", until))
		return nil, fmt.Errorf("%w until %s", ErrAccountLocked, until.Format(time.RFC3339))
	}

	u, ok := a.users[username]
	if !ok {
		a.logger.Info("Login failed", zap.String("username", username), zap.String("ip", ipAddress), zap.String("reason", "user not found"))
		return nil, ErrInvalidCredentials
	}

	valid, err := a.passwordHasher.VerifyPassword(password, u.passwordHash)
	if err != nil || !valid {
		a.recordFailure(username)
		a.logger.Info("Login failed", zap.String("username", username), zap.String("ip", ipAddress), zap.String("reason", "invalid password"))
		return nil, ErrInvalidCredentials
	}
	a.resetFailures(username)

	token, expires, err := a.jwtHandler.GenerateAccessToken(u.id, u.username, u.role)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	a.logger.Info("Login succeeded", zap.String("username", username), zap.String("ip", ipAddress))
	return &Session{
		AccessToken: token,
		ExpiresAt:   expires,
		UserID:      u.id,
		Username:    u.username,
		Role:        u.role,
	}, nil
}

func (a *AuthService) lockedUntil(username string) (time.Time, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.logins[username]
	if !ok || st.lockedUntil.IsZero() {
		return time.Time{}, false
	}
	if a.now().After(st.lockedUntil) {
		delete(a.logins, username)
		return time.Time{}, false
	}
	return st.lockedUntil, true
}

func (a *AuthService) recordFailure(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.logins[username]
	if !ok {
		st = &loginState{}
		a.logins[username] = st
	}
	st.failures++
	if st.failures >= maxFailedLogins {
		st.lockedUntil = a.now().Add(lockoutDuration)
	}
}

func (a *AuthService) resetFailures(username string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.logins, username)
}

// ValidateMachineToken validates a machine token and returns permissions
func (a *AuthService) ValidateMachineToken(ctx context.Context, token, ipAddress string) ([]Permission, error) {
	if !a.machineTokenGen.ValidateTokenFormat(token) {
		return nil, fmt.Errorf("%w: bad format", ErrInvalidToken)
	}

	mt, ok := a.machineTokens[a.machineTokenGen.HashToken(token)]
	if !ok {
		a.logger.Info("Machine token rejected", zap.String("ip", ipAddress))
		return nil, ErrInvalidToken
	}

	a.logger.Debug("Machine token accepted", zap.String("name", mt.name), zap.String("ip", ipAddress))
	return mt.permissions, nil
}

// ValidateToken validates any token (JWT or Machine Token)
func (a *AuthService) ValidateToken(ctx context.Context, token, ipAddress string) ([]Permission, error) {
	if claims, err := a.jwtHandler.ValidateAccessToken(token); err == nil {
		return a.roleToPermissions(claims.Role), nil
	}

	return a.ValidateMachineToken(ctx, token, ipAddress)
}

func (a *AuthService) roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermOperator, PermTechnician, PermAdmin}
	case "technician":
		return []Permission{PermOperator, PermTechnician}
	default:
		return []Permission{PermOperator}
	}
}
