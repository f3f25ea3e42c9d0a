// Package auth implements account management and token verification
// (spec §6): login, registration, password changes, and token
// rotation/verification, each gated by a per-client-IP failure limiter.
//
// Grounded on the teacher's small-struct, single-purpose style (e.g.
// internal/storage/database.go wrapping *gorm.DB with narrow methods);
// golang.org/x/crypto/bcrypt (promoted from vision3's indirect
// golang.org/x/crypto dependency, per SPEC_FULL.md) replaces any notion
// of plaintext password storage.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/opsworld30/safe/internal/apperr"
	"github.com/opsworld30/safe/internal/model"
)

// Service implements the account operations behind /api/login,
// /api/register, /api/password/change, /api/tokens/verify, and
// /api/tokens/change.
type Service struct {
	conn           *gorm.DB
	limiter        *FailureLimiter
	accountsEnabled bool
}

// New constructs a Service. accountsEnabled gates /api/register per spec
// §6's "disabled when enableUserAccounts=false".
func New(conn *gorm.DB, limiter *FailureLimiter, accountsEnabled bool) *Service {
	return &Service{conn: conn, limiter: limiter, accountsEnabled: accountsEnabled}
}

// Login verifies username/password and returns the user's existing
// token, rate-limited per spec §5's "6 failures / 10 min per client IP".
func (s *Service) Login(clientIP, username, password string) (string, error) {
	if !s.limiter.Allow(clientIP) {
		return "", apperr.ErrRateLimited
	}

	var u model.User
	if err := s.conn.Where("username = ?", username).First(&u).Error; err != nil {
		s.limiter.RecordFailure(clientIP)
		return "", apperr.Client(401, 10005, "invalid username or password")
	}
	if !u.Enabled {
		s.limiter.RecordFailure(clientIP)
		return "", apperr.Client(403, 10006, "account is disabled")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(password)); err != nil {
		s.limiter.RecordFailure(clientIP)
		return "", apperr.Client(401, 10005, "invalid username or password")
	}

	s.limiter.RecordSuccess(clientIP)
	return u.Token, nil
}

// Register creates a new account, rejecting the reserved root username
// and duplicate usernames, per spec §6.
func (s *Service) Register(clientIP, username, password string) (*model.User, error) {
	if !s.accountsEnabled {
		return nil, apperr.Client(403, 10007, "user registration is disabled")
	}
	if !s.limiter.Allow(clientIP) {
		return nil, apperr.ErrRateLimited
	}
	if username == model.RootUsername {
		return nil, apperr.Client(400, 10008, "username is reserved")
	}
	if username == "" || password == "" {
		return nil, apperr.Client(400, 10009, "username and password are required")
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, apperr.Server("failed to hash password", apperr.WithCause(err))
	}
	token, err := randomToken()
	if err != nil {
		return nil, apperr.Server("failed to generate token", apperr.WithCause(err))
	}

	now := model.NowUnix()
	u := &model.User{
		Username:     username,
		Password:     string(hashed),
		Token:        token,
		Enabled:      true,
		Permission:   model.PermissionUser,
		Timestamp:    now,
		Registration: now,
	}

	if err := s.conn.Create(u).Error; err != nil {
		s.limiter.RecordFailure(clientIP)
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Client(409, 10010, "username already taken")
		}
		return nil, apperr.Server("failed to create account", apperr.WithCause(err))
	}

	s.limiter.RecordSuccess(clientIP)
	return u, nil
}

// ChangePassword updates the caller's password, requiring the token
// auth middleware to have already resolved the caller's user row.
func (s *Service) ChangePassword(caller *model.User, newPassword string) error {
	if newPassword == "" {
		return apperr.Client(400, 10011, "password must not be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return apperr.Server("failed to hash password", apperr.WithCause(err))
	}
	if err := s.conn.Model(caller).Update("password", string(hashed)).Error; err != nil {
		return apperr.Server("failed to update password", apperr.WithCause(err))
	}
	return nil
}

// VerifyResult is the shape returned by /api/tokens/verify.
type VerifyResult struct {
	UserID     uint64
	Username   string
	Permission int
	Enabled    bool
}

// Verify resolves a bearer token to its owning user, rate-limited per
// spec §5.
func (s *Service) Verify(clientIP, token string) (*VerifyResult, error) {
	if !s.limiter.Allow(clientIP) {
		return nil, apperr.ErrRateLimited
	}

	u, err := s.ResolveToken(token)
	if err != nil {
		s.limiter.RecordFailure(clientIP)
		return nil, err
	}

	s.limiter.RecordSuccess(clientIP)
	return &VerifyResult{UserID: u.ID, Username: u.Username, Permission: u.Permission, Enabled: u.Enabled}, nil
}

// ResolveToken looks up the user owning token, for use by the auth
// middleware on every authenticated route. Not rate-limited itself —
// only the dedicated /api/tokens/verify endpoint counts against the
// failure budget, per spec §5's explicit route list.
func (s *Service) ResolveToken(token string) (*model.User, error) {
	if token == "" {
		return nil, apperr.ErrInvalidToken
	}
	var u model.User
	if err := s.conn.Where("token = ?", token).First(&u).Error; err != nil {
		return nil, apperr.ErrInvalidToken
	}
	if !u.Enabled {
		return nil, apperr.Client(403, 10006, "account is disabled")
	}
	return &u, nil
}

// RotateToken issues caller a fresh opaque token, invalidating the old
// one.
func (s *Service) RotateToken(caller *model.User) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", apperr.Server("failed to generate token", apperr.WithCause(err))
	}
	if err := s.conn.Model(caller).Update("token", token).Error; err != nil {
		return "", apperr.Server("failed to rotate token", apperr.WithCause(err))
	}
	return token, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
