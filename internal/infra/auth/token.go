// Package auth holds the credential primitives: HS256 JWTs and bcrypt password hashes.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

// Claims carried by both token kinds; Type tells them apart.
type Claims struct {
	UserID    string `json:"uid"`
	Username  string `json:"username"`
	IsAdmin   bool   `json:"adm"`
	SessionID string `json:"sid"`
	Type      string `json:"typ"`
	jwt.RegisteredClaims
}

type TokenManager struct {
	secret     []byte
	AccessTTL  time.Duration
	RefreshTTL time.Duration
	now        func() time.Time
}

func NewTokenManager(secret string, accessTTL, refreshTTL time.Duration) *TokenManager {
	return &TokenManager{secret: []byte(secret), AccessTTL: accessTTL, RefreshTTL: refreshTTL, now: time.Now}
}

// Issue signs a token of the given type for the session.
func (m *TokenManager) Issue(c Claims, typ string, now time.Time) (string, time.Time, error) {
	ttl := m.AccessTTL
	if typ == TypeRefresh {
		ttl = m.RefreshTTL
	}
	exp := now.Add(ttl)
	c.Type = typ
	c.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(),
		Subject:   c.UserID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Parse validates signature, expiry and type. Every failure wraps errs.ErrUnauthorized.
func (m *TokenManager) Parse(raw, typ string) (*Claims, error) {
	var c Claims
	_, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(m.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: token expired", errs.ErrUnauthorized)
		}
		return nil, fmt.Errorf("%w: invalid token", errs.ErrUnauthorized)
	}
	if c.Type != typ {
		return nil, fmt.Errorf("%w: expected %s token", errs.ErrUnauthorized, typ)
	}
	if c.UserID == "" || c.SessionID == "" {
		return nil, fmt.Errorf("%w: incomplete token", errs.ErrUnauthorized)
	}
	return &c, nil
}
