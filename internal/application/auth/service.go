// Package auth implements accounts, sessions and the token pair lifecycle.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/bryanwahyu/fin-analyzer/internal/application"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/errs"
	"github.com/bryanwahyu/fin-analyzer/internal/domain/users"
	creds "github.com/bryanwahyu/fin-analyzer/internal/infra/auth"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,50}$`)

const (
	minPasswordLen = 8
	maxPasswordLen = 72
)

type Service struct {
	Users    users.Repository
	Sessions users.SessionRepository
	Tokens   *creds.TokenManager
	Hasher   *creds.Hasher
	Clock    application.Clock
	Log      logrus.FieldLogger
}

type RegisterCommand struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	TokenType    string      `json:"token_type"`
	ExpiresIn    int         `json:"expires_in"`
	User         *users.User `json:"user"`
}

func validatePassword(pw string) error {
	if utf8.RuneCountInString(pw) < minPasswordLen {
		return errs.Invalid("Password must be at least %d characters long", minPasswordLen)
	}
	if len(pw) > maxPasswordLen {
		return errs.Invalid("Password cannot be longer than %d bytes", maxPasswordLen)
	}
	return nil
}

func (s *Service) Register(ctx context.Context, cmd RegisterCommand) (*users.User, error) {
	return s.create(ctx, cmd, false)
}

func (s *Service) create(ctx context.Context, cmd RegisterCommand, admin bool) (*users.User, error) {
	username := strings.TrimSpace(cmd.Username)
	if !usernamePattern.MatchString(username) {
		return nil, errs.Invalid("username must be 3-50 characters of letters, digits, '_', '.' or '-'")
	}
	email := strings.TrimSpace(cmd.Email)
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		return nil, errs.Invalid("invalid email address")
	}
	if err := validatePassword(cmd.Password); err != nil {
		return nil, err
	}
	hash, err := s.Hasher.Hash(cmd.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.Clock.Now()
	u := &users.User{
		Username:     username,
		Email:        strings.ToLower(email),
		PasswordHash: hash,
		IsActive:     true,
		IsAdmin:      admin,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.Users.Create(ctx, u); err != nil {
		if errors.Is(err, errs.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: username or email already registered", errs.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	s.Log.WithFields(logrus.Fields{"user_id": u.ID, "username": u.Username}).Info("user registered")
	return u, nil
}

var errBadLogin = fmt.Errorf("%w: incorrect username or password", errs.ErrUnauthorized)

func (s *Service) Login(ctx context.Context, username, password string) (*TokenPair, error) {
	u, err := s.Users.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, errBadLogin
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	ok, err := s.Hasher.Compare(u.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return nil, errBadLogin
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: inactive user", errs.ErrUnauthorized)
	}
	pair, err := s.issue(ctx, u)
	if err != nil {
		return nil, err
	}
	s.Log.WithField("user_id", u.ID).Info("user logged in")
	return pair, nil
}

// issue opens a session and signs both tokens for it.
func (s *Service) issue(ctx context.Context, u *users.User) (*TokenPair, error) {
	now := s.Clock.Now()
	claims := creds.Claims{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin, SessionID: uuid.NewString()}

	access, _, err := s.Tokens.Issue(claims, creds.TypeAccess, now)
	if err != nil {
		return nil, err
	}
	refresh, exp, err := s.Tokens.Issue(claims, creds.TypeRefresh, now)
	if err != nil {
		return nil, err
	}
	sess := &users.Session{
		ID:               claims.SessionID,
		UserID:           u.ID,
		RefreshTokenHash: creds.Fingerprint(refresh),
		ExpiresAt:        exp,
		IsActive:         true,
		CreatedAt:        now,
	}
	if err := s.Sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int(s.Tokens.AccessTTL.Seconds()),
		User:         u,
	}, nil
}

// Refresh rotates the session: the old one is revoked and a new pair is issued.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	c, err := s.Tokens.Parse(refreshToken, creds.TypeRefresh)
	if err != nil {
		return nil, err
	}
	sess, err := s.session(ctx, c)
	if err != nil {
		return nil, err
	}
	if sess.RefreshTokenHash != creds.Fingerprint(refreshToken) {
		return nil, fmt.Errorf("%w: refresh token was already used", errs.ErrUnauthorized)
	}
	u, err := s.activeUser(ctx, c.UserID)
	if err != nil {
		return nil, err
	}
	if err := s.Sessions.Revoke(ctx, sess.ID); err != nil {
		return nil, fmt.Errorf("revoke session: %w", err)
	}
	return s.issue(ctx, u)
}

func (s *Service) session(ctx context.Context, c *creds.Claims) (*users.Session, error) {
	sess, err := s.Sessions.Get(ctx, c.SessionID)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: session not found", errs.ErrUnauthorized)
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if sess.UserID != c.UserID || !sess.Valid(s.Clock.Now()) {
		return nil, fmt.Errorf("%w: session expired or revoked", errs.ErrUnauthorized)
	}
	return sess, nil
}

func (s *Service) activeUser(ctx context.Context, id string) (*users.User, error) {
	u, err := s.Users.Get(ctx, id)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil, fmt.Errorf("%w: user not found", errs.ErrUnauthorized)
		}
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !u.IsActive {
		return nil, fmt.Errorf("%w: inactive user", errs.ErrUnauthorized)
	}
	return u, nil
}

// Authenticate resolves an access token into a principal. The session must still be live.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (users.Principal, error) {
	c, err := s.Tokens.Parse(accessToken, creds.TypeAccess)
	if err != nil {
		return users.Principal{}, err
	}
	if _, err := s.session(ctx, c); err != nil {
		return users.Principal{}, err
	}
	u, err := s.activeUser(ctx, c.UserID)
	if err != nil {
		return users.Principal{}, err
	}
	return users.Principal{UserID: u.ID, Username: u.Username, IsAdmin: u.IsAdmin}, nil
}

// Logout revokes every session of the caller.
func (s *Service) Logout(ctx context.Context, p users.Principal) error {
	if err := s.Sessions.RevokeAllForUser(ctx, p.UserID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.Log.WithField("user_id", p.UserID).Info("user logged out")
	return nil
}

func (s *Service) Me(ctx context.Context, p users.Principal) (*users.User, error) {
	return s.Users.Get(ctx, p.UserID)
}

// ChangePassword checks the current password, stores the new hash and signs out every session.
func (s *Service) ChangePassword(ctx context.Context, p users.Principal, current, next string) error {
	u, err := s.Users.Get(ctx, p.UserID)
	if err != nil {
		return err
	}
	ok, err := s.Hasher.Compare(u.PasswordHash, current)
	if err != nil {
		return fmt.Errorf("compare password: %w", err)
	}
	if !ok {
		return errs.Invalid("current password is incorrect")
	}
	if err := validatePassword(next); err != nil {
		return err
	}
	hash, err := s.Hasher.Hash(next)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	if err := s.Users.UpdatePassword(ctx, u.ID, hash, s.Clock.Now()); err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	if err := s.Sessions.RevokeAllForUser(ctx, u.ID); err != nil {
		return fmt.Errorf("revoke sessions: %w", err)
	}
	s.Log.WithField("user_id", u.ID).Info("password changed")
	return nil
}

func requireAdmin(p users.Principal) error {
	if !p.IsAdmin {
		return fmt.Errorf("%w: not enough permissions", errs.ErrForbidden)
	}
	return nil
}

func (s *Service) ListUsers(ctx context.Context, p users.Principal, limit, offset int) ([]*users.User, error) {
	if err := requireAdmin(p); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 1000 {
		limit = 1000
	}
	return s.Users.List(ctx, limit, offset)
}

// DeleteUser removes an account and its sessions. Admins cannot delete themselves.
func (s *Service) DeleteUser(ctx context.Context, p users.Principal, id string) error {
	if err := requireAdmin(p); err != nil {
		return err
	}
	if id == p.UserID {
		return errs.Invalid("cannot delete your own account")
	}
	if err := s.Users.Delete(ctx, id); err != nil {
		return err
	}
	if err := s.Sessions.RevokeAllForUser(ctx, id); err != nil {
		s.Log.WithError(err).WithField("user_id", id).Warn("could not revoke sessions of deleted user")
	}
	s.Log.WithFields(logrus.Fields{"user_id": id, "admin": p.Username}).Info("user deleted")
	return nil
}

func (s *Service) CleanupSessions(ctx context.Context, p users.Principal) (int64, error) {
	if err := requireAdmin(p); err != nil {
		return 0, err
	}
	return s.PurgeSessions(ctx)
}

// PurgeSessions deletes expired or revoked sessions; the reaper runs it on a schedule.
func (s *Service) PurgeSessions(ctx context.Context) (int64, error) {
	n, err := s.Sessions.DeleteExpired(ctx, s.Clock.Now())
	if err != nil {
		return 0, fmt.Errorf("cleanup sessions: %w", err)
	}
	s.Log.WithField("deleted", n).Info("expired sessions cleaned up")
	return n, nil
}

// Bootstrap creates the configured admin once; an existing username is left untouched.
func (s *Service) Bootstrap(ctx context.Context, cmd RegisterCommand) error {
	if cmd.Username == "" || cmd.Password == "" {
		return nil
	}
	if _, err := s.Users.GetByUsername(ctx, cmd.Username); err == nil {
		return nil
	} else if !errors.Is(err, errs.ErrNotFound) {
		return fmt.Errorf("load bootstrap admin: %w", err)
	}
	u, err := s.create(ctx, cmd, true)
	if err != nil {
		return fmt.Errorf("create bootstrap admin: %w", err)
	}
	s.Log.WithField("user_id", u.ID).Info("bootstrap admin created")
	return nil
}
