package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"trade-ledger/pkg/cache"
	"trade-ledger/pkg/ledger"
	"trade-ledger/pkg/logging"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var sessionKeys = cache.NewKeyPattern("session", ":")

const cleanupTimeout = 5 * time.Second

// AccountOpener funds a new ledger account for a registered user.
type AccountOpener interface {
	Open(ctx context.Context, accountID string) (ledger.Account, error)
}

// Session is an issued bearer token.
type Session struct {
	Token     string
	Principal ledger.Principal
	ExpiresAt time.Time
}

type sessionRecord struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// Config configures a Service.
type Config struct {
	// SessionTTL is how long a token stays valid (default: 24h)
	SessionTTL time.Duration
	// HashCost is the bcrypt cost (default: bcrypt.DefaultCost)
	HashCost int
	Clock    func() time.Time
	Logger   *logging.Logger
}

// Service registers users and turns bearer tokens into principals.
// Sessions live in a cache layer, so they are shared when that layer is Redis.
type Service struct {
	users    UserStore
	sessions cache.Layer
	accounts AccountOpener
	ttl      time.Duration
	cost     int
	now      func() time.Time
	logger   *logging.Logger
}

func NewService(users UserStore, sessions cache.Layer, accounts AccountOpener, config Config) *Service {
	if config.SessionTTL <= 0 {
		config.SessionTTL = 24 * time.Hour
	}
	if config.HashCost == 0 {
		config.HashCost = bcrypt.DefaultCost
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = logging.L()
	}

	return &Service{
		users:    users,
		sessions: sessions,
		accounts: accounts,
		ttl:      config.SessionTTL,
		cost:     config.HashCost,
		now:      config.Clock,
		logger:   config.Logger.Named("auth"),
	}
}

// Register creates the user and their funded account, then logs them in.
func (s *Service) Register(ctx context.Context, username, password string) (Session, ledger.Account, error) {
	username = strings.TrimSpace(username)

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return Session{}, ledger.Account{}, fmt.Errorf("hash password: %w", err)
	}

	u := User{
		ID:           uuid.NewString(),
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		if errors.Is(err, ErrUsernameTaken) {
			return Session{}, ledger.Account{}, err
		}
		return Session{}, ledger.Account{}, fmt.Errorf("create user %s: %w", username, err)
	}

	acct, err := s.accounts.Open(ctx, u.ID)
	if err != nil {
		s.logger.Error("account not opened for new user",
			zap.String("user_id", u.ID),
			zap.String("username", username),
			zap.Error(err),
		)
		s.removeUser(ctx, u)
		return Session{}, ledger.Account{}, err
	}

	session, err := s.issue(ctx, u)
	if err != nil {
		return Session{}, ledger.Account{}, err
	}

	s.logger.Info("user registered", zap.String("user_id", u.ID), zap.String("username", username))
	return session, acct, nil
}

// removeUser undoes CreateUser so the username can register again. It runs
// even when ctx is already canceled.
func (s *Service) removeUser(ctx context.Context, u User) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()

	if err := s.users.DeleteUser(ctx, u.ID); err != nil {
		s.logger.Error("user left without an account",
			zap.String("user_id", u.ID),
			zap.String("username", u.Username),
			zap.Error(err),
		)
	}
}

// Login checks the password and issues a new session.
func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	u, err := s.users.UserByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, ErrUserNotFound) {
		return Session{}, ErrInvalidCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("load user %s: %w", username, err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Info("login refused", zap.String("username", username))
			return Session{}, ErrInvalidCredentials
		}
		return Session{}, fmt.Errorf("verify password: %w", err)
	}

	return s.issue(ctx, u)
}

// Logout drops the session. Unknown tokens are not an error.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.sessions.Delete(ctx, sessionKeys.Build(token)); err != nil && !cache.IsNotFound(err) {
		return fmt.Errorf("drop session: %w", err)
	}
	return nil
}

// Authenticate resolves a bearer token to the principal it was issued for.
func (s *Service) Authenticate(ctx context.Context, token string) (ledger.Principal, error) {
	if token == "" {
		return ledger.Principal{}, ErrInvalidSession
	}
	if _, err := uuid.Parse(token); err != nil {
		return ledger.Principal{}, ErrInvalidSession
	}

	value, err := s.sessions.Get(ctx, sessionKeys.Build(token))
	if cache.IsNotFound(err) {
		return ledger.Principal{}, ErrInvalidSession
	}
	if err != nil {
		return ledger.Principal{}, fmt.Errorf("load session: %w", err)
	}

	var rec sessionRecord
	if err := json.Unmarshal(value, &rec); err != nil || rec.UserID == "" {
		return ledger.Principal{}, ErrInvalidSession
	}
	return ledger.Principal{UserID: rec.UserID, Username: rec.Username}, nil
}

func (s *Service) issue(ctx context.Context, u User) (Session, error) {
	token := uuid.NewString()

	value, err := json.Marshal(sessionRecord{UserID: u.ID, Username: u.Username})
	if err != nil {
		return Session{}, fmt.Errorf("encode session: %w", err)
	}
	if err := s.sessions.Set(ctx, sessionKeys.Build(token), value, s.ttl); err != nil {
		return Session{}, fmt.Errorf("store session: %w", err)
	}

	return Session{
		Token:     token,
		Principal: ledger.Principal{UserID: u.ID, Username: u.Username},
		ExpiresAt: s.now().Add(s.ttl).UTC(),
	}, nil
}
