package auth

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
)

var (
	ErrUsernameTaken      = errors.New("auth: username already taken")
	ErrUserNotFound       = errors.New("auth: user not found")
	ErrInvalidCredentials = errors.New("auth: invalid username or password")
	ErrInvalidSession     = errors.New("auth: invalid or expired session")
)

// User is a registered login. ID doubles as the ledger account ID.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// UserStore persists users. Usernames are unique case-insensitively.
type UserStore interface {
	// CreateUser stores u. ErrUsernameTaken if the username is in use.
	CreateUser(ctx context.Context, u User) error

	// UserByUsername looks a user up. ErrUserNotFound if there is none.
	UserByUsername(ctx context.Context, username string) (User, error)

	// DeleteUser removes the user with id. Deleting an unknown id is not an error.
	DeleteUser(ctx context.Context, id string) error
}

// MemoryUsers is a UserStore held in process memory.
type MemoryUsers struct {
	mu         sync.RWMutex
	byUsername map[string]User
}

func NewMemoryUsers() *MemoryUsers {
	return &MemoryUsers{byUsername: make(map[string]User)}
}

func (m *MemoryUsers) CreateUser(ctx context.Context, u User) error {
	key := strings.ToLower(u.Username)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byUsername[key]; exists {
		return ErrUsernameTaken
	}
	m.byUsername[key] = u
	return nil
}

func (m *MemoryUsers) UserByUsername(ctx context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.byUsername[strings.ToLower(username)]
	if !ok {
		return User{}, ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryUsers) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for key, u := range m.byUsername {
		if u.ID == id {
			delete(m.byUsername, key)
		}
	}
	return nil
}
