package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")
)

// User is a registered account. PasswordHash is a bcrypt hash.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"password"`
	CreatedAt    time.Time `json:"created_at"`
}

// UserStore persists users keyed by email.
type UserStore interface {
	// Create fails with ErrUserExists if the email is taken.
	Create(ctx context.Context, user *User) error
	// GetByEmail fails with ErrUserNotFound.
	GetByEmail(ctx context.Context, email string) (*User, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// MemoryUserStore keeps users in process memory.
type MemoryUserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewMemoryUserStore() *MemoryUserStore {
	return &MemoryUserStore{users: make(map[string]User)}
}

func (s *MemoryUserStore) Create(_ context.Context, user *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalizeEmail(user.Email)
	if _, ok := s.users[key]; ok {
		return ErrUserExists
	}
	s.users[key] = *user
	return nil
}

func (s *MemoryUserStore) GetByEmail(_ context.Context, email string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[normalizeEmail(email)]
	if !ok {
		return nil, ErrUserNotFound
	}
	return &user, nil
}

// RedisUserStore keeps one JSON document per user under user:<email>.
type RedisUserStore struct {
	client *redis.Client
}

func NewRedisUserStore(client *redis.Client) *RedisUserStore {
	return &RedisUserStore{client: client}
}

func userKey(email string) string {
	return fmt.Sprintf("user:%s", normalizeEmail(email))
}

func (s *RedisUserStore) Create(ctx context.Context, user *User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}
	created, err := s.client.SetNX(ctx, userKey(user.Email), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}
	if !created {
		return ErrUserExists
	}
	return nil
}

func (s *RedisUserStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	data, err := s.client.Get(ctx, userKey(email)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	var user User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}
	return &user, nil
}
