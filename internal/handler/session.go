package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"cryptra/internal/model"
	"cryptra/internal/service"
)

type telegramKey struct{}

// WithTelegramID returns a context carrying the Telegram sender id.
func WithTelegramID(ctx context.Context, id int64) context.Context {
	return context.WithValue(ctx, telegramKey{}, id)
}

// UserLookup finds the account bound to a Telegram id.
type UserLookup interface {
	GetByTelegramID(ctx context.Context, telegramID int64) (*model.User, error)
}

// Session resolves the ledger user behind a Telegram sender. A Telegram id
// is bound to one account for life, so hits are served from an LRU cache.
type Session struct {
	users UserLookup
	cache *lru.Cache[int64, uuid.UUID]
}

// NewSession creates a Session caching up to size bindings.
func NewSession(users UserLookup, size int) (*Session, error) {
	if size <= 0 {
		size = 4096
	}
	cache, err := lru.New[int64, uuid.UUID](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create session cache: %w", err)
	}
	return &Session{users: users, cache: cache}, nil
}

// CurrentUser implements service.SessionResolver. Senders without an
// account get service.ErrUnauthenticated.
func (s *Session) CurrentUser(ctx context.Context) (uuid.UUID, error) {
	tg, ok := ctx.Value(telegramKey{}).(int64)
	if !ok {
		return uuid.Nil, service.ErrUnauthenticated
	}
	if id, ok := s.cache.Get(tg); ok {
		return id, nil
	}

	u, err := s.users.GetByTelegramID(ctx, tg)
	if errors.Is(err, service.ErrUserNotFound) {
		return uuid.Nil, fmt.Errorf("%w: telegram user %d", service.ErrUnauthenticated, tg)
	}
	if err != nil {
		return uuid.Nil, err
	}
	s.cache.Add(tg, u.ID)
	return u.ID, nil
}

// Remember binds a freshly registered account.
func (s *Session) Remember(telegramID int64, id uuid.UUID) {
	s.cache.Add(telegramID, id)
}
