// Package store provides an in-memory Repository for tests and the
// server's -memory mode.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NicolasHaas/gomsg/pkg/datastore"
	"github.com/NicolasHaas/gomsg/pkg/model"
)

var _ datastore.Repository = (*MemoryStore)(nil)

// MemoryStore provides an in-memory Repository implementation.
// It mirrors the SQL store's validation, sentinel errors and ordering.
type MemoryStore struct {
	mu sync.RWMutex

	now func() time.Time

	nextUserID    int64
	nextMessageID int64

	usersByUsername map[string]*model.User
	messages        []model.Message
}

// NewMemory creates a MemoryStore using time.Now().UTC().
func NewMemory() *MemoryStore {
	return NewMemoryWithClock(func() time.Time { return time.Now().UTC() })
}

// NewMemoryWithClock creates a MemoryStore with a custom clock.
func NewMemoryWithClock(now func() time.Time) *MemoryStore {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &MemoryStore{
		now:             now,
		nextUserID:      1,
		nextMessageID:   1,
		usersByUsername: make(map[string]*model.User),
	}
}

// Close is a no-op for MemoryStore.
func (s *MemoryStore) Close() error {
	return nil
}

// Authenticate checks a username/password pair.
func (s *MemoryStore) Authenticate(_ context.Context, username, password string) (bool, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok || user.Password != password {
		return false, false, nil
	}
	return true, user.IsAdmin, nil
}

// GetUserByUsername retrieves a user by username.
func (s *MemoryStore) GetUserByUsername(_ context.Context, username string) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return nil, nil
	}
	copyUser := *user
	return &copyUser, nil
}

// ListUsers returns all users ordered by ID.
func (s *MemoryStore) ListUsers(_ context.Context) ([]model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]model.User, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, *user)
	}
	sort.Slice(users, func(i, j int) bool {
		return users[i].ID < users[j].ID
	})
	return users, nil
}

// CreateUser validates and stores a new user, assigning its ID.
func (s *MemoryStore) CreateUser(_ context.Context, user *model.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("store: create user: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.usersByUsername[user.Username]; exists {
		return fmt.Errorf("store: create user: %w", datastore.ErrUserExists)
	}
	user.ID = s.nextUserID
	user.CreatedAt = s.now().UTC()
	s.nextUserID++
	copyUser := *user
	s.usersByUsername[user.Username] = &copyUser
	return nil
}

// EnsureUser creates the user unless the username is already taken.
func (s *MemoryStore) EnsureUser(ctx context.Context, user *model.User) (bool, error) {
	s.mu.RLock()
	_, exists := s.usersByUsername[user.Username]
	s.mu.RUnlock()
	if exists {
		return false, nil
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateUser sets a single field of one user.
func (s *MemoryStore) UpdateUser(_ context.Context, username string, field model.UserField, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.usersByUsername[username]
	if !ok {
		return fmt.Errorf("store: update user: %w", datastore.ErrUserNotFound)
	}

	updated := *user
	switch field {
	case model.FieldPassword:
		updated.Password = value
	case model.FieldName:
		updated.Name = value
	case model.FieldSurname:
		updated.Surname = value
	case model.FieldGender:
		updated.Gender = value
	case model.FieldEmail:
		updated.Email = value
	case model.FieldBirthdate:
		t, err := model.ParseBirthdate(value)
		if err != nil {
			return fmt.Errorf("store: update user: %w", err)
		}
		updated.Birthdate = t
	case model.FieldIsAdmin:
		b, err := model.ParseAdminFlag(value)
		if err != nil {
			return fmt.Errorf("store: update user: %w", err)
		}
		updated.IsAdmin = b
	default:
		return fmt.Errorf("store: update user: %w", datastore.ErrUpdateFailed)
	}
	*user = updated
	return nil
}

// DeleteUser removes a user. Messages naming the user are kept.
func (s *MemoryStore) DeleteUser(_ context.Context, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByUsername[username]; !ok {
		return fmt.Errorf("store: delete user: %w", datastore.ErrUserNotFound)
	}
	delete(s.usersByUsername, username)
	return nil
}

// CreateMessage stores a message after checking that the receiver exists.
func (s *MemoryStore) CreateMessage(_ context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("store: message failed validation: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.usersByUsername[message.Receiver]; !ok {
		return fmt.Errorf("store: create message: %w", datastore.ErrReceiverNotFound)
	}
	if message.SentAt.IsZero() {
		message.SentAt = s.now().UTC()
	}
	message.ID = s.nextMessageID
	s.nextMessageID++
	s.messages = append(s.messages, *message)
	return nil
}

// ListInbox returns messages received by username.
func (s *MemoryStore) ListInbox(_ context.Context, username string) ([]model.Message, error) {
	return s.filterMessages(func(m *model.Message) bool { return m.Receiver == username }), nil
}

// ListOutbox returns messages sent by username.
func (s *MemoryStore) ListOutbox(_ context.Context, username string) ([]model.Message, error) {
	return s.filterMessages(func(m *model.Message) bool { return m.Sender == username }), nil
}

func (s *MemoryStore) filterMessages(keep func(*model.Message) bool) []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []model.Message
	for i := range s.messages {
		if keep(&s.messages[i]) {
			out = append(out, s.messages[i])
		}
	}
	return out
}
