package datastore

import (
	"context"
	"errors"

	"github.com/NicolasHaas/gomsg/pkg/model"
)

var (
	ErrUserExists       = errors.New("user already exists")
	ErrUserNotFound     = errors.New("user not found")
	ErrReceiverNotFound = errors.New("receiver does not exist")
	ErrUpdateFailed     = errors.New("update affected no rows")
)

// Repository is the persistence boundary consumed by the session core.
// Every method is one atomic operation: it either applies completely or
// leaves the store unchanged. Implementations include the SQL store
// (SQLite or PostgreSQL) and the in-memory store used by tests.
type Repository interface {
	UserReadProvider
	UserWriteProvider

	MessageReadProvider
	MessageWriteProvider

	Close() error
}

// Compile-time check: *SQLStore implements Repository.
var _ Repository = (*SQLStore)(nil)

type UserReadProvider interface {
	// Authenticate reports whether the credentials match and, if so, the
	// account's admin flag.
	Authenticate(ctx context.Context, username, password string) (ok bool, isAdmin bool, err error)

	// GetUserByUsername returns (nil, nil) if the user does not exist.
	GetUserByUsername(ctx context.Context, username string) (*model.User, error)

	// ListUsers returns all users in insertion order.
	ListUsers(ctx context.Context) ([]model.User, error)
}

type UserWriteProvider interface {
	// CreateUser fails with ErrUserExists if the username is taken.
	CreateUser(ctx context.Context, user *model.User) error

	// EnsureUser creates the user unless the username already exists and
	// reports whether it was created.
	EnsureUser(ctx context.Context, user *model.User) (bool, error)

	// UpdateUser sets exactly one field. It fails with ErrUserNotFound or
	// ErrUpdateFailed. value must already be normalized for the field.
	UpdateUser(ctx context.Context, username string, field model.UserField, value string) error

	// DeleteUser fails with ErrUserNotFound if nothing was removed.
	DeleteUser(ctx context.Context, username string) error
}

type MessageReadProvider interface {
	// ListInbox returns messages addressed to username in insertion order.
	ListInbox(ctx context.Context, username string) ([]model.Message, error)

	// ListOutbox returns messages sent by username in insertion order.
	ListOutbox(ctx context.Context, username string) ([]model.Message, error)
}

type MessageWriteProvider interface {
	// CreateMessage fails with ErrReceiverNotFound when the receiver is not
	// a known user. It assigns message.ID.
	CreateMessage(ctx context.Context, message *model.Message) error
}
