// Package datastore defines the Repository boundary and its SQL implementation.
package datastore

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/NicolasHaas/gomsg/pkg/model"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

const dbTimeLayout = "2006-01-02 15:04:05.999999999"

// SQLStore provides database access for users and messages.
type SQLStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// Open connects to a SQLite file (driver "sqlite") or a PostgreSQL DSN
// (driver "pgx") and runs migrations.
func Open(driver, dsn string) (*SQLStore, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("datastore: unsupported driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("datastore: open DB: %w", err)
	}

	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: ping: %w", err)
	}
	for _, pragma := range d.pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("datastore: %s: %w", pragma, err)
		}
	}
	if driver == DriverSQLite {
		// Pragmas are per connection; keep exactly one.
		db.SetMaxOpenConns(1)
	}

	s := &SQLStore{db: db, dialect: d, now: func() time.Time { return time.Now().UTC() }}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("datastore: migrate: %w", err)
	}
	return s, nil
}

// OpenSQLite opens (or creates) a SQLite database file.
func OpenSQLite(path string) (*SQLStore, error) {
	return Open(DriverSQLite, path)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatDBTime(t time.Time) string {
	return t.UTC().Format(dbTimeLayout)
}

func parseDBTime(value string) (time.Time, error) {
	return time.ParseInLocation(dbTimeLayout, value, time.UTC)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// isUniqueViolation recognises duplicate-key failures from both drivers.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// ---- Users ----

const userColumns = "id, username, password, name, surname, birthdate, gender, email, is_admin, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*model.User, error) {
	u := &model.User{}
	var birthdate, createdAt string
	var isAdmin int
	if err := row.Scan(&u.ID, &u.Username, &u.Password, &u.Name, &u.Surname, &birthdate, &u.Gender, &u.Email, &isAdmin, &createdAt); err != nil {
		return nil, err
	}
	var err error
	if u.Birthdate, err = model.ParseBirthdate(birthdate); err != nil {
		return nil, err
	}
	if u.CreatedAt, err = parseDBTime(createdAt); err != nil {
		return nil, err
	}
	u.IsAdmin = isAdmin != 0
	return u, nil
}

// Authenticate checks a username/password pair.
func (s *SQLStore) Authenticate(ctx context.Context, username, password string) (bool, bool, error) {
	var stored string
	var isAdmin int
	err := s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT password, is_admin FROM users WHERE username = ?"), username).
		Scan(&stored, &isAdmin)
	if err == sql.ErrNoRows {
		return false, false, nil
	}
	if err != nil {
		return false, false, fmt.Errorf("datastore: authenticate: %w", err)
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(password)) != 1 {
		return false, false, nil
	}
	return true, isAdmin != 0, nil
}

// GetUserByUsername retrieves a user by username.
func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, s.dialect.rebind("SELECT "+userColumns+" FROM users WHERE username = ?"), username))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("datastore: get user: %w", err)
	}
	return u, nil
}

// ListUsers returns all users.
func (s *SQLStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+userColumns+" FROM users ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("datastore: list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []model.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan user: %w", err)
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

func userExists(ctx context.Context, tx *sql.Tx, d dialect, username string) (bool, error) {
	var id int64
	err := tx.QueryRowContext(ctx, d.rebind("SELECT id FROM users WHERE username = ?"), username).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *SQLStore) insertUser(ctx context.Context, tx *sql.Tx, user *model.User) error {
	createdAt := s.now()
	err := tx.QueryRowContext(ctx,
		s.dialect.rebind("INSERT INTO users (username, password, name, surname, birthdate, gender, email, is_admin, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) RETURNING id"),
		user.Username,
		user.Password,
		user.Name,
		user.Surname,
		model.FormatBirthdate(user.Birthdate),
		user.Gender,
		user.Email,
		boolToInt(user.IsAdmin),
		formatDBTime(createdAt),
	).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrUserExists
		}
		return err
	}
	user.CreatedAt = createdAt
	return nil
}

// CreateUser validates and inserts a new user.
func (s *SQLStore) CreateUser(ctx context.Context, user *model.User) error {
	if err := user.Validate(); err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := userExists(ctx, tx, s.dialect, user.Username)
		if err != nil {
			return err
		}
		if exists {
			return ErrUserExists
		}
		return s.insertUser(ctx, tx, user)
	})
	if err != nil {
		return fmt.Errorf("datastore: create user: %w", err)
	}
	return nil
}

// EnsureUser inserts the user only when the username is free.
func (s *SQLStore) EnsureUser(ctx context.Context, user *model.User) (bool, error) {
	err := s.CreateUser(ctx, user)
	if errors.Is(err, ErrUserExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// UpdateUser sets a single column of one user.
func (s *SQLStore) UpdateUser(ctx context.Context, username string, field model.UserField, value string) error {
	var arg any = value
	if field == model.FieldIsAdmin {
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("datastore: update user: %w", model.ErrInvalidAdminFlag)
		}
		arg = boolToInt(b)
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := userExists(ctx, tx, s.dialect, username)
		if err != nil {
			return err
		}
		if !exists {
			return ErrUserNotFound
		}
		// Column comes from the closed UserField set, never from the wire.
		res, err := tx.ExecContext(ctx, s.dialect.rebind("UPDATE users SET "+field.Column()+" = ? WHERE username = ?"), arg, username)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return ErrUpdateFailed
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("datastore: update user: %w", err)
	}
	return nil
}

// DeleteUser removes a user. Messages referencing the username are kept.
func (s *SQLStore) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, s.dialect.rebind("DELETE FROM users WHERE username = ?"), username)
	if err != nil {
		return fmt.Errorf("datastore: delete user: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("datastore: delete user: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("datastore: delete user: %w", ErrUserNotFound)
	}
	return nil
}

// ---- Messages ----

// CreateMessage stores a message after checking that the receiver exists.
func (s *SQLStore) CreateMessage(ctx context.Context, message *model.Message) error {
	if err := message.Validate(); err != nil {
		return fmt.Errorf("datastore: message failed validation: %w", err)
	}
	if message.SentAt.IsZero() {
		message.SentAt = s.now()
	}

	err := s.withTx(ctx, func(tx *sql.Tx) error {
		exists, err := userExists(ctx, tx, s.dialect, message.Receiver)
		if err != nil {
			return err
		}
		if !exists {
			return ErrReceiverNotFound
		}
		return tx.QueryRowContext(ctx,
			s.dialect.rebind("INSERT INTO messages (sender_username, receiver_username, content, sent_at) VALUES (?, ?, ?, ?) RETURNING id"),
			message.Sender, message.Receiver, message.Content, formatDBTime(message.SentAt),
		).Scan(&message.ID)
	})
	if err != nil {
		return fmt.Errorf("datastore: create message: %w", err)
	}
	return nil
}

// ListInbox returns messages received by username.
func (s *SQLStore) ListInbox(ctx context.Context, username string) ([]model.Message, error) {
	return s.listMessages(ctx, "receiver_username", username)
}

// ListOutbox returns messages sent by username.
func (s *SQLStore) ListOutbox(ctx context.Context, username string) ([]model.Message, error) {
	return s.listMessages(ctx, "sender_username", username)
}

func (s *SQLStore) listMessages(ctx context.Context, column, username string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		s.dialect.rebind("SELECT id, sender_username, receiver_username, content, sent_at FROM messages WHERE "+column+" = ? ORDER BY id"),
		username)
	if err != nil {
		return nil, fmt.Errorf("datastore: list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var messages []model.Message
	for rows.Next() {
		var m model.Message
		var sentAt string
		if err := rows.Scan(&m.ID, &m.Sender, &m.Receiver, &m.Content, &sentAt); err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		parsed, err := parseDBTime(sentAt)
		if err != nil {
			return nil, fmt.Errorf("datastore: scan message: %w", err)
		}
		m.SentAt = parsed
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
