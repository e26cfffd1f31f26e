package datastore

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// dialect carries the per-driver differences. Queries are written with
// `?` placeholders and rebound for drivers that number them.
type dialect struct {
	name       string
	numbered   bool
	pragmas    []string
	migrations []migration
}

type migration struct {
	version      int
	statements   []string
	ignoreErrors bool
}

var dialects = map[string]dialect{
	DriverSQLite: {
		name: "sqlite",
		pragmas: []string{
			"PRAGMA journal_mode=WAL",
			"PRAGMA busy_timeout=5000",
		},
		migrations: []migration{
			{
				version: 1,
				statements: []string{
					`CREATE TABLE IF NOT EXISTS users (
						id         INTEGER PRIMARY KEY AUTOINCREMENT,
						username   TEXT    NOT NULL UNIQUE CHECK(length(username) > 0 AND length(username) <= 50),
						password   TEXT    NOT NULL,
						name       TEXT    NOT NULL,
						surname    TEXT    NOT NULL,
						birthdate  TEXT    NOT NULL,
						gender     TEXT    NOT NULL,
						email      TEXT    NOT NULL,
						is_admin   INTEGER NOT NULL DEFAULT 0,
						created_at TEXT    NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS messages (
						id                INTEGER PRIMARY KEY AUTOINCREMENT,
						sender_username   TEXT    NOT NULL,
						receiver_username TEXT    NOT NULL,
						content           TEXT    NOT NULL,
						sent_at           TEXT    NOT NULL
					)`,
				},
			},
			{
				version: 2,
				statements: []string{
					"CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_username, id)",
					"CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_username, id)",
				},
			},
		},
	},
	DriverPostgres: {
		name:     "postgres",
		numbered: true,
		migrations: []migration{
			{
				version: 1,
				statements: []string{
					`CREATE TABLE IF NOT EXISTS users (
						id         BIGSERIAL    PRIMARY KEY,
						username   VARCHAR(50)  NOT NULL UNIQUE CHECK(length(username) > 0),
						password   VARCHAR(50)  NOT NULL,
						name       VARCHAR(50)  NOT NULL,
						surname    VARCHAR(50)  NOT NULL,
						birthdate  TEXT         NOT NULL,
						gender     VARCHAR(10)  NOT NULL,
						email      VARCHAR(100) NOT NULL,
						is_admin   INTEGER      NOT NULL DEFAULT 0,
						created_at TEXT         NOT NULL
					)`,
					`CREATE TABLE IF NOT EXISTS messages (
						id                BIGSERIAL   PRIMARY KEY,
						sender_username   VARCHAR(50) NOT NULL,
						receiver_username VARCHAR(50) NOT NULL,
						content           TEXT        NOT NULL,
						sent_at           TEXT        NOT NULL
					)`,
				},
			},
			{
				version: 2,
				statements: []string{
					"CREATE INDEX IF NOT EXISTS idx_messages_receiver ON messages(receiver_username, id)",
					"CREATE INDEX IF NOT EXISTS idx_messages_sender ON messages(sender_username, id)",
				},
			},
		},
	},
}

// rebind rewrites `?` placeholders to `$1, $2, ...` for postgres.
// Queries in this package never contain a literal question mark.
func (d dialect) rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *SQLStore) migrate(ctx context.Context) error {
	if err := s.ensureSchemaMigrations(ctx); err != nil {
		return err
	}
	currentVersion, err := s.getSchemaVersion(ctx)
	if err != nil {
		return err
	}

	for _, m := range s.dialect.migrations {
		if m.version <= currentVersion {
			continue
		}
		for _, stmt := range m.statements {
			if err := s.execMigration(ctx, stmt, m.ignoreErrors); err != nil {
				return err
			}
		}
		if err := s.setSchemaVersion(ctx, m.version); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLStore) ensureSchemaMigrations(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER NOT NULL)"); err != nil {
		return fmt.Errorf("datastore: create schema_migrations: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations").Scan(&count); err != nil {
		return fmt.Errorf("datastore: check schema_migrations: %w", err)
	}
	if count == 0 {
		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (0)"); err != nil {
			return fmt.Errorf("datastore: init schema_migrations: %w", err)
		}
	}
	return nil
}

func (s *SQLStore) getSchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_migrations LIMIT 1").Scan(&version); err != nil {
		return 0, fmt.Errorf("datastore: read schema version: %w", err)
	}
	return version, nil
}

func (s *SQLStore) setSchemaVersion(ctx context.Context, version int) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.rebind("UPDATE schema_migrations SET version = ?"), version); err != nil {
		return fmt.Errorf("datastore: update schema version: %w", err)
	}
	return nil
}

func (s *SQLStore) execMigration(ctx context.Context, stmt string, ignoreErrors bool) error {
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		if ignoreErrors {
			return nil
		}
		return fmt.Errorf("datastore: migrate: %w", err)
	}
	return nil
}
