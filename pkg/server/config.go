package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gomsg/pkg/datastore"
	"github.com/NicolasHaas/gomsg/pkg/model"
)

// EnvPrefix prefixes every environment variable read by LoadConfig.
const EnvPrefix = "GOMSG_"

// LoadConfig starts from DefaultConfig and overlays GOMSG_* environment
// variables. envFiles are loaded first when present; a missing file is not
// an error. Flags, if any, are applied by the caller afterwards.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil {
			var pathErr *os.PathError
			if !errors.As(err, &pathErr) {
				return Config{}, fmt.Errorf("load %s: %w", f, err)
			}
		}
	}

	cfg := DefaultConfig()
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// UserYAML represents a user in YAML import and export.
type UserYAML struct {
	Username  string `yaml:"username"`
	Password  string `yaml:"password"`
	Name      string `yaml:"name"`
	Surname   string `yaml:"surname"`
	Birthdate string `yaml:"birthdate"`
	Gender    string `yaml:"gender"`
	Email     string `yaml:"email"`
	IsAdmin   bool   `yaml:"is_admin,omitempty"`
	CreatedAt string `yaml:"created_at,omitempty"` // export only
}

// UsersFile is the top-level YAML for user import and export.
type UsersFile struct {
	Users []UserYAML `yaml:"users"`
}

func (u UserYAML) toModel() (*model.User, error) {
	birthdate, err := model.ParseBirthdate(u.Birthdate)
	if err != nil {
		return nil, err
	}
	user := &model.User{
		Username:  u.Username,
		Password:  u.Password,
		Name:      u.Name,
		Surname:   u.Surname,
		Birthdate: birthdate,
		Gender:    u.Gender,
		Email:     u.Email,
		IsAdmin:   u.IsAdmin,
	}
	return user, user.Validate()
}

// LoadUsersFromYAML reads a users YAML file and creates the users that do
// not exist yet.
func LoadUsersFromYAML(ctx context.Context, path string, repo datastore.Repository) (int, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI config
	if err != nil {
		return 0, fmt.Errorf("read users file: %w", err)
	}
	return ImportUsersYAML(ctx, data, repo)
}

// ImportUsersYAML parses YAML data and creates missing users. Existing
// usernames are left untouched. It returns the number of users created.
func ImportUsersYAML(ctx context.Context, data []byte, repo datastore.Repository) (int, error) {
	var file UsersFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return 0, fmt.Errorf("parse users file: %w", err)
	}

	created := 0
	for i, entry := range file.Users {
		user, err := entry.toModel()
		if err != nil {
			slog.Error("skipping invalid user from YAML", "index", i, "user", entry.Username, "err", err)
			continue
		}
		ok, err := repo.EnsureUser(ctx, user)
		if err != nil {
			return created, fmt.Errorf("import user %q: %w", entry.Username, err)
		}
		if ok {
			created++
			slog.Debug("created user from YAML", "user", user.Username)
		}
	}

	slog.Info("imported users from YAML", "created", created, "total", len(file.Users))
	return created, nil
}

// ExportUsersYAML exports all users as YAML, passwords included, in the
// format ImportUsersYAML reads.
func ExportUsersYAML(ctx context.Context, repo datastore.Repository) ([]byte, error) {
	users, err := repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	export := UsersFile{Users: make([]UserYAML, 0, len(users))}
	for _, u := range users {
		export.Users = append(export.Users, UserYAML{
			Username:  u.Username,
			Password:  u.Password,
			Name:      u.Name,
			Surname:   u.Surname,
			Birthdate: model.FormatBirthdate(u.Birthdate),
			Gender:    u.Gender,
			Email:     u.Email,
			IsAdmin:   u.IsAdmin,
			CreatedAt: u.CreatedAt.Format("2006-01-02T15:04:05Z"),
		})
	}
	return yaml.Marshal(&export)
}
