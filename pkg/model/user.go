package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const (
	MaxUsernameLength = 50
	MaxPasswordLength = 50
	MaxNameLength     = 50
	MaxGenderLength   = 10
	MaxEmailLength    = 100

	// BirthdateLayout is the wire and storage format of User.Birthdate.
	BirthdateLayout = "2006-01-02"
)

var ErrUsernameEmpty = errors.New("username must not be empty")
var ErrUsernameTooLong = fmt.Errorf("username must not exceed %d characters", MaxUsernameLength)
var ErrUsernameInvalidChars = errors.New("username must contain only alphanumeric characters, dots, underscores, or hyphens")
var ErrFieldEmpty = errors.New("field must not be empty")
var ErrFieldTooLong = errors.New("field too long")
var ErrInvalidBirthdate = errors.New("birthdate must be a calendar date in YYYY-MM-DD format")
var ErrInvalidAdminFlag = errors.New("admin flag must be true or false")
var ErrInvalidField = errors.New("unknown user field")

// User represents a registered account.
type User struct {
	ID        int64     `json:"id" yaml:"-"`
	Username  string    `json:"username"`
	Password  string    `json:"-"`
	Name      string    `json:"name"`
	Surname   string    `json:"surname"`
	Birthdate time.Time `json:"birthdate"`
	Gender    string    `json:"gender"`
	Email     string    `json:"email"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

// Role returns the permission level granted by the account's admin flag.
func (u *User) Role() Role {
	return RoleFor(u.IsAdmin)
}

// ValidateUsername checks that a username is 1-50 ASCII alphanumeric, dot,
// underscore, or hyphen characters. Returns nil on success or a descriptive error.
func ValidateUsername(name string) error {
	if len(name) == 0 {
		return ErrUsernameEmpty
	}
	if len(name) > MaxUsernameLength {
		return ErrUsernameTooLong
	}
	for _, r := range name {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') && (r < '0' || r > '9') && r != '_' && r != '-' && r != '.' {
			return ErrUsernameInvalidChars
		}
	}
	return nil
}

// Validate checks every field of a user about to be created.
func (u *User) Validate() error {
	if err := ValidateUsername(u.Username); err != nil {
		return err
	}
	for _, f := range []UserField{FieldPassword, FieldName, FieldSurname, FieldGender, FieldEmail} {
		if err := f.validateText(u.textField(f)); err != nil {
			return err
		}
	}
	if u.Birthdate.IsZero() {
		return ErrInvalidBirthdate
	}
	return nil
}

func (u *User) textField(f UserField) string {
	switch f {
	case FieldPassword:
		return u.Password
	case FieldName:
		return u.Name
	case FieldSurname:
		return u.Surname
	case FieldGender:
		return u.Gender
	case FieldEmail:
		return u.Email
	}
	return ""
}

// ParseBirthdate parses a YYYY-MM-DD calendar date.
func ParseBirthdate(s string) (time.Time, error) {
	t, err := time.ParseInLocation(BirthdateLayout, strings.TrimSpace(s), time.UTC)
	if err != nil {
		return time.Time{}, ErrInvalidBirthdate
	}
	return t, nil
}

// FormatBirthdate renders a birthdate in YYYY-MM-DD form.
func FormatBirthdate(t time.Time) string {
	return t.Format(BirthdateLayout)
}

// ParseAdminFlag accepts exactly "true" or "false", ignoring case.
func ParseAdminFlag(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true":
		return true, nil
	case "false":
		return false, nil
	default:
		return false, ErrInvalidAdminFlag
	}
}

// UserField is one of the columns UPDATEUSER may change.
type UserField int

const (
	FieldPassword UserField = iota
	FieldName
	FieldSurname
	FieldBirthdate
	FieldGender
	FieldEmail
	FieldIsAdmin
)

// ParseUserField maps a wire field name onto a UserField. Both "isAdmin" and
// the older "is_admin" spelling are accepted.
func ParseUserField(s string) (UserField, error) {
	switch s {
	case "password":
		return FieldPassword, nil
	case "name":
		return FieldName, nil
	case "surname":
		return FieldSurname, nil
	case "birthdate":
		return FieldBirthdate, nil
	case "gender":
		return FieldGender, nil
	case "email":
		return FieldEmail, nil
	case "isAdmin", "is_admin":
		return FieldIsAdmin, nil
	default:
		return 0, ErrInvalidField
	}
}

func (f UserField) String() string {
	switch f {
	case FieldPassword:
		return "password"
	case FieldName:
		return "name"
	case FieldSurname:
		return "surname"
	case FieldBirthdate:
		return "birthdate"
	case FieldGender:
		return "gender"
	case FieldEmail:
		return "email"
	case FieldIsAdmin:
		return "isAdmin"
	default:
		return "unknown"
	}
}

// Column returns the SQL column backing the field. The set is closed, so the
// result is safe to splice into a statement.
func (f UserField) Column() string {
	if f == FieldIsAdmin {
		return "is_admin"
	}
	return f.String()
}

func (f UserField) maxLength() int {
	switch f {
	case FieldPassword:
		return MaxPasswordLength
	case FieldGender:
		return MaxGenderLength
	case FieldEmail:
		return MaxEmailLength
	default:
		return MaxNameLength
	}
}

func (f UserField) validateText(v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%s: %w", f, ErrFieldEmpty)
	}
	if utf8.RuneCountInString(v) > f.maxLength() {
		return fmt.Errorf("%s: %w", f, ErrFieldTooLong)
	}
	return nil
}

// NormalizeValue validates a raw UPDATEUSER value for the field and returns
// the value to store: dates are canonicalized and admin flags become
// "true"/"false".
func (f UserField) NormalizeValue(raw string) (string, error) {
	switch f {
	case FieldBirthdate:
		t, err := ParseBirthdate(raw)
		if err != nil {
			return "", err
		}
		return FormatBirthdate(t), nil
	case FieldIsAdmin:
		v, err := ParseAdminFlag(raw)
		if err != nil {
			return "", err
		}
		if v {
			return "true", nil
		}
		return "false", nil
	case FieldPassword, FieldName, FieldSurname, FieldGender, FieldEmail:
		if err := f.validateText(raw); err != nil {
			return "", err
		}
		return raw, nil
	default:
		return "", ErrInvalidField
	}
}
