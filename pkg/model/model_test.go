package model

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid with dot", "my.user", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains delimiter", "a:::b", ErrUsernameInvalidChars},
		{"contains @", "user@name", ErrUsernameInvalidChars},
		{"tab character", "user\tname", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestParseUserField(t *testing.T) {
	tests := []struct {
		input   string
		want    UserField
		wantErr bool
	}{
		{"password", FieldPassword, false},
		{"name", FieldName, false},
		{"surname", FieldSurname, false},
		{"birthdate", FieldBirthdate, false},
		{"gender", FieldGender, false},
		{"email", FieldEmail, false},
		{"isAdmin", FieldIsAdmin, false},
		{"is_admin", FieldIsAdmin, false},
		{"username", 0, true},
		{"id; DROP TABLE users", 0, true},
		{"", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseUserField(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidField) {
					t.Fatalf("ParseUserField(%q) err = %v, want ErrInvalidField", tt.input, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseUserField(%q): unexpected error: %v", tt.input, err)
			}
			if got != tt.want {
				t.Errorf("ParseUserField(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name    string
		field   UserField
		raw     string
		want    string
		wantErr error
	}{
		{"birthdate", FieldBirthdate, "2000-01-31", "2000-01-31", nil},
		{"birthdate not a date", FieldBirthdate, "2000-02-31", "", ErrInvalidBirthdate},
		{"birthdate wrong layout", FieldBirthdate, "31/01/2000", "", ErrInvalidBirthdate},
		{"admin true", FieldIsAdmin, "TRUE", "true", nil},
		{"admin false", FieldIsAdmin, "false", "false", nil},
		{"admin garbage", FieldIsAdmin, "yes", "", ErrInvalidAdminFlag},
		{"email", FieldEmail, "b@x.com", "b@x.com", nil},
		{"empty name", FieldName, "  ", "", ErrFieldEmpty},
		{"long gender", FieldGender, strings.Repeat("g", MaxGenderLength+1), "", ErrFieldTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.field.NormalizeValue(tt.raw)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("NormalizeValue(%q) err = %v, want %v", tt.raw, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeValue(%q): unexpected error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeValue(%q) = %q, want %q", tt.raw, got, tt.want)
			}
		})
	}
}

func TestUserValidate(t *testing.T) {
	valid := User{
		Username:  "bob",
		Password:  "pw",
		Name:      "B",
		Surname:   "B",
		Birthdate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
		Gender:    "m",
		Email:     "b@x.com",
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("Validate: unexpected error: %v", err)
	}

	noDate := valid
	noDate.Birthdate = time.Time{}
	if err := noDate.Validate(); !errors.Is(err, ErrInvalidBirthdate) {
		t.Errorf("Validate without birthdate = %v, want ErrInvalidBirthdate", err)
	}

	noEmail := valid
	noEmail.Email = ""
	if err := noEmail.Validate(); !errors.Is(err, ErrFieldEmpty) {
		t.Errorf("Validate without email = %v, want ErrFieldEmpty", err)
	}
}

func TestSessionTransitions(t *testing.T) {
	s := NewSession("127.0.0.1:5000")
	if s.ID == "" {
		t.Fatal("NewSession: expected connection ID")
	}
	if s.Authenticated() {
		t.Fatal("NewSession: expected anonymous session")
	}

	s.Login("alp", true)
	if !s.Authenticated() || s.Username != "alp" || s.Role() != RoleAdmin {
		t.Fatalf("Login: got authenticated=%t username=%q role=%s", s.Authenticated(), s.Username, s.Role())
	}

	s.Logout()
	if s.Authenticated() || s.Username != "" || s.IsAdmin {
		t.Fatalf("Logout: session not reset: %+v", s)
	}
}

func TestMessageValidate(t *testing.T) {
	tests := []struct {
		content string
		wantErr error
	}{
		{"hello", nil},
		{"   ", ErrMessageContentEmpty},
		{strings.Repeat("x", MessageMaxContentLength+1), ErrMessageContentTooLong},
	}
	for _, tt := range tests {
		m := Message{Sender: "a", Receiver: "b", Content: tt.content}
		if err := m.Validate(); err != tt.wantErr {
			t.Errorf("Validate(%.10q) = %v, want %v", tt.content, err, tt.wantErr)
		}
	}
}
