package protocol_test

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/NicolasHaas/gomsg/pkg/model"
	"github.com/NicolasHaas/gomsg/pkg/protocol"
)

func TestDecode(t *testing.T) {
	t.Parallel()

	tcases := map[string]struct {
		line string
		want protocol.Command
	}{
		"verb_only": {
			line: "LISTUSERS",
			want: protocol.Command{Verb: "LISTUSERS", Args: []string{}},
		},
		"login": {
			line: "LOGIN:::alp:::alp",
			want: protocol.Command{Verb: "LOGIN", Args: []string{"alp", "alp"}},
		},
		"missing_argument": {
			line: "LOGIN:::alp",
			want: protocol.Command{Verb: "LOGIN", Args: []string{"alp"}},
		},
		"trailing_empty_argument": {
			line: "SENDMSG:::a:::b:::",
			want: protocol.Command{Verb: "SENDMSG", Args: []string{"a", "b", ""}},
		},
		"lowercase_verb_kept": {
			line: "login:::x:::y",
			want: protocol.Command{Verb: "login", Args: []string{"x", "y"}},
		},
		"empty_line": {
			line: "",
			want: protocol.Command{Verb: "", Args: []string{}},
		},
	}

	for name, tc := range tcases {
		t.Run(name, func(t *testing.T) {
			got := protocol.Decode(tc.line)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Decode(%q) mismatch (-want +got):\n%s", tc.line, diff)
			}
		})
	}
}

func TestCommandEncode(t *testing.T) {
	if got := protocol.Encode(protocol.VerbLogout); got != "LOGOUT" {
		t.Errorf("Encode(LOGOUT) = %q", got)
	}
	got := protocol.Encode(protocol.VerbSendMsg, "a", "b", "hi")
	if got != "SENDMSG:::a:::b:::hi" {
		t.Errorf("Encode(SENDMSG) = %q", got)
	}
	if back := protocol.Decode(got).Encode(); back != got {
		t.Errorf("Decode(%q).Encode() = %q", got, back)
	}
	if arg := protocol.Decode("INBOX").Arg(0); arg != "" {
		t.Errorf("Arg(0) on verb-only command = %q, want empty", arg)
	}
}

func sampleUsers() []model.User {
	return []model.User{
		{
			Username:  "alp",
			Password:  "alp",
			Name:      "alp",
			Surname:   "kaplan",
			Birthdate: time.Date(2003, 1, 1, 0, 0, 0, 0, time.UTC),
			Gender:    "male",
			Email:     "alp@domain.com",
			IsAdmin:   true,
		},
		{
			Username:  "bob",
			Password:  "pw",
			Name:      "B",
			Surname:   "B",
			Birthdate: time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC),
			Gender:    "m",
			Email:     "b@x.com",
			IsAdmin:   false,
		},
	}
}

func sampleMessages() []model.Message {
	return []model.Message{
		{Sender: "alp", Receiver: "bob", Content: "hello bob", SentAt: time.Date(2024, 5, 1, 12, 30, 0, 0, time.UTC)},
		{Sender: "bob", Receiver: "alp", Content: "hi, alp: how are you?", SentAt: time.Date(2024, 5, 1, 12, 31, 5, 123456789, time.UTC)},
		{Sender: "alp", Receiver: "bob", Content: "", SentAt: time.Date(2024, 5, 2, 0, 0, 0, 500000000, time.UTC)},
	}
}

func TestUsersRoundTrip(t *testing.T) {
	t.Parallel()

	tcases := map[string][]model.User{
		"empty":  nil,
		"single": sampleUsers()[:1],
		"many":   sampleUsers(),
	}

	for name, users := range tcases {
		t.Run(name, func(t *testing.T) {
			line := protocol.EncodeUsers(users)
			got, err := protocol.DecodeUsers(line)
			if err != nil {
				t.Fatalf("DecodeUsers(%q): unexpected error: %v", line, err)
			}
			if diff := cmp.Diff(users, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("users round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestMessagesRoundTrip(t *testing.T) {
	t.Parallel()

	tcases := map[string][]model.Message{
		"empty":  nil,
		"single": sampleMessages()[:1],
		"many":   sampleMessages(),
	}

	for name, msgs := range tcases {
		t.Run(name, func(t *testing.T) {
			line := protocol.EncodeMessages(msgs)
			got, err := protocol.DecodeMessages(line)
			if err != nil {
				t.Fatalf("DecodeMessages(%q): unexpected error: %v", line, err)
			}
			if diff := cmp.Diff(msgs, got, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("messages round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeEmptyIsEmptyString(t *testing.T) {
	if got := protocol.EncodeUsers(nil); got != "" {
		t.Errorf("EncodeUsers(nil) = %q, want empty", got)
	}
	if got := protocol.EncodeMessages([]model.Message{}); got != "" {
		t.Errorf("EncodeMessages(empty) = %q, want empty", got)
	}
}

func TestEncodeUsersWireFormat(t *testing.T) {
	got := protocol.EncodeUsers(sampleUsers()[1:])
	want := "bob:::pw:::B:::B:::2000-01-01:::m:::b@x.com:::false"
	if got != want {
		t.Errorf("EncodeUsers = %q, want %q", got, want)
	}
}

func TestDelimiterInFieldBreaksFraming(t *testing.T) {
	msgs := []model.Message{
		{Sender: "a", Receiver: "b", Content: "x:::y", SentAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	_, err := protocol.DecodeMessages(protocol.EncodeMessages(msgs))
	if !errors.Is(err, protocol.ErrBatchFraming) {
		t.Fatalf("DecodeMessages with delimiter in content: err = %v, want ErrBatchFraming", err)
	}
}

func TestDecodeBatchErrors(t *testing.T) {
	tcases := map[string]string{
		"short_record":  "bob:::pw:::B",
		"bad_birthdate": "bob:::pw:::B:::B:::yesterday:::m:::b@x.com:::false",
		"bad_flag":      "bob:::pw:::B:::B:::2000-01-01:::m:::b@x.com:::maybe",
	}
	for name, line := range tcases {
		t.Run(name, func(t *testing.T) {
			if _, err := protocol.DecodeUsers(line); !errors.Is(err, protocol.ErrBatchFraming) {
				t.Errorf("DecodeUsers(%q) err = %v, want ErrBatchFraming", line, err)
			}
		})
	}
}

func TestLineReader(t *testing.T) {
	lr := protocol.NewLineReader(strings.NewReader("LOGIN:::a:::b\r\nLOGOUT\n"), 0)

	for _, want := range []string{"LOGIN:::a:::b", "LOGOUT"} {
		got, err := lr.ReadLine()
		if err != nil {
			t.Fatalf("ReadLine: unexpected error: %v", err)
		}
		if got != want {
			t.Errorf("ReadLine = %q, want %q", got, want)
		}
	}
	if _, err := lr.ReadLine(); err != io.EOF {
		t.Fatalf("ReadLine at end: err = %v, want io.EOF", err)
	}
}

func TestLineReaderTooLong(t *testing.T) {
	lr := protocol.NewLineReader(strings.NewReader(strings.Repeat("x", 100)+"\n"), 16)
	if _, err := lr.ReadLine(); !errors.Is(err, protocol.ErrLineTooLong) {
		t.Fatalf("ReadLine: err = %v, want ErrLineTooLong", err)
	}
}

func TestWriteLineFlattensNewlines(t *testing.T) {
	var buf bytes.Buffer
	if err := protocol.WriteLine(&buf, "a\nb\r\nc"); err != nil {
		t.Fatalf("WriteLine: %v", err)
	}
	if got := buf.String(); got != "a b c\n" {
		t.Errorf("WriteLine wrote %q", got)
	}
}

func TestLoginResponse(t *testing.T) {
	tests := map[string]struct {
		line      string
		wantOK    bool
		wantAdmin bool
	}{
		"admin":       {line: protocol.Authenticated(true), wantOK: true, wantAdmin: true},
		"user":        {line: protocol.Authenticated(false), wantOK: true},
		"failed":      {line: protocol.RespAuthFailed},
		"already_in":  {line: protocol.RespAlreadyLoggedIn},
		"bad_flag":    {line: "Authenticated:::maybe"},
		"extra_field": {line: "Authenticated:::true:::x"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			ok, admin := protocol.ParseLoginResponse(tt.line)
			if ok != tt.wantOK || admin != tt.wantAdmin {
				t.Errorf("ParseLoginResponse(%q) = (%v, %v), want (%v, %v)", tt.line, ok, admin, tt.wantOK, tt.wantAdmin)
			}
		})
	}
	if got := protocol.Authenticated(false); got != "Authenticated:::false" {
		t.Errorf("Authenticated(false) = %q", got)
	}
}
