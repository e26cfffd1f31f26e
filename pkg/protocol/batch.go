package protocol

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/NicolasHaas/gomsg/pkg/model"
)

const (
	// UserFieldCount is the number of wire fields per User record:
	// username, password, name, surname, birthdate, gender, email, isAdmin.
	UserFieldCount = 8

	// MessageFieldCount is the number of wire fields per Message record:
	// sender, receiver, content, timestamp.
	MessageFieldCount = 4

	// TimestampLayout renders Message.SentAt in UTC.
	TimestampLayout = "2006-01-02 15:04:05.999999999"
)

var ErrBatchFraming = errors.New("protocol: batch framing")

// EncodeUsers flattens users into one line. An empty list encodes to "".
func EncodeUsers(users []model.User) string {
	fields := make([]string, 0, len(users)*UserFieldCount)
	for _, u := range users {
		fields = append(fields,
			u.Username,
			u.Password,
			u.Name,
			u.Surname,
			model.FormatBirthdate(u.Birthdate),
			u.Gender,
			u.Email,
			strconv.FormatBool(u.IsAdmin),
		)
	}
	return strings.Join(fields, Delimiter)
}

// DecodeUsers reverses EncodeUsers, preserving record order.
func DecodeUsers(s string) ([]model.User, error) {
	records, err := splitRecords(s, UserFieldCount)
	if err != nil {
		return nil, err
	}
	users := make([]model.User, 0, len(records))
	for i, r := range records {
		birthdate, err := model.ParseBirthdate(r[4])
		if err != nil {
			return nil, fmt.Errorf("%w: user %d: %w", ErrBatchFraming, i, err)
		}
		isAdmin, err := strconv.ParseBool(r[7])
		if err != nil {
			return nil, fmt.Errorf("%w: user %d: admin flag %q", ErrBatchFraming, i, r[7])
		}
		users = append(users, model.User{
			Username:  r[0],
			Password:  r[1],
			Name:      r[2],
			Surname:   r[3],
			Birthdate: birthdate,
			Gender:    r[5],
			Email:     r[6],
			IsAdmin:   isAdmin,
		})
	}
	return users, nil
}

// EncodeMessages flattens messages into one line. An empty list encodes to "".
func EncodeMessages(messages []model.Message) string {
	fields := make([]string, 0, len(messages)*MessageFieldCount)
	for _, m := range messages {
		fields = append(fields,
			m.Sender,
			m.Receiver,
			m.Content,
			FormatTimestamp(m.SentAt),
		)
	}
	return strings.Join(fields, Delimiter)
}

// DecodeMessages reverses EncodeMessages, preserving record order.
func DecodeMessages(s string) ([]model.Message, error) {
	records, err := splitRecords(s, MessageFieldCount)
	if err != nil {
		return nil, err
	}
	messages := make([]model.Message, 0, len(records))
	for i, r := range records {
		sentAt, err := ParseTimestamp(r[3])
		if err != nil {
			return nil, fmt.Errorf("%w: message %d: %w", ErrBatchFraming, i, err)
		}
		messages = append(messages, model.Message{
			Sender:   r[0],
			Receiver: r[1],
			Content:  r[2],
			SentAt:   sentAt,
		})
	}
	return messages, nil
}

// FormatTimestamp renders t in UTC using TimestampLayout.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses a TimestampLayout value as UTC.
func ParseTimestamp(s string) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, time.UTC)
}

// splitRecords appends a trailing delimiter as sentinel and peels off
// fixed-width groups until the input is consumed.
func splitRecords(s string, width int) ([][]string, error) {
	if s == "" {
		return nil, nil
	}
	rest := s + Delimiter
	var records [][]string
	for rest != "" {
		parts := strings.SplitN(rest, Delimiter, width+1)
		if len(parts) != width+1 {
			return nil, fmt.Errorf("%w: record %d has %d of %d fields", ErrBatchFraming, len(records), len(parts)-1, width)
		}
		records = append(records, parts[:width])
		rest = parts[width]
	}
	return records, nil
}
