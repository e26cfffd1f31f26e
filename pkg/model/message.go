package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

const MessageMaxContentLength = 4096

var ErrMessageContentTooLong = fmt.Errorf("message content exceeds %d characters", MessageMaxContentLength)
var ErrMessageContentEmpty = errors.New("message content cannot be empty")

// Message is a direct message between two users. Sender and Receiver are
// plain usernames and may outlive the accounts they name.
type Message struct {
	ID       int64     `json:"id"`
	Sender   string    `json:"sender"`
	Receiver string    `json:"receiver"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sent_at"`
}

func (m *Message) Validate() error {
	if strings.TrimSpace(m.Content) == "" {
		return ErrMessageContentEmpty
	} else if utf8.RuneCountInString(m.Content) > MessageMaxContentLength {
		return ErrMessageContentTooLong
	}

	return nil
}
