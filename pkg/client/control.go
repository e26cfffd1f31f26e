// Package client implements the gomsg line-protocol client.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/NicolasHaas/gomsg/pkg/model"
	"github.com/NicolasHaas/gomsg/pkg/protocol"
)

var (
	// ErrRemoved is returned when the server reports that this session's
	// account was removed. The session is anonymous again afterwards.
	ErrRemoved = errors.New("client: session removed by the server")

	ErrAuthFailed = errors.New("client: authentication failed")
)

// ResponseError carries a server reply that was not the expected success.
type ResponseError struct {
	Text string
}

func (e *ResponseError) Error() string {
	return "client: server replied " + fmt.Sprintf("%q", e.Text)
}

// Client speaks the line protocol over one connection. Requests are
// serialised: each call writes one line and reads exactly one reply.
type Client struct {
	conn net.Conn
	r    *protocol.LineReader
	w    *bufio.Writer
	mu   sync.Mutex
}

// Dial connects to a gomsg server's TCP control address.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect control: %w", err)
	}
	return New(conn), nil
}

// New wraps an established connection.
func New(conn net.Conn) *Client {
	return &Client{
		conn: conn,
		r:    protocol.NewLineReader(conn, 0),
		w:    bufio.NewWriter(conn),
	}
}

// Do sends one raw protocol line and returns the server's reply line.
func (c *Client) Do(line string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := protocol.WriteLine(c.w, line); err != nil {
		return "", fmt.Errorf("client: send: %w", err)
	}
	if err := c.w.Flush(); err != nil {
		return "", fmt.Errorf("client: send: %w", err)
	}
	resp, err := c.r.ReadLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return "", fmt.Errorf("client: connection closed: %w", err)
		}
		return "", fmt.Errorf("client: read reply: %w", err)
	}
	return resp, nil
}

// call encodes a command and maps the eviction notice to ErrRemoved.
func (c *Client) call(verb string, args ...string) (string, error) {
	resp, err := c.Do(protocol.Encode(verb, args...))
	if err != nil {
		return "", err
	}
	if resp == protocol.RespRemoved {
		return "", ErrRemoved
	}
	return resp, nil
}

// expect runs a command whose only success reply is want.
func (c *Client) expect(want, verb string, args ...string) error {
	resp, err := c.call(verb, args...)
	if err != nil {
		return err
	}
	if resp != want {
		return &ResponseError{Text: resp}
	}
	return nil
}

// Login authenticates and reports whether the account is an admin.
func (c *Client) Login(username, password string) (bool, error) {
	resp, err := c.call(protocol.VerbLogin, username, password)
	if err != nil {
		return false, err
	}
	if ok, isAdmin := protocol.ParseLoginResponse(resp); ok {
		return isAdmin, nil
	}
	if resp == protocol.RespAuthFailed {
		return false, ErrAuthFailed
	}
	return false, &ResponseError{Text: resp}
}

// Logout returns the session to anonymous.
func (c *Client) Logout() error {
	return c.expect(protocol.RespLoggedOut, protocol.VerbLogout)
}

// Inbox lists messages received by username.
func (c *Client) Inbox(username string) ([]model.Message, error) {
	return c.messages(protocol.VerbInbox, username)
}

// Outbox lists messages sent by username.
func (c *Client) Outbox(username string) ([]model.Message, error) {
	return c.messages(protocol.VerbOutbox, username)
}

func (c *Client) messages(verb, username string) ([]model.Message, error) {
	resp, err := c.call(verb, username)
	if err != nil {
		return nil, err
	}
	if isErrorReply(resp) {
		return nil, &ResponseError{Text: resp}
	}
	messages, err := protocol.DecodeMessages(resp)
	if err != nil {
		return nil, &ResponseError{Text: resp}
	}
	return messages, nil
}

// SendMessage stores a message from sender to receiver.
func (c *Client) SendMessage(sender, receiver, content string) error {
	return c.expect(protocol.RespMessageSent, protocol.VerbSendMsg, sender, receiver, content)
}

// AddUser creates an account. Requires an admin session.
func (c *Client) AddUser(u model.User) error {
	return c.expect(protocol.RespUserCreated, protocol.VerbAddUser,
		u.Username,
		u.Password,
		u.Name,
		u.Surname,
		model.FormatBirthdate(u.Birthdate),
		u.Gender,
		u.Email,
		fmt.Sprint(u.IsAdmin),
	)
}

// UpdateUser changes one field of an account. Requires an admin session.
func (c *Client) UpdateUser(username string, field model.UserField, value string) error {
	return c.expect(protocol.RespUserUpdated, protocol.VerbUpdateUser, username, field.String(), value)
}

// RemoveUser deletes an account. Requires an admin session.
func (c *Client) RemoveUser(username string) error {
	return c.expect(protocol.RespUserDeleted, protocol.VerbRemoveUser, username)
}

// ListUsers returns every account. Requires an admin session.
func (c *Client) ListUsers() ([]model.User, error) {
	resp, err := c.call(protocol.VerbListUsers)
	if err != nil {
		return nil, err
	}
	if isErrorReply(resp) {
		return nil, &ResponseError{Text: resp}
	}
	users, err := protocol.DecodeUsers(resp)
	if err != nil {
		return nil, &ResponseError{Text: resp}
	}
	return users, nil
}

// Exit ends the session; the server closes the connection after replying.
func (c *Client) Exit() error {
	err := c.expect(protocol.RespGoodbye, protocol.VerbExit)
	_ = c.Close()
	return err
}

// Close closes the connection without saying goodbye.
func (c *Client) Close() error {
	return c.conn.Close()
}

// isErrorReply recognises fixed replies that can never be a batch.
func isErrorReply(resp string) bool {
	switch resp {
	case protocol.RespLoginFirst,
		protocol.RespAccessDenied,
		protocol.RespUserNotFound,
		protocol.RespUnknownCommand,
		protocol.RespInboxError,
		protocol.RespOutboxError,
		protocol.RespListUsersError:
		return true
	}
	return strings.HasPrefix(resp, "Invalid arguments.")
}
