// Package protocol defines the line-oriented command format and the batch
// record encoding used between gomsg clients and the server.
//
// A command is one line: the verb followed by positional arguments, all
// joined by Delimiter. Responses are single lines as well. Lists of users or
// messages are flattened into one line by joining every field of every
// record with Delimiter.
//
// Field values are not escaped. A value that itself contains Delimiter
// shifts every following field and breaks batch framing.
package protocol

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// Delimiter separates the verb, arguments and batch fields.
	Delimiter = ":::"

	// MaxLineLength is the default upper bound for one protocol line (64KB).
	MaxLineLength = 65536
)

// Command verbs.
const (
	VerbLogin      = "LOGIN"
	VerbLogout     = "LOGOUT"
	VerbExit       = "EXIT"
	VerbInbox      = "INBOX"
	VerbOutbox     = "OUTBOX"
	VerbSendMsg    = "SENDMSG"
	VerbAddUser    = "ADDUSER"
	VerbUpdateUser = "UPDATEUSER"
	VerbRemoveUser = "REMOVEUSER"
	VerbListUsers  = "LISTUSERS"
)

var ErrLineTooLong = errors.New("protocol: line too long")

// Command is one decoded client request.
type Command struct {
	Verb string
	Args []string
}

// Decode splits a line into a Command. It never fails: a line without the
// delimiter is a verb with no arguments, and missing arguments are left for
// the caller to reject.
func Decode(line string) Command {
	parts := strings.Split(line, Delimiter)
	return Command{Verb: parts[0], Args: parts[1:]}
}

// Arg returns the i-th argument, or "" when absent.
func (c Command) Arg(i int) string {
	if i < 0 || i >= len(c.Args) {
		return ""
	}
	return c.Args[i]
}

// Encode renders the command as a single protocol line (without newline).
func (c Command) Encode() string {
	return Encode(c.Verb, c.Args...)
}

// Encode joins a verb and its arguments into a protocol line.
func Encode(verb string, args ...string) string {
	if len(args) == 0 {
		return verb
	}
	return verb + Delimiter + strings.Join(args, Delimiter)
}

// LineReader reads newline-terminated protocol lines with a bounded length.
type LineReader struct {
	sc *bufio.Scanner
}

// NewLineReader wraps r. maxLen <= 0 selects MaxLineLength.
func NewLineReader(r io.Reader, maxLen int) *LineReader {
	if maxLen <= 0 {
		maxLen = MaxLineLength
	}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxLen)
	return &LineReader{sc: sc}
}

// ReadLine returns the next line without its terminator. It returns io.EOF
// once the peer has closed the stream.
func (lr *LineReader) ReadLine() (string, error) {
	if lr.sc.Scan() {
		return strings.TrimSuffix(lr.sc.Text(), "\r"), nil
	}
	if err := lr.sc.Err(); err != nil {
		if errors.Is(err, bufio.ErrTooLong) {
			return "", ErrLineTooLong
		}
		return "", fmt.Errorf("protocol: read line: %w", err)
	}
	return "", io.EOF
}

// WriteLine writes one protocol line followed by a newline. Embedded line
// breaks are flattened to spaces so a response can never span two lines.
func WriteLine(w io.Writer, line string) error {
	line = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(line)
	if _, err := io.WriteString(w, line+"\n"); err != nil {
		return fmt.Errorf("protocol: write line: %w", err)
	}
	return nil
}
