package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/NicolasHaas/gomsg/pkg/client"
	"github.com/NicolasHaas/gomsg/pkg/logging"
	"github.com/NicolasHaas/gomsg/pkg/protocol"
	"github.com/NicolasHaas/gomsg/pkg/version"
)

func main() {
	addr := flag.String("addr", "localhost:8000", "Server control address")
	// Default to "warn"; override with GOMSG_LOG_LEVEL env var (debug, info, warn, error).
	level := "warn"
	if v := os.Getenv("GOMSG_LOG_LEVEL"); v != "" {
		level = v
	}
	logLevel := flag.String("log-level", level, "Log level: "+logging.LevelNames())
	flag.Parse()

	_ = logging.Setup(logging.Options{
		Level:  *logLevel,
		Format: "text",
		Output: os.Stderr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	c, err := client.Dial(ctx, *addr)
	cancel()
	if err != nil {
		slog.Error("connect", "addr", *addr, "err", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	fmt.Printf("gomsg %s connected to %s. Type protocol lines, e.g. LOGIN:::alp:::alp. EXIT quits.\n", version.String(), *addr)
	if err := repl(c, os.Stdin, os.Stdout); err != nil {
		slog.Error("session ended", "err", err)
		os.Exit(1)
	}
}

// repl forwards each input line to the server and prints the reply.
// Batch replies are printed one record per line.
func repl(c *client.Client, in io.Reader, out io.Writer) error {
	sc := bufio.NewScanner(in)
	for {
		_, _ = fmt.Fprint(out, "> ")
		if !sc.Scan() {
			return sc.Err()
		}
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		resp, err := c.Do(line)
		if err != nil {
			return err
		}
		printReply(out, protocol.Decode(line).Verb, resp)
		if resp == protocol.RespGoodbye {
			return nil
		}
	}
}

func printReply(out io.Writer, verb, resp string) {
	switch verb {
	case protocol.VerbInbox, protocol.VerbOutbox:
		if messages, err := protocol.DecodeMessages(resp); err == nil {
			if len(messages) == 0 {
				_, _ = fmt.Fprintln(out, "(no messages)")
			}
			for _, m := range messages {
				_, _ = fmt.Fprintf(out, "[%s] %s -> %s: %s\n", protocol.FormatTimestamp(m.SentAt), m.Sender, m.Receiver, m.Content)
			}
			return
		}
	case protocol.VerbListUsers:
		if users, err := protocol.DecodeUsers(resp); err == nil {
			if len(users) == 0 {
				_, _ = fmt.Fprintln(out, "(no users)")
			}
			for _, u := range users {
				role := "user"
				if u.IsAdmin {
					role = "admin"
				}
				_, _ = fmt.Fprintf(out, "%s (%s %s, %s, %s) %s\n", u.Username, u.Name, u.Surname, u.Email, u.Gender, role)
			}
			return
		}
	}
	_, _ = fmt.Fprintln(out, resp)
}
