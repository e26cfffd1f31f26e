package server

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/NicolasHaas/gomsg/pkg/protocol"
)

const wsWriteWait = 10 * time.Second

// wsConn carries the line protocol over WebSocket: each text frame is one
// line in either direction.
type wsConn struct {
	conn   *websocket.Conn
	remote string
}

func (c *wsConn) ReadLine() (string, error) {
	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return "", io.EOF
			}
			if errors.Is(err, websocket.ErrReadLimit) {
				return "", protocol.ErrLineTooLong
			}
			return "", err
		}
		if kind != websocket.TextMessage {
			continue
		}
		return strings.TrimRight(string(data), "\r\n"), nil
	}
}

func (c *wsConn) WriteLine(line string) error {
	line = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ").Replace(line)
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return c.conn.WriteMessage(websocket.TextMessage, []byte(line))
}

func (c *wsConn) RemoteAddr() string { return c.remote }

func (c *wsConn) Close() error {
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return c.conn.Close()
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Non-browser clients are the norm; the protocol carries its own login.
	CheckOrigin: func(*http.Request) bool { return true },
}

// handleWebSocket upgrades the request and serves it like a TCP connection.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	limit := s.cfg.MaxLineLength
	if limit <= 0 {
		limit = protocol.MaxLineLength
	}
	conn.SetReadLimit(int64(limit))

	s.metrics.TotalConnections.Add(1)
	s.handleConn(&wsConn{conn: conn, remote: r.RemoteAddr}, "websocket")
}
