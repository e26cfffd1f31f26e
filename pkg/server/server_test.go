package server

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/NicolasHaas/gomsg/pkg/client"
	"github.com/NicolasHaas/gomsg/pkg/model"
	"github.com/NicolasHaas/gomsg/pkg/protocol"
	"github.com/NicolasHaas/gomsg/pkg/store"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ControlAddr = "127.0.0.1:0"
	cfg.HTTPAddr = "127.0.0.1:0"
	cfg.MetricsInterval = 0
	return cfg
}

func startTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()
	srv := New(cfg, Dependencies{Repo: store.NewMemory()})
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		srv.Shutdown()
		require.NoError(t, srv.Wait())
	})
	return srv
}

func dialClient(t *testing.T, srv *Server) *client.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	c, err := client.Dial(ctx, srv.ControlAddr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// rawConn is a bare TCP line client for tests that need to observe framing.
type rawConn struct {
	conn net.Conn
	r    *bufio.Reader
}

func dialRaw(t *testing.T, srv *Server) *rawConn {
	t.Helper()
	conn, err := net.DialTimeout("tcp", srv.ControlAddr().String(), 5*time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return &rawConn{conn: conn, r: bufio.NewReader(conn)}
}

func (c *rawConn) send(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(c.conn, line+"\n")
	require.NoError(t, err)
}

func (c *rawConn) read(timeout time.Duration) (string, error) {
	_ = c.conn.SetReadDeadline(time.Now().Add(timeout))
	line, err := c.r.ReadString('\n')
	return strings.TrimSuffix(line, "\n"), err
}

func TestNewServerDefaults(t *testing.T) {
	srv := New(DefaultConfig(), Dependencies{Repo: store.NewMemory()})
	require.NotNil(t, srv.Registry())
	require.NotNil(t, srv.Dispatcher())
	require.NotNil(t, srv.Metrics())
	require.Nil(t, srv.ControlAddr())
	require.Nil(t, srv.HTTPAddr())
	require.Same(t, srv.Registry(), srv.Dispatcher().Registry())
}

func TestStartWithoutRepository(t *testing.T) {
	srv := New(testConfig(), Dependencies{})
	require.Error(t, srv.Start())
	require.Error(t, srv.Run())
}

func TestStartSeedsAdminOnce(t *testing.T) {
	repo := store.NewMemory()
	cfg := testConfig()
	cfg.HTTPAddr = ""

	for i := 0; i < 2; i++ {
		srv := New(cfg, Dependencies{Repo: repo})
		require.NoError(t, srv.Start())
		srv.Shutdown()
		require.NoError(t, srv.Wait())
	}

	users, err := repo.ListUsers(context.Background())
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "alp", users[0].Username)
	require.True(t, users[0].IsAdmin)
	require.Equal(t, "2003-01-01", model.FormatBirthdate(users[0].Birthdate))
}

func TestStartLoadsUsersFile(t *testing.T) {
	path := t.TempDir() + "/users.yaml"
	writeFile(t, path, usersYAML)

	repo := store.NewMemory()
	cfg := testConfig()
	cfg.HTTPAddr = ""
	cfg.UsersFile = path
	srv := New(cfg, Dependencies{Repo: repo})
	require.NoError(t, srv.Start())
	srv.Shutdown()
	require.NoError(t, srv.Wait())

	u, err := repo.GetUserByUsername(context.Background(), "bob")
	require.NoError(t, err)
	require.NotNil(t, u)
}

func TestControlSession(t *testing.T) {
	srv := startTestServer(t, testConfig())
	admin := dialClient(t, srv)

	isAdmin, err := admin.Login("alp", "alp")
	require.NoError(t, err)
	require.True(t, isAdmin)

	require.NoError(t, admin.AddUser(model.User{
		Username:  "bob",
		Password:  "pw",
		Name:      "Bob",
		Surname:   "Builder",
		Birthdate: time.Date(1990, 5, 17, 0, 0, 0, 0, time.UTC),
		Gender:    "male",
		Email:     "bob@x.com",
	}))
	require.NoError(t, admin.SendMessage("alp", "bob", "welcome"))

	bob := dialClient(t, srv)
	isAdmin, err = bob.Login("bob", "pw")
	require.NoError(t, err)
	require.False(t, isAdmin)

	inbox, err := bob.Inbox("bob")
	require.NoError(t, err)
	require.Len(t, inbox, 1)
	require.Equal(t, "welcome", inbox[0].Content)

	require.NoError(t, admin.RemoveUser("bob"))
	_, err = bob.Inbox("bob")
	require.ErrorIs(t, err, client.ErrRemoved)

	require.NoError(t, admin.Exit())
	require.Eventually(t, func() bool {
		return srv.Registry().Count() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDisconnectReleasesSession(t *testing.T) {
	srv := startTestServer(t, testConfig())
	c := dialClient(t, srv)
	_, err := c.Login("alp", "alp")
	require.NoError(t, err)
	require.True(t, srv.Registry().Contains("alp"))

	require.NoError(t, c.Close())
	require.Eventually(t, func() bool {
		return !srv.Registry().Contains("alp") && srv.Metrics().ActiveConnections.Load() == 0
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, int64(1), srv.Metrics().TotalDisconnects.Load())
}

func TestLineTooLongClosesConnection(t *testing.T) {
	cfg := testConfig()
	cfg.MaxLineLength = 64
	srv := startTestServer(t, cfg)
	c := dialRaw(t, srv)

	c.send(t, "LOGIN:::alp:::alp")
	line, err := c.read(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "Authenticated:::true", line)

	c.send(t, "SENDMSG:::alp:::alp:::"+strings.Repeat("x", 100))
	line, err = c.read(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, respLineTooLong, line)

	_, err = c.read(2 * time.Second)
	require.ErrorIs(t, err, io.EOF)
}

func TestConnectionsQueueForWorkers(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 1
	srv := startTestServer(t, cfg)

	first := dialRaw(t, srv)
	first.send(t, "LOGIN:::alp:::alp")
	line, err := first.read(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "Authenticated:::true", line)

	// The second connection is accepted but not served while the only
	// worker is busy.
	second := dialRaw(t, srv)
	second.send(t, "LOGIN:::alp:::alp")
	_, err = second.read(200 * time.Millisecond)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected timeout, got %v", err)
	require.Eventually(t, func() bool {
		return srv.Metrics().QueuedConnections.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)

	first.send(t, "EXIT")
	line, err = first.read(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, protocol.RespGoodbye, line)

	line, err = second.read(2 * time.Second)
	require.NoError(t, err)
	require.Equal(t, "Authenticated:::true", line)
	require.Equal(t, int64(0), srv.Metrics().QueuedConnections.Load())
}

func TestShutdownClosesConnections(t *testing.T) {
	cfg := testConfig()
	srv := New(cfg, Dependencies{Repo: store.NewMemory()})
	require.NoError(t, srv.Start())

	c := dialRaw(t, srv)
	c.send(t, "LOGIN:::alp:::alp")
	_, err := c.read(2 * time.Second)
	require.NoError(t, err)

	srv.Shutdown()
	srv.Shutdown()
	require.NoError(t, srv.Wait())

	_, err = c.read(2 * time.Second)
	require.Error(t, err)
	require.Equal(t, 0, srv.conns.count())
	require.Equal(t, 0, srv.Registry().Count())
}

func TestWebSocketTransport(t *testing.T) {
	srv := startTestServer(t, testConfig())

	url := "ws://" + srv.HTTPAddr().String() + "/ws"
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer func() { _ = ws.Close() }()

	roundTrip := func(line string) string {
		t.Helper()
		require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte(line)))
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, data, err := ws.ReadMessage()
		require.NoError(t, err)
		return string(data)
	}

	require.Equal(t, protocol.RespLoginFirst, roundTrip("LISTUSERS"))
	require.Equal(t, "Authenticated:::true", roundTrip("LOGIN:::alp:::alp"))

	// TCP and WebSocket sessions share the registry.
	tcp := dialClient(t, srv)
	_, err = tcp.Login("alp", "alp")
	require.NoError(t, err)
	require.NoError(t, tcp.SendMessage("alp", "alp", "over tcp"))

	messages, err := protocol.DecodeMessages(roundTrip("INBOX:::alp"))
	require.NoError(t, err)
	require.Len(t, messages, 1)
	require.Equal(t, "over tcp", messages[0].Content)

	require.Equal(t, protocol.RespGoodbye, roundTrip("EXIT"))
	_, _, err = ws.ReadMessage()
	require.Error(t, err)
}

func TestHTTPEndpoints(t *testing.T) {
	srv := startTestServer(t, testConfig())
	base := "http://" + srv.HTTPAddr().String()

	resp, err := http.Get(base + "/healthz")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok\n", string(body))

	c := dialClient(t, srv)
	_, err = c.Login("alp", "wrong")
	require.ErrorIs(t, err, client.ErrAuthFailed)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(body), "gomsg_auth_failed_total 1")
	require.Contains(t, string(body), "gomsg_connections_active 1")

	resp, err = http.Post(base+"/metrics", "text/plain", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestHTTPDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.HTTPAddr = ""
	srv := startTestServer(t, cfg)
	require.Nil(t, srv.HTTPAddr())
	require.NotNil(t, srv.ControlAddr())
}
