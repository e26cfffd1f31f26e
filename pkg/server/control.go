package server

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"

	"github.com/NicolasHaas/gomsg/pkg/logging"
	"github.com/NicolasHaas/gomsg/pkg/model"
	"github.com/NicolasHaas/gomsg/pkg/protocol"
)

// respLineTooLong is sent before closing a connection whose line exceeded
// the configured limit; the reader cannot resynchronise after that.
const respLineTooLong = "Line too long."

// lineConn is one client transport carrying the line protocol.
type lineConn interface {
	ReadLine() (string, error)
	WriteLine(line string) error
	RemoteAddr() string
	Close() error
}

// tcpConn frames a raw TCP stream into newline-terminated lines.
type tcpConn struct {
	conn net.Conn
	r    *protocol.LineReader
	w    *bufio.Writer
}

func newTCPConn(conn net.Conn, maxLineLength int) *tcpConn {
	return &tcpConn{
		conn: conn,
		r:    protocol.NewLineReader(conn, maxLineLength),
		w:    bufio.NewWriter(conn),
	}
}

func (c *tcpConn) ReadLine() (string, error) { return c.r.ReadLine() }

func (c *tcpConn) WriteLine(line string) error {
	if err := protocol.WriteLine(c.w, line); err != nil {
		return err
	}
	return c.w.Flush()
}

func (c *tcpConn) RemoteAddr() string { return c.conn.RemoteAddr().String() }
func (c *tcpConn) Close() error       { return c.conn.Close() }

// connSet tracks live connections so Shutdown can unblock their readers.
type connSet struct {
	mu    sync.Mutex
	conns map[string]lineConn // session ID -> transport
}

func newConnSet() *connSet {
	return &connSet{conns: make(map[string]lineConn)}
}

func (cs *connSet) add(id string, c lineConn) {
	cs.mu.Lock()
	cs.conns[id] = c
	cs.mu.Unlock()
}

func (cs *connSet) remove(id string) {
	cs.mu.Lock()
	delete(cs.conns, id)
	cs.mu.Unlock()
}

func (cs *connSet) closeAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for id, c := range cs.conns {
		_ = c.Close()
		delete(cs.conns, id)
	}
}

func (cs *connSet) count() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.conns)
}

// startControl binds the TCP listener for the line protocol.
func (s *Server) startControl() error {
	ln, err := net.Listen("tcp", s.cfg.ControlAddr)
	if err != nil {
		return fmt.Errorf("server: listen control: %w", err)
	}
	s.mu.Lock()
	s.controlLn = ln
	s.mu.Unlock()

	slog.Info("control plane listening", "addr", ln.Addr().String())
	s.group.Go(func() error {
		return s.acceptLoop(ln)
	})
	return nil
}

func (s *Server) acceptLoop(ln net.Listener) error {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.ctx.Done():
				return nil
			default:
			}
			if isClosedErr(err) {
				return nil
			}
			slog.Error("accept error", "err", err)
			continue
		}
		s.metrics.TotalConnections.Add(1)
		c := newTCPConn(conn, s.cfg.MaxLineLength)
		s.group.Go(func() error {
			s.handleConn(c, "tcp")
			return nil
		})
	}
}

// handleConn waits for a worker slot, then serves the connection.
// Connections beyond MaxConnections queue here, as in a fixed-size pool.
func (s *Server) handleConn(c lineConn, transport string) {
	if s.workers != nil {
		s.metrics.QueuedConnections.Add(1)
		err := s.workers.Acquire(s.ctx, 1)
		s.metrics.QueuedConnections.Add(-1)
		if err != nil {
			_ = c.Close()
			return
		}
		defer s.workers.Release(1)
	}
	s.serveConn(c, transport)
}

// serveConn runs one connection's read-dispatch-write loop. Only transport
// failures end it; every command error is rendered as a response line.
func (s *Server) serveConn(c lineConn, transport string) {
	remote := c.RemoteAddr()
	sess := model.NewSession(remote)
	log := logging.ForConnection(sess.ID, remote).With("transport", transport)

	s.conns.add(sess.ID, c)
	s.metrics.ActiveConnections.Add(1)
	log.Debug("new connection")

	defer func() {
		s.dispatcher.Release(sess)
		s.conns.remove(sess.ID)
		_ = c.Close()
		s.metrics.ActiveConnections.Add(-1)
		s.metrics.TotalDisconnects.Add(1)
		log.Info("client disconnected")
	}()

	// Shutdown cancels before closing the set; a connection registered
	// after that must not block on its first read.
	if s.ctx.Err() != nil {
		return
	}

	for {
		line, err := c.ReadLine()
		if err != nil {
			switch {
			case errors.Is(err, io.EOF), isClosedErr(err):
			case errors.Is(err, protocol.ErrLineTooLong):
				log.Warn("line too long, closing", "limit", s.cfg.MaxLineLength)
				_ = c.WriteLine(respLineTooLong)
			default:
				log.Error("read error", "err", err)
			}
			return
		}

		reply := s.dispatcher.Dispatch(s.ctx, sess, line)
		if err := c.WriteLine(reply.Text); err != nil {
			if !isClosedErr(err) {
				log.Error("write error", "err", err)
			}
			return
		}
		if reply.Close {
			return
		}
	}
}

func isClosedErr(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection reset by peer")
}
