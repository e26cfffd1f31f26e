package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime connections accepted (TCP + WebSocket)
	ActiveConnections atomic.Int64 // current active connections
	QueuedConnections atomic.Int64 // connections waiting for a worker slot
	TotalDisconnects  atomic.Int64 // total client disconnects (clean + unclean)

	// Auth counters
	FailedAuths     atomic.Int64 // failed LOGIN attempts
	SuccessfulAuths atomic.Int64 // successful LOGIN attempts
	Evictions       atomic.Int64 // sessions told "You have been removed."

	// Command counters
	CommandsTotal   atomic.Int64 // commands dispatched
	CommandsDenied  atomic.Int64 // rejected by authorization or arity checks
	CommandsFailed  atomic.Int64 // repository errors rendered as generic failure text
	UnknownCommands atomic.Int64 // verbs outside the protocol

	// Domain counters
	MessagesSent atomic.Int64 // SENDMSG successes
	UsersCreated atomic.Int64 // ADDUSER successes
	UsersUpdated atomic.Int64 // UPDATEUSER successes
	UsersDeleted atomic.Int64 // REMOVEUSER successes

	// Global lock
	LockWaitNanos atomic.Int64 // cumulative time spent waiting for the dispatch lock
	LockHoldNanos atomic.Int64 // cumulative time the dispatch lock was held
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	QueuedConnections int64 `json:"queued_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	SuccessfulAuths int64 `json:"successful_auths"`
	FailedAuths     int64 `json:"failed_auths"`
	Evictions       int64 `json:"evictions"`

	CommandsTotal   int64 `json:"commands_total"`
	CommandsDenied  int64 `json:"commands_denied"`
	CommandsFailed  int64 `json:"commands_failed"`
	UnknownCommands int64 `json:"unknown_commands"`

	MessagesSent int64 `json:"messages_sent"`
	UsersCreated int64 `json:"users_created"`
	UsersUpdated int64 `json:"users_updated"`
	UsersDeleted int64 `json:"users_deleted"`

	LockWait time.Duration `json:"lock_wait"`
	LockHold time.Duration `json:"lock_hold"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		QueuedConnections: m.QueuedConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		SuccessfulAuths:   m.SuccessfulAuths.Load(),
		FailedAuths:       m.FailedAuths.Load(),
		Evictions:         m.Evictions.Load(),
		CommandsTotal:     m.CommandsTotal.Load(),
		CommandsDenied:    m.CommandsDenied.Load(),
		CommandsFailed:    m.CommandsFailed.Load(),
		UnknownCommands:   m.UnknownCommands.Load(),
		MessagesSent:      m.MessagesSent.Load(),
		UsersCreated:      m.UsersCreated.Load(),
		UsersUpdated:      m.UsersUpdated.Load(),
		UsersDeleted:      m.UsersDeleted.Load(),
		LockWait:          time.Duration(m.LockWaitNanos.Load()),
		LockHold:          time.Duration(m.LockHoldNanos.Load()),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"commands", s.CommandsTotal,
		"messages_sent", s.MessagesSent,
		"evictions", s.Evictions,
		"lock_wait", s.LockWait,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
