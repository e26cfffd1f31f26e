package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/NicolasHaas/gomsg/pkg/datastore"
	"github.com/NicolasHaas/gomsg/pkg/model"
	"github.com/NicolasHaas/gomsg/pkg/protocol"
	"github.com/NicolasHaas/gomsg/pkg/rbac"
)

// Reply is the dispatcher's answer to one command line.
type Reply struct {
	Text  string
	Close bool // the connection ends after Text is written
}

type handlerFunc func(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply

// usage is shown when a command arrives with the wrong number of arguments.
var usage = map[string]string{
	protocol.VerbLogin:      "LOGIN:::username:::password",
	protocol.VerbLogout:     "LOGOUT",
	protocol.VerbExit:       "EXIT",
	protocol.VerbInbox:      "INBOX:::username",
	protocol.VerbOutbox:     "OUTBOX:::username",
	protocol.VerbSendMsg:    "SENDMSG:::sender:::receiver:::content",
	protocol.VerbAddUser:    "ADDUSER:::username:::password:::name:::surname:::birthdate:::gender:::email:::isAdmin",
	protocol.VerbUpdateUser: "UPDATEUSER:::username:::field:::newValue",
	protocol.VerbRemoveUser: "REMOVEUSER:::username",
	protocol.VerbListUsers:  "LISTUSERS",
}

// Dispatcher executes commands against the repository and the registry.
//
// Every command runs under one process-wide mutex, from the authorization
// check to the rendered response, so commands from all connections are
// linearizable. Handlers never call back into Dispatch.
type Dispatcher struct {
	mu       sync.Mutex
	repo     datastore.Repository
	registry *Registry
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
	handlers map[string]handlerFunc
}

// NewDispatcher wires a dispatcher. A nil metrics or logger gets a default.
func NewDispatcher(repo datastore.Repository, registry *Registry, metrics *Metrics, logger *slog.Logger) *Dispatcher {
	if metrics == nil {
		metrics = NewMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		repo:     repo,
		registry: registry,
		metrics:  metrics,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
	d.handlers = map[string]handlerFunc{
		protocol.VerbLogin:      d.handleLogin,
		protocol.VerbLogout:     d.handleLogout,
		protocol.VerbExit:       d.handleExit,
		protocol.VerbInbox:      d.handleInbox,
		protocol.VerbOutbox:     d.handleOutbox,
		protocol.VerbSendMsg:    d.handleSendMessage,
		protocol.VerbAddUser:    d.handleAddUser,
		protocol.VerbUpdateUser: d.handleUpdateUser,
		protocol.VerbRemoveUser: d.handleRemoveUser,
		protocol.VerbListUsers:  d.handleListUsers,
	}
	return d
}

// Registry returns the registry the dispatcher maintains.
func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

// lock acquires the global lock and returns its release func, recording
// wait and hold times.
func (d *Dispatcher) lock() func() {
	start := time.Now()
	d.mu.Lock()
	acquired := time.Now()
	d.metrics.LockWaitNanos.Add(int64(acquired.Sub(start)))
	return func() {
		d.metrics.LockHoldNanos.Add(int64(time.Since(acquired)))
		d.mu.Unlock()
	}
}

// Dispatch decodes one line and executes it for sess. Session side effects
// (login, logout, eviction) are applied to sess in place.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *model.Session, line string) Reply {
	unlock := d.lock()
	defer unlock()

	d.metrics.CommandsTotal.Add(1)
	cmd := protocol.Decode(line)

	rule, ok := rbac.Lookup(cmd.Verb)
	if !ok {
		d.metrics.UnknownCommands.Add(1)
		d.log.Debug("unknown command", "conn", sess.ID, "verb", cmd.Verb)
		return Reply{Text: protocol.RespUnknownCommand}
	}

	if rule.RequiresSession() {
		if !sess.Authenticated() {
			d.metrics.CommandsDenied.Add(1)
			return Reply{Text: protocol.RespLoginFirst}
		}
		if !d.registry.Holds(sess.Username, sess.ID) {
			d.log.Info("session evicted", "conn", sess.ID, "user", sess.Username, "verb", cmd.Verb)
			d.metrics.Evictions.Add(1)
			sess.Logout()
			return Reply{Text: protocol.RespRemoved}
		}
		if reason := rbac.RequirePermission(sess.Role(), rule.Perm); reason != "" {
			d.log.Info("command denied", "conn", sess.ID, "user", sess.Username, "verb", cmd.Verb, "reason", reason)
			d.metrics.CommandsDenied.Add(1)
			return Reply{Text: protocol.RespAccessDenied}
		}
	}

	if len(cmd.Args) != rule.Arity {
		d.metrics.CommandsDenied.Add(1)
		return Reply{Text: protocol.InvalidArguments(usage[cmd.Verb])}
	}

	return d.handlers[cmd.Verb](ctx, sess, cmd)
}

// Release drops the session's registry claim when its connection ends.
func (d *Dispatcher) Release(sess *model.Session) {
	unlock := d.lock()
	defer unlock()
	if sess.Authenticated() {
		d.registry.Remove(sess.Username, sess.ID)
		sess.Logout()
	}
}

// storageFailure logs a repository error and returns the generic reply.
func (d *Dispatcher) storageFailure(sess *model.Session, verb string, err error, text string) Reply {
	d.metrics.CommandsFailed.Add(1)
	d.log.Error("repository call failed", "conn", sess.ID, "user", sess.Username, "verb", verb, "err", err)
	return Reply{Text: text}
}

func (d *Dispatcher) handleLogin(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply {
	if sess.Authenticated() {
		return Reply{Text: protocol.RespAlreadyLoggedIn}
	}
	username, password := cmd.Arg(0), cmd.Arg(1)

	ok, isAdmin, err := d.repo.Authenticate(ctx, username, password)
	if err != nil {
		return d.storageFailure(sess, cmd.Verb, err, protocol.RespAuthError)
	}
	if !ok {
		d.metrics.FailedAuths.Add(1)
		d.log.Info("authentication failed", "conn", sess.ID, "user", username)
		return Reply{Text: protocol.RespAuthFailed}
	}

	sess.Login(username, isAdmin)
	d.registry.Add(username, sess.ID)
	d.metrics.SuccessfulAuths.Add(1)
	d.log.Info("client authenticated", "conn", sess.ID, "user", username, "role", sess.Role())
	return Reply{Text: protocol.Authenticated(isAdmin)}
}

func (d *Dispatcher) logout(sess *model.Session) {
	if !sess.Authenticated() {
		return
	}
	d.registry.Remove(sess.Username, sess.ID)
	d.log.Info("client logged out", "conn", sess.ID, "user", sess.Username)
	sess.Logout()
}

func (d *Dispatcher) handleLogout(_ context.Context, sess *model.Session, _ protocol.Command) Reply {
	d.logout(sess)
	return Reply{Text: protocol.RespLoggedOut}
}

func (d *Dispatcher) handleExit(_ context.Context, sess *model.Session, _ protocol.Command) Reply {
	d.logout(sess)
	return Reply{Text: protocol.RespGoodbye, Close: true}
}

func (d *Dispatcher) handleInbox(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply {
	return d.mailbox(ctx, sess, cmd, d.repo.ListInbox, protocol.RespInboxError)
}

func (d *Dispatcher) handleOutbox(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply {
	return d.mailbox(ctx, sess, cmd, d.repo.ListOutbox, protocol.RespOutboxError)
}

// mailbox serves INBOX and OUTBOX. Users may read only their own mailbox;
// admins may read anyone's, and get "not found" for unknown usernames so an
// empty mailbox stays distinguishable from a missing user.
func (d *Dispatcher) mailbox(ctx context.Context, sess *model.Session, cmd protocol.Command,
	list func(context.Context, string) ([]model.Message, error), failure string) Reply {
	target := cmd.Arg(0)
	if target != sess.Username {
		if !rbac.HasPermission(sess.Role(), model.PermReadAnyMail) {
			d.metrics.CommandsDenied.Add(1)
			return Reply{Text: protocol.RespAccessDenied}
		}
		user, err := d.repo.GetUserByUsername(ctx, target)
		if err != nil {
			return d.storageFailure(sess, cmd.Verb, err, failure)
		}
		if user == nil {
			return Reply{Text: protocol.RespUserNotFound}
		}
	}

	messages, err := list(ctx, target)
	if err != nil {
		return d.storageFailure(sess, cmd.Verb, err, failure)
	}
	return Reply{Text: protocol.EncodeMessages(messages)}
}

func (d *Dispatcher) handleSendMessage(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply {
	sender, receiver, content := cmd.Arg(0), cmd.Arg(1), cmd.Arg(2)
	if sender != sess.Username {
		d.metrics.CommandsDenied.Add(1)
		d.log.Info("sender mismatch", "conn", sess.ID, "user", sess.Username, "sender", sender)
		return Reply{Text: protocol.RespAccessDenied}
	}

	msg := &model.Message{
		Sender:   sender,
		Receiver: receiver,
		Content:  content,
		SentAt:   d.now(),
	}
	err := d.repo.CreateMessage(ctx, msg)
	switch {
	case err == nil:
		d.metrics.MessagesSent.Add(1)
		d.log.Debug("message stored", "conn", sess.ID, "from", sender, "to", receiver, "id", msg.ID)
		return Reply{Text: protocol.RespMessageSent}
	case errors.Is(err, datastore.ErrReceiverNotFound):
		return Reply{Text: protocol.RespNoReceiver}
	case errors.Is(err, model.ErrMessageContentEmpty), errors.Is(err, model.ErrMessageContentTooLong):
		return Reply{Text: protocol.RespInvalidMessage}
	default:
		return d.storageFailure(sess, cmd.Verb, err, protocol.RespSendError)
	}
}

func (d *Dispatcher) handleAddUser(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply {
	birthdate, err := model.ParseBirthdate(cmd.Arg(4))
	if err != nil {
		return Reply{Text: protocol.RespInvalidDate}
	}
	isAdmin, err := model.ParseAdminFlag(cmd.Arg(7))
	if err != nil {
		return Reply{Text: protocol.RespInvalidAdminFlag}
	}
	user := &model.User{
		Username:  cmd.Arg(0),
		Password:  cmd.Arg(1),
		Name:      cmd.Arg(2),
		Surname:   cmd.Arg(3),
		Birthdate: birthdate,
		Gender:    cmd.Arg(5),
		Email:     cmd.Arg(6),
		IsAdmin:   isAdmin,
	}
	if err := user.Validate(); err != nil {
		return Reply{Text: protocol.InvalidUserData(err.Error())}
	}

	err = d.repo.CreateUser(ctx, user)
	switch {
	case err == nil:
		d.metrics.UsersCreated.Add(1)
		d.log.Info("user created", "conn", sess.ID, "by", sess.Username, "user", user.Username, "admin", user.IsAdmin)
		return Reply{Text: protocol.RespUserCreated}
	case errors.Is(err, datastore.ErrUserExists):
		return Reply{Text: protocol.RespUserExists}
	default:
		return d.storageFailure(sess, cmd.Verb, err, protocol.RespCreateUserError)
	}
}

func (d *Dispatcher) handleUpdateUser(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply {
	username := cmd.Arg(0)
	field, err := model.ParseUserField(cmd.Arg(1))
	if err != nil {
		return Reply{Text: protocol.RespInvalidField}
	}
	value, err := field.NormalizeValue(cmd.Arg(2))
	switch {
	case errors.Is(err, model.ErrInvalidBirthdate):
		return Reply{Text: protocol.RespInvalidDate}
	case errors.Is(err, model.ErrInvalidAdminFlag):
		return Reply{Text: protocol.RespInvalidAdminFlag}
	case err != nil:
		return Reply{Text: protocol.InvalidUserData(err.Error())}
	}

	err = d.repo.UpdateUser(ctx, username, field, value)
	switch {
	case err == nil:
		d.metrics.UsersUpdated.Add(1)
		d.log.Info("user updated", "conn", sess.ID, "by", sess.Username, "user", username, "field", field)
		return Reply{Text: protocol.RespUserUpdated}
	case errors.Is(err, datastore.ErrUserNotFound):
		return Reply{Text: protocol.RespUserNotFound}
	case errors.Is(err, datastore.ErrUpdateFailed):
		return Reply{Text: protocol.RespUpdateFailed}
	default:
		return d.storageFailure(sess, cmd.Verb, err, protocol.RespUpdateUserError)
	}
}

// handleRemoveUser deletes the account and evicts every session logged in
// as it, including the caller's own. Evicted sessions learn about it on
// their next authorization-requiring command.
func (d *Dispatcher) handleRemoveUser(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply {
	username := cmd.Arg(0)

	err := d.repo.DeleteUser(ctx, username)
	switch {
	case err == nil:
	case errors.Is(err, datastore.ErrUserNotFound):
		return Reply{Text: protocol.RespUserNotFound}
	default:
		return d.storageFailure(sess, cmd.Verb, err, protocol.RespDeleteUserError)
	}

	evicted := d.registry.Evict(username)
	d.metrics.UsersDeleted.Add(1)
	d.log.Info("user deleted", "conn", sess.ID, "by", sess.Username, "user", username, "evicted_sessions", evicted)
	return Reply{Text: protocol.RespUserDeleted}
}

func (d *Dispatcher) handleListUsers(ctx context.Context, sess *model.Session, cmd protocol.Command) Reply {
	users, err := d.repo.ListUsers(ctx)
	if err != nil {
		return d.storageFailure(sess, cmd.Verb, err, protocol.RespListUsersError)
	}
	return Reply{Text: protocol.EncodeUsers(users)}
}
