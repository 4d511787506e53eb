package mailaccess

import (
	"context"
	"crypto/tls"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap"

	"mailbridge/config"
	"mailbridge/models"
	"mailbridge/utils"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateClosed State = iota
	StateConnecting
	StateAuthenticated
	StateInUse
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateInUse:
		return "in_use"
	default:
		return "closed"
	}
}

// Decrypter opens stored mailbox credentials. *vault.Vault implements it.
type Decrypter interface {
	Decrypt(encrypted string) (string, error)
}

// Options tunes the sessions a Manager opens.
type Options struct {
	ConnectTimeout  time.Duration
	GreetingTimeout time.Duration
	CommandTimeout  time.Duration
	SubmitTimeout   time.Duration
	TLSSkipVerify   bool
	DefaultPageSize int
	MaxPageSize     int
	SanitizeHTML    bool
}

// OptionsFrom converts the [mail] configuration section.
func OptionsFrom(c config.MailConfig) Options {
	return Options{
		ConnectTimeout:  c.ConnectTimeout.Duration,
		GreetingTimeout: c.GreetingTimeout.Duration,
		CommandTimeout:  c.CommandTimeout.Duration,
		SubmitTimeout:   c.SubmitTimeout.Duration,
		TLSSkipVerify:   c.TLSSkipVerify,
		DefaultPageSize: c.DefaultPageSize,
		MaxPageSize:     c.MaxPageSize,
		SanitizeHTML:    c.SanitizeHTML,
	}
}

// Manager opens one authenticated session per operation and always closes it.
// It holds no per-account state, so concurrent callers never share a session.
type Manager struct {
	vault     Decrypter
	dialer    IMAPDialer
	submitter Submitter
	opts      Options
	log       *utils.Logger
	now       func() time.Time
}

// NewManager creates a Manager. A nil log uses utils.Log.
func NewManager(vault Decrypter, dialer IMAPDialer, submitter Submitter, opts Options, log *utils.Logger) *Manager {
	if log == nil {
		log = utils.Log
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = 50
	}
	if opts.MaxPageSize < opts.DefaultPageSize {
		opts.MaxPageSize = opts.DefaultPageSize
	}
	return &Manager{
		vault:     vault,
		dialer:    dialer,
		submitter: submitter,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// credential decrypts the mailbox password for cfg. It never logs the result.
func (m *Manager) credential(op string, cfg models.MailAccountConfig) (string, error) {
	if m.vault == nil {
		return "", newError(KindConfiguration, op, errors.New("vault is not configured"))
	}
	password, err := m.vault.Decrypt(cfg.EncryptedCredential)
	if err != nil {
		return "", newError(KindCredential, op, err)
	}
	if password == "" {
		return "", newError(KindCredential, op, errors.New("decrypted credential is empty"))
	}
	return password, nil
}

func (m *Manager) tlsConfig(host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: m.opts.TLSSkipVerify,
		MinVersion:         tls.VersionTLS12,
	}
}

// Session is one authenticated IMAP connection, used for a single logical
// operation and then closed.
type Session struct {
	ctx      context.Context
	conn     IMAPConn
	addr     string
	log      *utils.Logger
	sanitize bool
	now      func() time.Time

	state     atomic.Int32
	closeOnce sync.Once
	stop      func() bool
}

// Open decrypts the credential, connects and authenticates. Decrypt failures
// are KindCredential, unreachable servers KindConnectivity with the address,
// and rejected logins KindAuth.
func (m *Manager) Open(ctx context.Context, cfg models.MailAccountConfig) (*Session, error) {
	password, err := m.credential("open", cfg)
	if err != nil {
		return nil, err
	}

	opts := DialOptions{
		Host:            cfg.IncomingHost,
		Port:            cfg.IncomingPort,
		ConnectTimeout:  m.opts.ConnectTimeout,
		GreetingTimeout: m.opts.GreetingTimeout,
		CommandTimeout:  m.opts.CommandTimeout,
		TLSConfig:       m.tlsConfig(cfg.IncomingHost),
	}
	addr := opts.Addr()
	log := m.log.WithFields(map[string]interface{}{
		"account": utils.MaskAddress(cfg.Address),
		"server":  addr,
	})

	s := &Session{
		ctx:      ctx,
		addr:     addr,
		log:      log,
		sanitize: m.opts.SanitizeHTML,
		now:      m.now,
	}
	s.setState(StateConnecting)

	conn, err := m.dialer.DialIMAP(ctx, opts)
	if err != nil {
		s.setState(StateClosed)
		e := classifyTransport("connect", addr, err)
		if e.Kind != KindTransient {
			e.Kind = KindConnectivity
			e.Addr = addr
		}
		log.WithError(err).Warn("IMAP connect failed")
		return nil, e
	}

	if err := conn.Login(cfg.Address, password); err != nil {
		conn.Terminate()
		s.setState(StateClosed)
		e := classifyTransport("login", addr, err)
		if e.Kind != KindTransient && e.Kind != KindConnectivity {
			e.Kind = KindAuth
		}
		log.WithError(err).Warn("IMAP login failed")
		return nil, e
	}

	s.conn = conn
	s.stop = context.AfterFunc(ctx, func() {
		// cancellation tears the socket down; Close still runs exactly once
		conn.Terminate()
	})
	s.setState(StateAuthenticated)
	log.Debug("IMAP session opened")
	return s, nil
}

// WithSession opens a session, runs fn and closes the session on every exit
// path, including a panic inside fn.
func (m *Manager) WithSession(ctx context.Context, cfg models.MailAccountConfig, fn func(*Session) error) error {
	s, err := m.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	s.setState(StateInUse)
	return fn(s)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Close logs out. It is safe to call more than once; only the first call has
// any effect and its failure is logged, never returned.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		bestEffort(s.log, "logout", func() error {
			if err := s.conn.Logout(); err != nil {
				s.conn.Terminate()
				return err
			}
			return nil
		})
		s.setState(StateClosed)
	})
}

// fail classifies an error raised while the session is in use. A cancelled
// context wins over whatever the torn-down connection reported.
func (s *Session) fail(op string, err error) error {
	if ctxErr := s.ctx.Err(); ctxErr != nil {
		return classifyTransport(op, s.addr, ctxErr)
	}
	return classifyTransport(op, s.addr, err)
}

// open selects a mailbox; it is the scope of every per-message operation.
func (s *Session) open(path string, readOnly bool) (*imap.MailboxStatus, error) {
	return s.conn.Select(path, readOnly)
}

// bestEffort runs a side effect whose failure must not fail the surrounding
// operation. Failures are logged at WARN with the action name.
func bestEffort(log *utils.Logger, action string, fn func() error) {
	if err := fn(); err != nil {
		log.WithField("action", action).WithError(err).Warn("best-effort %s failed", action)
	}
}
