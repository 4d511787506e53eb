package mailaccess

import (
	"context"
	"crypto/tls"
	"errors"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"time"
)

// SMTPServer is everything needed to reach one submission server.
type SMTPServer struct {
	Host      string
	Port      int
	Username  string
	Password  string
	Timeout   time.Duration
	TLSConfig *tls.Config
}

// Addr returns host:port
func (s SMTPServer) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// Submitter hands messages to a submission server. Errors returned carry the
// SMTP step that failed in Op ("connect", "auth", "submit").
type Submitter interface {
	Submit(ctx context.Context, srv SMTPServer, from string, rcpt []string, raw []byte) (accepted, rejected []string, err error)
	Verify(ctx context.Context, srv SMTPServer) error
}

type netSubmitter struct{}

// NewSubmitter returns a Submitter backed by net/smtp. Port 465 uses implicit
// TLS; other ports upgrade with STARTTLS when offered.
func NewSubmitter() Submitter {
	return netSubmitter{}
}

func (netSubmitter) dial(ctx context.Context, srv SMTPServer) (*smtp.Client, func(), error) {
	addr := srv.Addr()
	dialer := &net.Dialer{Timeout: srv.Timeout}

	var (
		conn net.Conn
		err  error
	)
	if srv.Port == 465 {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: srv.TLSConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, nil, connectivity("connect", addr, err)
	}
	if srv.Timeout > 0 {
		conn.SetDeadline(time.Now().Add(srv.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })

	c, err := smtp.NewClient(conn, srv.Host)
	if err != nil {
		stop()
		conn.Close()
		return nil, nil, connectivity("connect", addr, err)
	}
	cleanup := func() {
		stop()
		c.Close()
	}

	if err := c.Hello(domainOf(srv.Username)); err != nil {
		cleanup()
		return nil, nil, connectivity("connect", addr, err)
	}
	if srv.Port != 465 {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err := c.StartTLS(srv.TLSConfig); err != nil {
				cleanup()
				return nil, nil, connectivity("connect", addr, err)
			}
		}
	}

	if ok, _ := c.Extension("AUTH"); ok {
		if err := c.Auth(smtp.PlainAuth("", srv.Username, srv.Password, srv.Host)); err != nil {
			cleanup()
			e := classifyTransport("auth", addr, err)
			var tp *textproto.Error
			if errors.As(err, &tp) && tp.Code/100 == 5 {
				e.Kind = KindAuth
			}
			return nil, nil, e
		}
	}

	return c, cleanup, nil
}

// connectivity classifies failures before authentication. Anything other
// than a reset is reported as the server being unreachable.
func connectivity(op, addr string, err error) *Error {
	e := classifyTransport(op, addr, err)
	if e.Kind != KindTransient {
		e.Kind = KindConnectivity
	}
	e.Addr = addr
	return e
}

// Submit delivers raw to every recipient the server accepts. It fails only
// when no recipient is accepted or the transaction itself fails.
func (n netSubmitter) Submit(ctx context.Context, srv SMTPServer, from string, rcpt []string, raw []byte) ([]string, []string, error) {
	c, cleanup, err := n.dial(ctx, srv)
	if err != nil {
		return nil, nil, err
	}
	defer cleanup()

	addr := srv.Addr()
	if err := c.Mail(from); err != nil {
		return nil, nil, classifyTransport("submit", addr, err)
	}

	var accepted, rejected []string
	for _, to := range rcpt {
		if err := c.Rcpt(to); err != nil {
			var tp *textproto.Error
			if errors.As(err, &tp) && tp.Code/100 == 5 && smtpKind(tp.Code) != KindAuth {
				rejected = append(rejected, to)
				continue
			}
			return nil, nil, classifyTransport("submit", addr, err)
		}
		accepted = append(accepted, to)
	}
	if len(accepted) == 0 {
		return nil, rejected, &Error{Kind: KindRejected, Op: "submit", Addr: addr, Err: errors.New("no recipient was accepted")}
	}

	w, err := c.Data()
	if err != nil {
		return nil, nil, classifyTransport("submit", addr, err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return nil, nil, classifyTransport("submit", addr, err)
	}
	if err := w.Close(); err != nil {
		return nil, nil, classifyTransport("submit", addr, err)
	}

	// the message is queued once DATA is accepted; QUIT cannot undo that
	c.Quit()
	return accepted, rejected, nil
}

// Verify connects and authenticates without sending anything.
func (n netSubmitter) Verify(ctx context.Context, srv SMTPServer) error {
	c, cleanup, err := n.dial(ctx, srv)
	if err != nil {
		return err
	}
	defer cleanup()
	c.Quit()
	return nil
}
