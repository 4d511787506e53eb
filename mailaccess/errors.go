package mailaccess

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strings"
	"syscall"

	"github.com/emersion/go-imap"
)

// Kind is the closed set of failure categories surfaced to callers. Each kind
// has its own remediation, so they stay distinct all the way to the UI.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindCredential    Kind = "credential"
	KindConnectivity  Kind = "connectivity"
	KindAuth          Kind = "auth"
	KindMutation      Kind = "mutation"
	KindParse         Kind = "parse"
	KindTransient     Kind = "transient"
	KindNotFound      Kind = "not_found"
	KindRejected      Kind = "rejected"
	KindInvalid       Kind = "invalid"
	KindUnknown       Kind = "unknown"
)

// Error is the tagged error returned by every mail access operation.
type Error struct {
	Kind   Kind
	Op     string // operation that failed, e.g. "open", "list", "submit"
	Addr   string // host:port of the remote server, when relevant
	Action string // mutation action, e.g. "move"
	Target string // mutation target mailbox
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(string(e.Kind))
	if e.Action != "" {
		fmt.Fprintf(&b, " (%s", e.Action)
		if e.Target != "" {
			fmt.Fprintf(&b, " -> %s", e.Target)
		}
		b.WriteString(")")
	}
	if e.Addr != "" {
		fmt.Fprintf(&b, " [%s]", e.Addr)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf reports the Kind of err, KindUnknown for untagged errors and "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func mutationError(action, target string, err error) *Error {
	return &Error{Kind: KindMutation, Op: action, Action: action, Target: target, Err: err}
}

// classifyTransport maps a raw transport error to a tagged Error. It is the
// only place that inspects transport failures; callers switch on Kind.
func classifyTransport(op, addr string, err error) *Error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged
	}

	kind := KindUnknown
	var (
		netErr  net.Error
		dnsErr  *net.DNSError
		opErr   *net.OpError
		tpErr   *textproto.Error
		certErr *tls.CertificateVerificationError
		unkAuth x509.UnknownAuthorityError
		hostErr x509.HostnameError
	)
	switch {
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF),
		errors.Is(err, context.Canceled):
		kind = KindTransient
	case errors.Is(err, syscall.ECONNREFUSED), errors.Is(err, syscall.EHOSTUNREACH),
		errors.Is(err, syscall.ENETUNREACH), errors.Is(err, context.DeadlineExceeded):
		kind = KindConnectivity
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindConnectivity
	case errors.As(err, &dnsErr):
		kind = KindConnectivity
	case errors.As(err, &certErr), errors.As(err, &unkAuth), errors.As(err, &hostErr):
		kind = KindConnectivity
	case errors.As(err, &tpErr):
		kind = smtpKind(tpErr.Code)
	case errors.As(err, &opErr) && opErr.Op == "dial":
		kind = KindConnectivity
	case isAuthRejection(err):
		kind = KindAuth
	case isMailboxAbsent(err):
		kind = KindNotFound
	}

	e := &Error{Kind: kind, Op: op, Err: err}
	if kind == KindConnectivity || kind == KindTransient {
		e.Addr = addr
	}
	return e
}

func smtpKind(code int) Kind {
	switch {
	case code == 530, code == 534, code == 535:
		return KindAuth
	case code == 421, code >= 450 && code < 500:
		return KindTransient
	case code >= 550 && code < 560:
		return KindRejected
	default:
		return KindUnknown
	}
}

func statusResp(err error) *imap.StatusResp {
	var st *imap.ErrStatusResp
	if errors.As(err, &st) && st.Resp != nil {
		return st.Resp
	}
	return nil
}

func isAuthRejection(err error) bool {
	resp := statusResp(err)
	return resp != nil && resp.Code == "AUTHENTICATIONFAILED"
}

// isMailboxAbsent reports a SELECT or APPEND against a mailbox the server does
// not have. The go-imap client hands NO responses back as their text only, so
// the response code is checked when present and the wording otherwise
// (Dovecot, Cyrus, Gmail and go-imap based servers).
func isMailboxAbsent(err error) bool {
	if resp := statusResp(err); resp != nil {
		if resp.Code == "NONEXISTENT" || resp.Code == "TRYCREATE" {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonexistent") ||
		strings.Contains(msg, "no such mailbox") ||
		strings.Contains(msg, "unknown mailbox") ||
		strings.Contains(msg, "doesn't exist") ||
		strings.Contains(msg, "does not exist")
}
