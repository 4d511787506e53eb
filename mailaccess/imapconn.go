package mailaccess

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap"
	uidplus "github.com/emersion/go-imap-uidplus"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-sasl"
)

// IMAPConn is the subset of an IMAP client the mail access layer drives.
// Fetch and List return everything received, together with the command error,
// so callers can keep partial results.
type IMAPConn interface {
	Login(username, password string) error
	Support(capability string) (bool, error)
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error)
	UidFetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error)
	UidSearch(criteria *imap.SearchCriteria) ([]uint32, error)
	UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error
	UidMove(seqset *imap.SeqSet, dest string) error
	UidCopy(seqset *imap.SeqSet, dest string) error
	// UidExpunge needs UIDPLUS; Expunge removes every \Deleted message.
	UidExpunge(seqset *imap.SeqSet) error
	Expunge() error
	Append(mailbox string, flags []string, date time.Time, msg imap.Literal) error
	List(ref, name string) ([]*imap.MailboxInfo, error)
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	Logout() error
	Terminate() error
}

// DialOptions bounds the connection phase of an IMAP session.
type DialOptions struct {
	Host            string
	Port            int
	ConnectTimeout  time.Duration
	GreetingTimeout time.Duration
	CommandTimeout  time.Duration
	TLSConfig       *tls.Config
}

// Addr returns host:port
func (o DialOptions) Addr() string {
	return net.JoinHostPort(o.Host, strconv.Itoa(o.Port))
}

// IMAPDialer opens unauthenticated IMAP connections.
type IMAPDialer interface {
	DialIMAP(ctx context.Context, opts DialOptions) (IMAPConn, error)
}

type netIMAPDialer struct{}

// NewIMAPDialer returns a dialer backed by go-imap. Port 993 uses implicit
// TLS; any other port upgrades with STARTTLS when the server offers it.
func NewIMAPDialer() IMAPDialer {
	return netIMAPDialer{}
}

func (netIMAPDialer) DialIMAP(ctx context.Context, opts DialOptions) (IMAPConn, error) {
	dialer := &net.Dialer{Timeout: opts.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", opts.Addr())
	if err != nil {
		return nil, err
	}

	implicitTLS := opts.Port == 993
	if opts.GreetingTimeout > 0 {
		conn.SetDeadline(time.Now().Add(opts.GreetingTimeout))
	}
	if implicitTLS {
		tlsConn := tls.Client(conn, opts.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, err
		}
		conn = tlsConn
	}

	// New blocks until the server greeting arrives
	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	c.Timeout = opts.CommandTimeout

	if !implicitTLS {
		if ok, err := c.SupportStartTLS(); err == nil && ok {
			if err := c.StartTLS(opts.TLSConfig); err != nil {
				c.Terminate()
				return nil, err
			}
		}
	}

	return &imapClient{c: c}, nil
}

// imapClient adapts *client.Client to IMAPConn.
type imapClient struct {
	c *client.Client
}

// Login uses AUTHENTICATE PLAIN when the server advertises it, LOGIN otherwise.
func (ic *imapClient) Login(username, password string) error {
	if ok, err := ic.c.SupportAuth(sasl.Plain); err == nil && ok {
		return ic.c.Authenticate(sasl.NewPlainClient("", username, password))
	}
	return ic.c.Login(username, password)
}

func (ic *imapClient) Support(capability string) (bool, error) {
	return ic.c.Support(capability)
}

func (ic *imapClient) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	return ic.c.Select(name, readOnly)
}

func (ic *imapClient) Fetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	return collect(func(ch chan *imap.Message) error {
		return ic.c.Fetch(seqset, items, ch)
	})
}

func (ic *imapClient) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	return collect(func(ch chan *imap.Message) error {
		return ic.c.UidFetch(seqset, items, ch)
	})
}

func collect(fetch func(chan *imap.Message) error) ([]*imap.Message, error) {
	messages := make(chan *imap.Message, 16)
	done := make(chan error, 1)
	go func() {
		done <- fetch(messages)
	}()

	var out []*imap.Message
	for msg := range messages {
		out = append(out, msg)
	}
	return out, <-done
}

func (ic *imapClient) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	return ic.c.UidSearch(criteria)
}

func (ic *imapClient) UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error {
	return ic.c.UidStore(seqset, item, flags, nil)
}

func (ic *imapClient) UidMove(seqset *imap.SeqSet, dest string) error {
	return ic.c.UidMove(seqset, dest)
}

func (ic *imapClient) UidCopy(seqset *imap.SeqSet, dest string) error {
	return ic.c.UidCopy(seqset, dest)
}

func (ic *imapClient) UidExpunge(seqset *imap.SeqSet) error {
	return uidplus.NewClient(ic.c).UidExpunge(seqset, nil)
}

func (ic *imapClient) Expunge() error {
	return ic.c.Expunge(nil)
}

func (ic *imapClient) Append(mailbox string, flags []string, date time.Time, msg imap.Literal) error {
	return ic.c.Append(mailbox, flags, date, msg)
}

func (ic *imapClient) List(ref, name string) ([]*imap.MailboxInfo, error) {
	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)
	go func() {
		done <- ic.c.List(ref, name, mailboxes)
	}()

	var out []*imap.MailboxInfo
	for mb := range mailboxes {
		out = append(out, mb)
	}
	return out, <-done
}

func (ic *imapClient) Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
	return ic.c.Status(name, items)
}

func (ic *imapClient) Logout() error {
	return ic.c.Logout()
}

func (ic *imapClient) Terminate() error {
	return ic.c.Terminate()
}
