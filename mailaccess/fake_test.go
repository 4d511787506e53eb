package mailaccess

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"mailbridge/models"
	"mailbridge/utils"
	"mailbridge/vault"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

type fakeMessage struct {
	uid       uint32
	flags     []string
	subject   string
	from      string
	raw       string
	malformed bool
	attached  bool
}

type fakeMailbox struct {
	attrs []string
	msgs  []*fakeMessage
}

// fakeConn is an in-memory IMAP server holding a few mailboxes.
type fakeConn struct {
	mu        sync.Mutex
	mailboxes map[string]*fakeMailbox
	selected  string
	caps      map[string]bool

	loginErr   error
	supportErr error
	fetchErr   error
	fetchLimit int // deliver at most this many messages before fetchErr
	storeErr   error
	moveErr    error
	expungeErr error
	logoutErr  error
	appendErrs map[string]error

	fetchCalls  int
	uidFetches  int
	searchCalls int
	storeCalls  int
	moveCalls   int
	copyCalls   int
	expunges    int
	uidExpunges int
	logouts     int
	terminated  atomic.Int32
	appended    map[string][][]byte
	appendFlags map[string][]string
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		mailboxes: map[string]*fakeMailbox{
			"INBOX": {},
		},
		caps:        map[string]bool{capMove: true, capUIDPlus: true},
		appendErrs:  map[string]error{},
		appended:    map[string][][]byte{},
		appendFlags: map[string][]string{},
	}
}

// fill puts n messages with sparse UIDs (2, 4, 6, ...) into mailbox.
func (c *fakeConn) fill(mailbox string, n int) *fakeMailbox {
	mb := c.mailboxes[mailbox]
	if mb == nil {
		mb = &fakeMailbox{}
		c.mailboxes[mailbox] = mb
	}
	for i := 1; i <= n; i++ {
		mb.msgs = append(mb.msgs, &fakeMessage{
			uid:     uint32(i * 2),
			subject: fmt.Sprintf("message %d", i),
			from:    fmt.Sprintf("sender%d@example.com", i),
		})
	}
	return mb
}

func nonexistent(name string) error {
	return &imap.ErrStatusResp{Resp: &imap.StatusResp{
		Type: imap.StatusRespNo,
		Code: "NONEXISTENT",
		Info: fmt.Sprintf("Mailbox doesn't exist: %s", name),
	}}
}

func (c *fakeConn) Login(username, password string) error {
	return c.loginErr
}

func (c *fakeConn) Support(capability string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.caps[capability], c.supportErr
}

func (c *fakeConn) Select(name string, readOnly bool) (*imap.MailboxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mb, ok := c.mailboxes[name]
	if !ok {
		return nil, nonexistent(name)
	}
	c.selected = name
	return &imap.MailboxStatus{Name: name, ReadOnly: readOnly, Messages: uint32(len(mb.msgs))}, nil
}

func (c *fakeConn) toMessage(seq uint32, m *fakeMessage) *imap.Message {
	msg := &imap.Message{
		SeqNum:       seq,
		Uid:          m.uid,
		Flags:        append([]string(nil), m.flags...),
		Size:         uint32(len(m.raw)),
		InternalDate: time.Date(2024, 1, 1, 0, 0, int(m.uid), 0, time.UTC),
	}
	if !m.malformed {
		at := strings.IndexByte(m.from, '@')
		msg.Envelope = &imap.Envelope{
			Subject:   m.subject,
			MessageId: fmt.Sprintf("<%d@example.com>", m.uid),
			From: []*imap.Address{{
				PersonalName: "Sender",
				MailboxName:  m.from[:at],
				HostName:     m.from[at+1:],
			}},
			To: []*imap.Address{{MailboxName: "me", HostName: "example.com"}},
		}
	}
	msg.BodyStructure = &imap.BodyStructure{MIMEType: "text", MIMESubType: "plain"}
	if m.attached {
		msg.BodyStructure = &imap.BodyStructure{
			MIMEType:    "multipart",
			MIMESubType: "mixed",
			Parts: []*imap.BodyStructure{
				{MIMEType: "text", MIMESubType: "plain"},
				{MIMEType: "application", MIMESubType: "pdf", Disposition: "attachment"},
			},
		}
	}
	if m.raw != "" {
		msg.Body = map[*imap.BodySectionName]imap.Literal{
			{}: strings.NewReader(m.raw),
		}
	}
	return msg
}

func (c *fakeConn) Fetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fetchCalls++
	var out []*imap.Message
	for i, m := range c.mailboxes[c.selected].msgs {
		seq := uint32(i + 1)
		if !seqset.Contains(seq) {
			continue
		}
		if c.fetchErr != nil && len(out) >= c.fetchLimit {
			return out, c.fetchErr
		}
		out = append(out, c.toMessage(seq, m))
	}
	return out, c.fetchErr
}

func (c *fakeConn) UidFetch(seqset *imap.SeqSet, items []imap.FetchItem) ([]*imap.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uidFetches++
	if c.fetchErr != nil {
		return nil, c.fetchErr
	}
	var out []*imap.Message
	for i, m := range c.mailboxes[c.selected].msgs {
		if seqset.Contains(m.uid) {
			out = append(out, c.toMessage(uint32(i+1), m))
		}
	}
	return out, nil
}

func (c *fakeConn) UidSearch(criteria *imap.SearchCriteria) ([]uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchCalls++
	var uids []uint32
	for _, m := range c.mailboxes[c.selected].msgs {
		match := true
		for _, f := range criteria.WithFlags {
			if !hasFlag(m.flags, f) {
				match = false
			}
		}
		if match {
			uids = append(uids, m.uid)
		}
	}
	// servers do not promise any order
	sort.Slice(uids, func(i, j int) bool { return uids[i] > uids[j] })
	return uids, nil
}

func (c *fakeConn) UidStore(seqset *imap.SeqSet, item imap.StoreItem, flags []interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.storeCalls++
	if c.storeErr != nil {
		return c.storeErr
	}
	add := strings.HasPrefix(string(item), "+")
	for _, m := range c.mailboxes[c.selected].msgs {
		if !seqset.Contains(m.uid) {
			continue
		}
		for _, f := range flags {
			flag := f.(string)
			if add && !hasFlag(m.flags, flag) {
				m.flags = append(m.flags, flag)
			}
			if !add {
				kept := m.flags[:0]
				for _, existing := range m.flags {
					if existing != flag {
						kept = append(kept, existing)
					}
				}
				m.flags = kept
			}
		}
	}
	return nil
}

func (c *fakeConn) UidMove(seqset *imap.SeqSet, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.moveCalls++
	if c.moveErr != nil {
		return c.moveErr
	}
	target, ok := c.mailboxes[dest]
	if !ok {
		return &imap.ErrStatusResp{Resp: &imap.StatusResp{Type: imap.StatusRespNo, Code: "TRYCREATE", Info: "no such mailbox"}}
	}
	src := c.mailboxes[c.selected]
	kept := src.msgs[:0]
	for _, m := range src.msgs {
		if seqset.Contains(m.uid) {
			target.msgs = append(target.msgs, m)
			continue
		}
		kept = append(kept, m)
	}
	src.msgs = kept
	return nil
}

func (c *fakeConn) UidCopy(seqset *imap.SeqSet, dest string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.copyCalls++
	target, ok := c.mailboxes[dest]
	if !ok {
		return &imap.ErrStatusResp{Resp: &imap.StatusResp{Type: imap.StatusRespNo, Code: "TRYCREATE", Info: "no such mailbox"}}
	}
	for _, m := range c.mailboxes[c.selected].msgs {
		if seqset.Contains(m.uid) {
			copied := *m
			copied.flags = append([]string(nil), m.flags...)
			target.msgs = append(target.msgs, &copied)
		}
	}
	return nil
}

func (c *fakeConn) UidExpunge(seqset *imap.SeqSet) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uidExpunges++
	if !c.caps[capUIDPlus] {
		return &imap.ErrStatusResp{Resp: &imap.StatusResp{Type: imap.StatusRespBad, Info: "unknown command"}}
	}
	return c.expunge(seqset)
}

func (c *fakeConn) Expunge() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expunges++
	return c.expunge(nil)
}

// expunge removes \Deleted messages, limited to seqset when it is not nil.
func (c *fakeConn) expunge(seqset *imap.SeqSet) error {
	if c.expungeErr != nil {
		return c.expungeErr
	}
	mb := c.mailboxes[c.selected]
	kept := mb.msgs[:0]
	for _, m := range mb.msgs {
		if hasFlag(m.flags, imap.DeletedFlag) && (seqset == nil || seqset.Contains(m.uid)) {
			continue
		}
		kept = append(kept, m)
	}
	mb.msgs = kept
	return nil
}

func (c *fakeConn) Append(mailbox string, flags []string, date time.Time, msg imap.Literal) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.appendErrs[mailbox]; err != nil {
		return err
	}
	if _, ok := c.mailboxes[mailbox]; !ok {
		return &imap.ErrStatusResp{Resp: &imap.StatusResp{Type: imap.StatusRespNo, Code: "TRYCREATE", Info: "Mailbox doesn't exist"}}
	}
	raw, err := io.ReadAll(msg)
	if err != nil {
		return err
	}
	c.appended[mailbox] = append(c.appended[mailbox], raw)
	c.appendFlags[mailbox] = flags
	return nil
}

func (c *fakeConn) List(ref, name string) ([]*imap.MailboxInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, 0, len(c.mailboxes))
	for n := range c.mailboxes {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]*imap.MailboxInfo, 0, len(names))
	for _, n := range names {
		out = append(out, &imap.MailboxInfo{Name: n, Delimiter: "/", Attributes: c.mailboxes[n].attrs})
	}
	return out, nil
}

func (c *fakeConn) Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	mb, ok := c.mailboxes[name]
	if !ok {
		return nil, nonexistent(name)
	}
	st := &imap.MailboxStatus{Name: name, Messages: uint32(len(mb.msgs))}
	for _, m := range mb.msgs {
		if !hasFlag(m.flags, imap.SeenFlag) {
			st.Unseen++
		}
	}
	return st, nil
}

func (c *fakeConn) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logouts++
	return c.logoutErr
}

func (c *fakeConn) Terminate() error {
	c.terminated.Add(1)
	return nil
}

type fakeDialer struct {
	conn  *fakeConn
	err   error
	calls int
	opts  DialOptions
}

func (d *fakeDialer) DialIMAP(ctx context.Context, opts DialOptions) (IMAPConn, error) {
	d.calls++
	d.opts = opts
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

type submitCall struct {
	srv  SMTPServer
	from string
	rcpt []string
	raw  []byte
}

type fakeSubmitter struct {
	calls     []submitCall
	rejected  []string
	err       error
	verifyErr error
}

func (f *fakeSubmitter) Submit(ctx context.Context, srv SMTPServer, from string, rcpt []string, raw []byte) ([]string, []string, error) {
	f.calls = append(f.calls, submitCall{srv: srv, from: from, rcpt: rcpt, raw: raw})
	if f.err != nil {
		return nil, nil, f.err
	}
	var accepted []string
	for _, r := range rcpt {
		if !contains(f.rejected, r) {
			accepted = append(accepted, r)
		}
	}
	return accepted, f.rejected, nil
}

func (f *fakeSubmitter) Verify(ctx context.Context, srv SMTPServer) error {
	return f.verifyErr
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

type harness struct {
	conn      *fakeConn
	dialer    *fakeDialer
	submitter *fakeSubmitter
	manager   *Manager
	vault     *vault.Vault
	hook      *test.Hook
	cfg       models.MailAccountConfig
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	v, err := vault.New(testKey)
	require.NoError(t, err)
	enc, err := v.Encrypt("hunter2")
	require.NoError(t, err)

	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)

	conn := newFakeConn()
	h := &harness{
		conn:      conn,
		dialer:    &fakeDialer{conn: conn},
		submitter: &fakeSubmitter{},
		vault:     v,
		hook:      hook,
		cfg: models.MailAccountConfig{
			IncomingHost:        "imap.example.com",
			IncomingPort:        993,
			OutgoingHost:        "smtp.example.com",
			OutgoingPort:        587,
			Address:             "me@example.com",
			EncryptedCredential: enc,
		},
	}
	h.manager = NewManager(v, h.dialer, h.submitter, Options{
		CommandTimeout:  time.Second,
		DefaultPageSize: 50,
		MaxPageSize:     200,
		SanitizeHTML:    true,
	}, utils.NewLoggerFrom(base))
	return h
}

func (h *harness) session(t *testing.T) *Session {
	t.Helper()
	s, err := h.manager.Open(context.Background(), h.cfg)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

// warnings returns the WARN entries logged for a best-effort action.
func (h *harness) warnings(action string) []*logrus.Entry {
	var out []*logrus.Entry
	for _, e := range h.hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Data["action"] == action {
			out = append(out, e)
		}
	}
	return out
}

var errReset = fmt.Errorf("read: %w", syscall.ECONNRESET)
