package mailaccess

import (
	"context"
	"errors"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPageBounds(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		page, size         int
		wantPage, wantSize int
	}{
		{1, 20, 1, 20},
		{0, 0, 1, 50},
		{-3, -1, 1, 50},
		{2, 1000, 2, 200},
	}
	for _, tt := range tests {
		page, size := h.manager.pageBounds(tt.page, tt.size)
		assert.Equal(t, tt.wantPage, page)
		assert.Equal(t, tt.wantSize, size)
	}
}

func TestListMessagesBySlug(t *testing.T) {
	h := newHarness(t)
	h.conn.fill("Junk", 3)

	page, err := h.manager.ListMessages(context.Background(), h.cfg, FolderSpam, 0, 0)
	require.NoError(t, err)
	assert.Len(t, page.Messages, 3)
	assert.Equal(t, 1, h.conn.logouts)
}

func TestListMessagesStarredSearchesInbox(t *testing.T) {
	h := newHarness(t)
	mb := h.conn.fill("INBOX", 4)
	mb.msgs[2].flags = []string{imap.FlaggedFlag}

	page, err := h.manager.ListMessages(context.Background(), h.cfg, FolderStarred, 1, 50)
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.EqualValues(t, 6, page.Messages[0].UID)
	assert.Equal(t, 1, h.conn.searchCalls)
	assert.Zero(t, h.conn.fetchCalls)
}

func TestGetMessage(t *testing.T) {
	h := newHarness(t)
	addRaw(h, 3, "From: bob@example.com\r\nSubject: hello\r\n\r\nhi there\r\n")

	c, err := h.manager.GetMessage(context.Background(), h.cfg, FolderInbox, 3)
	require.NoError(t, err)
	assert.Equal(t, "hello", c.Subject)
}

func TestMutate(t *testing.T) {
	h := newHarness(t)
	h.conn.fill("INBOX", 2)
	h.conn.mailboxes["Archive"] = &fakeMailbox{}

	ctx := context.Background()
	require.NoError(t, h.manager.Mutate(ctx, h.cfg, FolderInbox, 2, ActionStar, ""))
	assert.Contains(t, h.conn.mailboxes["INBOX"].msgs[0].flags, imap.FlaggedFlag)

	require.NoError(t, h.manager.Mutate(ctx, h.cfg, FolderInbox, 4, ActionMove, FolderArchive))
	assert.Len(t, h.conn.mailboxes["Archive"].msgs, 1)
	assert.Equal(t, 2, h.conn.logouts, "one session per operation")
}

func TestMutateRejectsBadInput(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.manager.Mutate(ctx, h.cfg, FolderInbox, 2, Action("shred"), "")
	assert.Equal(t, KindInvalid, KindOf(err))

	err = h.manager.Mutate(ctx, h.cfg, FolderInbox, 2, ActionMove, "")
	assert.Equal(t, KindInvalid, KindOf(err))
	assert.Zero(t, h.dialer.calls)
}

func TestDeleteMessage(t *testing.T) {
	h := newHarness(t)
	h.conn.fill("Trash", 2)

	require.NoError(t, h.manager.DeleteMessage(context.Background(), h.cfg, FolderTrash, 2))
	assert.Len(t, h.conn.mailboxes["Trash"].msgs, 1)
}

func TestFolders(t *testing.T) {
	h := newHarness(t)
	h.conn.fill("INBOX", 3)
	h.conn.mailboxes["INBOX"].msgs[0].flags = []string{imap.SeenFlag}
	h.conn.mailboxes["Archive"] = &fakeMailbox{}
	h.conn.mailboxes["Projects/2024"] = &fakeMailbox{}
	h.conn.mailboxes["Sent"] = &fakeMailbox{attrs: []string{`\Sent`}}
	h.conn.mailboxes["Notes"] = &fakeMailbox{attrs: []string{imap.NoSelectAttr}}

	folders, err := h.manager.Folders(context.Background(), h.cfg)
	require.NoError(t, err)
	require.Len(t, folders, 5)

	assert.Equal(t, "INBOX", folders[0].Path)
	assert.EqualValues(t, 3, folders[0].Total)
	assert.EqualValues(t, 2, folders[0].Unseen)

	assert.Equal(t, "Sent", folders[1].Path)
	assert.Equal(t, `\Sent`, folders[1].SpecialUse)

	var projects bool
	for _, f := range folders[2:] {
		if f.Path == "Projects/2024" {
			projects = true
			assert.Equal(t, "2024", f.Name)
		}
		assert.NotNil(t, f.Attributes)
	}
	assert.True(t, projects)
}

func TestVerifySubmission(t *testing.T) {
	t.Run("ok", func(t *testing.T) {
		h := newHarness(t)
		d := h.manager.VerifySubmission(context.Background(), h.cfg)
		assert.True(t, d.OK)
		assert.Equal(t, "smtp.example.com:587", d.Server)
		assert.NotEqual(t, "me@example.com", d.Account)
		require.Len(t, d.Steps, 3)
		for _, s := range d.Steps {
			assert.True(t, s.OK, s.Step)
		}
	})

	t.Run("auth rejected", func(t *testing.T) {
		h := newHarness(t)
		h.submitter.verifyErr = &Error{Kind: KindAuth, Op: "auth", Err: errors.New("535 authentication failed")}
		d := h.manager.VerifySubmission(context.Background(), h.cfg)
		assert.False(t, d.OK)
		require.Len(t, d.Steps, 3)
		assert.True(t, d.Steps[1].OK, "the server was reached")
		assert.Equal(t, "auth", d.Steps[2].Step)
		assert.Equal(t, KindAuth, d.Steps[2].Kind)
	})

	t.Run("unreachable", func(t *testing.T) {
		h := newHarness(t)
		h.submitter.verifyErr = &Error{Kind: KindConnectivity, Op: "dial", Addr: "smtp.example.com:587", Err: errors.New("connection refused")}
		d := h.manager.VerifySubmission(context.Background(), h.cfg)
		assert.False(t, d.OK)
		require.Len(t, d.Steps, 2)
		assert.Equal(t, "connect", d.Steps[1].Step)
		assert.Equal(t, KindConnectivity, d.Steps[1].Kind)
		assert.Error(t, d.Steps[1].Err)
		assert.Empty(t, d.Steps[1].Detail, "transport text is not passed through")
	})

	t.Run("bad credential", func(t *testing.T) {
		h := newHarness(t)
		h.cfg.EncryptedCredential = ""
		d := h.manager.VerifySubmission(context.Background(), h.cfg)
		assert.False(t, d.OK)
		require.Len(t, d.Steps, 1)
		assert.Equal(t, KindCredential, d.Steps[0].Kind)
		assert.NotContains(t, d.Steps[0].Detail, "hunter2")
	})
}
