package mailaccess

import (
	"bytes"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailbridge/models"
)

var composeTime = time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)

func readParts(t *testing.T, raw []byte) (mail.Header, map[string]string, []string) {
	t.Helper()
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	require.NoError(t, err)

	bodies := map[string]string{}
	var files []string
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(p.Body)
		require.NoError(t, err)
		switch h := p.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := h.ContentType()
			bodies[ct] = string(b)
		case *mail.AttachmentHeader:
			name, _ := h.Filename()
			files = append(files, name)
		}
	}
	return mr.Header, bodies, files
}

func TestComposeHeaders(t *testing.T) {
	msg := &models.OutgoingMessage{
		To:        []string{"Bob <bob@example.org>"},
		Cc:        []string{"carol@example.org"},
		Bcc:       []string{"dave@example.org"},
		Subject:   "Re: plans",
		Text:      "sounds good",
		InReplyTo: "<plans-1@example.org>",
	}
	c, err := compose("me@example.com", msg, composeTime)
	require.NoError(t, err)
	assert.Equal(t, []string{"bob@example.org", "carol@example.org", "dave@example.org"}, c.Recipients)
	assert.Equal(t, "me@example.com", c.From)

	h, bodies, files := readParts(t, c.Raw)
	id, err := h.MessageID()
	require.NoError(t, err)
	assert.Equal(t, c.MessageID, id)

	subject, _ := h.Subject()
	assert.Equal(t, "Re: plans", subject)
	date, _ := h.Date()
	assert.True(t, composeTime.Equal(date))

	to, _ := h.AddressList("To")
	require.Len(t, to, 1)
	assert.Equal(t, "Bob", to[0].Name)
	cc, _ := h.AddressList("Cc")
	require.Len(t, cc, 1)
	assert.False(t, h.Has("Bcc"))

	inReplyTo, _ := h.MsgIDList("In-Reply-To")
	assert.Equal(t, []string{"plans-1@example.org"}, inReplyTo)
	refs, _ := h.MsgIDList("References")
	assert.Equal(t, []string{"plans-1@example.org"}, refs, "references default to the parent")

	assert.Equal(t, "sounds good", bodies["text/plain"])
	assert.Empty(t, files)
}

func TestComposeKeepsExplicitReferences(t *testing.T) {
	msg := &models.OutgoingMessage{
		To:         []string{"bob@example.org"},
		Subject:    "Re: plans",
		Text:       "ok",
		InReplyTo:  "plans-2@example.org",
		References: []string{"<plans-1@example.org>", "plans-2@example.org"},
	}
	c, err := compose("me@example.com", msg, composeTime)
	require.NoError(t, err)

	h, _, _ := readParts(t, c.Raw)
	refs, _ := h.MsgIDList("References")
	assert.Equal(t, []string{"plans-1@example.org", "plans-2@example.org"}, refs)
}

func TestComposeHTMLAlternative(t *testing.T) {
	msg := &models.OutgoingMessage{
		To:      []string{"bob@example.org"},
		Subject: "Newsletter",
		HTML:    "<h1>Hello</h1><p>World</p>",
	}
	c, err := compose("me@example.com", msg, composeTime)
	require.NoError(t, err)

	_, bodies, _ := readParts(t, c.Raw)
	assert.Equal(t, "<h1>Hello</h1><p>World</p>", bodies["text/html"])
	assert.Contains(t, bodies["text/plain"], "Hello")
	assert.NotContains(t, bodies["text/plain"], "<h1>", "plain part is derived from the HTML")
}

func TestComposeAttachments(t *testing.T) {
	msg := &models.OutgoingMessage{
		To:      []string{"bob@example.org"},
		Subject: "Files",
		Text:    "see attached",
		Attachments: []models.OutgoingAttachment{
			{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("line one")},
			{Filename: "blob.bin", Data: []byte{0, 1, 2, 3}},
		},
	}
	c, err := compose("me@example.com", msg, composeTime)
	require.NoError(t, err)

	_, bodies, files := readParts(t, c.Raw)
	assert.Equal(t, "see attached", bodies["text/plain"])
	assert.Equal(t, []string{"notes.txt", "blob.bin"}, files)

	parsed, err := parseMessage(c.Raw)
	require.NoError(t, err)
	require.Len(t, parsed.Attachments, 2)
	assert.Equal(t, "application/octet-stream", parsed.Attachments[1].ContentType)
	assert.EqualValues(t, 4, parsed.Attachments[1].Size)
}

func TestComposeUniqueMessageIDs(t *testing.T) {
	msg := &models.OutgoingMessage{To: []string{"bob@example.org"}, Subject: "x", Text: "y"}
	a, err := compose("me@example.com", msg, composeTime)
	require.NoError(t, err)
	b, err := compose("me@example.com", msg, composeTime)
	require.NoError(t, err)
	assert.NotEqual(t, a.MessageID, b.MessageID)
}

func TestDomainOf(t *testing.T) {
	assert.Equal(t, "example.com", domainOf("me@example.com"))
	assert.Equal(t, "localhost", domainOf("me"))
	assert.Equal(t, "localhost", domainOf("me@"))
}
