package mailaccess

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"mailbridge/models"
	"mailbridge/utils"
)

const snippetLength = 200

// Fetch downloads one message by UID and parses it. The message is then
// marked seen as a best-effort side effect whose failure is only logged.
func (s *Session) Fetch(path string, uid uint32) (*models.MessageContent, error) {
	log := s.log.WithFields(map[string]interface{}{"mailbox": path, "uid": uid})

	if _, err := s.open(path, false); err != nil {
		if isMailboxAbsent(err) {
			return nil, newError(KindNotFound, "fetch", err)
		}
		return nil, s.fail("fetch", err)
	}

	section := &imap.BodySectionName{Peek: true}
	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	msgs, err := s.conn.UidFetch(seqset, []imap.FetchItem{imap.FetchUid, section.FetchItem()})
	if err != nil {
		return nil, s.fail("fetch", err)
	}

	var msg *imap.Message
	for _, m := range msgs {
		if m != nil && m.Uid == uid {
			msg = m
			break
		}
	}
	if msg == nil {
		return nil, newError(KindNotFound, "fetch", fmt.Errorf("uid %d not in %s", uid, path))
	}

	body := msg.GetBody(section)
	if body == nil {
		return nil, newError(KindNotFound, "fetch", fmt.Errorf("server returned no body for uid %d", uid))
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, s.fail("fetch", err)
	}

	content, err := parseMessage(raw)
	if err != nil {
		log.WithError(newError(KindParse, "fetch", err)).Warn("message did not parse cleanly")
		if content == nil {
			content = rawContent(raw)
		}
	}
	content.UID = uid
	if content.SentAt.IsZero() {
		content.SentAt = s.now()
	}
	s.finish(content)

	bestEffort(log, "mark_seen", func() error {
		return s.conn.UidStore(seqset, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.SeenFlag})
	})

	return content, nil
}

// finish sanitizes the HTML body and derives the snippet.
func (s *Session) finish(c *models.MessageContent) {
	if c.BodyHTML != nil && s.sanitize {
		clean := utils.SanitizeHTML(*c.BodyHTML)
		c.BodyHTML = &clean
	}
	switch {
	case c.BodyText != nil:
		c.Snippet = utils.Snippet(*c.BodyText, snippetLength)
	case c.BodyHTML != nil:
		c.Snippet = utils.Snippet(utils.StripHTML(*c.BodyHTML), snippetLength)
	}
}

// parseMessage parses a raw RFC 5322 message. When the header parses but a
// later part does not, the returned content holds everything read so far
// together with the error.
func parseMessage(raw []byte) (*models.MessageContent, error) {
	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, err
	}
	defer mr.Close()

	content := &models.MessageContent{
		FromAddress: "unknown",
		ToAddresses: []string{},
		CcAddresses: []string{},
		Attachments: []models.Attachment{},
	}

	h := mr.Header
	content.MessageID, _ = h.MessageID()
	if content.Subject, _ = h.Subject(); content.Subject == "" {
		content.Subject = noSubject
	}
	content.SentAt, _ = h.Date()

	if from, _ := h.AddressList("From"); len(from) > 0 {
		content.FromAddress = from[0].Address
		if from[0].Name != "" {
			name := from[0].Name
			content.FromName = &name
		}
	}
	content.ToAddresses = headerAddresses(h, "To")
	content.CcAddresses = headerAddresses(h, "Cc")
	if replyTo, _ := h.AddressList("Reply-To"); len(replyTo) > 0 {
		addr := replyTo[0].Address
		content.ReplyTo = &addr
	}
	if ids, _ := h.MsgIDList("In-Reply-To"); len(ids) > 0 {
		content.InReplyTo = ids[0]
	}

	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if message.IsUnknownCharset(err) {
				continue
			}
			return content, err
		}

		switch ph := part.Header.(type) {
		case *mail.InlineHeader:
			ct, _, _ := ph.ContentType()
			if ct == "" {
				ct = "text/plain"
			}
			switch {
			case ct == "text/plain" && content.BodyText == nil:
				text, err := io.ReadAll(part.Body)
				if err != nil {
					return content, err
				}
				s := string(text)
				content.BodyText = &s
			case ct == "text/html" && content.BodyHTML == nil:
				html, err := io.ReadAll(part.Body)
				if err != nil {
					return content, err
				}
				s := string(html)
				content.BodyHTML = &s
			case !strings.HasPrefix(ct, "text/"):
				// inline images referenced from the HTML body by cid:
				att, err := describePart(ct, ph.Get("Content-Id"), "", part.Body)
				if err != nil {
					return content, err
				}
				content.Attachments = append(content.Attachments, att)
			}
		case *mail.AttachmentHeader:
			ct, _, _ := ph.ContentType()
			filename, _ := ph.Filename()
			att, err := describePart(ct, ph.Get("Content-Id"), filename, part.Body)
			if err != nil {
				return content, err
			}
			content.Attachments = append(content.Attachments, att)
		}
	}

	return content, nil
}

// describePart measures a part without keeping its content.
func describePart(contentType, contentID, filename string, body io.Reader) (models.Attachment, error) {
	size, err := io.Copy(io.Discard, body)
	if err != nil {
		return models.Attachment{}, err
	}
	if filename == "" {
		filename = "attachment"
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	att := models.Attachment{
		Filename:    filename,
		ContentType: contentType,
		Size:        size,
	}
	if cid := strings.Trim(strings.TrimSpace(contentID), "<>"); cid != "" {
		att.ContentID = &cid
	}
	return att, nil
}

func headerAddresses(h mail.Header, key string) []string {
	list, _ := h.AddressList(key)
	out := make([]string, 0, len(list))
	for _, a := range list {
		if a.Address != "" {
			out = append(out, a.Address)
		}
	}
	return out
}

// rawContent is the fallback for a message whose header cannot be parsed at
// all: the whole source is returned as text.
func rawContent(raw []byte) *models.MessageContent {
	text := string(raw)
	return &models.MessageContent{
		FromAddress: "unknown",
		ToAddresses: []string{},
		CcAddresses: []string{},
		Subject:     noSubject,
		BodyText:    &text,
		Attachments: []models.Attachment{},
	}
}
