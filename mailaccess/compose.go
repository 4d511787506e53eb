package mailaccess

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message/mail"
	"github.com/google/uuid"

	"mailbridge/models"
	"mailbridge/utils"
)

// composed is an outgoing message rendered once. Raw is submitted and then
// appended to Sent byte for byte.
type composed struct {
	MessageID  string
	From       string
	Recipients []string
	Raw        []byte
}

// ValidateOutgoing checks the fields every outgoing message needs.
func ValidateOutgoing(msg *models.OutgoingMessage) error {
	if msg == nil {
		return newError(KindInvalid, "send", errors.New("message is required"))
	}
	if len(msg.To)+len(msg.Cc)+len(msg.Bcc) == 0 {
		return newError(KindInvalid, "send", errors.New("at least one recipient is required"))
	}
	if strings.TrimSpace(msg.Subject) == "" {
		return newError(KindInvalid, "send", errors.New("subject is required"))
	}
	return nil
}

func parseAddresses(field string, list []string) ([]*mail.Address, error) {
	out := make([]*mail.Address, 0, len(list))
	for _, s := range list {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		addr, err := mail.ParseAddress(s)
		if err != nil {
			return nil, newError(KindInvalid, "send", fmt.Errorf("invalid %s address %q: %w", field, s, err))
		}
		out = append(out, addr)
	}
	return out, nil
}

func domainOf(address string) string {
	if at := strings.LastIndexByte(address, '@'); at >= 0 && at < len(address)-1 {
		return address[at+1:]
	}
	return "localhost"
}

// compose renders msg as an RFC 5322 document. Bcc recipients are added to
// the envelope only and never written to a header.
func compose(from string, msg *models.OutgoingMessage, now time.Time) (*composed, error) {
	to, err := parseAddresses("to", msg.To)
	if err != nil {
		return nil, err
	}
	cc, err := parseAddresses("cc", msg.Cc)
	if err != nil {
		return nil, err
	}
	bcc, err := parseAddresses("bcc", msg.Bcc)
	if err != nil {
		return nil, err
	}

	c := &composed{
		MessageID: uuid.NewString() + "@" + domainOf(from),
		From:      from,
	}
	for _, list := range [][]*mail.Address{to, cc, bcc} {
		for _, a := range list {
			c.Recipients = append(c.Recipients, a.Address)
		}
	}
	if len(c.Recipients) == 0 {
		return nil, newError(KindInvalid, "send", errors.New("at least one recipient is required"))
	}

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	if len(to) > 0 {
		h.SetAddressList("To", to)
	}
	if len(cc) > 0 {
		h.SetAddressList("Cc", cc)
	}
	h.SetSubject(msg.Subject)
	h.SetMessageID(c.MessageID)
	if id := trimMsgID(msg.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
	}
	refs := make([]string, 0, len(msg.References)+1)
	for _, r := range msg.References {
		if id := trimMsgID(r); id != "" {
			refs = append(refs, id)
		}
	}
	if len(refs) == 0 && msg.InReplyTo != "" {
		refs = append(refs, trimMsgID(msg.InReplyTo))
	}
	if len(refs) > 0 {
		h.SetMsgIDList("References", refs)
	}

	text := msg.Text
	if text == "" && msg.HTML != "" {
		text = utils.StripHTML(msg.HTML)
	}

	var buf bytes.Buffer
	if len(msg.Attachments) == 0 {
		err = writeBody(&buf, h, text, msg.HTML)
	} else {
		err = writeMixed(&buf, h, text, msg.HTML, msg.Attachments)
	}
	if err != nil {
		return nil, fmt.Errorf("compose message: %w", err)
	}
	c.Raw = buf.Bytes()
	return c, nil
}

func trimMsgID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

func textHeader(contentType string) mail.InlineHeader {
	var h mail.InlineHeader
	h.SetContentType(contentType, map[string]string{"charset": "utf-8"})
	return h
}

// writeBody writes a message without attachments: a single text part, or
// multipart/alternative when there is an HTML body.
func writeBody(w io.Writer, h mail.Header, text, html string) error {
	if html == "" {
		h.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
		body, err := mail.CreateSingleInlineWriter(w, h)
		if err != nil {
			return err
		}
		if _, err := io.WriteString(body, text); err != nil {
			return err
		}
		return body.Close()
	}

	iw, err := mail.CreateInlineWriter(w, h)
	if err != nil {
		return err
	}
	if err := writeAlternatives(iw, text, html); err != nil {
		return err
	}
	return iw.Close()
}

func writeMixed(w io.Writer, h mail.Header, text, html string, attachments []models.OutgoingAttachment) error {
	mw, err := mail.CreateWriter(w, h)
	if err != nil {
		return err
	}

	iw, err := mw.CreateInline()
	if err != nil {
		return err
	}
	if err := writeAlternatives(iw, text, html); err != nil {
		return err
	}
	if err := iw.Close(); err != nil {
		return err
	}

	for _, att := range attachments {
		var ah mail.AttachmentHeader
		ct := att.ContentType
		if ct == "" {
			ct = "application/octet-stream"
		}
		ah.Set("Content-Type", ct)
		ah.SetFilename(att.Filename)
		part, err := mw.CreateAttachment(ah)
		if err != nil {
			return err
		}
		if _, err := part.Write(att.Data); err != nil {
			return err
		}
		if err := part.Close(); err != nil {
			return err
		}
	}
	return mw.Close()
}

func writeAlternatives(iw *mail.InlineWriter, text, html string) error {
	parts := []struct{ contentType, body string }{{"text/plain", text}}
	if html != "" {
		parts = append(parts, struct{ contentType, body string }{"text/html", html})
	}
	for _, p := range parts {
		pw, err := iw.CreatePart(textHeader(p.contentType))
		if err != nil {
			return err
		}
		if _, err := io.WriteString(pw, p.body); err != nil {
			return err
		}
		if err := pw.Close(); err != nil {
			return err
		}
	}
	return nil
}
