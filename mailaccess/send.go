package mailaccess

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/emersion/go-imap"

	"mailbridge/models"
	"mailbridge/utils"
)

const sentAttr = `\Sent`

func (m *Manager) smtpServer(cfg models.MailAccountConfig, password string) SMTPServer {
	return SMTPServer{
		Host:      cfg.OutgoingHost,
		Port:      cfg.OutgoingPort,
		Username:  cfg.Address,
		Password:  password,
		Timeout:   m.opts.SubmitTimeout,
		TLSConfig: m.tlsConfig(cfg.OutgoingHost),
	}
}

// Send submits msg and then appends the identical bytes to the Sent mailbox.
//
// The two steps are not a transaction. Submission failures are returned and
// the append is never attempted. Once submission succeeds the message has been
// delivered, so an append failure is logged and the send still succeeds.
func (m *Manager) Send(ctx context.Context, cfg models.MailAccountConfig, msg *models.OutgoingMessage) (*models.SendResult, error) {
	if err := ValidateOutgoing(msg); err != nil {
		return nil, err
	}
	password, err := m.credential("send", cfg)
	if err != nil {
		return nil, err
	}

	c, err := compose(cfg.Address, msg, m.now())
	if err != nil {
		return nil, err
	}

	log := m.log.WithFields(map[string]interface{}{
		"account":    utils.MaskAddress(cfg.Address),
		"server":     cfg.OutgoingAddr(),
		"message_id": c.MessageID,
	})

	accepted, rejected, err := m.submitter.Submit(ctx, m.smtpServer(cfg, password), c.From, c.Recipients, c.Raw)
	if err != nil {
		e := classifyTransport("submit", cfg.OutgoingAddr(), err)
		log.WithError(e).Warn("SMTP submission failed")
		return nil, e
	}
	log.Info("message submitted to %d recipient(s)", len(accepted))

	// the caller may go away now; the Sent copy should still be written
	appendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.appendTimeout())
	defer cancel()
	bestEffort(log, "append_sent", func() error {
		return m.WithSession(appendCtx, cfg, func(s *Session) error {
			mailbox, err := s.AppendSent(c.Raw)
			if err == nil {
				log.Debug("sent copy stored in %s", mailbox)
			}
			return err
		})
	})

	return &models.SendResult{
		MessageID: c.MessageID,
		Accepted:  accepted,
		Rejected:  rejected,
	}, nil
}

func (m *Manager) appendTimeout() time.Duration {
	d := m.opts.ConnectTimeout + m.opts.GreetingTimeout + m.opts.CommandTimeout
	if d <= 0 {
		return time.Minute
	}
	return d
}

// AppendSent stores raw in the Sent mailbox, flagged \Seen, and returns the
// mailbox used. "Sent" is tried first; when the server has no such mailbox
// the one with the \Sent special-use attribute is tried, then common aliases.
func (s *Session) AppendSent(raw []byte) (string, error) {
	err := s.appendTo(MailboxSent, raw)
	if err == nil {
		return MailboxSent, nil
	}
	if !isMailboxAbsent(err) {
		return "", s.fail("append", err)
	}

	for _, mailbox := range s.sentCandidates() {
		err = s.appendTo(mailbox, raw)
		if err == nil {
			return mailbox, nil
		}
		if !isMailboxAbsent(err) {
			return "", s.fail("append", err)
		}
	}
	return "", newError(KindNotFound, "append", fmt.Errorf("no sent mailbox: %w", err))
}

func (s *Session) appendTo(mailbox string, raw []byte) error {
	return s.conn.Append(mailbox, []string{imap.SeenFlag}, s.now(), bytes.NewReader(raw))
}

// sentCandidates lists mailboxes to try after "Sent", special-use first.
func (s *Session) sentCandidates() []string {
	seen := map[string]bool{MailboxSent: true}
	var out []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	mailboxes, err := s.conn.List("", "*")
	if err != nil {
		s.log.WithError(err).Debug("LIST failed during sent discovery")
	}
	for _, mb := range mailboxes {
		if mb != nil && hasFlag(mb.Attributes, sentAttr) {
			add(mb.Name)
		}
	}
	for _, alias := range sentAliases {
		add(alias)
	}
	return out
}
