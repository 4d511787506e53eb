package mailaccess

import (
	"context"
	"errors"

	"mailbridge/models"
	"mailbridge/utils"
)

// pageBounds normalizes a requested page and page size.
func (m *Manager) pageBounds(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = m.opts.DefaultPageSize
	}
	if pageSize > m.opts.MaxPageSize {
		pageSize = m.opts.MaxPageSize
	}
	return page, pageSize
}

// ListMessages lists one page of the folder named by slug.
func (m *Manager) ListMessages(ctx context.Context, cfg models.MailAccountConfig, slug string, page, pageSize int) (*models.MessagePage, error) {
	page, pageSize = m.pageBounds(page, pageSize)
	path := Resolve(slug)

	var result *models.MessagePage
	err := m.WithSession(ctx, cfg, func(s *Session) error {
		var err error
		if IsVirtual(slug) {
			result, err = s.ListFlagged(path, page, pageSize)
		} else {
			result, err = s.List(path, page, pageSize)
		}
		return err
	})
	return result, err
}

// GetMessage fetches and parses one message, marking it seen.
func (m *Manager) GetMessage(ctx context.Context, cfg models.MailAccountConfig, slug string, uid uint32) (*models.MessageContent, error) {
	var content *models.MessageContent
	err := m.WithSession(ctx, cfg, func(s *Session) error {
		var err error
		content, err = s.Fetch(Resolve(slug), uid)
		return err
	})
	return content, err
}

// Mutate applies action to one message in the folder named by slug.
// targetSlug is only used by ActionMove.
func (m *Manager) Mutate(ctx context.Context, cfg models.MailAccountConfig, slug string, uid uint32, action Action, targetSlug string) error {
	if !action.Valid() {
		return newError(KindInvalid, "mutate", errors.New("unknown action "+string(action)))
	}
	if action == ActionMove && targetSlug == "" {
		return newError(KindInvalid, "mutate", errors.New("move requires a target folder"))
	}
	target := ""
	if targetSlug != "" {
		target = Resolve(targetSlug)
	}
	return m.WithSession(ctx, cfg, func(s *Session) error {
		return s.Apply(action, Resolve(slug), uid, target)
	})
}

// DeleteMessage permanently deletes one message.
func (m *Manager) DeleteMessage(ctx context.Context, cfg models.MailAccountConfig, slug string, uid uint32) error {
	return m.WithSession(ctx, cfg, func(s *Session) error {
		return s.Delete(Resolve(slug), uid)
	})
}

// Folders lists the account's mailboxes with counts.
func (m *Manager) Folders(ctx context.Context, cfg models.MailAccountConfig) ([]models.Folder, error) {
	var folders []models.Folder
	err := m.WithSession(ctx, cfg, func(s *Session) error {
		var err error
		folders, err = s.Folders()
		return err
	})
	return folders, err
}

// DiagnosticStep is one stage of a submission check.
type DiagnosticStep struct {
	Step   string `json:"step"`
	OK     bool   `json:"ok"`
	Kind   Kind   `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
	// Err is the failure behind Kind. It is never serialized; callers
	// render Detail from it in the user's language.
	Err error `json:"-"`
}

// Diagnosis reports how far a submission check got. It never contains the
// credential.
type Diagnosis struct {
	Server  string           `json:"server"`
	Account string           `json:"account"`
	OK      bool             `json:"ok"`
	Steps   []DiagnosticStep `json:"steps"`
}

func (d *Diagnosis) add(step string, err error) bool {
	s := DiagnosticStep{Step: step, OK: err == nil}
	if err != nil {
		s.Kind = KindOf(err)
		s.Err = err
	}
	d.Steps = append(d.Steps, s)
	return err == nil
}

// VerifySubmission checks, step by step, that the account can authenticate
// to its submission server: the credential decrypts, the server is reachable
// and accepts the login.
func (m *Manager) VerifySubmission(ctx context.Context, cfg models.MailAccountConfig) *Diagnosis {
	d := &Diagnosis{
		Server:  cfg.OutgoingAddr(),
		Account: utils.MaskAddress(cfg.Address),
		Steps:   []DiagnosticStep{},
	}

	password, err := m.credential("verify", cfg)
	if !d.add("credential", err) {
		return d
	}

	err = m.submitter.Verify(ctx, m.smtpServer(cfg, password))
	var e *Error
	if err != nil && errors.As(err, &e) && e.Op == "auth" {
		d.add("connect", nil)
		d.add("auth", err)
		return d
	}
	if !d.add("connect", err) {
		return d
	}
	d.add("auth", nil)
	d.OK = true
	return d
}
