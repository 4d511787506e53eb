package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"mailbridge/utils"
)

// Encrypter seals a mailbox password before it is stored.
type Encrypter interface {
	Encrypt(plaintext string) (string, error)
}

// SettingsHandler updates the mailbox connection settings of the signed-in account.
type SettingsHandler struct {
	accounts AccountStore
	vault    Encrypter
}

// NewSettingsHandler creates a new settings handler
func NewSettingsHandler(accounts AccountStore, vault Encrypter) *SettingsHandler {
	return &SettingsHandler{accounts: accounts, vault: vault}
}

type serverSettingsRequest struct {
	IMAPHost string `json:"imapHost"`
	IMAPPort int    `json:"imapPort"`
	SMTPHost string `json:"smtpHost"`
	SMTPPort int    `json:"smtpPort"`
	Password string `json:"password"`
}

func validPort(p int) bool {
	return p > 0 && p <= 65535
}

// UpdateServer replaces the IMAP/SMTP settings. A non-empty password is
// encrypted and replaces the stored credential, which is how a user recovers
// from a credential that no longer decrypts.
func (h *SettingsHandler) UpdateServer(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return err
	}

	var req serverSettingsRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError(utils.T(localizer(c), "error_invalid"), err)
	}
	req.IMAPHost = strings.TrimSpace(req.IMAPHost)
	req.SMTPHost = strings.TrimSpace(req.SMTPHost)
	if req.IMAPHost == "" || req.SMTPHost == "" || !validPort(req.IMAPPort) || !validPort(req.SMTPPort) {
		return utils.BadRequestError(utils.T(localizer(c), "error_invalid"), nil)
	}

	updated := *account
	updated.Mail.IncomingHost = req.IMAPHost
	updated.Mail.IncomingPort = req.IMAPPort
	updated.Mail.OutgoingHost = req.SMTPHost
	updated.Mail.OutgoingPort = req.SMTPPort
	if req.Password != "" {
		sealed, err := h.vault.Encrypt(req.Password)
		if err != nil {
			return utils.InternalServerError(utils.T(localizer(c), "error_configuration"), err)
		}
		updated.Credential = sealed
	}

	if err := h.accounts.UpdateAccount(&updated); err != nil {
		return utils.InternalServerError(utils.T(localizer(c), "error_unknown"), err)
	}
	utils.Log.WithFields(map[string]interface{}{
		"account":          utils.MaskAddress(account.Email),
		"imap":             updated.Mail.IncomingAddr(),
		"smtp":             updated.Mail.OutgoingAddr(),
		"password_changed": req.Password != "",
	}).Info("mailbox settings updated")

	return c.JSON(fiber.Map{
		"success": true,
		"settings": fiber.Map{
			"imapHost": updated.Mail.IncomingHost,
			"imapPort": updated.Mail.IncomingPort,
			"smtpHost": updated.Mail.OutgoingHost,
			"smtpPort": updated.Mail.OutgoingPort,
		},
	})
}
