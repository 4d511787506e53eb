package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailbridge/utils"
)

// DiagnosticsHandler runs connection checks for the signed-in account.
type DiagnosticsHandler struct {
	mail MailService
}

// NewDiagnosticsHandler creates a new diagnostics handler
func NewDiagnosticsHandler(mail MailService) *DiagnosticsHandler {
	return &DiagnosticsHandler{mail: mail}
}

// TestSMTP reports, step by step, whether the account can authenticate to
// its submission server. A failed check is still a 200 with success false.
func (h *DiagnosticsHandler) TestSMTP(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return err
	}

	started := time.Now()
	d := h.mail.VerifySubmission(c.UserContext(), account.MailConfig())
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.OK || step.Err == nil {
			continue
		}
		step.Detail = mailError(c, step.Err).Message
		utils.Log.WithField("step", step.Step).WithError(step.Err).Info("SMTP check failed")
	}
	return c.JSON(fiber.Map{
		"success":   d.OK,
		"server":    d.Server,
		"account":   d.Account,
		"steps":     d.Steps,
		"elapsedMs": time.Since(started).Milliseconds(),
	})
}
