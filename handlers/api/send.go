package api

import (
	"github.com/gofiber/fiber/v2"

	"mailbridge/models"
	"mailbridge/utils"
)

// SendHandler submits composed messages
type SendHandler struct {
	mail MailService
}

// NewSendHandler creates a new send handler
func NewSendHandler(mail MailService) *SendHandler {
	return &SendHandler{mail: mail}
}

// Send delivers the message and stores a copy in Sent. A failed Sent copy does
// not fail the request.
func (h *SendHandler) Send(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return err
	}

	var msg models.OutgoingMessage
	if err := c.BodyParser(&msg); err != nil {
		return utils.BadRequestError(utils.T(localizer(c), "error_invalid"), err)
	}

	result, err := h.mail.Send(c.UserContext(), account.MailConfig(), &msg)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"message":   utils.T(localizer(c), "message_sent"),
		"messageId": result.MessageID,
		"accepted":  result.Accepted,
		"rejected":  result.Rejected,
	})
}
