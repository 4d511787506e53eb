package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"mailbridge/mailaccess"
	"mailbridge/models"
	"mailbridge/utils"
)

// EmailHandler serves listing, reading and changing messages.
type EmailHandler struct {
	mail MailService
}

// NewEmailHandler creates a new email handler
func NewEmailHandler(mail MailService) *EmailHandler {
	return &EmailHandler{mail: mail}
}

// List returns one page of a folder, optionally filtered by search.
func (h *EmailHandler) List(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return err
	}

	folder := c.Query("folder", mailaccess.FolderInbox)
	page, err := h.mail.ListMessages(c.UserContext(), account.MailConfig(), folder, c.QueryInt("page", 1), c.QueryInt("pageSize", 0))
	if err != nil {
		return err
	}

	if search := strings.TrimSpace(c.Query("search")); search != "" {
		page.Messages = filterMessages(page.Messages, search)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"folder":   folder,
		"emails":   page.Messages,
		"total":    page.Total,
		"page":     page.Page,
		"pageSize": page.PageSize,
		"hasMore":  page.HasMore,
	})
}

// filterMessages keeps the rows whose subject or sender contains search,
// case-insensitively. It only narrows the page already listed.
func filterMessages(msgs []models.MessageSummary, search string) []models.MessageSummary {
	needle := strings.ToLower(search)
	out := make([]models.MessageSummary, 0, len(msgs))
	for _, m := range msgs {
		name := ""
		if m.FromName != nil {
			name = *m.FromName
		}
		if strings.Contains(strings.ToLower(m.Subject), needle) ||
			strings.Contains(strings.ToLower(m.FromAddress), needle) ||
			strings.Contains(strings.ToLower(name), needle) {
			out = append(out, m)
		}
	}
	return out
}

// Get returns one parsed message.
func (h *EmailHandler) Get(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return err
	}
	uid, err := parseUID(c)
	if err != nil {
		return err
	}

	content, err := h.mail.GetMessage(c.UserContext(), account.MailConfig(), c.Query("folder", mailaccess.FolderInbox), uid)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"email":   content,
	})
}

type updateRequest struct {
	Action       mailaccess.Action `json:"action"`
	Folder       string            `json:"folder"`
	TargetFolder string            `json:"targetFolder"`
}

// Update applies a flag change or move to one message.
func (h *EmailHandler) Update(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return err
	}
	uid, err := parseUID(c)
	if err != nil {
		return err
	}

	var req updateRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError(utils.T(localizer(c), "error_invalid"), err)
	}
	// permanent deletion has its own route
	if req.Action == mailaccess.ActionDelete {
		return utils.BadRequestError(utils.T(localizer(c), "error_invalid"), nil)
	}
	if req.Folder == "" {
		req.Folder = mailaccess.FolderInbox
	}

	if err := h.mail.Mutate(c.UserContext(), account.MailConfig(), req.Folder, uid, req.Action, req.TargetFolder); err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"action":  req.Action,
	})
}

// Delete permanently removes one message. Without a folder the message is
// looked up in Trash.
func (h *EmailHandler) Delete(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return err
	}
	uid, err := parseUID(c)
	if err != nil {
		return err
	}

	if err := h.mail.DeleteMessage(c.UserContext(), account.MailConfig(), c.Query("folder", mailaccess.FolderTrash), uid); err != nil {
		return err
	}
	return c.JSON(fiber.Map{"success": true})
}
