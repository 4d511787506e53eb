package api

import (
	"github.com/gofiber/fiber/v2"

	"mailbridge/mailaccess"
)

// FolderHandler lists the account's mailboxes
type FolderHandler struct {
	mail MailService
}

// NewFolderHandler creates a new folder handler
func NewFolderHandler(mail MailService) *FolderHandler {
	return &FolderHandler{mail: mail}
}

// List returns every mailbox with message and unread counts.
func (h *FolderHandler) List(c *fiber.Ctx) error {
	account, err := currentAccount(c)
	if err != nil {
		return err
	}

	folders, err := h.mail.Folders(c.UserContext(), account.MailConfig())
	if err != nil {
		return err
	}

	var unread uint32
	for _, f := range folders {
		if f.Path == mailaccess.MailboxInbox {
			unread = f.Unseen
		}
	}
	return c.JSON(fiber.Map{
		"success":     true,
		"folders":     folders,
		"unreadCount": unread,
	})
}
