package api

import (
	"context"
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/nicksnyder/go-i18n/v2/i18n"

	"mailbridge/mailaccess"
	"mailbridge/models"
	"mailbridge/utils"
)

// MailService is the mail access layer as seen by the handlers.
type MailService interface {
	ListMessages(ctx context.Context, cfg models.MailAccountConfig, slug string, page, pageSize int) (*models.MessagePage, error)
	GetMessage(ctx context.Context, cfg models.MailAccountConfig, slug string, uid uint32) (*models.MessageContent, error)
	Mutate(ctx context.Context, cfg models.MailAccountConfig, slug string, uid uint32, action mailaccess.Action, targetSlug string) error
	DeleteMessage(ctx context.Context, cfg models.MailAccountConfig, slug string, uid uint32) error
	Folders(ctx context.Context, cfg models.MailAccountConfig) ([]models.Folder, error)
	Send(ctx context.Context, cfg models.MailAccountConfig, msg *models.OutgoingMessage) (*models.SendResult, error)
	VerifySubmission(ctx context.Context, cfg models.MailAccountConfig) *mailaccess.Diagnosis
}

// AccountStore is the account persistence used by the handlers.
type AccountStore interface {
	GetAccount(id string) (*models.Account, error)
	GetAccountByEmail(email string) (*models.Account, error)
	UpdateAccount(account *models.Account) error
	UpdateLastLogin(id string) error
}

var kindStatus = map[mailaccess.Kind]int{
	mailaccess.KindCredential:   fiber.StatusConflict,
	mailaccess.KindAuth:         fiber.StatusUnauthorized,
	mailaccess.KindConnectivity: fiber.StatusBadGateway,
	mailaccess.KindTransient:    fiber.StatusServiceUnavailable,
	mailaccess.KindNotFound:     fiber.StatusNotFound,
	mailaccess.KindInvalid:      fiber.StatusBadRequest,
	mailaccess.KindMutation:     fiber.StatusBadGateway,
	mailaccess.KindRejected:     fiber.StatusUnprocessableEntity,
}

// StatusForKind maps a mail access failure to its HTTP status.
func StatusForKind(kind mailaccess.Kind) int {
	if code, ok := kindStatus[kind]; ok {
		return code
	}
	return fiber.StatusInternalServerError
}

func localizer(c *fiber.Ctx) *i18n.Localizer {
	if loc, ok := c.Locals("localizer").(*i18n.Localizer); ok {
		return loc
	}
	return utils.Localizer
}

// mailError turns a mail access error into a localized AppError. The message
// carries the remediation hint, never the transport error itself.
func mailError(c *fiber.Ctx, err error) *utils.AppError {
	kind := mailaccess.KindOf(err)
	data := map[string]interface{}{"Addr": "", "Action": ""}
	var e *mailaccess.Error
	if errors.As(err, &e) {
		data["Addr"] = e.Addr
		data["Action"] = e.Action
	}
	msg := utils.TWithData(localizer(c), "error_"+string(kind), data)
	return utils.NewAppError(StatusForKind(kind), string(kind), msg, err)
}

// ErrorHandler renders every error as {"success": false, "error": {kind, message}}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	var appErr *utils.AppError
	var fiberErr *fiber.Error
	switch {
	case errors.As(err, &appErr):
	case mailaccess.KindOf(err) != mailaccess.KindUnknown:
		appErr = mailError(c, err)
	case errors.As(err, &fiberErr):
		appErr = utils.NewAppError(fiberErr.Code, "http", fiberErr.Message, nil)
	default:
		appErr = utils.InternalServerError(utils.T(localizer(c), "error_unknown"), err)
	}

	if appErr.Code >= fiber.StatusInternalServerError || appErr.Err != nil {
		utils.Log.WithField("path", c.Path()).WithError(appErr.Err).Warn("request failed: %s", appErr.Kind)
	}
	return c.Status(appErr.Code).JSON(fiber.Map{
		"success": false,
		"error": fiber.Map{
			"kind":    appErr.Kind,
			"message": appErr.Message,
		},
	})
}

// currentAccount returns the account RequireAuth attached to the request.
func currentAccount(c *fiber.Ctx) (*models.Account, error) {
	account, ok := c.Locals("account").(*models.Account)
	if !ok || account == nil {
		return nil, utils.UnauthorizedError(utils.T(localizer(c), "error_unauthorized"), nil)
	}
	return account, nil
}

func parseUID(c *fiber.Ctx) (uint32, error) {
	uid, err := strconv.ParseUint(c.Params("uid"), 10, 32)
	if err != nil || uid == 0 {
		return 0, utils.BadRequestError(utils.T(localizer(c), "error_invalid"), err)
	}
	return uint32(uid), nil
}
