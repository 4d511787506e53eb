package api

import (
	"github.com/gofiber/fiber/v2"

	"mailbridge/mailaccess"
	"mailbridge/utils"
)

var clientMessageIDs = []string{
	"error_unauthorized",
	"error_login",
	"error_rate_limited",
	"message_sent",
}

var clientKinds = []mailaccess.Kind{
	mailaccess.KindConfiguration, mailaccess.KindCredential, mailaccess.KindConnectivity,
	mailaccess.KindAuth, mailaccess.KindMutation, mailaccess.KindParse, mailaccess.KindTransient,
	mailaccess.KindNotFound, mailaccess.KindRejected, mailaccess.KindInvalid, mailaccess.KindUnknown,
}

// I18nHandler serves translations for the front end
type I18nHandler struct{}

// GetTranslations returns the messages the front end shows itself, keyed by
// message ID. Unsupported languages fall back to English.
func (h *I18nHandler) GetTranslations(c *fiber.Ctx) error {
	lang := c.Params("lang")
	supported := false
	for _, l := range utils.SupportedLanguages {
		if l == lang {
			supported = true
		}
	}
	if !supported {
		lang = "en"
	}

	loc := utils.GetLocalizer(lang)
	blank := map[string]interface{}{"Addr": "", "Action": ""}
	translations := make(map[string]string, len(clientMessageIDs)+len(clientKinds))
	for _, id := range clientMessageIDs {
		translations[id] = utils.T(loc, id)
	}
	for _, kind := range clientKinds {
		id := "error_" + string(kind)
		translations[id] = utils.TWithData(loc, id, blank)
	}

	return c.JSON(fiber.Map{
		"lang":         lang,
		"translations": translations,
	})
}
