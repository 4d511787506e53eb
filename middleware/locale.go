package middleware

import (
	"github.com/gofiber/fiber/v2"
	"golang.org/x/text/language"

	"mailbridge/utils"
)

var localeMatcher = language.NewMatcher([]language.Tag{language.English, language.Japanese})

// detectLanguage picks the response language from ?lang=, the lang cookie and
// Accept-Language, in that order.
func detectLanguage(c *fiber.Ctx) string {
	for _, candidate := range []string{c.Query("lang"), c.Cookies("lang")} {
		for _, supported := range utils.SupportedLanguages {
			if candidate == supported {
				return candidate
			}
		}
	}

	tags, _, err := language.ParseAcceptLanguage(c.Get(fiber.HeaderAcceptLanguage))
	if err != nil || len(tags) == 0 {
		return "en"
	}
	tag, _, _ := localeMatcher.Match(tags...)
	base, _ := tag.Base()
	return base.String()
}

// LocaleMiddleware detects and sets the user's locale
func LocaleMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		lang := detectLanguage(c)
		c.Locals("localizer", utils.GetLocalizer(lang))
		c.Locals("lang", lang)
		return c.Next()
	}
}
