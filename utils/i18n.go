package utils

import (
	"embed"

	"github.com/BurntSushi/toml"
	"github.com/nicksnyder/go-i18n/v2/i18n"
	"golang.org/x/text/language"
)

//go:embed locales/*.toml
var localeFS embed.FS

var (
	// Bundle is the global translation bundle
	Bundle *i18n.Bundle
	// Localizer is the default localizer
	Localizer *i18n.Localizer
)

// SupportedLanguages lists the locales shipped in locales/
var SupportedLanguages = []string{"en", "ja"}

func init() {
	if err := InitI18n(); err != nil {
		Log.Error("Failed to initialize i18n: %v", err)
	}
}

// InitI18n loads the embedded locale files
func InitI18n() error {
	bundle := i18n.NewBundle(language.English)
	bundle.RegisterUnmarshalFunc("toml", toml.Unmarshal)

	for _, lang := range SupportedLanguages {
		if _, err := bundle.LoadMessageFileFS(localeFS, "locales/active."+lang+".toml"); err != nil {
			return err
		}
	}

	Bundle = bundle
	Localizer = i18n.NewLocalizer(Bundle, language.English.String())
	return nil
}

// GetLocalizer returns a localizer for the specified language
func GetLocalizer(lang string) *i18n.Localizer {
	if lang == "" {
		lang = "en"
	}
	return i18n.NewLocalizer(Bundle, lang)
}

// T translates a message ID
func T(localizer *i18n.Localizer, messageID string) string {
	return TWithData(localizer, messageID, nil)
}

// TWithData translates a message ID with template data
func TWithData(localizer *i18n.Localizer, messageID string, data map[string]interface{}) string {
	if localizer == nil {
		localizer = Localizer
	}
	msg, err := localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    messageID,
		TemplateData: data,
	})
	if err != nil {
		Log.Debug("Translation error for '%s': %v", messageID, err)
		return messageID
	}
	return msg
}
