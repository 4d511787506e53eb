package api

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"mailbridge/middleware"
)

// Handlers groups everything SetupRoutes mounts.
type Handlers struct {
	Auth        *AuthHandler
	Email       *EmailHandler
	Send        *SendHandler
	Folder      *FolderHandler
	Diagnostics *DiagnosticsHandler
	Settings    *SettingsHandler
	Health      *HealthHandler
	I18n        *I18nHandler
}

// NewHandlers wires every handler to the same mail service and account store.
func NewHandlers(mail MailService, accounts AccountStore, vault Encrypter, store Pinger, jwtSecret string, jwtTTL time.Duration) *Handlers {
	return &Handlers{
		Auth:        NewAuthHandler(accounts, jwtSecret, jwtTTL),
		Email:       NewEmailHandler(mail),
		Send:        NewSendHandler(mail),
		Folder:      NewFolderHandler(mail),
		Diagnostics: NewDiagnosticsHandler(mail),
		Settings:    NewSettingsHandler(accounts, vault),
		Health:      NewHealthHandler(store, vault != nil),
		I18n:        &I18nHandler{},
	}
}

// SetupRoutes mounts the public and authenticated routes on app.
func SetupRoutes(app fiber.Router, h *Handlers) {
	app.Get("/health", h.Health.Check)
	app.Post("/api/login", h.Auth.Login)
	app.Get("/api/i18n/:lang", h.I18n.GetTranslations)

	protected := app.Group("/api", h.Auth.RequireAuth(), middleware.CSRFProtection())
	{
		protected.Get("/emails", h.Email.List)
		protected.Post("/emails/send", h.Send.Send)
		protected.Get("/emails/:uid", h.Email.Get)
		protected.Patch("/emails/:uid", h.Email.Update)
		protected.Delete("/emails/:uid", h.Email.Delete)

		protected.Get("/folders", h.Folder.List)
		protected.Get("/test-smtp", h.Diagnostics.TestSMTP)
		protected.Put("/settings/server", h.Settings.UpdateServer)
	}
}
