package api

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"mailbridge/middleware"
	"mailbridge/utils"
	"mailbridge/vault"
)

const tokenCookie = "token"

// AuthHandler signs webmail users in and guards the API routes.
type AuthHandler struct {
	accounts AccountStore
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(accounts AccountStore, secret string, ttl time.Duration) *AuthHandler {
	return &AuthHandler{
		accounts: accounts,
		secret:   []byte(secret),
		ttl:      ttl,
		now:      time.Now,
	}
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login verifies the webmail login secret and returns a signed token.
func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.BadRequestError(utils.T(localizer(c), "error_invalid"), err)
	}
	email := strings.TrimSpace(req.Email)
	if email == "" || req.Password == "" {
		return utils.BadRequestError(utils.T(localizer(c), "error_invalid"), nil)
	}

	account, err := h.accounts.GetAccountByEmail(email)
	if err != nil || !vault.VerifyLoginSecret(req.Password, account.LoginHash) {
		utils.Log.WithField("account", utils.MaskAddress(email)).Info("login rejected")
		return utils.UnauthorizedError(utils.T(localizer(c), "error_login"), nil)
	}

	token, expires, err := h.issue(account.ID)
	if err != nil {
		return utils.InternalServerError(utils.T(localizer(c), "error_unknown"), err)
	}
	if err := h.accounts.UpdateLastLogin(account.ID); err != nil {
		utils.Log.WithError(err).Warn("failed to record last login")
	}

	c.Cookie(&fiber.Cookie{
		Name:     tokenCookie,
		Value:    token,
		Expires:  expires,
		HTTPOnly: true,
		SameSite: "Strict",
	})
	return c.JSON(fiber.Map{
		"success":   true,
		"token":     token,
		"csrfToken": middleware.GenerateCSRFToken(c),
		"expiresAt": expires,
		"account": fiber.Map{
			"id":          account.ID,
			"email":       account.Email,
			"displayName": account.DisplayName,
		},
	})
}

func (h *AuthHandler) issue(accountID string) (string, time.Time, error) {
	now := h.now()
	expires := now.Add(h.ttl)
	claims := jwt.RegisteredClaims{
		Subject:   accountID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expires),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(h.secret)
	return token, expires, err
}

// RequireAuth accepts a bearer token or the token cookie and attaches the
// signed-in account to the request.
func (h *AuthHandler) RequireAuth() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimPrefix(c.Get(fiber.HeaderAuthorization), "Bearer ")
		if raw == "" {
			raw = c.Cookies(tokenCookie)
		}
		if raw == "" {
			return utils.UnauthorizedError(utils.T(localizer(c), "error_unauthorized"), nil)
		}

		claims := &jwt.RegisteredClaims{}
		_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return h.secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(h.now))
		if err != nil {
			return utils.UnauthorizedError(utils.T(localizer(c), "error_unauthorized"), err)
		}

		account, err := h.accounts.GetAccount(claims.Subject)
		if err != nil {
			return utils.UnauthorizedError(utils.T(localizer(c), "error_unauthorized"), err)
		}
		c.Locals("account", account)
		return c.Next()
	}
}
