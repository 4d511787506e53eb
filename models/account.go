package models

import "time"

// MailAccountConfig is everything the mail access layer needs to reach one user's
// mailbox. It is resolved by the caller per request and passed by value.
type MailAccountConfig struct {
	IncomingHost        string `json:"imap_host"`
	IncomingPort        int    `json:"imap_port"`
	OutgoingHost        string `json:"smtp_host"`
	OutgoingPort        int    `json:"smtp_port"`
	Address             string `json:"email"`
	EncryptedCredential string `json:"-"` // iv:tag:ciphertext, never exposed
}

// IncomingAddr returns host:port of the IMAP server
func (c MailAccountConfig) IncomingAddr() string {
	return joinHostPort(c.IncomingHost, c.IncomingPort)
}

// OutgoingAddr returns host:port of the SMTP submission server
func (c MailAccountConfig) OutgoingAddr() string {
	return joinHostPort(c.OutgoingHost, c.OutgoingPort)
}

// Account is a webmail login bound to one mailbox configuration
type Account struct {
	ID          string            `json:"id"`
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	LoginHash   string            `json:"login_hash"`
	Mail        MailAccountConfig `json:"mail"`
	Credential  string            `json:"credential"` // encrypted mailbox password
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
	LastLoginAt time.Time         `json:"last_login_at,omitempty"`
}

// MailConfig returns the account's mailbox configuration with the stored credential attached.
func (a *Account) MailConfig() MailAccountConfig {
	cfg := a.Mail
	cfg.EncryptedCredential = a.Credential
	if cfg.Address == "" {
		cfg.Address = a.Email
	}
	return cfg
}
