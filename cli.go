package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"mailbridge/models"
	"mailbridge/storage"
	"mailbridge/utils"
	"mailbridge/vault"
)

// commands are the account administration subcommands, run as
// "mailbridge <name> [flags]".
var commands = map[string]func(args []string, out io.Writer) error{
	"adduser":   runAddUser,
	"listusers": runListUsers,
	"deluser":   runDeleteUser,
}

func openAccounts(path string) (*storage.AccountStorage, *vault.Vault, error) {
	cfg, v, err := loadConfig(path)
	if err != nil {
		return nil, nil, err
	}
	db, err := storage.InitDB(cfg.Storage.DataDir)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewAccountStorage(db), v, nil
}

// runAddUser provisions a webmail account. Passwords may come from the
// environment so they stay out of shell history.
func runAddUser(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("adduser", flag.ContinueOnError)
	var (
		path     = fs.String("config", "config.toml", "Path to the TOML configuration file.")
		email    = fs.String("email", "", "Webmail login and mailbox address.")
		name     = fs.String("name", "", "Display name.")
		password = fs.String("password", os.Getenv("MAILBRIDGE_LOGIN_PASSWORD"), "Webmail login password.")
		mailPass = fs.String("mail-password", os.Getenv("MAILBRIDGE_MAIL_PASSWORD"), "Mailbox (IMAP/SMTP) password.")
		imapHost = fs.String("imap-host", "", "IMAP server host.")
		imapPort = fs.Int("imap-port", 993, "IMAP server port.")
		smtpHost = fs.String("smtp-host", "", "SMTP submission host.")
		smtpPort = fs.Int("smtp-port", 587, "SMTP submission port.")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" || *mailPass == "" || *imapHost == "" || *smtpHost == "" {
		fs.Usage()
		return errors.New("email, password, mail-password, imap-host and smtp-host are required")
	}

	accounts, v, err := openAccounts(*path)
	if err != nil {
		return err
	}
	defer accounts.Close()

	hash, err := vault.HashLoginSecret(*password)
	if err != nil {
		return err
	}
	credential, err := v.Encrypt(*mailPass)
	if err != nil {
		return err
	}

	account := &models.Account{
		Email:       *email,
		DisplayName: *name,
		LoginHash:   hash,
		Credential:  credential,
		Mail: models.MailAccountConfig{
			IncomingHost: *imapHost,
			IncomingPort: *imapPort,
			OutgoingHost: *smtpHost,
			OutgoingPort: *smtpPort,
			Address:      *email,
		},
	}
	if err := accounts.CreateAccount(account); err != nil {
		return err
	}

	utils.Log.Info("created account %s for %s", account.ID, utils.MaskAddress(account.Email))
	fmt.Fprintln(out, account.ID)
	return nil
}

// runListUsers prints one line per account. Credentials are never shown.
func runListUsers(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("listusers", flag.ContinueOnError)
	path := fs.String("config", "config.toml", "Path to the TOML configuration file.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	accounts, _, err := openAccounts(*path)
	if err != nil {
		return err
	}
	defer accounts.Close()

	list, err := accounts.ListAccounts()
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tEMAIL\tIMAP\tSMTP\tLAST LOGIN")
	for _, a := range list {
		last := "never"
		if !a.LastLoginAt.IsZero() {
			last = a.LastLoginAt.UTC().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", a.ID, a.Email, a.Mail.IncomingAddr(), a.Mail.OutgoingAddr(), last)
	}
	return w.Flush()
}

// runDeleteUser removes an account, looked up by id or by email.
func runDeleteUser(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("deluser", flag.ContinueOnError)
	var (
		path  = fs.String("config", "config.toml", "Path to the TOML configuration file.")
		id    = fs.String("id", "", "Account id.")
		email = fs.String("email", "", "Webmail login address.")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*id == "") == (*email == "") {
		fs.Usage()
		return errors.New("exactly one of id and email is required")
	}

	accounts, _, err := openAccounts(*path)
	if err != nil {
		return err
	}
	defer accounts.Close()

	if *email != "" {
		account, err := accounts.GetAccountByEmail(*email)
		if err != nil {
			return err
		}
		*id = account.ID
	}
	if err := accounts.DeleteAccount(*id); err != nil {
		return err
	}

	utils.Log.Info("deleted account %s", *id)
	fmt.Fprintln(out, *id)
	return nil
}
