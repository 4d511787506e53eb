package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"mailbridge/models"
)

var (
	ErrAccountNotFound = errors.New("account not found")
	ErrAccountExists   = errors.New("an account with this email already exists")
)

// AccountStorage persists webmail accounts. Credentials are stored exactly as
// given, already encrypted by the vault.
type AccountStorage struct {
	db  *bbolt.DB
	now func() time.Time
}

// NewAccountStorage creates an account store on an open database.
func NewAccountStorage(db *bbolt.DB) *AccountStorage {
	return &AccountStorage{db: db, now: time.Now}
}

// Close closes the underlying database.
func (s *AccountStorage) Close() error {
	return s.db.Close()
}

func emailKey(email string) []byte {
	return []byte(strings.ToLower(strings.TrimSpace(email)))
}

// CreateAccount stores a new account. Emails are unique, case-insensitively.
func (s *AccountStorage) CreateAccount(account *models.Account) error {
	if account.Email == "" {
		return errors.New("account email is required")
	}
	if account.ID == "" {
		account.ID = uuid.New().String()
	}
	now := s.now()
	account.CreatedAt = now
	account.UpdatedAt = now

	return s.db.Update(func(tx *bbolt.Tx) error {
		index := tx.Bucket([]byte(accountEmailBucket))
		if index.Get(emailKey(account.Email)) != nil {
			return ErrAccountExists
		}
		if err := index.Put(emailKey(account.Email), []byte(account.ID)); err != nil {
			return err
		}
		return putAccount(tx, account)
	})
}

// GetAccount retrieves an account by ID.
func (s *AccountStorage) GetAccount(id string) (*models.Account, error) {
	var account *models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		account, err = getAccount(tx, id)
		return err
	})
	return account, err
}

// GetAccountByEmail retrieves an account by its login email.
func (s *AccountStorage) GetAccountByEmail(email string) (*models.Account, error) {
	var account *models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		id := tx.Bucket([]byte(accountEmailBucket)).Get(emailKey(email))
		if id == nil {
			return ErrAccountNotFound
		}
		var err error
		account, err = getAccount(tx, string(id))
		return err
	})
	return account, err
}

// UpdateAccount replaces a stored account, keeping its creation time and
// moving the email index when the email changed.
func (s *AccountStorage) UpdateAccount(account *models.Account) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		existing, err := getAccount(tx, account.ID)
		if err != nil {
			return err
		}

		index := tx.Bucket([]byte(accountEmailBucket))
		oldKey, newKey := emailKey(existing.Email), emailKey(account.Email)
		if string(oldKey) != string(newKey) {
			if index.Get(newKey) != nil {
				return ErrAccountExists
			}
			if err := index.Delete(oldKey); err != nil {
				return err
			}
			if err := index.Put(newKey, []byte(account.ID)); err != nil {
				return err
			}
		}

		account.CreatedAt = existing.CreatedAt
		account.UpdatedAt = s.now()
		return putAccount(tx, account)
	})
}

// UpdateLastLogin records a successful webmail login.
func (s *AccountStorage) UpdateLastLogin(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		account, err := getAccount(tx, id)
		if err != nil {
			return err
		}
		account.LastLoginAt = s.now()
		return putAccount(tx, account)
	})
}

// DeleteAccount removes an account and its email index entry.
func (s *AccountStorage) DeleteAccount(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		account, err := getAccount(tx, id)
		if err != nil {
			return err
		}
		if err := tx.Bucket([]byte(accountEmailBucket)).Delete(emailKey(account.Email)); err != nil {
			return err
		}
		return tx.Bucket([]byte(accountBucket)).Delete([]byte(id))
	})
}

// ListAccounts returns every stored account.
func (s *AccountStorage) ListAccounts() ([]*models.Account, error) {
	var accounts []*models.Account
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(accountBucket)).ForEach(func(k, v []byte) error {
			var account models.Account
			if err := json.Unmarshal(v, &account); err != nil {
				return fmt.Errorf("decode account %s: %w", k, err)
			}
			accounts = append(accounts, &account)
			return nil
		})
	})
	return accounts, err
}

// Ping reports whether the database can serve a read transaction.
func (s *AccountStorage) Ping() error {
	return s.db.View(func(tx *bbolt.Tx) error {
		if tx.Bucket([]byte(accountBucket)) == nil {
			return errors.New("accounts bucket missing")
		}
		return nil
	})
}

func getAccount(tx *bbolt.Tx, id string) (*models.Account, error) {
	data := tx.Bucket([]byte(accountBucket)).Get([]byte(id))
	if data == nil {
		return nil, ErrAccountNotFound
	}
	var account models.Account
	if err := json.Unmarshal(data, &account); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &account, nil
}

func putAccount(tx *bbolt.Tx, account *models.Account) error {
	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("encode account: %w", err)
	}
	return tx.Bucket([]byte(accountBucket)).Put([]byte(account.ID), data)
}
