package vault

import (
	"crypto/rand"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize         = 32
	pbkdf2Iterations = 100000
	pbkdf2KeyLen     = 64
)

// HashLoginSecret derives a salted PBKDF2-SHA512 hash of the webmail login secret,
// encoded as "salt:hash" in hex.
func HashLoginSecret(secret string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	hash := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
	return fmt.Sprintf("%s:%s", hex.EncodeToString(salt), hex.EncodeToString(hash)), nil
}

// VerifyLoginSecret reports whether secret matches stored. Hashes written by older
// deployments with bcrypt ("$2a$...") are accepted as well.
func VerifyLoginSecret(secret, stored string) bool {
	if strings.HasPrefix(stored, "$2") {
		return bcrypt.CompareHashAndPassword([]byte(stored), []byte(secret)) == nil
	}

	saltHex, hashHex, ok := strings.Cut(stored, ":")
	if !ok {
		return false
	}

	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return false
	}
	want, err := hex.DecodeString(hashHex)
	if err != nil || len(want) != pbkdf2KeyLen {
		return false
	}

	got := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, pbkdf2KeyLen, sha512.New)
	return subtle.ConstantTimeCompare(got, want) == 1
}
