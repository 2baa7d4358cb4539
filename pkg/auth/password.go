package auth

import (
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// BcryptCost is the work factor for new hashes
const BcryptCost = 12

// dummyHash is compared against when an account does not exist so that the
// "no such user" path spends the same bcrypt time as a wrong password.
var (
	dummyHash     []byte
	dummyHashOnce sync.Once
)

func loadDummyHash() []byte {
	dummyHashOnce.Do(func() {
		secret := make([]byte, 32)
		_, _ = rand.Read(secret)
		hash, err := bcrypt.GenerateFromPassword(secret, BcryptCost)
		if err != nil {
			panic(fmt.Sprintf("failed to generate dummy hash: %v", err))
		}
		dummyHash = hash
	})
	return dummyHash
}

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", fmt.Errorf("password cannot be empty")
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), BcryptCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func ComparePassword(hashedPassword, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
}

// CompareDummy burns one bcrypt comparison and always reports a mismatch
func CompareDummy(password string) error {
	if err := bcrypt.CompareHashAndPassword(loadDummyHash(), []byte(password)); err != nil {
		return err
	}
	return bcrypt.ErrMismatchedHashAndPassword
}
