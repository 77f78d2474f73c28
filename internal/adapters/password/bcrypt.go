// Package password implements ports.PasswordHasher with bcrypt.
package password

import (
	"errors"
	"fmt"

	"github.com/shipnorth/portal-auth/internal/ports"
	"golang.org/x/crypto/bcrypt"
)

var _ ports.PasswordHasher = Bcrypt{}

// ErrEmptyPassword is returned when hashing an empty password.
var ErrEmptyPassword = errors.New("password is empty")

// Bcrypt hashes with the configured cost; zero means bcrypt.DefaultCost.
type Bcrypt struct {
	Cost int
}

// Hash hashes plaintext password using bcrypt.
func (b Bcrypt) Hash(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	cost := b.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("bcrypt: %w", err)
	}
	return string(hash), nil
}

// Verify compares plaintext password with stored hash.
func (Bcrypt) Verify(hash, password string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
