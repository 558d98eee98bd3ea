package auth

import (
	"errors"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrBadCredentials   = errors.New("unknown operator or wrong password")
)

const (
	bcryptCost        = 12
	minPasswordLength = 8
)

// Operator is a statically configured service account
type Operator struct {
	Username     string
	PasswordHash string
	Role         string
}

// Registry authenticates operators against the configured account list
type Registry struct {
	operators map[string]Operator
}

func NewRegistry(operators []Operator) *Registry {
	byName := make(map[string]Operator, len(operators))
	for _, op := range operators {
		byName[op.Username] = op
	}
	return &Registry{operators: byName}
}

// Authenticate verifies a username/password pair and returns the operator.
// Unknown usernames and wrong passwords return the same error so the
// response does not leak which accounts exist.
func (r *Registry) Authenticate(username, password string) (*Operator, error) {
	op, ok := r.operators[username]
	if !ok || !CheckPassword(password, op.PasswordHash) {
		return nil, ErrBadCredentials
	}
	return &op, nil
}

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	if len(password) < minPasswordLength {
		return "", ErrPasswordTooShort
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", err
	}

	return string(hash), nil
}

// CheckPassword compares a password with its hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
