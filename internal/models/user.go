package models

import (
	"golang.org/x/crypto/bcrypt"
)

// Admin is the single operator allowed to broadcast notifications.
type Admin struct {
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	TOTPSecret   string `json:"-"`
}

// HashPassword generates bcrypt hash of the password
func HashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(bytes), err
}

// CheckPassword compares password with hash
func (a *Admin) CheckPassword(password string) bool {
	if a.PasswordHash == "" {
		return false
	}
	err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(password))
	return err == nil
}

// TOTPEnabled reports whether logins need a second factor.
func (a *Admin) TOTPEnabled() bool {
	return a.TOTPSecret != ""
}
