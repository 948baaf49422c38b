package auth

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Declaration describes how a provider issues bearer tokens.
type Declaration struct {
	Provider  string
	LoginURL  string
	TokenURL  string
	StatePath string
}

// Validate checks the declaration is usable.
func (d Declaration) Validate() error {
	if d.Provider == "" {
		return fmt.Errorf("provider is required")
	}
	if d.LoginURL == "" {
		return fmt.Errorf("loginURL is required")
	}
	if d.TokenURL == "" {
		return fmt.Errorf("tokenURL is required")
	}
	if d.StatePath == "" {
		return fmt.Errorf("statePath is required")
	}
	if !filepath.IsAbs(d.StatePath) {
		return fmt.Errorf("statePath must be absolute")
	}
	return nil
}

// Credentials are the account login used when no refresh token works.
type Credentials struct {
	Email    string
	Password string
}

// LoadCredentials reads the password from a secret file when one is configured.
func LoadCredentials(email, passwordFile string) (Credentials, error) {
	creds := Credentials{Email: strings.TrimSpace(email)}
	if creds.Email == "" {
		return Credentials{}, fmt.Errorf("email is required")
	}
	if passwordFile == "" {
		return creds, nil
	}
	password, err := ReadSecretFile(passwordFile)
	if err != nil {
		return Credentials{}, fmt.Errorf("read password: %w", err)
	}
	creds.Password = password
	return creds, nil
}
