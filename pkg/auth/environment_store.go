package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore. The BLUESKY_ pair is checked when the
// prefixed pair is unset.
const (
	EnvIdentifier        = "BSKYCRAWLER_IDENTIFIER"
	EnvAppPassword       = "BSKYCRAWLER_APP_PASSWORD"
	EnvLegacyIdentifier  = "BLUESKY_IDENTIFIER"
	EnvLegacyAppPassword = "BLUESKY_APP_PASSWORD"
)

// EnvironmentStore implements CredentialStore using environment variables. It is read-only.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment account. An empty identifier matches it; any other must equal it.
func (e *EnvironmentStore) Retrieve(identifier string) (*Account, error) {
	id, password := e.lookup()
	if id == "" || password == "" {
		return nil, ErrCredentialsNotFound
	}
	id = NormalizeIdentifier(id)
	if identifier != "" && NormalizeIdentifier(identifier) != id {
		return nil, ErrCredentialsNotFound
	}

	return &Account{
		Identifier:   id,
		AppPassword:  password,
		LastModified: time.Time{},
	}, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(identifier string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist
func (e *EnvironmentStore) Exists(identifier string) bool {
	_, err := e.Retrieve(identifier)
	return err == nil
}

func (e *EnvironmentStore) lookup() (string, string) {
	id := os.Getenv(EnvIdentifier)
	password := os.Getenv(EnvAppPassword)
	if id == "" {
		id = os.Getenv(EnvLegacyIdentifier)
	}
	if password == "" {
		password = os.Getenv(EnvLegacyAppPassword)
	}
	return id, password
}
