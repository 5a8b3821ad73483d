package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"sort"
	"strings"
	"time"
)

// Account is a saved Bluesky login. AppPassword is an app password, never the account password.
type Account struct {
	Identifier   string    `json:"identifier"`
	AppPassword  string    `json:"app_password"`
	ServiceURL   string    `json:"service_url,omitempty"`
	Handle       string    `json:"handle,omitempty"`
	DID          string    `json:"did,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific identifier
	Retrieve(identifier string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific identifier
	Delete(identifier string) error

	// Exists checks if credentials exist for an identifier
	Exists(identifier string) bool
}

// appPasswordPattern matches the xxxx-xxxx-xxxx-xxxx form Bluesky generates
var appPasswordPattern = regexp.MustCompile(`^[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}-[a-z0-9]{4}$`)

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager: system keychain first, then an encrypted
// file in the config directory, then the environment.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	keyringStore, err := NewKeyringStore()
	if err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := getConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a Manager over the given stores, tried in order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// NormalizeIdentifier lowercases handles and strips a leading @. DIDs and emails are kept as typed apart from case.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(identifier), "@"))
}

// LooksLikeAppPassword reports whether s has the shape of a generated app password
func LooksLikeAppPassword(s string) bool {
	return appPasswordPattern.MatchString(s)
}

// Store saves credentials using the first available store
func (m *Manager) Store(account *Account) error {
	if account == nil || account.Identifier == "" {
		return errors.New("identifier is required")
	}
	if account.AppPassword == "" {
		return errors.New("app password is required")
	}

	account.Identifier = NormalizeIdentifier(account.Identifier)
	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(identifier string) (*Account, error) {
	identifier = NormalizeIdentifier(identifier)
	for _, store := range m.stores {
		if account, err := store.Retrieve(identifier); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrCredentialsNotFound, identifier)
}

// RetrieveDefault returns the environment account if set, otherwise the most recently saved one
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if envStore, ok := store.(*EnvironmentStore); ok {
			if account, err := envStore.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}

	return nil, ErrCredentialsNotFound
}

// List returns all stored accounts from all stores, most recently modified first
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if existing, ok := accountMap[account.Identifier]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Identifier] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sortNewestFirst(result)

	return result, nil
}

// sortNewestFirst orders accounts by LastModified, newest first, then by identifier
func sortNewestFirst(accounts []*Account) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].LastModified.Equal(accounts[j].LastModified) {
			return accounts[i].Identifier < accounts[j].Identifier
		}
		return accounts[i].LastModified.After(accounts[j].LastModified)
	})
}

// Delete removes credentials from all stores
func (m *Manager) Delete(identifier string) error {
	identifier = NormalizeIdentifier(identifier)
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(identifier); err == nil {
			deleted = true
		} else {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil && !errors.Is(lastErr, ErrCredentialsNotFound) && !errors.Is(lastErr, ErrStoreUnavailable) {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w: %s", ErrCredentialsNotFound, identifier)
	}

	return nil
}

// DeleteAll removes all stored credentials
func (m *Manager) DeleteAll() error {
	accounts, err := m.List()
	if err != nil {
		return err
	}

	for _, account := range accounts {
		_ = m.Delete(account.Identifier)
	}

	return nil
}

// getConfigDir returns the configuration directory path
func getConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "bskycrawler")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "bskycrawler")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "bskycrawler")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "bskycrawler")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount creates a copy of the account with the app password masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	sanitized := *account
	sanitized.AppPassword = MaskString(account.AppPassword)
	return &sanitized
}

// MaskString masks all but the first 4 and last 4 characters of a string
func MaskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
