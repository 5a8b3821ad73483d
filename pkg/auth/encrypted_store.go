package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"

	"bskycrawler/pkg/config"
)

// EnvPassphrase overrides the generated encryption passphrase
const EnvPassphrase = "BSKYCRAWLER_PASSPHRASE"

const (
	vaultVersion    = 2
	saltSize        = 32
	keySize         = 32
	kdfIterations   = 100000
	passphraseBytes = 32
)

// ErrVaultCorrupt is returned when an entry does not decrypt or does not belong to its slot
var ErrVaultCorrupt = errors.New("credential vault entry is corrupt or was encrypted with another passphrase")

// vaultFile is the on-disk layout. Each account is sealed on its own under a slot
// name derived from the identifier, so nothing in the file reveals which accounts it holds.
type vaultFile struct {
	Version  int               `json:"version"`
	Salt     string            `json:"salt"`
	Check    string            `json:"check"`
	Accounts map[string]string `json:"accounts"`
	Modified time.Time         `json:"modified"`
}

// EncryptedFileStore keeps Bluesky accounts in an AES-GCM vault keyed by a PBKDF2-derived key
type EncryptedFileStore struct {
	path       string
	passphrase string

	mu   sync.Mutex
	salt []byte
	key  []byte
}

// NewEncryptedFileStore opens (or prepares) the vault at path
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	passphrase, err := loadPassphrase(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Store seals account into its slot, replacing any earlier entry for the same identifier
func (e *EncryptedFileStore) Store(account *Account) error {
	if account == nil || account.Identifier == "" || account.AppPassword == "" {
		return ErrInvalidCredentials
	}
	if account.ServiceURL != "" {
		if err := config.ValidateServiceURL(account.ServiceURL); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vault, err := e.read()
	if err != nil {
		return err
	}

	stored := *account
	stored.Identifier = NormalizeIdentifier(account.Identifier)
	if stored.LastModified.IsZero() {
		stored.LastModified = time.Now()
	}

	slot := e.slot(stored.Identifier)
	sealed, err := e.seal(slot, &stored)
	if err != nil {
		return err
	}
	vault.Accounts[slot] = sealed
	return e.write(vault)
}

// Retrieve opens the slot for identifier
func (e *EncryptedFileStore) Retrieve(identifier string) (*Account, error) {
	if identifier == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vault, err := e.read()
	if err != nil {
		return nil, err
	}

	slot := e.slot(NormalizeIdentifier(identifier))
	sealed, ok := vault.Accounts[slot]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return e.open(slot, sealed)
}

// List opens every slot, newest first
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vault, err := e.read()
	if err != nil {
		return nil, err
	}

	accounts := make([]*Account, 0, len(vault.Accounts))
	for slot, sealed := range vault.Accounts {
		account, err := e.open(slot, sealed)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, account)
	}
	sortNewestFirst(accounts)
	return accounts, nil
}

// Delete drops the slot for identifier. The vault file is removed with its last account.
func (e *EncryptedFileStore) Delete(identifier string) error {
	if identifier == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	vault, err := e.read()
	if err != nil {
		return err
	}

	slot := e.slot(NormalizeIdentifier(identifier))
	if _, ok := vault.Accounts[slot]; !ok {
		return ErrCredentialsNotFound
	}
	delete(vault.Accounts, slot)

	if len(vault.Accounts) == 0 {
		if err := os.Remove(e.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		e.salt, e.key = nil, nil
		return nil
	}
	return e.write(vault)
}

func (e *EncryptedFileStore) Exists(identifier string) bool {
	account, err := e.Retrieve(identifier)
	return err == nil && account != nil
}

// read loads the vault and derives its key. A missing file is an empty vault with a fresh salt.
func (e *EncryptedFileStore) read() (*vaultFile, error) {
	content, err := os.ReadFile(e.path)
	if os.IsNotExist(err) {
		if e.salt == nil {
			salt := make([]byte, saltSize)
			if _, err := io.ReadFull(rand.Reader, salt); err != nil {
				return nil, fmt.Errorf("failed to generate salt: %w", err)
			}
			e.useSalt(salt)
		}
		return &vaultFile{Version: vaultVersion, Salt: base64.StdEncoding.EncodeToString(e.salt), Accounts: map[string]string{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read credential vault: %w", err)
	}

	var vault vaultFile
	if err := json.Unmarshal(content, &vault); err != nil {
		return nil, fmt.Errorf("failed to parse credential vault: %w", err)
	}
	if vault.Version != vaultVersion {
		return nil, fmt.Errorf("unsupported credential vault version %d", vault.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(vault.Salt)
	if err != nil || len(salt) != saltSize {
		return nil, fmt.Errorf("credential vault has an invalid salt")
	}
	if !hmac.Equal(salt, e.salt) {
		e.useSalt(salt)
	}
	if !hmac.Equal([]byte(vault.Check), []byte(e.check())) {
		return nil, ErrVaultCorrupt
	}
	if vault.Accounts == nil {
		vault.Accounts = map[string]string{}
	}
	return &vault, nil
}

func (e *EncryptedFileStore) useSalt(salt []byte) {
	e.salt = salt
	e.key = pbkdf2.Key([]byte(e.passphrase), salt, kdfIterations, keySize, sha256.New)
}

// write replaces the vault file with owner-only permissions
func (e *EncryptedFileStore) write(vault *vaultFile) error {
	vault.Version = vaultVersion
	vault.Check = e.check()
	vault.Modified = time.Now()
	content, err := json.MarshalIndent(vault, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode credential vault: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write credential vault: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace credential vault: %w", err)
	}
	return nil
}

// check proves the passphrase before any slot is looked up
func (e *EncryptedFileStore) check() string {
	return e.slot("\x00vault-check")
}

// slot names an account's entry without revealing the identifier
func (e *EncryptedFileStore) slot(identifier string) string {
	mac := hmac.New(sha256.New, e.key)
	mac.Write([]byte(identifier))
	return hex.EncodeToString(mac.Sum(nil))
}

// seal encrypts account with the slot name as additional data, binding the entry to its slot
func (e *EncryptedFileStore) seal(slot string, account *Account) (string, error) {
	plaintext, err := json.Marshal(account)
	if err != nil {
		return "", fmt.Errorf("failed to encode account: %w", err)
	}
	gcm, err := newGCM(e.key)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, plaintext, []byte(slot))), nil
}

func (e *EncryptedFileStore) open(slot, sealed string) (*Account, error) {
	raw, err := base64.StdEncoding.DecodeString(sealed)
	if err != nil {
		return nil, ErrVaultCorrupt
	}
	gcm, err := newGCM(e.key)
	if err != nil {
		return nil, err
	}
	if len(raw) < gcm.NonceSize() {
		return nil, ErrVaultCorrupt
	}
	plaintext, err := gcm.Open(nil, raw[:gcm.NonceSize()], raw[gcm.NonceSize():], []byte(slot))
	if err != nil {
		return nil, ErrVaultCorrupt
	}

	var account Account
	if err := json.Unmarshal(plaintext, &account); err != nil {
		return nil, ErrVaultCorrupt
	}
	return &account, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// loadPassphrase returns BSKYCRAWLER_PASSPHRASE, or the generated passphrase kept in dir/.passphrase
func loadPassphrase(dir string) (string, error) {
	if pass := os.Getenv(EnvPassphrase); pass != "" {
		return pass, nil
	}

	file := filepath.Join(dir, ".passphrase")
	if content, err := os.ReadFile(file); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, passphraseBytes)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(file, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}
