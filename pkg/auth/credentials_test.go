package auth

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCredentialManager(t *testing.T) {
	store := newMemoryStore()
	manager := NewManagerWithStores(store)

	account := &Account{
		Identifier:  "@Alice.bsky.social",
		AppPassword: "abcd-efgh-ijkl-mnop",
		ServiceURL:  "https://bsky.social",
	}
	require.NoError(t, manager.Store(account))
	assert.Equal(t, "alice.bsky.social", account.Identifier)
	assert.False(t, account.LastModified.IsZero())

	retrieved, err := manager.Retrieve("ALICE.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, "abcd-efgh-ijkl-mnop", retrieved.AppPassword)
	assert.Equal(t, "https://bsky.social", retrieved.ServiceURL)

	accounts, err := manager.List()
	require.NoError(t, err)
	require.Len(t, accounts, 1)

	require.NoError(t, manager.Delete("alice.bsky.social"))
	_, err = manager.Retrieve("alice.bsky.social")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	assert.Zero(t, store.count())

	err = manager.Delete("alice.bsky.social")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
}

func TestManagerStoreValidation(t *testing.T) {
	manager := NewManagerWithStores(newMemoryStore())
	assert.Error(t, manager.Store(nil))
	assert.Error(t, manager.Store(&Account{AppPassword: "x"}))
	assert.Error(t, manager.Store(&Account{Identifier: "alice.test"}))
}

func TestManagerFallsBackToNextStore(t *testing.T) {
	broken := newMemoryStore()
	broken.storeErr = errors.New("keychain locked")
	working := newMemoryStore()
	manager := NewManagerWithStores(broken, working)

	require.NoError(t, manager.Store(&Account{Identifier: "alice.test", AppPassword: "p"}))
	assert.Zero(t, broken.count())
	assert.Equal(t, 1, working.count())

	only := NewManagerWithStores(broken)
	err := only.Store(&Account{Identifier: "alice.test", AppPassword: "p"})
	assert.ErrorContains(t, err, "keychain locked")
}

func TestListMergesStoresNewestFirst(t *testing.T) {
	a := newMemoryStore()
	b := newMemoryStore()
	now := time.Now()

	require.NoError(t, a.Store(&Account{Identifier: "old.test", AppPassword: "1", LastModified: now.Add(-time.Hour)}))
	require.NoError(t, a.Store(&Account{Identifier: "dup.test", AppPassword: "stale", LastModified: now.Add(-2 * time.Hour)}))
	require.NoError(t, b.Store(&Account{Identifier: "dup.test", AppPassword: "fresh", LastModified: now}))

	accounts, err := NewManagerWithStores(a, b).List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "dup.test", accounts[0].Identifier)
	assert.Equal(t, "fresh", accounts[0].AppPassword)
	assert.Equal(t, "old.test", accounts[1].Identifier)
}

func TestRetrieveDefaultPrefersEnvironment(t *testing.T) {
	t.Setenv(EnvIdentifier, "")
	t.Setenv(EnvAppPassword, "")
	t.Setenv(EnvLegacyIdentifier, "env.bsky.social")
	t.Setenv(EnvLegacyAppPassword, "env-pass")

	store := newMemoryStore()
	require.NoError(t, store.Store(&Account{Identifier: "saved.test", AppPassword: "p", LastModified: time.Now()}))
	manager := NewManagerWithStores(store, NewEnvironmentStore())

	account, err := manager.RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "env.bsky.social", account.Identifier)

	t.Setenv(EnvLegacyIdentifier, "")
	account, err = manager.RetrieveDefault()
	require.NoError(t, err)
	assert.Equal(t, "saved.test", account.Identifier)
}

func TestEnvironmentStore(t *testing.T) {
	t.Setenv(EnvIdentifier, "Alice.bsky.social")
	t.Setenv(EnvAppPassword, "env-pass")
	t.Setenv(EnvLegacyIdentifier, "ignored.test")
	t.Setenv(EnvLegacyAppPassword, "ignored")

	store := NewEnvironmentStore()

	account, err := store.Retrieve("")
	require.NoError(t, err)
	assert.Equal(t, "alice.bsky.social", account.Identifier)
	assert.Equal(t, "env-pass", account.AppPassword)

	assert.True(t, store.Exists("alice.bsky.social"))
	assert.False(t, store.Exists("bob.test"))

	assert.ErrorIs(t, store.Store(&Account{}), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("alice.bsky.social"), ErrStoreUnavailable)

	t.Setenv(EnvAppPassword, "")
	t.Setenv(EnvLegacyAppPassword, "")
	_, err = store.Retrieve("")
	assert.ErrorIs(t, err, ErrCredentialsNotFound)
	accounts, err := store.List()
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestEncryptedFileStore(t *testing.T) {
	t.Setenv(EnvPassphrase, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	account := &Account{Identifier: "alice.bsky.social", AppPassword: "abcd-efgh-ijkl-mnop", DID: "did:plc:alice"}
	require.NoError(t, store.Store(account))
	require.NoError(t, store.Store(&Account{Identifier: "bob.test", AppPassword: "wxyz-wxyz-wxyz-wxyz"}))

	retrieved, err := store.Retrieve("alice.bsky.social")
	require.NoError(t, err)
	assert.Equal(t, account.AppPassword, retrieved.AppPassword)
	assert.Equal(t, "did:plc:alice", retrieved.DID)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(content, []byte("abcd-efgh-ijkl-mnop")), "file contains plaintext app password")
	assert.False(t, bytes.Contains(content, []byte("alice.bsky.social")), "file contains plaintext identifier")

	// A second store with the same passphrase reads the same file
	reopened, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	accounts, err := reopened.List()
	require.NoError(t, err)
	assert.Len(t, accounts, 2)

	require.NoError(t, reopened.Delete("alice.bsky.social"))
	require.NoError(t, reopened.Delete("bob.test"))
	assert.NoFileExists(t, path)
	assert.ErrorIs(t, reopened.Delete("bob.test"), ErrCredentialsNotFound)
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")

	t.Setenv(EnvPassphrase, "first")
	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Account{Identifier: "alice.test", AppPassword: "p"}))

	t.Setenv(EnvPassphrase, "second")
	other, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	_, err = other.Retrieve("alice.test")
	assert.ErrorIs(t, err, ErrVaultCorrupt)
	assert.NotErrorIs(t, err, ErrCredentialsNotFound)
}

func TestEncryptedFileStoreBindsEntriesToSlots(t *testing.T) {
	t.Setenv(EnvPassphrase, "test_passphrase_123")
	path := filepath.Join(t.TempDir(), "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)
	require.NoError(t, store.Store(&Account{Identifier: "alice.test", AppPassword: "aaaa-aaaa-aaaa-aaaa"}))
	require.NoError(t, store.Store(&Account{Identifier: "bob.test", AppPassword: "bbbb-bbbb-bbbb-bbbb"}))

	// Swapping two sealed entries must not hand bob's password out under alice's name
	content, err := os.ReadFile(path)
	require.NoError(t, err)
	var vault vaultFile
	require.NoError(t, json.Unmarshal(content, &vault))
	require.Len(t, vault.Accounts, 2)
	var slots []string
	for slot := range vault.Accounts {
		slots = append(slots, slot)
	}
	vault.Accounts[slots[0]], vault.Accounts[slots[1]] = vault.Accounts[slots[1]], vault.Accounts[slots[0]]
	content, err = json.Marshal(vault)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, content, 0600))

	_, err = store.Retrieve("alice.test")
	assert.ErrorIs(t, err, ErrVaultCorrupt)
	_, err = store.List()
	assert.ErrorIs(t, err, ErrVaultCorrupt)
}

func TestEncryptedFileStoreAccountFields(t *testing.T) {
	t.Setenv(EnvPassphrase, "test_passphrase_123")
	dir := t.TempDir()
	path := filepath.Join(dir, "credentials.enc")

	store, err := NewEncryptedFileStore(path)
	require.NoError(t, err)

	err = store.Store(&Account{Identifier: "alice.test", AppPassword: "p", ServiceURL: "pds.example"})
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.NoFileExists(t, path)

	require.NoError(t, store.Store(&Account{
		Identifier:  "@Alice.Test",
		AppPassword: "abcd-efgh-ijkl-mnop",
		ServiceURL:  "https://pds.example",
		Handle:      "alice.test",
		DID:         "did:plc:alice",
	}))

	account, err := store.Retrieve("alice.test")
	require.NoError(t, err)
	assert.Equal(t, "alice.test", account.Identifier)
	assert.Equal(t, "https://pds.example", account.ServiceURL)
	assert.Equal(t, "did:plc:alice", account.DID)
	assert.False(t, account.LastModified.IsZero())
	assert.True(t, store.Exists("ALICE.TEST"))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestEncryptedFileStoreGeneratesPassphrase(t *testing.T) {
	t.Setenv(EnvPassphrase, "")
	dir := t.TempDir()

	store, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	require.NoError(t, store.Store(&Account{Identifier: "alice.test", AppPassword: "p"}))

	info, err := os.Stat(filepath.Join(dir, ".passphrase"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	again, err := NewEncryptedFileStore(filepath.Join(dir, "credentials.enc"))
	require.NoError(t, err)
	assert.True(t, again.Exists("alice.test"))
}

func TestSanitizeAccount(t *testing.T) {
	account := &Account{Identifier: "alice.test", AppPassword: "abcd-efgh-ijkl-mnop", Handle: "alice.test"}
	sanitized := SanitizeAccount(account)

	assert.Equal(t, "abcd...mnop", sanitized.AppPassword)
	assert.Equal(t, "alice.test", sanitized.Identifier)
	assert.Equal(t, "abcd-efgh-ijkl-mnop", account.AppPassword, "original is untouched")
	assert.Equal(t, "********", MaskString("short"))
	assert.Nil(t, SanitizeAccount(nil))
}

func TestAppPasswordShape(t *testing.T) {
	assert.True(t, LooksLikeAppPassword("abcd-efgh-ijkl-mnop"))
	assert.True(t, LooksLikeAppPassword("a1b2-c3d4-e5f6-g7h8"))
	assert.False(t, LooksLikeAppPassword("my real password"))
	assert.False(t, LooksLikeAppPassword("ABCD-EFGH-IJKL-MNOP"))
}

func TestShowAppPasswordGuide(t *testing.T) {
	var buf bytes.Buffer
	ShowAppPasswordGuide(&buf)
	assert.Contains(t, buf.String(), "App passwords")
	assert.Contains(t, buf.String(), "xxxx-xxxx-xxxx-xxxx")

	buf.Reset()
	ShowQuickGuide(&buf)
	assert.Contains(t, buf.String(), "help")
}
