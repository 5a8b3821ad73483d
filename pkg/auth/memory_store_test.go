package auth

import (
	"sync"
)

// memoryStore is an in-memory CredentialStore with error injection
type memoryStore struct {
	accounts map[string]*Account
	mu       sync.RWMutex

	storeErr error
	listErr  error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{accounts: make(map[string]*Account)}
}

func (m *memoryStore) Store(account *Account) error {
	if m.storeErr != nil {
		return m.storeErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if account == nil || account.Identifier == "" {
		return ErrInvalidCredentials
	}
	accountCopy := *account
	m.accounts[account.Identifier] = &accountCopy
	return nil
}

func (m *memoryStore) Retrieve(identifier string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[identifier]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	accountCopy := *account
	return &accountCopy, nil
}

func (m *memoryStore) List() ([]*Account, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Account
	for _, a := range m.accounts {
		accountCopy := *a
		out = append(out, &accountCopy)
	}
	return out, nil
}

func (m *memoryStore) Delete(identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[identifier]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, identifier)
	return nil
}

func (m *memoryStore) Exists(identifier string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[identifier]
	return ok
}

func (m *memoryStore) count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}
