package keys

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrKeyUnavailable means no content key could be acquired from any source.
// Sync passes that need content must abort on it, never swallow it.
var ErrKeyUnavailable = errors.New("content key unavailable")

// Issuer fetches a user's key from the remote issuance endpoint.
type Issuer interface {
	FetchUserKey(ctx context.Context, userID string) ([]byte, error)
}

// Manager resolves per-user content keys: in-memory cache, then the local
// keystore, then the remote issuance endpoint. A key fetched remotely is
// persisted to the keystore and held in memory for the process lifetime.
type Manager struct {
	store  *Keystore
	issuer Issuer

	mu   sync.Mutex
	keys map[string][]byte
}

// NewManager creates a key manager over a keystore and an issuance client.
func NewManager(store *Keystore, issuer Issuer) *Manager {
	return &Manager{
		store:  store,
		issuer: issuer,
		keys:   map[string][]byte{},
	}
}

// Get resolves the content key for a user.
func (m *Manager) Get(ctx context.Context, userID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if key, ok := m.keys[userID]; ok {
		return key, nil
	}

	key, err := m.store.Load(userID)
	if err != nil {
		// A corrupt keystore entry should not block sync; fall through
		// to re-issuance.
		slog.Warn("keystore load failed", "user", userID, "err", err)
	}
	if len(key) == keyLen {
		m.keys[userID] = key
		return key, nil
	}

	key, err = m.issuer.FetchUserKey(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyUnavailable, err)
	}
	if len(key) != keyLen {
		return nil, fmt.Errorf("%w: issued key has %d bytes, want %d", ErrKeyUnavailable, len(key), keyLen)
	}

	if err := m.store.Save(userID, key); err != nil {
		slog.Warn("keystore save failed", "user", userID, "err", err)
	}
	m.keys[userID] = key
	return key, nil
}

// Forget drops a user's key from memory and the keystore (forced sign-out).
func (m *Manager) Forget(userID string) error {
	m.mu.Lock()
	delete(m.keys, userID)
	m.mu.Unlock()
	return m.store.Delete(userID)
}
