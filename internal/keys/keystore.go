package keys

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"
)

const (
	keystoreFile   = "keystore.json"
	deviceKeyFile  = "device.key"
	saltLen        = 32
	hkdfInfo       = "daybook-keystore-wrap"

	// Argon2id parameters for passphrase-derived wrap keys.
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

// wrappedKey is one user's content key sealed for storage at rest.
type wrappedKey struct {
	Salt   []byte `json:"salt"`
	Nonce  []byte `json:"nonce"`
	Sealed []byte `json:"sealed"`
}

// Keystore caches fetched per-user content keys on disk so subsequent
// sessions skip the key-issuance round trip. Keys are wrapped before they
// touch disk: with a passphrase-derived key (Argon2id) when one is
// configured, otherwise with a key derived from a random device secret.
type Keystore struct {
	dir        string
	passphrase string
}

// NewKeystore opens (creating if necessary) the keystore under dir.
// passphrase may be empty.
func NewKeystore(dir, passphrase string) (*Keystore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create keystore dir: %w", err)
	}
	return &Keystore{dir: dir, passphrase: passphrase}, nil
}

// Load returns the cached key for a user, or nil when none is stored.
func (k *Keystore) Load(userID string) ([]byte, error) {
	store, err := k.read()
	if err != nil {
		return nil, err
	}
	w, ok := store[userID]
	if !ok {
		return nil, nil
	}

	wrapKey, err := k.wrapKey(w.Salt)
	if err != nil {
		return nil, err
	}
	key, err := DecryptContent(wrapKey, w.Nonce, w.Sealed)
	if err != nil {
		return nil, fmt.Errorf("unwrap key for %s: %w", userID, err)
	}
	return key, nil
}

// Save wraps and persists a user's key.
func (k *Keystore) Save(userID string, key []byte) error {
	store, err := k.read()
	if err != nil {
		return err
	}

	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return fmt.Errorf("random salt: %w", err)
	}
	wrapKey, err := k.wrapKey(salt)
	if err != nil {
		return err
	}
	sealed, nonce, err := EncryptContent(wrapKey, key)
	if err != nil {
		return fmt.Errorf("wrap key for %s: %w", userID, err)
	}

	store[userID] = wrappedKey{Salt: salt, Nonce: nonce, Sealed: sealed}
	return k.write(store)
}

// Delete drops a user's cached key (forced sign-out).
func (k *Keystore) Delete(userID string) error {
	store, err := k.read()
	if err != nil {
		return err
	}
	if _, ok := store[userID]; !ok {
		return nil
	}
	delete(store, userID)
	return k.write(store)
}

// wrapKey derives the at-rest wrapping key for a given salt: Argon2id over
// the passphrase when set, HKDF-SHA256 over the device secret otherwise.
func (k *Keystore) wrapKey(salt []byte) ([]byte, error) {
	if k.passphrase != "" {
		return argon2.IDKey([]byte(k.passphrase), salt, argonTime, argonMemory, argonThreads, keyLen), nil
	}

	secret, err := k.deviceSecret()
	if err != nil {
		return nil, err
	}
	r := hkdf.New(sha256.New, secret, salt, []byte(hkdfInfo))
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return key, nil
}

// deviceSecret reads the random per-device secret, generating it on first use.
func (k *Keystore) deviceSecret() ([]byte, error) {
	path := filepath.Join(k.dir, deviceKeyFile)

	secret, err := os.ReadFile(path)
	if err == nil && len(secret) == keyLen {
		return secret, nil
	}
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read device secret: %w", err)
	}

	secret = make([]byte, keyLen)
	if _, err := io.ReadFull(rand.Reader, secret); err != nil {
		return nil, fmt.Errorf("generate device secret: %w", err)
	}
	if err := os.WriteFile(path, secret, 0600); err != nil {
		return nil, fmt.Errorf("write device secret: %w", err)
	}
	return secret, nil
}

func (k *Keystore) read() (map[string]wrappedKey, error) {
	data, err := os.ReadFile(filepath.Join(k.dir, keystoreFile))
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]wrappedKey{}, nil
		}
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	var store map[string]wrappedKey
	if err := json.Unmarshal(data, &store); err != nil {
		return nil, fmt.Errorf("parse keystore: %w", err)
	}
	return store, nil
}

// write persists the keystore atomically (temp file + rename, 0600).
func (k *Keystore) write(store map[string]wrappedKey) error {
	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(k.dir, "keystore-*.json.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, filepath.Join(k.dir, keystoreFile))
}
