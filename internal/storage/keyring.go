package storage

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// ServiceName identifies this application's entries in the OS keyring.
const ServiceName = "alpaca-connect"

// KeyringKV implements KV on the OS keyring (Keychain, Secret Service,
// WinCred). Records live in per-key keyring entries, so tokens never touch
// disk in plaintext.
type KeyringKV struct {
	serviceName string
}

// NewKeyringKV creates a keyring-backed store.
func NewKeyringKV() *KeyringKV {
	return &KeyringKV{serviceName: ServiceName}
}

// Get returns the stored value and whether the key exists.
func (k *KeyringKV) Get(key string) ([]byte, bool, error) {
	secret, err := keyring.Get(k.serviceName, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s from keyring: %w", key, err)
	}
	return []byte(secret), true, nil
}

// Set stores the value under key.
func (k *KeyringKV) Set(key string, value []byte) error {
	if err := keyring.Set(k.serviceName, key, string(value)); err != nil {
		return fmt.Errorf("failed to store %s in keyring: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (k *KeyringKV) Delete(key string) error {
	err := keyring.Delete(k.serviceName, key)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete %s from keyring: %w", key, err)
	}
	return nil
}

// Close is a no-op; the keyring holds no open handle.
func (k *KeyringKV) Close() error {
	return nil
}
