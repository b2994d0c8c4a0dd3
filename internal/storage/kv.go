// Package storage persists server records and OAuth artifacts behind an
// opaque key/value boundary.
package storage

// KV is the persistence boundary: a flat key/value store of JSON blobs.
// Implementations must tolerate deletes of missing keys.
type KV interface {
	// Get returns the stored value and whether the key exists.
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Close() error
}
