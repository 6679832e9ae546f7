// Package store persists small JSON values by (category, key).
//
// Writes are buffered until Save, so callers batch many Set calls into one
// durable write.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Store is a persistent key-value store of JSON values.
type Store interface {
	// Get returns the value for (category, key), if present.
	Get(category, key string) (json.RawMessage, bool, error)
	// Set stages a value. It is not durable until Save.
	Set(category, key string, value json.RawMessage) error
	// Save makes every staged value durable.
	Save() error
	Close() error
}

// Backends accepted by Open.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
	BackendMemory = "memory"
)

var ErrUnknownBackend = errors.New("unknown store backend")

// Open opens the store at path with the named backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case BackendSQLite:
		return OpenSQLite(path)
	case BackendJSON:
		return OpenJSONFile(path)
	case BackendMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
