package storage

import (
	"fmt"
)

var factoryFuncs = map[string]func(string) (StorageInterface, error){}

// RegisterFactory registers a backend constructor under a storage type name.
// Backends register themselves from an init func.
func RegisterFactory(storageType string, fn func(string) (StorageInterface, error)) {
	factoryFuncs[storageType] = fn
}

// New builds the configured backend. Path semantics are backend-specific
// (file path for sqlite).
func New(storageType, path string) (StorageInterface, error) {
	if storageType == "" {
		storageType = "sqlite"
	}

	fn, exists := factoryFuncs[storageType]
	if !exists {
		return nil, fmt.Errorf("unsupported storage type: %s", storageType)
	}

	return fn(path)
}
