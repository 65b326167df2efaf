package interfaces

import (
	"context"
	"errors"
)

var (
	// ErrKeystoreNotFound is returned by a backend that holds no keystore yet.
	ErrKeystoreNotFound = errors.New("keystore not found")

	// ErrBackendUnavailable is returned when a storage backend is not accessible.
	// This could be due to network issues, authentication failures, or service outages.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrInvalidLocationURI is returned when a storage location URI is malformed or unsupported.
	// URIs must follow the format: [scheme]://[auth@]host[:port][/path][?params]
	ErrInvalidLocationURI = errors.New("invalid storage location URI")
)

// KeystoreBackend persists the single keystore document of a device.
// Every Save is a synchronous full rewrite of the document.
type KeystoreBackend interface {
	// Load returns the stored document, or ErrKeystoreNotFound.
	Load(ctx context.Context) ([]byte, error)

	// Save replaces the stored document.
	Save(ctx context.Context, data []byte) error

	// Available checks if the backend is accessible.
	Available(ctx context.Context) bool

	// Name returns identifier for logging.
	Name() string

	// LocationURI returns URI identifying this backend.
	LocationURI() string
}
