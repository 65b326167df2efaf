package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ruteri/device-pki/interfaces"
)

// MultiBackend implements interfaces.KeystoreBackend by replicating the
// keystore document across several backends.
type MultiBackend struct {
	backends []interfaces.KeystoreBackend
	log      *slog.Logger
}

// NewMultiBackend creates a new replicated keystore backend.
func NewMultiBackend(backends []interfaces.KeystoreBackend, logger *slog.Logger) *MultiBackend {
	if logger == nil {
		logger = slog.Default()
	}

	return &MultiBackend{
		backends: backends,
		log:      logger,
	}
}

// Load returns the document from the first available backend that holds one.
// ErrKeystoreNotFound is returned only when every backend reported it.
func (m *MultiBackend) Load(ctx context.Context) ([]byte, error) {
	start := time.Now()
	var errs []error

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			m.log.Debug("Backend unavailable", slog.String("backend_name", backend.Name()))
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), interfaces.ErrBackendUnavailable))
			continue
		}

		data, err := backend.Load(ctx)
		if err == nil {
			m.log.Debug("Loaded keystore",
				slog.String("backend_name", backend.Name()),
				slog.Duration("duration", time.Since(start)))
			return data, nil
		}

		errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		m.log.Debug("Failed to load from backend",
			slog.String("backend_name", backend.Name()),
			"err", err)
	}

	if len(errs) > 0 && allNotFound(errs) {
		return nil, interfaces.ErrKeystoreNotFound
	}

	m.log.Error("All backends failed to load keystore",
		slog.Int("failed_backends", len(errs)),
		slog.Duration("duration", time.Since(start)))

	return nil, fmt.Errorf("all backends failed to load keystore: %w", errors.Join(errs...))
}

// Save writes the document to every backend, in reverse of the order Load
// reads them, and stops at the first failure. The first backend is thus
// written only after all others succeeded, so a failed Save never changes
// what the next Load returns.
func (m *MultiBackend) Save(ctx context.Context, data []byte) error {
	start := time.Now()

	for i := len(m.backends) - 1; i >= 0; i-- {
		backend := m.backends[i]
		if err := backend.Save(ctx, data); err != nil {
			m.log.Warn("Failed to store keystore to backend",
				slog.String("backend_name", backend.Name()),
				slog.Int("stored", len(m.backends)-1-i),
				"err", err)
			return fmt.Errorf("keystore stored to %d of %d backends: %s: %w", len(m.backends)-1-i, len(m.backends), backend.Name(), err)
		}
	}

	m.log.Debug("Stored keystore to all backends",
		slog.Int("backends", len(m.backends)),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks if every backend is available.
func (m *MultiBackend) Available(ctx context.Context) bool {
	if len(m.backends) == 0 {
		return false
	}
	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			return false
		}
	}
	return true
}

// Name returns the name of this backend
func (m *MultiBackend) Name() string {
	return "multi-storage"
}

// LocationURI returns the URI of this backend
func (m *MultiBackend) LocationURI() string {
	var locations []string
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}

	return "multi:[" + strings.Join(locations, ",") + "]"
}

func allNotFound(errs []error) bool {
	for _, err := range errs {
		if !errors.Is(err, interfaces.ErrKeystoreNotFound) {
			return false
		}
	}
	return true
}
