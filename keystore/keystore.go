package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
)

// document is the persisted form of a keystore.
type document struct {
	Seed         string                          `json:"seed"`
	Certificates []interfaces.EncodedCertificate `json:"certificates"`
}

// Keystore holds the device key and the certificates issued to it.
// Every change is written to the backend before it becomes visible.
type Keystore struct {
	mu           sync.RWMutex
	backend      interfaces.KeystoreBackend
	keypair      *cryptoutils.Keypair
	certificates []interfaces.EncodedCertificate
	log          *slog.Logger
}

// Open loads the keystore from backend. When the backend holds nothing yet a
// fresh seed is generated and persisted before Open returns.
//
// An existing document that cannot be parsed is an error and is never
// overwritten.
func Open(ctx context.Context, backend interfaces.KeystoreBackend, log *slog.Logger) (*Keystore, error) {
	data, err := backend.Load(ctx)
	switch {
	case errors.Is(err, interfaces.ErrKeystoreNotFound):
		return create(ctx, backend, log)
	case err != nil:
		return nil, fmt.Errorf("%w: could not load keystore from %s: %v", interfaces.ErrPersistence, backend.Name(), err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: corrupt keystore at %s: %v", interfaces.ErrPersistence, backend.LocationURI(), err)
	}

	keypair, err := cryptoutils.NewKeypairFromHexSeed(doc.Seed)
	if err != nil {
		return nil, fmt.Errorf("%w: corrupt keystore seed at %s: %v", interfaces.ErrPersistence, backend.LocationURI(), err)
	}

	ks := &Keystore{
		backend:      backend,
		keypair:      keypair,
		certificates: doc.Certificates,
		log:          log,
	}
	if ks.certificates == nil {
		ks.certificates = []interfaces.EncodedCertificate{}
	}

	log.Info("Loaded keystore",
		slog.String("address", keypair.Address().String()),
		slog.Int("certificates", len(ks.certificates)),
		slog.String("location", backend.LocationURI()))

	return ks, nil
}

func create(ctx context.Context, backend interfaces.KeystoreBackend, log *slog.Logger) (*Keystore, error) {
	keypair, err := cryptoutils.GenerateKeypair()
	if err != nil {
		return nil, fmt.Errorf("could not generate device key: %w", err)
	}

	ks := &Keystore{
		backend:      backend,
		keypair:      keypair,
		certificates: []interfaces.EncodedCertificate{},
		log:          log,
	}

	if err := ks.persist(ctx, ks.certificates); err != nil {
		return nil, err
	}

	log.Info("Created keystore",
		slog.String("address", keypair.Address().String()),
		slog.String("location", backend.LocationURI()))

	return ks, nil
}

// Address returns the device address.
func (k *Keystore) Address() interfaces.Address {
	return k.keypair.Address()
}

// Certificates returns a copy of the stored certificates in insertion order.
func (k *Keystore) Certificates() []interfaces.EncodedCertificate {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.certificates)
}

// HasCertificate reports whether at least one certificate is stored.
func (k *Keystore) HasCertificate() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return len(k.certificates) > 0
}

// Mode derives the device mode from the stored certificates.
func (k *Keystore) Mode() interfaces.Mode {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return interfaces.ModeFor(k.certificates)
}

// SignChallenge signs arbitrary bytes with the device key.
func (k *Keystore) SignChallenge(challenge []byte) []byte {
	return k.keypair.Sign(challenge)
}

// AppendCertificate persists the keystore with certificate appended and only
// then adds it to the in-memory list. On failure the keystore is unchanged.
func (k *Keystore) AppendCertificate(ctx context.Context, certificate interfaces.EncodedCertificate) error {
	k.mu.Lock()
	defer k.mu.Unlock()

	next := append(slices.Clone(k.certificates), certificate)
	if err := k.persist(ctx, next); err != nil {
		return err
	}
	k.certificates = next

	k.log.Debug("Stored certificate",
		slog.Int("certificates", len(next)),
		slog.String("location", k.backend.LocationURI()))

	return nil
}

// Location returns the URI of the backing store.
func (k *Keystore) Location() string {
	return k.backend.LocationURI()
}

func (k *Keystore) persist(ctx context.Context, certificates []interfaces.EncodedCertificate) error {
	data, err := json.Marshal(document{
		Seed:         cryptoutils.EncodeHex(k.keypair.Seed()),
		Certificates: certificates,
	})
	if err != nil {
		return fmt.Errorf("%w: could not encode keystore: %v", interfaces.ErrPersistence, err)
	}

	if err := k.backend.Save(ctx, data); err != nil {
		return fmt.Errorf("%w: could not save keystore to %s: %v", interfaces.ErrPersistence, k.backend.Name(), err)
	}
	return nil
}
