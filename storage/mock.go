package storage

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockKeystoreBackend mocks the interfaces.KeystoreBackend interface
type MockKeystoreBackend struct {
	mock.Mock
	BackendName string
}

// Load mocks the Load method
func (m *MockKeystoreBackend) Load(ctx context.Context) ([]byte, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]byte), args.Error(1)
}

// Save mocks the Save method
func (m *MockKeystoreBackend) Save(ctx context.Context, data []byte) error {
	args := m.Called(ctx, data)
	return args.Error(0)
}

// Available mocks the Available method
func (m *MockKeystoreBackend) Available(ctx context.Context) bool {
	args := m.Called(ctx)
	return args.Bool(0)
}

// Name returns the configured backend name
func (m *MockKeystoreBackend) Name() string {
	return m.BackendName
}

// LocationURI returns a fixed mock URI
func (m *MockKeystoreBackend) LocationURI() string {
	return "mock:" + m.BackendName
}
