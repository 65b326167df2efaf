package ledger

import (
	"context"

	"github.com/ruteri/device-pki/interfaces"
	"github.com/stretchr/testify/mock"
)

// MockLedger mocks the interfaces.Ledger interface
type MockLedger struct {
	mock.Mock
}

// IsRootValid mocks the IsRootValid method
func (m *MockLedger) IsRootValid(ctx context.Context, signer interfaces.Address) (bool, error) {
	args := m.Called(ctx, signer)
	return args.Bool(0), args.Error(1)
}

// IsChildValid mocks the IsChildValid method
func (m *MockLedger) IsChildValid(ctx context.Context, root interfaces.Address, child interfaces.Address) (bool, error) {
	args := m.Called(ctx, root, child)
	return args.Bool(0), args.Error(1)
}
