package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/device-pki/interfaces"
)

// Namespace is the JSON-RPC namespace of the root-of-trust API.
const Namespace = "rootOfTrust"

// RPCService exposes an interfaces.Ledger under the JSON-RPC methods Client
// calls. It lets a MemoryLedger stand in for a ledger node.
type RPCService struct {
	ledger interfaces.Ledger
}

// NewRPCServer returns a go-ethereum RPC server serving l.
// The returned server is also an http.Handler.
func NewRPCServer(l interfaces.Ledger) (*rpc.Server, error) {
	srv := rpc.NewServer()
	if err := srv.RegisterName(Namespace, &RPCService{ledger: l}); err != nil {
		return nil, err
	}
	return srv, nil
}

// IsRootCertificateValid is served as rootOfTrust_isRootCertificateValid.
func (s *RPCService) IsRootCertificateValid(ctx context.Context, root string) (bool, error) {
	return s.ledger.IsRootValid(ctx, interfaces.Address(root))
}

// IsChildCertificateValid is served as rootOfTrust_isChildCertificateValid.
func (s *RPCService) IsChildCertificateValid(ctx context.Context, root string, child string) (bool, error) {
	return s.ledger.IsChildValid(ctx, interfaces.Address(root), interfaces.Address(child))
}
