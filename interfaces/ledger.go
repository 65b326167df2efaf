package interfaces

import "context"

// Ledger is the distributed trust registry recording which signers are valid
// and which of their child certificates were revoked.
//
// Implementations must return an error wrapping ErrTransport when the ledger
// cannot be reached. A false result always means the ledger answered "invalid".
type Ledger interface {
	// IsRootValid reports whether the signer holds a valid, unrevoked slot.
	IsRootValid(ctx context.Context, signer Address) (bool, error)

	// IsChildValid reports whether the certificate issued by root to child
	// is backed by an intact and unrevoked issuer chain.
	IsChildValid(ctx context.Context, root Address, child Address) (bool, error)
}
