// Package ledger provides access to the root-of-trust registry that decides
// whether a signer key may vouch for a device key.
//
// Client talks to a ledger node over JSON-RPC. MemoryLedger is an in-process
// registry with the same validity rules: a root is valid while its slot
// exists, its owner is a member, it is not revoked and its validity window
// has not elapsed. A child is valid under a root when it differs from the
// root, the root is valid and the child was not revoked by the root's owner.
// NewRPCServer exposes any interfaces.Ledger under the methods Client calls.
package ledger
