// Package interfaces defines core interfaces and types for the device PKI,
// separating interface definitions from implementations.
//
// # Identity Types
//
// Address identifies an ed25519 key. Devices and certificate signers share
// the same address format. EncodedCertificate is the opaque wire form of a
// signed certificate as stored by devices and exchanged over HTTP.
//
// # Device Lifecycle
//
// Mode is derived from a device's certificate list: ModeFactory while the list
// is empty, ModeOperating afterwards. DeviceService is the device-side core that
// an agent exposes over HTTP.
//
// # Collaborators
//
// Ledger answers the two trust registry queries the verifier depends on.
// KeystoreBackend persists a device's keystore document.
//
// # Errors
//
// All failures of the protocol are expressed as sentinel errors wrapped with
// context. Reason maps any wrapped error to a stable tag such as
// "HashMismatch" so that callers and remote peers can tell the failing stage
// apart without parsing messages.
package interfaces
