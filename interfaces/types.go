// Package interfaces defines the core interfaces and types for the device PKI.
// It provides the contract between different components without implementation details.
package interfaces

import (
	"context"
)

// Address is the public identifier of an ed25519 key, encoded SS58-style.
// Both devices and certificate signers are identified by an Address.
type Address string

// String returns the address as-is.
func (a Address) String() string {
	return string(a)
}

// EncodedCertificate is the wire form of a certificate: base64 of its canonical JSON.
type EncodedCertificate string

// String returns the encoded certificate as-is.
func (c EncodedCertificate) String() string {
	return string(c)
}

// Mode is the lifecycle phase of a device agent.
// It is never stored: a device is in ModeFactory iff it holds no certificate.
type Mode int

const (
	// ModeFactory accepts exactly one certificate under trust on first use.
	ModeFactory Mode = iota
	// ModeOperating answers challenges and accepts additional certificates.
	ModeOperating
)

// String returns mode name.
func (m Mode) String() string {
	switch m {
	case ModeFactory:
		return "factory"
	case ModeOperating:
		return "operating"
	default:
		return "unknown"
	}
}

// ModeFor derives the device mode from its certificate list.
func ModeFor(certificates []EncodedCertificate) Mode {
	if len(certificates) == 0 {
		return ModeFactory
	}
	return ModeOperating
}

// DeviceIdentity is what a device reports about itself.
type DeviceIdentity struct {
	Address        Address
	HasCertificate bool
	Certificates   []EncodedCertificate
}

// DeviceService is the device-side core served over HTTP by a device agent.
type DeviceService interface {
	// Mode returns the mode this service instance was started in.
	Mode() Mode

	// Identity returns the device address and, once provisioned, its certificates.
	Identity(ctx context.Context) (DeviceIdentity, error)

	// AcceptCertificate validates a certificate locally (no ledger access)
	// and appends it to the keystore.
	AcceptCertificate(ctx context.Context, certificate EncodedCertificate) error

	// SignChallenge signs the challenge bytes with the device private key.
	SignChallenge(ctx context.Context, challenge []byte) ([]byte, error)
}
