package pki

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
)

// CertificateAuthority verifies certificates. It has no network access of its
// own; online verification goes through the Ledger passed by the caller.
type CertificateAuthority struct {
	now func() time.Time
}

// Option configures a CertificateAuthority.
type Option func(*CertificateAuthority)

// WithClock overrides the verification time source.
func WithClock(now func() time.Time) Option {
	return func(ca *CertificateAuthority) {
		ca.now = now
	}
}

// NewCertificateAuthority creates a CertificateAuthority using the wall clock
// unless configured otherwise.
func NewCertificateAuthority(opts ...Option) *CertificateAuthority {
	ca := &CertificateAuthority{now: time.Now}
	for _, opt := range opts {
		opt(ca)
	}
	return ca
}

// VerifyOffline runs the local checks on an encoded certificate, in order:
// version, expiration, hash, signature. The first failing check is returned.
func (ca *CertificateAuthority) VerifyOffline(encoded interfaces.EncodedCertificate) error {
	cert, err := Decode(encoded)
	if err != nil {
		return err
	}
	return ca.verifyDecoded(cert)
}

// VerifyForDevice runs the local checks and requires the certificate to be
// issued to device. This is what a device applies to certificates it is asked
// to store: the ledger is not consulted.
func (ca *CertificateAuthority) VerifyForDevice(encoded interfaces.EncodedCertificate, device interfaces.Address) error {
	cert, err := Decode(encoded)
	if err != nil {
		return err
	}
	if err := ca.verifyDecoded(cert); err != nil {
		return err
	}
	return checkAddress(cert, device)
}

// VerifyOnline runs the local checks and then asks the ledger whether the
// signer to device relationship is still valid.
//
// A ledger answering false yields interfaces.ErrChainInvalid. A ledger that
// cannot be reached yields an error wrapping interfaces.ErrTransport.
func (ca *CertificateAuthority) VerifyOnline(ctx context.Context, encoded interfaces.EncodedCertificate, ledger interfaces.Ledger) error {
	cert, err := Decode(encoded)
	if err != nil {
		return err
	}
	if err := ca.verifyDecoded(cert); err != nil {
		return err
	}

	valid, err := ledger.IsChildValid(ctx, cert.Payload.SignerAddress, cert.Payload.DeviceAddress)
	if err != nil {
		if errors.Is(err, interfaces.ErrTransport) {
			return err
		}
		return fmt.Errorf("%w: ledger query failed: %v", interfaces.ErrTransport, err)
	}
	if !valid {
		return fmt.Errorf("%w: signer %s, device %s", interfaces.ErrChainInvalid, cert.Payload.SignerAddress, cert.Payload.DeviceAddress)
	}

	return nil
}

func (ca *CertificateAuthority) verifyDecoded(cert *Certificate) error {
	if cert.Version != Version {
		return fmt.Errorf("%w: %q", interfaces.ErrUnsupportedVersion, cert.Version)
	}

	now := ca.now()
	if cert.ExpirationTime().Before(now) {
		return fmt.Errorf("%w: expired at %s", interfaces.ErrExpired, cert.ExpirationTime().UTC().Format(time.RFC3339))
	}

	signerKey, err := cryptoutils.PublicKeyFromAddress(cert.Payload.SignerAddress)
	if err != nil {
		return fmt.Errorf("%w: signer address: %v", interfaces.ErrDecode, err)
	}

	expectedHash := Digest(CanonicalMessage(cert.Payload.DeviceAddress, signerKey, cert.Payload.CreationDate, cert.Payload.ExpirationDate))
	claimedHash, err := cryptoutils.DecodeHex(cert.Hash)
	if err != nil || !bytes.Equal(claimedHash, expectedHash) {
		return interfaces.ErrHashMismatch
	}

	signature, err := cryptoutils.DecodeHex(cert.Signature)
	if err != nil || len(signature) != ed25519.SignatureSize || !ed25519.Verify(signerKey, claimedHash, signature) {
		return interfaces.ErrBadSignature
	}

	return nil
}

func checkAddress(cert *Certificate, device interfaces.Address) error {
	if cert.Payload.DeviceAddress != device {
		return fmt.Errorf("%w: issued to %s, expected %s", interfaces.ErrAddressMismatch, cert.Payload.DeviceAddress, device)
	}
	return nil
}

// CheckAddress decodes a certificate and requires it to be issued to device.
func CheckAddress(encoded interfaces.EncodedCertificate, device interfaces.Address) error {
	cert, err := Decode(encoded)
	if err != nil {
		return err
	}
	return checkAddress(cert, device)
}
