package interfaces

import "errors"

// Certificate content failures. These are recoverable: verifiers report them
// and move on to the next certificate or device.
var (
	ErrDecode             = errors.New("malformed certificate")
	ErrUnsupportedVersion = errors.New("unsupported certificate version")
	ErrExpired            = errors.New("certificate expired")
	ErrHashMismatch       = errors.New("certificate hash mismatch")
	ErrBadSignature       = errors.New("bad certificate signature")
	ErrAddressMismatch    = errors.New("certificate not intended for this device")
	ErrChainInvalid       = errors.New("ledger says certificate chain is invalid")
)

// Protocol failures.
var (
	// ErrChallengeFailure means the device could not prove possession of its key.
	ErrChallengeFailure = errors.New("challenge failed")

	// ErrAlreadyProvisioned is returned when a factory-only operation targets
	// a device that already holds a certificate.
	ErrAlreadyProvisioned = errors.New("device already provisioned")

	// ErrWrongMode is returned by a device for operations its current mode does not serve.
	ErrWrongMode = errors.New("operation not available in current device mode")
)

// Operation-fatal failures. These abort the current call.
var (
	ErrTransport   = errors.New("transport error")
	ErrPersistence = errors.New("persistence error")
)

var reasons = []struct {
	err error
	tag string
}{
	{ErrDecode, "DecodeError"},
	{ErrUnsupportedVersion, "UnsupportedVersion"},
	{ErrExpired, "Expired"},
	{ErrHashMismatch, "HashMismatch"},
	{ErrBadSignature, "BadSignature"},
	{ErrAddressMismatch, "AddressMismatch"},
	{ErrChainInvalid, "ChainInvalid"},
	{ErrChallengeFailure, "ChallengeFailure"},
	{ErrAlreadyProvisioned, "AlreadyProvisioned"},
	{ErrWrongMode, "WrongMode"},
	{ErrTransport, "TransportError"},
	{ErrPersistence, "PersistenceError"},
}

// Reason returns the stable tag naming the stage that produced err, or an
// empty string for nil and "Unknown" for errors outside the taxonomy.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range reasons {
		if errors.Is(err, r.err) {
			return r.tag
		}
	}
	return "Unknown"
}

// SentinelForReason maps a tag produced by Reason back to its sentinel.
// It returns nil for unknown tags.
func SentinelForReason(tag string) error {
	for _, r := range reasons {
		if r.tag == tag {
			return r.err
		}
	}
	return nil
}
