package pki

import (
	"crypto/ed25519"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
	"golang.org/x/crypto/blake2b"
)

// Version is the only certificate protocol version produced and accepted.
const Version = "0.1"

// Payload holds the signed fields of a certificate.
type Payload struct {
	DeviceAddress  interfaces.Address `json:"deviceAddress"`
	SignerAddress  interfaces.Address `json:"signerAddress"`
	CreationDate   int64              `json:"creationDate"`
	ExpirationDate int64              `json:"expirationDate"`
}

// Certificate binds a device address to a signer address for a validity window.
// Hash and Signature are 0x-prefixed hex strings.
type Certificate struct {
	Version   string  `json:"version"`
	Payload   Payload `json:"payload"`
	Hash      string  `json:"hash"`
	Signature string  `json:"signature"`
}

// CanonicalMessage builds the byte sequence a certificate hash is computed over:
// the address bytes of the device, the raw signer public key, then both
// timestamps as 8-byte big-endian integers.
func CanonicalMessage(device interfaces.Address, signer ed25519.PublicKey, creationDate, expirationDate int64) []byte {
	msg := make([]byte, 0, len(device)+len(signer)+16)
	msg = append(msg, []byte(device)...)
	msg = append(msg, signer...)
	msg = binary.BigEndian.AppendUint64(msg, uint64(creationDate))
	msg = binary.BigEndian.AppendUint64(msg, uint64(expirationDate))
	return msg
}

// Digest hashes a canonical message with BLAKE2b-512.
func Digest(message []byte) []byte {
	sum := blake2b.Sum512(message)
	return sum[:]
}

// Sign issues a certificate for device, signed by signer.
func Sign(device interfaces.Address, signer *cryptoutils.Keypair, creationDate, expirationDate time.Time) (*Certificate, error) {
	if signer == nil {
		return nil, errors.New("missing signer keypair")
	}
	if err := cryptoutils.ValidateAddress(device); err != nil {
		return nil, fmt.Errorf("invalid device address: %w", err)
	}

	payload := Payload{
		DeviceAddress:  device,
		SignerAddress:  signer.Address(),
		CreationDate:   creationDate.Unix(),
		ExpirationDate: expirationDate.Unix(),
	}

	hash := Digest(CanonicalMessage(payload.DeviceAddress, signer.PublicKey(), payload.CreationDate, payload.ExpirationDate))
	signature := signer.Sign(hash)

	return &Certificate{
		Version:   Version,
		Payload:   payload,
		Hash:      cryptoutils.EncodeHex(hash),
		Signature: cryptoutils.EncodeHex(signature),
	}, nil
}

// SignAndEncode issues a certificate and returns its wire form.
func SignAndEncode(device interfaces.Address, signer *cryptoutils.Keypair, creationDate, expirationDate time.Time) (interfaces.EncodedCertificate, error) {
	cert, err := Sign(device, signer, creationDate, expirationDate)
	if err != nil {
		return "", err
	}
	return cert.Encode()
}

// Encode serializes the certificate to base64 of its canonical JSON.
func (c *Certificate) Encode() (interfaces.EncodedCertificate, error) {
	raw, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("could not marshal certificate: %w", err)
	}
	return interfaces.EncodedCertificate(base64.StdEncoding.EncodeToString(raw)), nil
}

// CreationTime returns the creation date as time.
func (c *Certificate) CreationTime() time.Time {
	return time.Unix(c.Payload.CreationDate, 0)
}

// ExpirationTime returns the expiration date as time.
func (c *Certificate) ExpirationTime() time.Time {
	return time.Unix(c.Payload.ExpirationDate, 0)
}

// wireCertificate mirrors Certificate with optional fields so that Decode can
// tell a missing field apart from a zero value.
type wireCertificate struct {
	Version   *string      `json:"version"`
	Payload   *wirePayload `json:"payload"`
	Hash      *string      `json:"hash"`
	Signature *string      `json:"signature"`
}

type wirePayload struct {
	DeviceAddress  *string `json:"deviceAddress"`
	SignerAddress  *string `json:"signerAddress"`
	CreationDate   *int64  `json:"creationDate"`
	ExpirationDate *int64  `json:"expirationDate"`
}

// Decode parses the wire form of a certificate. Malformed base64 or JSON and
// missing fields are reported as interfaces.ErrDecode.
func Decode(encoded interfaces.EncodedCertificate) (*Certificate, error) {
	raw, err := base64.StdEncoding.DecodeString(string(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", interfaces.ErrDecode, err)
	}

	var wire wireCertificate
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, fmt.Errorf("%w: invalid json: %v", interfaces.ErrDecode, err)
	}

	missing := func(field string) error {
		return fmt.Errorf("%w: missing field %s", interfaces.ErrDecode, field)
	}
	switch {
	case wire.Version == nil:
		return nil, missing("version")
	case wire.Payload == nil:
		return nil, missing("payload")
	case wire.Payload.DeviceAddress == nil:
		return nil, missing("payload.deviceAddress")
	case wire.Payload.SignerAddress == nil:
		return nil, missing("payload.signerAddress")
	case wire.Payload.CreationDate == nil:
		return nil, missing("payload.creationDate")
	case wire.Payload.ExpirationDate == nil:
		return nil, missing("payload.expirationDate")
	case wire.Hash == nil:
		return nil, missing("hash")
	case wire.Signature == nil:
		return nil, missing("signature")
	}

	return &Certificate{
		Version: *wire.Version,
		Payload: Payload{
			DeviceAddress:  interfaces.Address(*wire.Payload.DeviceAddress),
			SignerAddress:  interfaces.Address(*wire.Payload.SignerAddress),
			CreationDate:   *wire.Payload.CreationDate,
			ExpirationDate: *wire.Payload.ExpirationDate,
		},
		Hash:      *wire.Hash,
		Signature: *wire.Signature,
	}, nil
}
