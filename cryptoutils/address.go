package cryptoutils

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/mr-tron/base58"
	"github.com/ruteri/device-pki/interfaces"
	"golang.org/x/crypto/blake2b"
)

// AddressPrefix is the network prefix used for newly encoded addresses.
// 42 is the generic substrate prefix.
const AddressPrefix byte = 42

const (
	addressChecksumLen = 2
	addressLen         = 1 + ed25519.PublicKeySize + addressChecksumLen
)

var ss58Context = []byte("SS58PRE")

var (
	ErrInvalidAddress  = errors.New("invalid address")
	ErrAddressChecksum = errors.New("address checksum mismatch")
)

func addressChecksum(prefix byte, pubkey []byte) []byte {
	preimage := make([]byte, 0, len(ss58Context)+1+len(pubkey))
	preimage = append(preimage, ss58Context...)
	preimage = append(preimage, prefix)
	preimage = append(preimage, pubkey...)
	sum := blake2b.Sum512(preimage)
	return sum[:addressChecksumLen]
}

// AddressFromPublicKey encodes an ed25519 public key as an address.
func AddressFromPublicKey(pubkey ed25519.PublicKey) interfaces.Address {
	raw := make([]byte, 0, addressLen)
	raw = append(raw, AddressPrefix)
	raw = append(raw, pubkey...)
	raw = append(raw, addressChecksum(AddressPrefix, pubkey)...)
	return interfaces.Address(base58.Encode(raw))
}

// PublicKeyFromAddress decodes an address back into the ed25519 public key it
// encodes, validating its length, prefix and checksum.
func PublicKeyFromAddress(addr interfaces.Address) (ed25519.PublicKey, error) {
	if addr == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}

	raw, err := base58.Decode(string(addr))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
	}

	if len(raw) != addressLen {
		return nil, fmt.Errorf("%w: decoded length %d, expected %d", ErrInvalidAddress, len(raw), addressLen)
	}

	// Only simple (single byte) prefixes are supported.
	prefix := raw[0]
	if prefix >= 64 {
		return nil, fmt.Errorf("%w: unsupported prefix %d", ErrInvalidAddress, prefix)
	}

	pubkey := raw[1 : 1+ed25519.PublicKeySize]
	if !bytes.Equal(raw[1+ed25519.PublicKeySize:], addressChecksum(prefix, pubkey)) {
		return nil, ErrAddressChecksum
	}

	return ed25519.PublicKey(bytes.Clone(pubkey)), nil
}

// ValidateAddress returns nil if addr decodes to a public key.
func ValidateAddress(addr interfaces.Address) error {
	_, err := PublicKeyFromAddress(addr)
	return err
}
