package cryptoutils

import (
	"bytes"
	"crypto/ed25519"
	"fmt"

	"github.com/ruteri/device-pki/interfaces"
)

// SeedSize is the length of the private key material a Keypair is derived from.
const SeedSize = ed25519.SeedSize

// Keypair is an ed25519 key derived deterministically from a 32-byte seed,
// together with its address.
type Keypair struct {
	seed    []byte
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	address interfaces.Address
}

// NewKeypairFromSeed derives the keypair for seed.
func NewKeypairFromSeed(seed []byte) (*Keypair, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("invalid seed length %d, expected %d", len(seed), SeedSize)
	}

	private := ed25519.NewKeyFromSeed(seed)
	public := private.Public().(ed25519.PublicKey)

	return &Keypair{
		seed:    bytes.Clone(seed),
		private: private,
		public:  public,
		address: AddressFromPublicKey(public),
	}, nil
}

// NewKeypairFromHexSeed parses a hex seed, with or without 0x prefix.
func NewKeypairFromHexSeed(hexSeed string) (*Keypair, error) {
	seed, err := DecodeHex(hexSeed)
	if err != nil {
		return nil, fmt.Errorf("invalid seed: %w", err)
	}
	return NewKeypairFromSeed(seed)
}

// GenerateKeypair derives a keypair from a fresh random seed.
func GenerateKeypair() (*Keypair, error) {
	seed, err := RandomBytes(SeedSize)
	if err != nil {
		return nil, err
	}
	return NewKeypairFromSeed(seed)
}

// Seed returns a copy of the seed.
func (k *Keypair) Seed() []byte {
	return bytes.Clone(k.seed)
}

// PublicKey returns the public half of the keypair.
func (k *Keypair) PublicKey() ed25519.PublicKey {
	return k.public
}

// Address returns the address of the public key.
func (k *Keypair) Address() interfaces.Address {
	return k.address
}

// Sign signs message with the private key.
func (k *Keypair) Sign(message []byte) []byte {
	return ed25519.Sign(k.private, message)
}

// Verify checks an ed25519 signature over message by the key behind addr.
// Malformed signatures verify as false; an undecodable address is an error.
func Verify(addr interfaces.Address, message, signature []byte) (bool, error) {
	pubkey, err := PublicKeyFromAddress(addr)
	if err != nil {
		return false, err
	}
	if len(signature) != ed25519.SignatureSize {
		return false, nil
	}
	return ed25519.Verify(pubkey, message, signature), nil
}
