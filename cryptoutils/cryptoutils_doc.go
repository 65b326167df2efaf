// Package cryptoutils holds the key material primitives of the device PKI.
//
// Keys are ed25519. A key is identified by its Address: the base58 encoding
// of a network prefix byte, the 32-byte public key and a 2-byte BLAKE2b
// checksum. Binary values exchanged on the wire (hashes, signatures, seeds,
// challenges) are 0x-prefixed hex.
//
//	kp, _ := cryptoutils.GenerateKeypair()
//	sig := kp.Sign(msg)
//	ok, _ := cryptoutils.Verify(kp.Address(), msg, sig)
package cryptoutils
