// Package pki implements the device certificate protocol: canonical message
// construction, hashing, signing, encoding and multi-stage verification.
//
// # Certificate Format
//
// A certificate is the JSON object
//
//	{"version":"0.1",
//	 "payload":{"deviceAddress":..,"signerAddress":..,"creationDate":..,"expirationDate":..},
//	 "hash":"0x..","signature":"0x.."}
//
// and travels base64-encoded. The hash is BLAKE2b-512 over CanonicalMessage,
// the signature is Ed25519 by the signer over the hash.
//
// # Verification
//
// CertificateAuthority.VerifyOffline checks, in this order and stopping at the
// first failure: version, expiration, hash, signature. VerifyOnline adds the
// ledger chain check. VerifyForDevice adds the address binding check used by
// devices accepting certificates under trust on first use.
//
// Every failure wraps one of the sentinel errors of package interfaces.
package pki
