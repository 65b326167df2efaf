// Package keystore keeps a device's identity: the 32-byte seed its ed25519
// key derives from and the certificates it has been issued.
//
// The persisted document looks like
//
//	{"seed":"0x<64 hex chars>","certificates":["<base64>", ...]}
//
// and is rewritten in full through an interfaces.KeystoreBackend on every
// change.
package keystore
