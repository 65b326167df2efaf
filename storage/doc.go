// Package storage provides keystore backends for devices.
//
// A device keeps one small document: its seed and the certificates it was
// issued. Backends persist that document as a whole, and every Save replaces
// it. The available backends are:
//
//   - File system storage, written atomically via a temporary file and rename
//   - S3-compatible object storage, one object per device
//   - Vault KV v2 storage, one secret per device
//
// # Storage URI Format
//
// Backends are specified using URI format:
//
//	[scheme]://[auth@]host[:port][/path][?params]
//
// Supported URI schemes:
//
//   - file:///var/lib/device/keystore.json
//   - file://~/.device_pki_keystore.json
//   - s3://bucket-name/devices/gateway-1.json?region=us-west-2
//   - vault://vault.example.com:8200/secret/devices/gateway-1
//
// A path without a scheme is treated as a file path.
//
// # Replication
//
// BackendFactory.CreateMultiBackend combines several locations. Loads are
// served by the first backend that holds a document; saves must reach every
// backend to succeed.
//
// # Error Handling
//
//   - interfaces.ErrKeystoreNotFound: nothing was stored yet
//   - interfaces.ErrBackendUnavailable: the backend could not be reached
//   - interfaces.ErrInvalidLocationURI: the location URI is malformed or unsupported
package storage
