// Package provisioning is the operator and verifier side of the device PKI.
//
// Burn issues a certificate to a factory-fresh device. Verify runs the full
// check of a device: a challenge proving it holds its private key, followed
// by online verification of every certificate it reports. Failures that
// concern the device or its certificates are returned as data, so that a
// verifier sweeping many devices with VerifyAll continues past bad ones.
package provisioning
