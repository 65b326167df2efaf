// Package agent implements the device side of the PKI.
//
// A device starts in factory mode when its keystore holds no certificate. It
// then serves identity queries and accepts exactly one certificate, trusting
// whoever burns it as long as the certificate passes the local checks and
// names this device. Once that certificate is persisted the factory server
// stops and the device boots into operating mode, where it also answers
// challenges and accepts further certificates.
package agent
