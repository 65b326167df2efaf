// Command device-agent runs the device side of the PKI.
//
// On first boot it creates a keypair in the configured keystore and serves
// GET /identity and POST /certificate until an operator burns a certificate.
// It then restarts in operating mode, where POST /challenge is also served.
//
// Usage:
//
//	device-agent --listen-addr 0.0.0.0:8080 --keystore file://~/.device_pki_keystore.json
//	device-agent --keystore file:///data/ks.json --keystore "vault://vault:8200/secret/device?token=..."
package main
