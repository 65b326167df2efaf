/*
Package deviceagent implements the HTTP surface of a device and a client for it.

Endpoints:

  - GET /identity returns {address, hasCertificate, certificates?}
  - POST /certificate with {certificate} returns {accepted: true}
  - POST /challenge with {challenge: "0x..."} returns {signature: "0x..."}

The challenge endpoint is only mounted for devices in operating mode.

Failures are answered with {error, reason}, where reason is the stable tag of
interfaces.Reason. Rejected certificates use 400, including a second burn of
a factory device (reason AlreadyProvisioned), and storage failures 500.
*/
package deviceagent
