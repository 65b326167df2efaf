package deviceagent

import (
	"errors"
	"fmt"

	"github.com/ruteri/device-pki/interfaces"
)

// Routes served by a device agent.
const (
	PathIdentity    = "/identity"
	PathCertificate = "/certificate"
	PathChallenge   = "/challenge"
)

// MaxRequestBodySize bounds request bodies accepted by the device.
const MaxRequestBodySize = 1 << 20

// IdentityResponse is returned by GET /identity.
// Certificates is omitted while the device holds none.
type IdentityResponse struct {
	Address        interfaces.Address              `json:"address"`
	HasCertificate bool                            `json:"hasCertificate"`
	Certificates   []interfaces.EncodedCertificate `json:"certificates,omitempty"`
}

// CertificateRequest is the body of POST /certificate.
type CertificateRequest struct {
	Certificate *interfaces.EncodedCertificate `json:"certificate"`
}

// CertificateResponse is returned when a certificate was stored.
type CertificateResponse struct {
	Accepted bool `json:"accepted"`
}

// ChallengeRequest is the body of POST /challenge. Challenge is 0x-prefixed hex.
type ChallengeRequest struct {
	Challenge *string `json:"challenge"`
}

// ChallengeResponse carries the 0x-prefixed hex signature over the challenge bytes.
type ChallengeResponse struct {
	Signature *string `json:"signature"`
}

// ErrorResponse is the body of every non-2xx reply. Reason is the stable
// failure tag, see interfaces.Reason.
type ErrorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
}

// ErrMalformedReply marks a 200 reply whose body could not be interpreted.
// Client errors carrying it also wrap interfaces.ErrTransport.
var ErrMalformedReply = errors.New("malformed reply")

// RejectedError is returned by Client when the device answered with an error.
type RejectedError struct {
	StatusCode int
	Reason     string
	Message    string
}

func (e *RejectedError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("device rejected request (%d %s): %s", e.StatusCode, e.Reason, e.Message)
	}
	return fmt.Sprintf("device rejected request (%d): %s", e.StatusCode, e.Message)
}

// Unwrap exposes the taxonomy sentinel named by Reason, so that
// errors.Is(err, interfaces.ErrHashMismatch) works across the wire.
func (e *RejectedError) Unwrap() error {
	return interfaces.SentinelForReason(e.Reason)
}
