package deviceagent

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
)

// Handler serves the device surface of a DeviceService.
type Handler struct {
	svc interfaces.DeviceService
	log *slog.Logger
}

// NewHandler creates a new HTTP request handler for a device.
func NewHandler(svc interfaces.DeviceService, log *slog.Logger) *Handler {
	return &Handler{
		svc: svc,
		log: log,
	}
}

// RegisterRoutes configures the HTTP router with the device endpoints:
//   - GET /identity
//   - POST /certificate
//   - POST /challenge, in operating mode only
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get(PathIdentity, h.HandleIdentity)
	r.Post(PathCertificate, h.HandleCertificate)
	if h.svc.Mode() == interfaces.ModeOperating {
		r.Post(PathChallenge, h.HandleChallenge)
	}
}

// HandleIdentity returns the device address and certificates.
//
// Status codes:
//   - 200 OK: JSON-encoded IdentityResponse
//   - 500 Internal Server Error: the identity could not be read
func (h *Handler) HandleIdentity(w http.ResponseWriter, r *http.Request) {
	identity, err := h.svc.Identity(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := IdentityResponse{
		Address:        identity.Address,
		HasCertificate: identity.HasCertificate,
	}
	if identity.HasCertificate {
		resp.Certificates = identity.Certificates
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// HandleCertificate validates and stores a certificate.
//
// Body: {"certificate": "<base64>"}
//
// Status codes:
//   - 200 OK: {"accepted": true}
//   - 400 Bad Request: missing or invalid certificate, or a factory device
//     that was already provisioned; reason tag in the body
//   - 500 Internal Server Error: the certificate could not be persisted
func (h *Handler) HandleCertificate(w http.ResponseWriter, r *http.Request) {
	var req CertificateRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Certificate == nil {
		h.writeError(w, badRequest("missing certificate in post body"))
		return
	}

	if err := h.svc.AcceptCertificate(r.Context(), *req.Certificate); err != nil {
		h.log.Warn("Rejected certificate", "err", err, slog.String("reason", interfaces.Reason(err)))
		h.writeError(w, err)
		return
	}

	h.log.Info("Certificate received and saved")
	h.writeJSON(w, http.StatusOK, CertificateResponse{Accepted: true})
}

// HandleChallenge signs the submitted challenge bytes with the device key.
//
// Body: {"challenge": "0x<hex>"}
//
// Status codes:
//   - 200 OK: {"signature": "0x<hex>"}
//   - 400 Bad Request: missing or non-hex challenge
func (h *Handler) HandleChallenge(w http.ResponseWriter, r *http.Request) {
	var req ChallengeRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, err)
		return
	}
	if req.Challenge == nil {
		h.writeError(w, badRequest("missing challenge in post body"))
		return
	}

	challenge, err := cryptoutils.DecodeHex(*req.Challenge)
	if err != nil {
		h.writeError(w, badRequest("challenge is not valid hex"))
		return
	}

	signature, err := h.svc.SignChallenge(r.Context(), challenge)
	if err != nil {
		h.writeError(w, err)
		return
	}

	encoded := cryptoutils.EncodeHex(signature)
	h.writeJSON(w, http.StatusOK, ChallengeResponse{Signature: &encoded})
}

// requestError is a failure in the request itself rather than in its content.
type requestError struct {
	status  int
	message string
}

func (e *requestError) Error() string { return e.message }

func badRequest(message string) error {
	return &requestError{status: http.StatusBadRequest, message: message}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{status: http.StatusRequestEntityTooLarge, message: "request body too large"}
		}
		return badRequest(fmt.Sprintf("invalid request body: %v", err))
	}
	return nil
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var reqErr *requestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status
	case errors.Is(err, interfaces.ErrPersistence):
		return http.StatusInternalServerError
	case interfaces.Reason(err) == "Unknown":
		return http.StatusInternalServerError
	default:
		return http.StatusBadRequest
	}
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	resp := ErrorResponse{Error: err.Error()}

	var reqErr *requestError
	if !errors.As(err, &reqErr) {
		resp.Reason = interfaces.Reason(err)
		if status == http.StatusBadRequest && !isStateError(err) {
			resp.Error = fmt.Sprintf("Invalid certificate: %v", err)
		}
	}
	if status == http.StatusInternalServerError {
		h.log.Error("Request failed", "err", err)
		resp.Error = "internal error"
	}

	h.writeJSON(w, status, resp)
}

// isStateError reports failures caused by the device state rather than the
// submitted certificate.
func isStateError(err error) bool {
	return errors.Is(err, interfaces.ErrAlreadyProvisioned) || errors.Is(err, interfaces.ErrWrongMode)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
