package agent

import (
	"context"
	"log/slog"
	"sync"

	"github.com/ruteri/device-pki/interfaces"
	"github.com/ruteri/device-pki/keystore"
	"github.com/ruteri/device-pki/pki"
	"go.uber.org/atomic"
)

var _ interfaces.DeviceService = (*Service)(nil)

// Service implements interfaces.DeviceService on top of a keystore. Its mode
// is fixed at construction: a factory Service stays a factory Service after
// its one acceptance, and the boot loop starts an operating one next.
type Service struct {
	mode     interfaces.Mode
	keystore *keystore.Keystore
	ca       *pki.CertificateAuthority
	log      *slog.Logger

	// mu serializes certificate intake.
	mu          sync.Mutex
	accepted    atomic.Bool
	provisioned chan struct{}
}

// NewService creates a Service in the mode the keystore is currently in.
func NewService(ks *keystore.Keystore, ca *pki.CertificateAuthority, log *slog.Logger) *Service {
	return &Service{
		mode:        ks.Mode(),
		keystore:    ks,
		ca:          ca,
		log:         log,
		provisioned: make(chan struct{}),
	}
}

// Mode implements interfaces.DeviceService.
func (s *Service) Mode() interfaces.Mode {
	return s.mode
}

// Provisioned is closed once a factory Service has persisted its certificate.
// It is never closed in operating mode.
func (s *Service) Provisioned() <-chan struct{} {
	return s.provisioned
}

// Identity implements interfaces.DeviceService.
func (s *Service) Identity(ctx context.Context) (interfaces.DeviceIdentity, error) {
	certificates := s.keystore.Certificates()
	return interfaces.DeviceIdentity{
		Address:        s.keystore.Address(),
		HasCertificate: len(certificates) > 0,
		Certificates:   certificates,
	}, nil
}

// AcceptCertificate implements interfaces.DeviceService. The certificate must
// pass the local checks and name this device; the ledger is not consulted.
//
// In factory mode only the first valid certificate is stored. Later ones,
// including those racing the first, fail with interfaces.ErrAlreadyProvisioned.
func (s *Service) AcceptCertificate(ctx context.Context, certificate interfaces.EncodedCertificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mode == interfaces.ModeFactory && (s.accepted.Load() || s.keystore.HasCertificate()) {
		return interfaces.ErrAlreadyProvisioned
	}

	if err := s.ca.VerifyForDevice(certificate, s.keystore.Address()); err != nil {
		return err
	}

	if err := s.keystore.AppendCertificate(ctx, certificate); err != nil {
		return err
	}

	if s.mode == interfaces.ModeFactory && s.accepted.CompareAndSwap(false, true) {
		close(s.provisioned)
	}
	return nil
}

// SignChallenge implements interfaces.DeviceService. A factory device has no
// certificate to back its key yet and refuses.
func (s *Service) SignChallenge(ctx context.Context, challenge []byte) ([]byte, error) {
	if s.mode != interfaces.ModeOperating {
		return nil, interfaces.ErrWrongMode
	}
	return s.keystore.SignChallenge(challenge), nil
}
