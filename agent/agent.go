package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/device-pki/api/deviceagent"
	"github.com/ruteri/device-pki/httpserver"
	"github.com/ruteri/device-pki/interfaces"
	"github.com/ruteri/device-pki/keystore"
	"github.com/ruteri/device-pki/pki"
)

// Config configures an Agent.
type Config struct {
	Server *httpserver.HTTPServerConfig
	CA     *pki.CertificateAuthority
	Log    *slog.Logger

	// Middleware, if set, wraps each Service before it is served.
	Middleware func(interfaces.DeviceService) interfaces.DeviceService

	// OnServing, if set, is called once the server of a mode is listening.
	OnServing func(mode interfaces.Mode, addr string)
}

// Agent runs a device: the factory server until a certificate is burned,
// then the operating server.
type Agent struct {
	cfg      Config
	keystore *keystore.Keystore
	log      *slog.Logger
}

// New creates an Agent serving the identity held by ks.
func New(ks *keystore.Keystore, cfg Config) *Agent {
	if cfg.CA == nil {
		cfg.CA = pki.NewCertificateAuthority()
	}
	return &Agent{
		cfg:      cfg,
		keystore: ks,
		log:      cfg.Log,
	}
}

// Run is the boot loop. The mode is re-derived from the keystore every time
// a server stops. Run returns nil once ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	for {
		mode := a.keystore.Mode()
		a.log.Info("Device booting",
			slog.String("mode", mode.String()),
			slog.String("address", a.keystore.Address().String()),
			slog.String("keystore", a.keystore.Location()))

		switch mode {
		case interfaces.ModeFactory:
			if err := a.runFactory(ctx); err != nil {
				return err
			}
		case interfaces.ModeOperating:
			return a.runOperating(ctx)
		default:
			return fmt.Errorf("unknown device mode %d", mode)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

// runFactory serves until the first certificate is persisted or ctx ends.
func (a *Agent) runFactory(ctx context.Context) error {
	svc := NewService(a.keystore, a.cfg.CA, a.log)

	srv, err := a.serve(svc)
	if err != nil {
		return err
	}

	select {
	case <-svc.Provisioned():
		a.log.Info("Certificate burned, leaving factory mode")
	case <-ctx.Done():
	}

	srv.Shutdown()
	return nil
}

// runOperating serves until ctx ends.
func (a *Agent) runOperating(ctx context.Context) error {
	svc := NewService(a.keystore, a.cfg.CA, a.log)

	srv, err := a.serve(svc)
	if err != nil {
		return err
	}

	<-ctx.Done()
	srv.Shutdown()
	return nil
}

func (a *Agent) serve(svc *Service) (*httpserver.Server, error) {
	var wrapped interfaces.DeviceService = svc
	if a.cfg.Middleware != nil {
		wrapped = a.cfg.Middleware(svc)
	}

	handler := deviceagent.NewHandler(wrapped, a.log)
	srv := httpserver.New(a.cfg.Server, handler.RegisterRoutes)
	if err := srv.RunInBackground(); err != nil {
		return nil, fmt.Errorf("could not start %s server: %w", svc.Mode(), err)
	}

	if a.cfg.OnServing != nil {
		a.cfg.OnServing(svc.Mode(), srv.Addr())
	}
	return srv, nil
}
