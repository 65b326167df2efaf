package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/ruteri/device-pki/interfaces"
)

var _ interfaces.DeviceService = (*loggingMiddleware)(nil)

type loggingMiddleware struct {
	logger *slog.Logger
	svc    interfaces.DeviceService
}

// LoggingMiddleware adds logging facilities to the device service.
func LoggingMiddleware(svc interfaces.DeviceService, logger *slog.Logger) interfaces.DeviceService {
	return &loggingMiddleware{logger, svc}
}

func (lm *loggingMiddleware) Mode() interfaces.Mode {
	return lm.svc.Mode()
}

// Identity logs the identity request and the time it took to complete.
func (lm *loggingMiddleware) Identity(ctx context.Context) (id interfaces.DeviceIdentity, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Bool("has_certificate", id.HasCertificate),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Identity failed", args...)
			return
		}
		lm.logger.Debug("Identity completed successfully", args...)
	}(time.Now())
	return lm.svc.Identity(ctx)
}

// AcceptCertificate logs the certificate intake with its failure reason, if any.
func (lm *loggingMiddleware) AcceptCertificate(ctx context.Context, certificate interfaces.EncodedCertificate) (err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.String("mode", lm.svc.Mode().String()),
		}
		if err != nil {
			args = append(args, slog.Any("error", err), slog.String("reason", interfaces.Reason(err)))
			lm.logger.Warn("Accept certificate failed", args...)
			return
		}
		lm.logger.Info("Accept certificate completed successfully", args...)
	}(time.Now())
	return lm.svc.AcceptCertificate(ctx, certificate)
}

// SignChallenge logs the challenge size and the time it took to complete.
func (lm *loggingMiddleware) SignChallenge(ctx context.Context, challenge []byte) (signature []byte, err error) {
	defer func(begin time.Time) {
		args := []any{
			slog.String("duration", time.Since(begin).String()),
			slog.Int("challenge_size", len(challenge)),
		}
		if err != nil {
			args = append(args, slog.Any("error", err))
			lm.logger.Warn("Sign challenge failed", args...)
			return
		}
		lm.logger.Info("Sign challenge completed successfully", args...)
	}(time.Now())
	return lm.svc.SignChallenge(ctx, challenge)
}
