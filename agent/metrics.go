package agent

import (
	"context"
	"time"

	"github.com/go-kit/kit/metrics"
	"github.com/ruteri/device-pki/interfaces"
)

var _ interfaces.DeviceService = (*metricsMiddleware)(nil)

type metricsMiddleware struct {
	counter metrics.Counter
	latency metrics.Histogram
	svc     interfaces.DeviceService
}

// MetricsMiddleware instruments the device service by tracking request count
// and latency per method.
func MetricsMiddleware(svc interfaces.DeviceService, counter metrics.Counter, latency metrics.Histogram) interfaces.DeviceService {
	return &metricsMiddleware{
		counter: counter,
		latency: latency,
		svc:     svc,
	}
}

func (ms *metricsMiddleware) Mode() interfaces.Mode {
	return ms.svc.Mode()
}

func (ms *metricsMiddleware) Identity(ctx context.Context) (interfaces.DeviceIdentity, error) {
	defer func(begin time.Time) {
		ms.counter.With("method", "identity").Add(1)
		ms.latency.With("method", "identity").Observe(time.Since(begin).Seconds())
	}(time.Now())
	return ms.svc.Identity(ctx)
}

func (ms *metricsMiddleware) AcceptCertificate(ctx context.Context, certificate interfaces.EncodedCertificate) error {
	defer func(begin time.Time) {
		ms.counter.With("method", "accept_certificate").Add(1)
		ms.latency.With("method", "accept_certificate").Observe(time.Since(begin).Seconds())
	}(time.Now())
	return ms.svc.AcceptCertificate(ctx, certificate)
}

func (ms *metricsMiddleware) SignChallenge(ctx context.Context, challenge []byte) ([]byte, error) {
	defer func(begin time.Time) {
		ms.counter.With("method", "sign_challenge").Add(1)
		ms.latency.With("method", "sign_challenge").Observe(time.Since(begin).Seconds())
	}(time.Now())
	return ms.svc.SignChallenge(ctx, challenge)
}
