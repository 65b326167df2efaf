package agent

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/ruteri/device-pki/api/deviceagent"
	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/httpserver"
	"github.com/ruteri/device-pki/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serving struct {
	mode interfaces.Mode
	addr string
}

func startAgent(t *testing.T, ctx context.Context, a *Agent) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	return done
}

func nextServing(t *testing.T, ch <-chan serving) serving {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not start serving")
		return serving{}
	}
}

func testAgentConfig(ch chan<- serving) Config {
	return Config{
		Server: &httpserver.HTTPServerConfig{
			ListenAddr:               "127.0.0.1:0",
			Log:                      testLogger,
			GracefulShutdownDuration: 5 * time.Second,
			ReadTimeout:              5 * time.Second,
			WriteTimeout:             5 * time.Second,
		},
		Log: testLogger,
		Middleware: func(svc interfaces.DeviceService) interfaces.DeviceService {
			return LoggingMiddleware(svc, testLogger)
		},
		OnServing: func(mode interfaces.Mode, addr string) {
			ch <- serving{mode: mode, addr: addr}
		},
	}
}

func TestAgentBootLoop(t *testing.T) {
	ks := openKeystore(t)
	signer := newSigner(t)

	ch := make(chan serving, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := startAgent(t, ctx, New(ks, testAgentConfig(ch)))

	factory := nextServing(t, ch)
	require.Equal(t, interfaces.ModeFactory, factory.mode)

	client := deviceagent.NewClient("http://"+factory.addr, nil)
	id, err := client.Identity(ctx)
	require.NoError(t, err)
	assert.False(t, id.HasCertificate)
	assert.Nil(t, id.Certificates)

	_, err = client.Challenge(ctx, []byte("too early"))
	var rejected *deviceagent.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusNotFound, rejected.StatusCode)

	require.NoError(t, client.SubmitCertificate(ctx, certify(t, signer, id.Address)))

	operating := nextServing(t, ch)
	require.Equal(t, interfaces.ModeOperating, operating.mode)

	client = deviceagent.NewClient("http://"+operating.addr, nil)
	id, err = client.Identity(ctx)
	require.NoError(t, err)
	assert.True(t, id.HasCertificate)
	assert.Len(t, id.Certificates, 1)

	challenge := []byte("operating challenge")
	sig, err := client.Challenge(ctx, challenge)
	require.NoError(t, err)
	require.NotNil(t, sig)
	raw, err := cryptoutils.DecodeHex(*sig)
	require.NoError(t, err)
	ok, err := cryptoutils.Verify(id.Address, challenge, raw)
	require.NoError(t, err)
	assert.True(t, ok)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("agent did not stop")
	}
}

func TestAgentStartsOperatingWhenProvisioned(t *testing.T) {
	ks := openKeystore(t)
	require.NoError(t, ks.AppendCertificate(context.Background(), certify(t, newSigner(t), ks.Address())))

	ch := make(chan serving, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := startAgent(t, ctx, New(ks, testAgentConfig(ch)))

	s := nextServing(t, ch)
	assert.Equal(t, interfaces.ModeOperating, s.mode)

	cancel()
	assert.NoError(t, <-done)
}

func TestAgentStopsInFactoryMode(t *testing.T) {
	ks := openKeystore(t)

	ch := make(chan serving, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := startAgent(t, ctx, New(ks, testAgentConfig(ch)))

	s := nextServing(t, ch)
	assert.Equal(t, interfaces.ModeFactory, s.mode)

	cancel()
	assert.NoError(t, <-done)
	assert.Empty(t, ch)
	assert.Equal(t, interfaces.ModeFactory, ks.Mode())
}

func TestAgentListenError(t *testing.T) {
	ks := openKeystore(t)
	cfg := testAgentConfig(make(chan serving, 1))
	cfg.Server.ListenAddr = "256.0.0.1:1"

	err := New(ks, cfg).Run(context.Background())
	assert.Error(t, err)
}
