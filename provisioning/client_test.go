package provisioning

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/ruteri/device-pki/agent"
	"github.com/ruteri/device-pki/api/deviceagent"
	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
	"github.com/ruteri/device-pki/keystore"
	"github.com/ruteri/device-pki/ledger"
	"github.com/ruteri/device-pki/pki"
	"github.com/ruteri/device-pki/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func openKeystore(t *testing.T) *keystore.Keystore {
	t.Helper()
	backend, err := storage.NewFileBackend(filepath.Join(t.TempDir(), "keystore.json"), testLogger)
	require.NoError(t, err)
	ks, err := keystore.Open(context.Background(), backend, testLogger)
	require.NoError(t, err)
	return ks
}

func newKeypair(t *testing.T) *cryptoutils.Keypair {
	t.Helper()
	kp, err := cryptoutils.GenerateKeypair()
	require.NoError(t, err)
	return kp
}

// serveDevice serves ks in the mode derived from its current certificates,
// the way a device agent does after (re)booting.
func serveDevice(t *testing.T, ks *keystore.Keystore) string {
	t.Helper()
	svc := agent.NewService(ks, pki.NewCertificateAuthority(), testLogger)
	r := chi.NewRouter()
	deviceagent.NewHandler(svc, testLogger).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func newClient() *Client {
	return NewClient(pki.NewCertificateAuthority(), &http.Client{Timeout: 5 * time.Second}, testLogger)
}

func TestBurnThenVerify(t *testing.T) {
	ctx := context.Background()
	client := newClient()
	signer := newKeypair(t)
	ks := openKeystore(t)

	factoryURL := serveDevice(t, ks)

	identity, err := client.FetchIdentity(ctx, factoryURL)
	require.NoError(t, err)
	assert.Equal(t, ks.Address(), identity.Address)
	assert.False(t, identity.HasCertificate)

	encoded, err := client.Burn(ctx, factoryURL, signer, 24*time.Hour)
	require.NoError(t, err)

	identity, err = client.FetchIdentity(ctx, factoryURL)
	require.NoError(t, err)
	assert.True(t, identity.HasCertificate)
	assert.Equal(t, []interfaces.EncodedCertificate{encoded}, identity.Certificates)

	_, err = client.Burn(ctx, factoryURL, signer, 24*time.Hour)
	assert.ErrorIs(t, err, interfaces.ErrAlreadyProvisioned)
	assert.Len(t, ks.Certificates(), 1)

	operatingURL := serveDevice(t, ks)

	t.Run("ledger accepts", func(t *testing.T) {
		l := new(ledger.MockLedger)
		l.On("IsChildValid", mock.Anything, signer.Address(), ks.Address()).Return(true, nil)

		report, err := client.Verify(ctx, operatingURL, l)
		require.NoError(t, err)
		assert.True(t, report.Valid)
		assert.Nil(t, report.Challenge)
		assert.Empty(t, report.Failures)
		assert.Equal(t, 1, report.Certificates)
		assert.Equal(t, ks.Address(), report.Address)
		l.AssertExpectations(t)
	})

	t.Run("ledger rejects", func(t *testing.T) {
		l := new(ledger.MockLedger)
		l.On("IsChildValid", mock.Anything, signer.Address(), ks.Address()).Return(false, nil)

		report, err := client.Verify(ctx, operatingURL, l)
		require.NoError(t, err)
		assert.False(t, report.Valid)
		assert.Nil(t, report.Challenge)
		require.Len(t, report.Failures, 1)
		assert.Equal(t, encoded, report.Failures[0].Certificate)
		assert.ErrorIs(t, report.Failures[0].Reason, interfaces.ErrChainInvalid)
	})

	t.Run("ledger unreachable", func(t *testing.T) {
		l := new(ledger.MockLedger)
		l.On("IsChildValid", mock.Anything, signer.Address(), ks.Address()).Return(false, errors.New("connection refused"))

		report, err := client.Verify(ctx, operatingURL, l)
		assert.Nil(t, report)
		assert.ErrorIs(t, err, interfaces.ErrTransport)
	})

	t.Run("memory ledger revocation", func(t *testing.T) {
		operator := newKeypair(t).Address()
		l := ledger.NewMemoryLedger(0)
		l.SetMembers(operator)
		require.NoError(t, l.BookSlot(operator, signer.Address()))

		report, err := client.Verify(ctx, operatingURL, l)
		require.NoError(t, err)
		assert.True(t, report.Valid)

		require.NoError(t, l.RevokeChild(operator, signer.Address(), ks.Address()))
		report, err = client.Verify(ctx, operatingURL, l)
		require.NoError(t, err)
		assert.False(t, report.Valid)
		require.Len(t, report.Failures, 1)
		assert.ErrorIs(t, report.Failures[0].Reason, interfaces.ErrChainInvalid)
	})
}

func TestBurnRejectedByDevice(t *testing.T) {
	ctx := context.Background()
	ks := openKeystore(t)
	url := serveDevice(t, ks)

	expired := NewClient(pki.NewCertificateAuthority(), nil, testLogger)
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }

	_, err := expired.Burn(ctx, url, newKeypair(t), time.Hour)
	var rejected *deviceagent.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, http.StatusBadRequest, rejected.StatusCode)
	assert.ErrorIs(t, err, interfaces.ErrExpired)
	assert.False(t, ks.HasCertificate())
}

func TestVerifyFactoryDeviceFailsChallenge(t *testing.T) {
	ks := openKeystore(t)
	url := serveDevice(t, ks)

	report, err := newClient().Verify(context.Background(), url, new(ledger.MockLedger))
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotNil(t, report.Challenge)
	assert.ErrorIs(t, report.Challenge, interfaces.ErrChallengeFailure)
	assert.Equal(t, ks.Address(), report.Challenge.Device)
}

func TestVerifyUnreachableDevice(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	report, err := newClient().Verify(context.Background(), url, new(ledger.MockLedger))
	assert.Nil(t, report)
	assert.ErrorIs(t, err, interfaces.ErrTransport)
}

// fakeDevice serves a fixed identity and answers challenges with sign, or
// with the raw body reply when set.
type fakeDevice struct {
	identity deviceagent.IdentityResponse
	sign     func(challenge []byte) *string
	reply    string
}

func (f *fakeDevice) start(t *testing.T) string {
	t.Helper()
	r := chi.NewRouter()
	r.Get(deviceagent.PathIdentity, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(f.identity)
	})
	r.Post(deviceagent.PathChallenge, func(w http.ResponseWriter, r *http.Request) {
		var req deviceagent.ChallengeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotNil(t, req.Challenge)
		challenge, err := cryptoutils.DecodeHex(*req.Challenge)
		require.NoError(t, err)
		assert.Len(t, challenge, ChallengeSize)
		if f.reply != "" {
			_, _ = w.Write([]byte(f.reply))
			return
		}
		_ = json.NewEncoder(w).Encode(deviceagent.ChallengeResponse{Signature: f.sign(challenge)})
	})
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func signWith(kp *cryptoutils.Keypair) func([]byte) *string {
	return func(challenge []byte) *string {
		s := cryptoutils.EncodeHex(kp.Sign(challenge))
		return &s
	}
}

func TestChallengeDevice(t *testing.T) {
	deviceKey := newKeypair(t)
	other := newKeypair(t)
	garbage := "0xnothex"

	tests := []struct {
		name   string
		sign   func([]byte) *string
		reply  string
		reason string
	}{
		{
			name: "valid signature",
			sign: signWith(deviceKey),
		},
		{
			name:   "no signature",
			sign:   func([]byte) *string { return nil },
			reason: "no signature present in challenge reply",
		},
		{
			name:   "malformed signature",
			sign:   func([]byte) *string { return &garbage },
			reason: "malformed signature",
		},
		{
			name:   "signature is not a string",
			reply:  `{"signature":12345}`,
			reason: "malformed signature",
		},
		{
			name:   "reply is not json",
			reply:  `signature: 0x00`,
			reason: "malformed signature",
		},
		{
			name:   "null signature",
			reply:  `{"signature":null}`,
			reason: "no signature present in challenge reply",
		},
		{
			name:   "signed by another key",
			sign:   signWith(other),
			reason: "the device was not able to prove ownership of its keypair",
		},
		{
			name: "signature over other bytes",
			sign: func(challenge []byte) *string {
				return signWith(deviceKey)(append([]byte{0}, challenge...))
			},
			reason: "the device was not able to prove ownership of its keypair",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &fakeDevice{
				identity: deviceagent.IdentityResponse{Address: deviceKey.Address()},
				sign:     tt.sign,
				reply:    tt.reply,
			}
			url := dev.start(t)

			failure, err := newClient().ChallengeDevice(context.Background(), url, deviceKey.Address())
			require.NoError(t, err)
			if tt.reason == "" {
				assert.Nil(t, failure)
				return
			}
			require.NotNil(t, failure)
			assert.Equal(t, tt.reason, failure.Reason)
			assert.ErrorIs(t, failure, interfaces.ErrChallengeFailure)
			assert.Equal(t, "ChallengeFailure", interfaces.Reason(failure))
		})
	}
}

func TestVerifyMalformedChallengeReplyIsNotFatal(t *testing.T) {
	deviceKey := newKeypair(t)
	dev := &fakeDevice{
		identity: deviceagent.IdentityResponse{Address: deviceKey.Address()},
		reply:    `{"signature":12345}`,
	}
	url := dev.start(t)

	report, err := newClient().Verify(context.Background(), url, new(ledger.MockLedger))
	require.NoError(t, err)
	require.NotNil(t, report.Challenge)
	assert.Equal(t, "malformed signature", report.Challenge.Reason)
	assert.False(t, report.Valid)
}

func TestVerifyCopiedCertificateFailsBeforeCertificateChecks(t *testing.T) {
	victim := newKeypair(t)
	impostor := newKeypair(t)
	signer := newKeypair(t)

	// A genuine certificate for the victim, replayed by a device that does
	// not hold the victim's private key.
	copied, err := pki.SignAndEncode(victim.Address(), signer, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	dev := &fakeDevice{
		identity: deviceagent.IdentityResponse{
			Address:        victim.Address(),
			HasCertificate: true,
			Certificates:   []interfaces.EncodedCertificate{copied},
		},
		sign: signWith(impostor),
	}
	url := dev.start(t)

	l := new(ledger.MockLedger)
	l.On("IsChildValid", mock.Anything, mock.Anything, mock.Anything).Return(true, nil).Maybe()

	report, err := newClient().Verify(context.Background(), url, l)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	require.NotNil(t, report.Challenge)
	assert.ErrorIs(t, report.Challenge, interfaces.ErrChallengeFailure)
	assert.Equal(t, victim.Address(), report.Challenge.Device)
	assert.Empty(t, report.Failures)
	l.AssertNotCalled(t, "IsChildValid", mock.Anything, mock.Anything, mock.Anything)
}

func TestVerifyAddressMismatch(t *testing.T) {
	deviceKey := newKeypair(t)
	signer := newKeypair(t)

	// A valid certificate, but for a different device.
	stolen, err := pki.SignAndEncode(newKeypair(t).Address(), signer, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	own, err := pki.SignAndEncode(deviceKey.Address(), signer, time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)

	dev := &fakeDevice{
		identity: deviceagent.IdentityResponse{
			Address:        deviceKey.Address(),
			HasCertificate: true,
			Certificates:   []interfaces.EncodedCertificate{own, stolen},
		},
		sign: signWith(deviceKey),
	}
	url := dev.start(t)

	l := new(ledger.MockLedger)
	l.On("IsChildValid", mock.Anything, signer.Address(), mock.Anything).Return(true, nil)

	report, err := newClient().Verify(context.Background(), url, l)
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Equal(t, 2, report.Certificates)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, stolen, report.Failures[0].Certificate)
	assert.ErrorIs(t, report.Failures[0].Reason, interfaces.ErrAddressMismatch)
}

func TestVerifyWithoutCertificates(t *testing.T) {
	deviceKey := newKeypair(t)
	dev := &fakeDevice{
		identity: deviceagent.IdentityResponse{Address: deviceKey.Address()},
		sign:     signWith(deviceKey),
	}
	url := dev.start(t)

	report, err := newClient().Verify(context.Background(), url, new(ledger.MockLedger))
	require.NoError(t, err)
	assert.Nil(t, report.Challenge)
	assert.Empty(t, report.Failures)
	assert.Zero(t, report.Certificates)
	assert.False(t, report.Valid)
}

func TestVerifyAll(t *testing.T) {
	ctx := context.Background()
	client := newClient()
	signer := newKeypair(t)

	var urls []string
	for i := 0; i < 3; i++ {
		ks := openKeystore(t)
		_, err := client.Burn(ctx, serveDevice(t, ks), signer, time.Hour)
		require.NoError(t, err)
		urls = append(urls, serveDevice(t, ks))
	}

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()
	urls = append(urls[:1], append([]string{dead.URL}, urls[1:]...)...)

	l := new(ledger.MockLedger)
	l.On("IsChildValid", mock.Anything, signer.Address(), mock.Anything).Return(true, nil)

	results := client.VerifyAll(ctx, urls, l, 2)
	require.Len(t, results, 4)
	for i, res := range results {
		assert.Equal(t, urls[i], res.URL)
		if i == 1 {
			assert.ErrorIs(t, res.Err, interfaces.ErrTransport)
			assert.Nil(t, res.Report)
			continue
		}
		require.NoError(t, res.Err)
		assert.True(t, res.Report.Valid)
	}
}
