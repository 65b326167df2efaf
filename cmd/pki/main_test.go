package main

import (
	"bytes"
	"context"
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
	"github.com/ruteri/device-pki/provisioning"
	"github.com/ruteri/device-pki/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func serveDevice(t *testing.T, ks *keystore.Keystore) string {
	t.Helper()
	svc := agent.NewService(ks, pki.NewCertificateAuthority(), testLogger)
	r := chi.NewRouter()
	deviceagent.NewHandler(svc, testLogger).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv.URL
}

func provisionedDevice(t *testing.T, client *provisioning.Client, signer *cryptoutils.Keypair) (interfaces.Address, string) {
	t.Helper()
	backend, err := storage.NewFileBackend(filepath.Join(t.TempDir(), "keystore.json"), testLogger)
	require.NoError(t, err)
	ks, err := keystore.Open(context.Background(), backend, testLogger)
	require.NoError(t, err)

	_, err = client.Burn(context.Background(), serveDevice(t, ks), signer, time.Hour)
	require.NoError(t, err)
	return ks.Address(), serveDevice(t, ks)
}

func TestVerifyDevices(t *testing.T) {
	client := provisioning.NewClient(pki.NewCertificateAuthority(), &http.Client{Timeout: 5 * time.Second}, testLogger)
	signer, err := cryptoutils.GenerateKeypair()
	require.NoError(t, err)

	good, goodURL := provisionedDevice(t, client, signer)
	revoked, revokedURL := provisionedDevice(t, client, signer)

	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	l := new(ledger.MockLedger)
	l.On("IsChildValid", mock.Anything, signer.Address(), good).Return(true, nil)
	l.On("IsChildValid", mock.Anything, signer.Address(), revoked).Return(false, nil)

	var out bytes.Buffer
	failed := verifyDevices(context.Background(), &out, client, []string{goodURL, revokedURL, dead.URL}, l, 2)
	assert.Equal(t, 2, failed)

	text := out.String()
	assert.Contains(t, text, "URL:          "+goodURL+"\nDevice:       "+good.String())
	assert.Contains(t, text, "Result:       valid")
	assert.Contains(t, text, "ChainInvalid")
	assert.Contains(t, text, "Result:       invalid")
	assert.Contains(t, text, "URL:          "+dead.URL+"\nError:        TransportError")
	l.AssertExpectations(t)
}

func TestVerifyDevicesAllValid(t *testing.T) {
	client := provisioning.NewClient(pki.NewCertificateAuthority(), nil, testLogger)
	signer, err := cryptoutils.GenerateKeypair()
	require.NoError(t, err)

	_, first := provisionedDevice(t, client, signer)
	_, second := provisionedDevice(t, client, signer)

	l := ledger.NewMemoryLedger(0)
	operator, err := cryptoutils.GenerateKeypair()
	require.NoError(t, err)
	l.SetMembers(operator.Address())
	require.NoError(t, l.BookSlot(operator.Address(), signer.Address()))

	var out bytes.Buffer
	assert.Zero(t, verifyDevices(context.Background(), &out, client, []string{first, second}, l, 1))
}
