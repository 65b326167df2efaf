package keystore

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/ruteri/device-pki/cryptoutils"
	"github.com/ruteri/device-pki/interfaces"
	"github.com/ruteri/device-pki/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func fileBackend(t *testing.T) (*storage.FileBackend, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keystore.json")
	backend, err := storage.NewFileBackend(path, testLogger)
	require.NoError(t, err)
	return backend, path
}

func TestOpenCreatesAndPersists(t *testing.T) {
	backend, path := fileBackend(t)
	ctx := context.Background()

	ks, err := Open(ctx, backend, testLogger)
	require.NoError(t, err)
	assert.Equal(t, interfaces.ModeFactory, ks.Mode())
	assert.False(t, ks.HasCertificate())
	assert.Empty(t, ks.Certificates())
	require.NoError(t, cryptoutils.ValidateAddress(ks.Address()))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Len(t, doc["seed"], 2+64)
	assert.Equal(t, []interface{}{}, doc["certificates"])

	reopened, err := Open(ctx, backend, testLogger)
	require.NoError(t, err)
	assert.Equal(t, ks.Address(), reopened.Address())
}

func TestAppendCertificateSurvivesRestart(t *testing.T) {
	backend, _ := fileBackend(t)
	ctx := context.Background()

	ks, err := Open(ctx, backend, testLogger)
	require.NoError(t, err)

	require.NoError(t, ks.AppendCertificate(ctx, "first"))
	require.NoError(t, ks.AppendCertificate(ctx, "second"))
	assert.Equal(t, interfaces.ModeOperating, ks.Mode())

	reopened, err := Open(ctx, backend, testLogger)
	require.NoError(t, err)
	assert.Equal(t, []interfaces.EncodedCertificate{"first", "second"}, reopened.Certificates())
	assert.Equal(t, interfaces.ModeOperating, reopened.Mode())
	assert.Equal(t, ks.Address(), reopened.Address())
}

func TestCertificatesReturnsCopy(t *testing.T) {
	backend, _ := fileBackend(t)
	ks, err := Open(context.Background(), backend, testLogger)
	require.NoError(t, err)
	require.NoError(t, ks.AppendCertificate(context.Background(), "cert"))

	certs := ks.Certificates()
	certs[0] = "mutated"
	assert.Equal(t, []interfaces.EncodedCertificate{"cert"}, ks.Certificates())
}

func TestSignChallenge(t *testing.T) {
	backend, _ := fileBackend(t)
	ks, err := Open(context.Background(), backend, testLogger)
	require.NoError(t, err)

	challenge := []byte("nonce")
	ok, err := cryptoutils.Verify(ks.Address(), challenge, ks.SignChallenge(challenge))
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFailedSaveLeavesStateUnchanged(t *testing.T) {
	m := &storage.MockKeystoreBackend{BackendName: "mock"}
	m.On("Load", mock.Anything).Return(nil, interfaces.ErrKeystoreNotFound)
	m.On("Save", mock.Anything, mock.Anything).Return(nil).Once()
	m.On("Save", mock.Anything, mock.Anything).Return(errors.New("disk full"))

	ks, err := Open(context.Background(), m, testLogger)
	require.NoError(t, err)

	err = ks.AppendCertificate(context.Background(), "cert")
	assert.ErrorIs(t, err, interfaces.ErrPersistence)
	assert.Equal(t, interfaces.ModeFactory, ks.Mode())
	assert.Empty(t, ks.Certificates())
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("corrupt document is not overwritten", func(t *testing.T) {
		backend, path := fileBackend(t)
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0600))

		_, err := Open(ctx, backend, testLogger)
		assert.ErrorIs(t, err, interfaces.ErrPersistence)

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, "{not json", string(raw))
	})

	t.Run("bad seed", func(t *testing.T) {
		backend, path := fileBackend(t)
		require.NoError(t, os.WriteFile(path, []byte(`{"seed":"0x1234","certificates":[]}`), 0600))

		_, err := Open(ctx, backend, testLogger)
		assert.ErrorIs(t, err, interfaces.ErrPersistence)
	})

	t.Run("backend unavailable", func(t *testing.T) {
		m := &storage.MockKeystoreBackend{BackendName: "mock"}
		m.On("Load", mock.Anything).Return(nil, interfaces.ErrBackendUnavailable)

		_, err := Open(ctx, m, testLogger)
		assert.ErrorIs(t, err, interfaces.ErrPersistence)
		m.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	})

	t.Run("initial save fails", func(t *testing.T) {
		m := &storage.MockKeystoreBackend{BackendName: "mock"}
		m.On("Load", mock.Anything).Return(nil, interfaces.ErrKeystoreNotFound)
		m.On("Save", mock.Anything, mock.Anything).Return(errors.New("read-only"))

		_, err := Open(ctx, m, testLogger)
		assert.ErrorIs(t, err, interfaces.ErrPersistence)
	})

	t.Run("null certificates", func(t *testing.T) {
		backend, path := fileBackend(t)
		seed := cryptoutils.EncodeHex(make([]byte, cryptoutils.SeedSize))
		require.NoError(t, os.WriteFile(path, []byte(`{"seed":"`+seed+`","certificates":null}`), 0600))

		ks, err := Open(ctx, backend, testLogger)
		require.NoError(t, err)
		assert.NotNil(t, ks.Certificates())
		assert.Equal(t, interfaces.ModeFactory, ks.Mode())
	})
}
