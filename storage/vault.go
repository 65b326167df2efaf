package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"
	"github.com/ruteri/device-pki/interfaces"
)

// vaultDocumentKey is the field of the KV secret holding the keystore document.
const vaultDocumentKey = "keystore"

// VaultConfig describes a keystore kept in a Vault KV v2 secret.
type VaultConfig struct {
	// Address is the Vault server address (e.g. https://vault.example.com:8200).
	Address string
	// MountPath is the KV v2 mount (e.g. "secret").
	MountPath string
	// DataPath is the secret path within the mount (e.g. "devices/gateway-1").
	DataPath string
	// Token authenticates requests. When empty the VAULT_TOKEN environment
	// variable is used, as picked up by the Vault client.
	Token string
	// ClientCert, if set, is presented for TLS client certificate authentication.
	ClientCert *tls.Certificate
}

// VaultBackend implements a keystore backend using HashiCorp Vault.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a new Vault keystore backend.
func NewVaultBackend(cfg VaultConfig, log *slog.Logger) (*VaultBackend, error) {
	mountPath := strings.Trim(cfg.MountPath, "/")
	dataPath := strings.Trim(cfg.DataPath, "/")
	if mountPath == "" || dataPath == "" {
		return nil, fmt.Errorf("%w: vault keystore needs both mount and path", interfaces.ErrInvalidLocationURI)
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.ClientCert != nil {
		transport.TLSClientConfig = &tls.Config{
			Certificates: []tls.Certificate{*cfg.ClientCert},
		}
	}

	config := api.DefaultConfig()
	config.Address = cfg.Address
	config.HttpClient = &http.Client{
		Transport: transport,
		Timeout:   30 * time.Second,
	}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if cfg.Token != "" {
		client.SetToken(cfg.Token)
	}

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", strings.TrimPrefix(strings.TrimPrefix(cfg.Address, "https://"), "http://"), mountPath, dataPath),
	}, nil
}

// Load reads the keystore document from the KV v2 secret.
func (b *VaultBackend) Load(ctx context.Context) ([]byte, error) {
	start := time.Now()
	path := b.secretPath()

	secret, err := b.client.Logical().ReadWithContext(ctx, path)
	if err != nil {
		b.log.Error("Failed to read from Vault",
			slog.String("path", path),
			"err", err)
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	if secret == nil || secret.Data == nil || secret.Data["data"] == nil {
		b.log.Debug("Keystore not found in Vault", slog.String("path", path))
		return nil, interfaces.ErrKeystoreNotFound
	}

	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid data format in Vault response")
	}

	content, ok := data[vaultDocumentKey].(string)
	if !ok {
		return nil, fmt.Errorf("%s key not found in Vault data", vaultDocumentKey)
	}

	b.log.Debug("Loaded keystore from Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return []byte(content), nil
}

// Save writes a new version of the KV v2 secret.
func (b *VaultBackend) Save(ctx context.Context, data []byte) error {
	start := time.Now()
	path := b.secretPath()

	secretData := map[string]interface{}{
		"data": map[string]interface{}{
			vaultDocumentKey: string(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, path, secretData); err != nil {
		b.log.Error("Failed to write to Vault",
			slog.String("path", path),
			"err", err)
		return fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Info("Stored keystore in Vault",
		slog.String("path", path),
		slog.Duration("duration", time.Since(start)))

	return nil
}

// Available checks if the Vault backend is accessible.
// It uses the health endpoint to verify that Vault is initialized and unsealed.
func (b *VaultBackend) Available(ctx context.Context) bool {
	healthCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	health, err := b.client.Sys().HealthWithContext(healthCtx)
	if err != nil {
		b.log.Debug("Vault health check failed", "err", err)
		return false
	}

	if !health.Initialized || health.Sealed {
		b.log.Debug("Vault is not available",
			slog.Bool("initialized", health.Initialized),
			slog.Bool("sealed", health.Sealed))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s-%s", b.mountPath, b.dataPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath() string {
	return fmt.Sprintf("%s/data/%s", b.mountPath, b.dataPath)
}
