package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/ruteri/device-pki/interfaces"
)

// BackendFactory creates keystore backends from URI strings and manages
// multi-backend configurations for replicated keystores.
type BackendFactory struct {
	log *slog.Logger
}

// NewBackendFactory creates a new factory instance that can create keystore backends.
func NewBackendFactory(logger *slog.Logger) *BackendFactory {
	return &BackendFactory{log: logger}
}

// BackendFor creates a keystore backend from a location URI.
//
// Supported schemes:
//   - file:///abs/path.json, file://~/path.json, file://./rel.json or a plain path
//   - vault://host:port/mount/path?token=...&tls=false
//   - s3://[ACCESS_KEY:SECRET_KEY@]bucket/key?region=...&endpoint=...&credentials=env
//
// Returns an error if the URI is invalid or the scheme is unsupported.
func (sf *BackendFactory) BackendFor(locationURI string) (interfaces.KeystoreBackend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "":
		return sf.createFileBackend(locationURI)
	case "file":
		return sf.createFileBackend(filePathFromURL(u))
	case "vault":
		return sf.createVaultBackend(u)
	case "s3":
		return sf.createS3Backend(u)
	default:
		return nil, fmt.Errorf("%w: unsupported backend scheme: %s", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// CreateMultiBackend creates a replicated keystore backend from a list of
// location URIs. A single URI yields that backend unwrapped.
func (sf *BackendFactory) CreateMultiBackend(locationURIs []string) (interfaces.KeystoreBackend, error) {
	if len(locationURIs) == 0 {
		return nil, fmt.Errorf("%w: no keystore locations", interfaces.ErrInvalidLocationURI)
	}

	backends := make([]interfaces.KeystoreBackend, 0, len(locationURIs))
	for _, uri := range locationURIs {
		backend, err := sf.BackendFor(uri)
		if err != nil {
			return nil, fmt.Errorf("keystore location %q: %w", uri, err)
		}
		backends = append(backends, backend)
	}

	if len(backends) == 1 {
		return backends[0], nil
	}
	return NewMultiBackend(backends, sf.log), nil
}

func (sf *BackendFactory) createFileBackend(path string) (interfaces.KeystoreBackend, error) {
	sf.log.Debug("Creating file backend", slog.String("path", path))

	expanded, err := ExpandPath(path)
	if err != nil {
		return nil, err
	}
	return NewFileBackend(expanded, sf.log)
}

// createVaultBackend creates a Vault KV v2 keystore backend.
// URI format: vault://host:port/mount/path/to/secret?token=...&tls=false
// The first path element is the mount, the rest is the secret path.
func (sf *BackendFactory) createVaultBackend(u *url.URL) (interfaces.KeystoreBackend, error) {
	sf.log.Debug("Creating Vault backend", slog.String("host", u.Host))

	if u.Host == "" {
		return nil, fmt.Errorf("%w: vault URI without host", interfaces.ErrInvalidLocationURI)
	}

	mount, dataPath, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")

	query := u.Query()
	scheme := "https"
	if query.Get("tls") == "false" {
		scheme = "http"
	}

	return NewVaultBackend(VaultConfig{
		Address:   fmt.Sprintf("%s://%s", scheme, u.Host),
		MountPath: mount,
		DataPath:  dataPath,
		Token:     query.Get("token"),
	}, sf.log)
}

// createS3Backend creates an S3 or S3-compatible keystore backend.
// URI format: s3://[ACCESS_KEY:SECRET_KEY@]bucket-name/key?region=us-west-2&endpoint=custom.s3.com
func (sf *BackendFactory) createS3Backend(u *url.URL) (interfaces.KeystoreBackend, error) {
	sf.log.Debug("Creating S3 backend", slog.String("bucket", u.Host))

	query := u.Query()
	cfg := S3Config{
		Bucket:   u.Host,
		Key:      strings.TrimPrefix(u.Path, "/"),
		Region:   query.Get("region"),
		Endpoint: query.Get("endpoint"),
		FromEnv:  query.Get("credentials") == "env",
	}

	if u.User != nil {
		// Embedded credentials are less secure than the environment.
		cfg.AccessKey = u.User.Username()
		cfg.SecretKey, _ = u.User.Password()
		sf.log.Debug("Using embedded credentials for write access")
	}

	return NewS3Backend(cfg, sf.log)
}

// filePathFromURL recovers a path from file:// URIs, including the relative
// forms file://./x and file://~/x where the first element parses as host.
func filePathFromURL(u *url.URL) string {
	if u.Host == "" {
		return u.Path
	}
	return u.Host + "/" + strings.TrimPrefix(u.Path, "/")
}

// ExpandPath replaces a leading ~ with the current user's home directory.
func ExpandPath(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not resolve home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
