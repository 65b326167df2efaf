package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/ruteri/device-pki/interfaces"
)

// DefaultS3Key is the object key used when the URI carries no path.
const DefaultS3Key = "keystore.json"

// S3Config describes where an S3 keystore lives and how to authenticate.
type S3Config struct {
	Bucket   string
	Key      string
	Region   string
	Endpoint string

	// AccessKey and SecretKey are static credentials. When empty, FromEnv
	// selects the AWS environment variables, otherwise requests are anonymous.
	AccessKey string
	SecretKey string
	FromEnv   bool
}

// S3Backend implements a keystore backend using a single object in Amazon S3
// or a compatible service.
type S3Backend struct {
	client      *s3.S3
	bucketName  string
	key         string
	log         *slog.Logger
	locationURI string
}

// NewS3Backend creates a new S3 keystore backend.
func NewS3Backend(cfg S3Config, log *slog.Logger) (*S3Backend, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("%w: missing S3 bucket", interfaces.ErrInvalidLocationURI)
	}
	if cfg.Key == "" {
		cfg.Key = DefaultS3Key
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}

	uri := fmt.Sprintf("s3://%s/%s?region=%s", cfg.Bucket, cfg.Key, cfg.Region)
	if cfg.AccessKey != "" {
		uri = fmt.Sprintf("s3://%s:***@%s/%s?region=%s", cfg.AccessKey, cfg.Bucket, cfg.Key, cfg.Region)
	}
	if cfg.Endpoint != "" {
		uri += fmt.Sprintf("&endpoint=%s", cfg.Endpoint)
	}

	awsCfg := aws.Config{
		Region:     aws.String(cfg.Region),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
	if cfg.Endpoint != "" {
		awsCfg.Endpoint = aws.String(cfg.Endpoint)
		awsCfg.S3ForcePathStyle = aws.Bool(true)
	}

	switch {
	case cfg.AccessKey != "" && cfg.SecretKey != "":
		awsCfg.Credentials = credentials.NewStaticCredentials(cfg.AccessKey, cfg.SecretKey, "")
	case cfg.FromEnv:
		awsCfg.Credentials = credentials.NewEnvCredentials()
	default:
		awsCfg.Credentials = credentials.AnonymousCredentials
		log.Warn("No S3 credentials provided - keystore writes will fail unless the bucket allows anonymous access")
	}

	sess, err := session.NewSession(&awsCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	return &S3Backend{
		client:      s3.New(sess),
		bucketName:  cfg.Bucket,
		key:         cfg.Key,
		log:         log,
		locationURI: uri,
	}, nil
}

// Load retrieves the keystore object.
// Returns ErrKeystoreNotFound if the object doesn't exist.
func (b *S3Backend) Load(ctx context.Context) ([]byte, error) {
	start := time.Now()

	result, err := b.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.bucketName),
		Key:    aws.String(b.key),
	})
	if err != nil {
		if isS3NotFound(err) {
			b.log.Debug("Keystore not found in S3",
				slog.String("bucket", b.bucketName),
				slog.String("key", b.key),
				slog.Duration("duration", time.Since(start)))
			return nil, interfaces.ErrKeystoreNotFound
		}

		b.log.Error("Failed to get object from S3",
			slog.String("bucket", b.bucketName),
			slog.String("key", b.key),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return nil, fmt.Errorf("%w: %v", interfaces.ErrBackendUnavailable, err)
	}
	defer result.Body.Close()

	data, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read object body: %w", err)
	}

	b.log.Debug("Loaded keystore from S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", b.key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))

	return data, nil
}

// Save overwrites the keystore object.
func (b *S3Backend) Save(ctx context.Context, data []byte) error {
	_, err := b.client.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(b.bucketName),
		Key:         aws.String(b.key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
		ACL:         aws.String(s3.ObjectCannedACLPrivate),
	})
	if err != nil {
		return fmt.Errorf("%w: failed to upload keystore to S3: %v", interfaces.ErrBackendUnavailable, err)
	}

	b.log.Debug("Stored keystore in S3",
		slog.String("bucket", b.bucketName),
		slog.String("key", b.key),
		slog.Int("size", len(data)))

	return nil
}

// Available checks if the S3 backend is accessible by attempting to head the bucket.
func (b *S3Backend) Available(ctx context.Context) bool {
	start := time.Now()

	_, err := b.client.HeadBucketWithContext(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(b.bucketName),
	})
	if err != nil {
		b.log.Warn("S3 backend unavailable",
			slog.String("bucket", b.bucketName),
			"err", err,
			slog.Duration("duration", time.Since(start)))
		return false
	}

	return true
}

// Name returns a unique identifier for this storage backend.
func (b *S3Backend) Name() string {
	return fmt.Sprintf("s3-%s", b.bucketName)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *S3Backend) LocationURI() string {
	return b.locationURI
}

func isS3NotFound(err error) bool {
	var reqErr awserr.RequestFailure
	if errors.As(err, &reqErr) && reqErr.StatusCode() == http.StatusNotFound {
		return true
	}
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		return aerr.Code() == s3.ErrCodeNoSuchKey || aerr.Code() == "NotFound"
	}
	return false
}
