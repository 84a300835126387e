// Package storage reads run packages from and publishes indexes to
// S3-compatible object storage.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/labrat-lab/labrat/pkg/config"
	"github.com/sirupsen/logrus"
)

// defaultRegion is used when no region is configured.
const defaultRegion = "us-east-1"

// ObjectStore is the subset of object storage operations labrat needs.
type ObjectStore interface {
	// GetObject returns the contents of key, or (nil, nil) when it does
	// not exist.
	GetObject(ctx context.Context, key string) ([]byte, error)
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Compile-time interface check.
var _ ObjectStore = (*S3Store)(nil)

// S3Store reads and writes objects in one S3 bucket.
type S3Store struct {
	log    logrus.FieldLogger
	cfg    *config.S3Config
	client *s3.Client
}

// NewS3Store creates a new S3Store from the given configuration.
func NewS3Store(log logrus.FieldLogger, cfg *config.S3Config) *S3Store {
	return &S3Store{
		log:    log.WithField("component", "s3-store"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3Config) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		if cfg.Region != "" {
			o.Region = cfg.Region
		} else {
			o.Region = defaultRegion
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		if cfg.ForcePathStyle {
			o.UsePathStyle = true
		}

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// PackageKey returns the object key for a package reference.
func (s *S3Store) PackageKey(ref string) string {
	return joinKey(s.cfg.Prefix, ref)
}

// IndexKey returns the object key the index is published to.
func (s *S3Store) IndexKey() string {
	key := s.cfg.IndexKey
	if key == "" {
		key = config.DefaultS3IndexKey
	}

	return joinKey(s.cfg.Prefix, key)
}

// GetObject returns the contents of the given key.
// If the key does not exist, it returns (nil, nil).
func (s *S3Store) GetObject(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("getting object %q: %w", key, err)
	}

	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("reading object %q: %w", key, err)
	}

	return data, nil
}

// PutObject writes data to the given key with the specified content type.
func (s *S3Store) PutObject(
	ctx context.Context, key string, data []byte, contentType string,
) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("putting object %q: %w", key, err)
	}

	s.log.WithFields(logrus.Fields{
		"bucket": s.cfg.Bucket,
		"key":    key,
	}).Debug("Object uploaded")

	return nil
}

// joinKey joins a prefix and a relative key with exactly one slash.
func joinKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	key = strings.TrimLeft(key, "/")

	if prefix == "" {
		return key
	}

	return prefix + "/" + key
}

// isS3NotFound returns true if the error indicates the object does not exist.
func isS3NotFound(err error) bool {
	var nsk *s3types.NoSuchKey
	if errors.As(err, &nsk) {
		return true
	}

	// Some S3-compatible implementations return a generic error with
	// "NoSuchKey" in the message rather than the typed error.
	return strings.Contains(err.Error(), "NoSuchKey")
}
