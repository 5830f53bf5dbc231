package pairsync

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3PhotoConfig configures the S3 photo blob store.
type S3PhotoConfig struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"` // For S3-compatible services (MinIO, etc.)
	// AccessKeyID for authentication. Prefer using IAM roles, instance
	// profiles, or environment variables (AWS_ACCESS_KEY_ID,
	// AWS_SECRET_ACCESS_KEY) instead of setting these directly.
	// DO NOT commit credentials to source control.
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Prefix          string `yaml:"prefix"`         // Key prefix for all objects
	UsePathStyle    bool   `yaml:"use_path_style"` // Use path-style addressing

	// PublicBaseURL is the URL root the stored photos are served from
	// (typically a CDN in front of the bucket). If empty, the standard
	// S3 object URL is used.
	PublicBaseURL string `yaml:"public_base_url"`

	// MaxRetries is the max retry attempts for uploads (default: 3).
	MaxRetries int `yaml:"max_retries"`
}

// S3PhotoStore stores mission photos in S3 (or an S3-compatible service)
// and returns a stable public URL for each upload. The URL, not the blob,
// is what ends up in MissionProgress.PhotoURL.
type S3PhotoStore struct {
	client  *s3.Client
	config  S3PhotoConfig
	retryer *Retryer
}

// NewS3PhotoStore creates a new S3 photo store.
func NewS3PhotoStore(cfg S3PhotoConfig) (*S3PhotoStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.Region == "" {
		cfg.Region = "us-east-1"
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}

	var opts []func(*config.LoadOptions) error
	opts = append(opts, config.WithRegion(cfg.Region))

	// Use static credentials if provided
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = cfg.UsePathStyle
		})
	}

	return &S3PhotoStore{
		client: s3.NewFromConfig(awsCfg, s3Opts...),
		config: cfg,
		retryer: NewRetryer(RetryConfig{
			MaxAttempts:       cfg.MaxRetries,
			InitialBackoff:    100 * time.Millisecond,
			MaxBackoff:        10 * time.Second,
			BackoffMultiplier: 2.0,
			Jitter:            0.1,
			RetryIf:           IsRetryable,
		}),
	}, nil
}

// Upload stores a photo blob under the given key and returns its stable
// URL. Uploads are idempotent: re-putting the same key overwrites with
// identical content.
func (p *S3PhotoStore) Upload(ctx context.Context, key string, blob []byte) (string, error) {
	if len(blob) == 0 {
		return "", errors.New("photo blob is empty")
	}
	fullKey := p.config.Prefix + key
	contentType := http.DetectContentType(blob)

	result := p.retryer.Do(ctx, func() error {
		_, err := p.client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(p.config.Bucket),
			Key:         aws.String(fullKey),
			Body:        bytes.NewReader(blob),
			ContentType: aws.String(contentType),
		})
		return err
	})
	if result.LastErr != nil {
		return "", fmt.Errorf("failed to upload photo: %w", result.LastErr)
	}
	return p.objectURL(fullKey), nil
}

func (p *S3PhotoStore) objectURL(key string) string {
	if p.config.PublicBaseURL != "" {
		return strings.TrimRight(p.config.PublicBaseURL, "/") + "/" + key
	}
	if p.config.Endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", strings.TrimRight(p.config.Endpoint, "/"), p.config.Bucket, key)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.config.Bucket, p.config.Region, key)
}

// PhotoKey builds the object key for a mission photo.
func PhotoKey(pairID, missionID, operationID string) string {
	return fmt.Sprintf("pairs/%s/missions/%s/%s.jpg", pairID, missionID, operationID)
}
