// Package media provides blob storage for captured recordings.
//
// This file implements an S3-compatible store targeting Cloudflare R2.
package media

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// R2Opts holds configuration options for the R2 blob store.
type R2Opts struct {
	AccessKeyID     string
	SecretAccessKey string
	AccountID       string
	Bucket          string
}

// R2Option defines a configuration option for the R2 blob store.
type R2Option func(*R2Opts)

// WithR2Credentials sets the R2 access key pair.
func WithR2Credentials(accessKeyID, secretAccessKey string) R2Option {
	return func(o *R2Opts) {
		o.AccessKeyID = accessKeyID
		o.SecretAccessKey = secretAccessKey
	}
}

// WithR2Account sets the Cloudflare account id.
func WithR2Account(accountID string) R2Option {
	return func(o *R2Opts) { o.AccountID = accountID }
}

// WithR2Bucket sets the destination bucket.
func WithR2Bucket(bucket string) R2Option {
	return func(o *R2Opts) { o.Bucket = bucket }
}

// R2Store uploads recording blobs to Cloudflare R2 and returns the public
// r2.dev URL for each object.
type R2Store struct {
	client    *s3.Client
	bucket    string
	publicURL string
}

// NewR2Store creates an R2-backed blob store, falling back to the R2_*
// environment variables for any option not provided.
func NewR2Store(opts ...R2Option) (*R2Store, error) {
	var cfg R2Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccessKeyID == "" {
		cfg.AccessKeyID = os.Getenv("R2_ACCESS_KEY_ID")
	}
	if cfg.SecretAccessKey == "" {
		cfg.SecretAccessKey = os.Getenv("R2_SECRET_ACCESS_KEY")
	}
	if cfg.AccountID == "" {
		cfg.AccountID = os.Getenv("R2_ACCOUNT_ID")
	}
	if cfg.Bucket == "" {
		cfg.Bucket = os.Getenv("R2_BUCKET_NAME")
	}
	slog.Debug("R2 store config loaded",
		"AccessKeyID_set", cfg.AccessKeyID != "",
		"SecretAccessKey_set", cfg.SecretAccessKey != "",
		"AccountID_set", cfg.AccountID != "",
		"Bucket_set", cfg.Bucket != "")

	if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" || cfg.AccountID == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("incomplete R2 credentials")
	}

	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", cfg.AccountID)
	awsCfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("auto"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")),
	)
	if err != nil {
		slog.Error("Failed to load R2 client configuration", "error", err)
		return nil, fmt.Errorf("failed to configure R2 client: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})

	slog.Info("Connected to Cloudflare R2 for audio storage", "bucket", cfg.Bucket)
	return &R2Store{
		client:    client,
		bucket:    cfg.Bucket,
		publicURL: fmt.Sprintf("https://pub-%s.r2.dev", cfg.AccountID),
	}, nil
}

// Store uploads a blob and returns its public URL.
func (r *R2Store) Store(ctx context.Context, blob []byte, key, contentType string) (string, error) {
	if len(blob) == 0 {
		return "", fmt.Errorf("no blob data to store")
	}

	_, err := r.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(blob),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		slog.Error("R2 upload failed", "error", err, "key", key)
		return "", fmt.Errorf("failed to upload %s to R2: %w", key, err)
	}

	publicURL := fmt.Sprintf("%s/%s/%s", r.publicURL, r.bucket, key)
	slog.Debug("R2 upload succeeded", "key", key, "url", publicURL)
	return publicURL, nil
}
