package cache

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"vies-gateway/internal/config"
	"vies-gateway/internal/models"
)

type objectStore interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3 stores one JSON object per VAT number under a key prefix. PutObject
// replaces the object whole, which gives the upsert semantics we need.
type S3 struct {
	client objectStore
	bucket string
	prefix string
}

// NewS3 loads AWS configuration and builds the bucket-backed cache.
func NewS3(ctx context.Context, cfg config.Config) (*S3, error) {
	if cfg.S3Bucket == "" {
		return nil, errors.New("cache backend s3 requested but S3_BUCKET is not configured")
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3PathStyle
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})
	return newS3WithClient(client, cfg.S3Bucket, cfg.S3Prefix), nil
}

func newS3WithClient(client objectStore, bucket, prefix string) *S3 {
	return &S3{client: client, bucket: bucket, prefix: prefix}
}

func (s *S3) key(vatNumber string) string {
	return s.prefix + vatNumber + ".json"
}

// Get downloads the entry object. NoSuchKey is a miss.
func (s *S3) Get(ctx context.Context, vatNumber string) (models.CacheEntry, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(vatNumber)),
	})
	if err != nil {
		var missing *types.NoSuchKey
		if errors.As(err, &missing) {
			return models.CacheEntry{}, false, nil
		}
		return models.CacheEntry{}, false, fmt.Errorf("get object: %w", err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("read object: %w", err)
	}
	var entry models.CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return models.CacheEntry{}, false, fmt.Errorf("decode cache entry: %w", err)
	}
	return entry, true, nil
}

// Put uploads the entry as JSON, replacing any previous object.
func (s *S3) Put(ctx context.Context, entry models.CacheEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode cache entry: %w", err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.key(entry.VATNumber)),
		Body:        bytes.NewReader(raw),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// Close is a no-op; the SDK client holds no resources to release.
func (s *S3) Close() error { return nil }
