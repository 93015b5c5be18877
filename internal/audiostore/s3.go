// Package audiostore issues presigned URLs against an S3-compatible
// bucket holding the audio files. Callers upload through a presigned
// PUT; the recognition backend reads through a presigned GET. No audio
// bytes ever pass through this service.
package audiostore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"transcription-orchestrator/internal/config"
)

// Store presigns upload and download URLs for audio objects.
type Store struct {
	presigner *s3.PresignClient
	bucket    string
	ttl       time.Duration
}

// New builds the store from configuration. A custom endpoint plus
// path-style addressing supports MinIO-style deployments.
func New(ctx context.Context, cfg config.Config) (*Store, error) {
	if cfg.AudioS3Bucket == "" {
		return nil, fmt.Errorf("AUDIO_S3_BUCKET is not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.AudioS3Region),
	}
	if cfg.AudioS3Endpoint != "" {
		resolver := aws.EndpointResolverWithOptionsFunc(func(service, region string, _ ...interface{}) (aws.Endpoint, error) {
			if service == s3.ServiceID {
				return aws.Endpoint{
					URL:               cfg.AudioS3Endpoint,
					HostnameImmutable: cfg.AudioS3PathStyle,
					SigningRegion:     cfg.AudioS3Region,
					Source:            aws.EndpointSourceCustom,
				}, nil
			}
			return aws.Endpoint{}, &aws.EndpointNotFoundError{}
		})
		opts = append(opts, awsconfig.WithEndpointResolverWithOptions(resolver))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.AudioS3PathStyle
	})

	ttl := cfg.UploadURLTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Store{
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.AudioS3Bucket,
		ttl:       ttl,
	}, nil
}

// ObjectKey derives the bucket key for one item's audio file.
func ObjectKey(jobKey, itemKey, displayName string) string {
	name := sanitizeName(displayName)
	if name == "" {
		name = "audio"
	}
	return path.Join("jobs", jobKey, itemKey, name)
}

// PresignUpload returns a time-limited PUT URL for the object key.
func (s *Store) PresignUpload(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign upload %s: %w", key, err)
	}
	return req.URL, nil
}

// PresignDownload returns a time-limited GET URL for the object key;
// it becomes the item's source location handed to the recognizer.
func (s *Store) PresignDownload(ctx context.Context, key string) (string, error) {
	req, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.ttl))
	if err != nil {
		return "", fmt.Errorf("presign download %s: %w", key, err)
	}
	return req.URL, nil
}

func sanitizeName(name string) string {
	name = path.Base(strings.TrimSpace(name))
	if name == "." || name == "/" {
		return ""
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '-' || r == '_':
			return r
		default:
			return '-'
		}
	}, name)
}
