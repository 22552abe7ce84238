package transform

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"image-job-workers/internal/config"
)

type imageUploader interface {
	Upload(ctx context.Context, key string, body []byte, contentType string) (string, error)
}

// S3Mirror copies every artifact produced by the wrapped transformer to an
// object store. A failed upload fails the transformation and removes the
// local artifact, so a completed job always has its result in both places.
type S3Mirror struct {
	next     Transformer
	uploader imageUploader
	prefix   string
}

// NewS3Mirror wraps next; objects are stored under prefix + output file name.
func NewS3Mirror(next Transformer, uploader imageUploader, prefix string) *S3Mirror {
	return &S3Mirror{next: next, uploader: uploader, prefix: prefix}
}

// Transform runs the wrapped transformer, then uploads its output.
func (m *S3Mirror) Transform(ctx context.Context, inputPath, outputPath string) error {
	if err := m.next.Transform(ctx, inputPath, outputPath); err != nil {
		return err
	}

	body, err := os.ReadFile(outputPath)
	if err != nil {
		return fmt.Errorf("read output: %w", err)
	}
	key := path.Join(m.prefix, filepath.Base(outputPath))
	contentType := mime.TypeByExtension(filepath.Ext(outputPath))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if _, err := m.uploader.Upload(ctx, key, body, contentType); err != nil {
		_ = os.Remove(outputPath)
		return fmt.Errorf("upload result: %w", err)
	}
	return nil
}

func newS3Client(ctx context.Context, cfg config.Config) (*s3.Client, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.ImageS3Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.ImageS3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.ImageS3Endpoint)
		}
		o.UsePathStyle = cfg.ImageS3PathStyle
	}), nil
}

type s3Uploader struct {
	client *s3.Client
	bucket string
}

func (s *s3Uploader) Upload(ctx context.Context, key string, body []byte, contentType string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}
