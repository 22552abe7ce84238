// Package transform holds the image transformations a worker can run on a
// job's input. Every implementation writes its artifact through a temporary
// file and renames it into place, so a failed run never leaves a partial
// output behind.
package transform

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"image-job-workers/internal/config"
)

// Transformer turns the file at inputPath into a new file at outputPath.
type Transformer interface {
	Transform(ctx context.Context, inputPath, outputPath string) error
}

// Func adapts a plain function to Transformer.
type Func func(ctx context.Context, inputPath, outputPath string) error

// Transform calls f.
func (f Func) Transform(ctx context.Context, inputPath, outputPath string) error {
	return f(ctx, inputPath, outputPath)
}

// New builds the transformer selected by cfg.Transformer, wrapped in an S3
// mirror when a bucket is configured. Each call returns an independent
// instance.
func New(ctx context.Context, cfg config.Config) (Transformer, error) {
	var t Transformer
	switch cfg.Transformer {
	case "imaging", "":
		t = &Imaging{Width: cfg.TransformWidth, Height: cfg.TransformHeight, Grayscale: cfg.TransformGrayscale}
	case "thumbnail":
		t = NewThumbnail(cfg.TransformWidth)
	case "command":
		cmd, err := NewCommand(cfg.TransformCommand)
		if err != nil {
			return nil, err
		}
		t = cmd
	default:
		return nil, fmt.Errorf("unknown transformer %q", cfg.Transformer)
	}

	if cfg.ImageS3Bucket != "" {
		client, err := newS3Client(ctx, cfg)
		if err != nil {
			return nil, err
		}
		t = NewS3Mirror(t, &s3Uploader{client: client, bucket: cfg.ImageS3Bucket}, "")
	}
	return t, nil
}

// writeAtomic streams the artifact into a temp file next to path and renames
// it over path once write succeeds.
func writeAtomic(path string, write func(w io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp output: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("move output into place: %w", err)
	}
	committed = true
	return nil
}
