package transform

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
)

// Thumbnail scales the input down to a fixed width, keeping its aspect ratio.
type Thumbnail struct {
	width int
}

// NewThumbnail builds a thumbnailer; a non-positive width means 300px.
func NewThumbnail(width int) *Thumbnail {
	if width <= 0 {
		width = 300
	}
	return &Thumbnail{width: width}
}

// Transform writes a PNG, JPEG or GIF thumbnail depending on the output
// extension.
func (t *Thumbnail) Transform(ctx context.Context, inputPath, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	in, err := os.Open(inputPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("source image missing: %w", err)
		}
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	src, _, err := image.Decode(in)
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if src.Bounds().Dx() == 0 || src.Bounds().Dy() == 0 {
		return errors.New("invalid image dimensions")
	}

	newWidth := t.width
	newHeight := int(float64(src.Bounds().Dy()) * float64(newWidth) / float64(src.Bounds().Dx()))
	if newHeight == 0 {
		newHeight = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	return writeAtomic(outputPath, func(w io.Writer) error {
		switch strings.ToLower(filepath.Ext(outputPath)) {
		case ".png":
			return png.Encode(w, dst)
		case ".jpg", ".jpeg":
			return jpeg.Encode(w, dst, &jpeg.Options{Quality: 85})
		case ".gif":
			return gif.Encode(w, dst, nil)
		default:
			return fmt.Errorf("unsupported output format %q", filepath.Ext(outputPath))
		}
	})
}
