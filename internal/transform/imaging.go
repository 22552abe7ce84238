package transform

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/disintegration/imaging"
)

// Imaging re-encodes the input in the format implied by the output
// extension, optionally resizing and desaturating it on the way.
// A zero Width and Height keeps the original dimensions; a single zero
// side preserves the aspect ratio.
type Imaging struct {
	Width     int
	Height    int
	Grayscale bool
}

// Transform decodes, processes and writes a single image.
func (t *Imaging) Transform(ctx context.Context, inputPath, outputPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	format, err := imaging.FormatFromFilename(outputPath)
	if err != nil {
		return fmt.Errorf("unsupported output format: %w", err)
	}

	img, err := imaging.Open(inputPath, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode image: %w", err)
	}
	if b := img.Bounds(); b.Dx() == 0 || b.Dy() == 0 {
		return errors.New("decode image: empty image")
	}

	if t.Grayscale {
		img = imaging.Grayscale(img)
	}
	if t.Width > 0 || t.Height > 0 {
		img = imaging.Resize(img, t.Width, t.Height, imaging.Lanczos)
	}

	return writeAtomic(outputPath, func(w io.Writer) error {
		if err := imaging.Encode(w, img, format, imaging.JPEGQuality(85)); err != nil {
			return fmt.Errorf("encode image: %w", err)
		}
		return nil
	})
}
