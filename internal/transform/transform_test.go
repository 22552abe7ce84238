package transform

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/gif"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-job-workers/internal/config"
)

func writeRedPNG(t *testing.T, dir string, w, h int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// Paint red so we can verify grayscale output has equal channels.
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 0, B: 0, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	p := filepath.Join(dir, "in.png")
	require.NoError(t, os.WriteFile(p, buf.Bytes(), 0o644))
	return p
}

func decodeFile(t *testing.T, p string) image.Image {
	t.Helper()
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	img, _, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	return img
}

func assertNoLeftovers(t *testing.T, dir string, keep ...string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	allowed := map[string]bool{}
	for _, k := range keep {
		allowed[k] = true
	}
	for _, e := range entries {
		assert.True(t, allowed[e.Name()], "unexpected file %s", e.Name())
	}
}

func TestImaging_ResizeAndGrayscale(t *testing.T) {
	dir := t.TempDir()
	in := writeRedPNG(t, dir, 10, 10)
	out := filepath.Join(dir, "J1-output.png")

	tr := &Imaging{Width: 5, Grayscale: true}
	require.NoError(t, tr.Transform(context.Background(), in, out))

	img := decodeFile(t, out)
	assert.Equal(t, 5, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
	r, g, b, _ := img.At(0, 0).RGBA()
	assert.True(t, r == g && g == b, "expected grayscale pixel, got r=%d g=%d b=%d", r, g, b)
	assertNoLeftovers(t, dir, "in.png", "J1-output.png")
}

func TestImaging_KeepsDimensionsByDefault(t *testing.T) {
	dir := t.TempDir()
	in := writeRedPNG(t, dir, 7, 3)
	out := filepath.Join(dir, "out.jpg")

	require.NoError(t, (&Imaging{}).Transform(context.Background(), in, out))
	img := decodeFile(t, out)
	assert.Equal(t, image.Rect(0, 0, 7, 3), img.Bounds())
}

func TestImaging_DecodeErrorLeavesNoOutput(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.png")
	require.NoError(t, os.WriteFile(in, []byte("not an image"), 0o644))
	out := filepath.Join(dir, "out.png")

	err := (&Imaging{}).Transform(context.Background(), in, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode image")
	assertNoLeftovers(t, dir, "in.png")
}

func TestImaging_UnsupportedOutputFormat(t *testing.T) {
	dir := t.TempDir()
	in := writeRedPNG(t, dir, 2, 2)
	err := (&Imaging{}).Transform(context.Background(), in, filepath.Join(dir, "out.webp"))
	assert.Error(t, err)
}

func TestThumbnail_ScalesToWidth(t *testing.T) {
	dir := t.TempDir()
	in := writeRedPNG(t, dir, 40, 20)
	out := filepath.Join(dir, "thumb.png")

	require.NoError(t, NewThumbnail(10).Transform(context.Background(), in, out))
	img := decodeFile(t, out)
	assert.Equal(t, 10, img.Bounds().Dx())
	assert.Equal(t, 5, img.Bounds().Dy())
}

func TestThumbnail_GIFRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := image.NewPaletted(image.Rect(0, 0, 20, 10), color.Palette{color.Black, color.White})
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, src, nil))
	in := filepath.Join(dir, "in.gif")
	require.NoError(t, os.WriteFile(in, buf.Bytes(), 0o644))
	out := filepath.Join(dir, "J1-output.gif")

	require.NoError(t, NewThumbnail(10).Transform(context.Background(), in, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	img, format, err := image.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "gif", format)
	assert.Equal(t, image.Rect(0, 0, 10, 5), img.Bounds())
	assertNoLeftovers(t, dir, "in.gif", "J1-output.gif")
}

func TestThumbnail_UnsupportedOutputFormat(t *testing.T) {
	dir := t.TempDir()
	in := writeRedPNG(t, dir, 4, 4)
	err := NewThumbnail(2).Transform(context.Background(), in, filepath.Join(dir, "out.webp"))
	require.Error(t, err)
	assertNoLeftovers(t, dir, "in.png")
}

func TestThumbnail_MissingSource(t *testing.T) {
	dir := t.TempDir()
	err := NewThumbnail(0).Transform(context.Background(), filepath.Join(dir, "missing.png"), filepath.Join(dir, "out.png"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "source image missing")
}

func TestNewCommand_Validation(t *testing.T) {
	_, err := NewCommand("")
	assert.Error(t, err)
	_, err = NewCommand("rembg i {input}")
	assert.Error(t, err)
	c, err := NewCommand("rembg i {input} {output}")
	require.NoError(t, err)
	assert.Equal(t, "rembg", c.name)
}

func TestCommand_Success(t *testing.T) {
	dir := t.TempDir()
	in := writeRedPNG(t, dir, 2, 2)
	out := filepath.Join(dir, "out.png")

	c, err := NewCommand("cp {input} {output}")
	require.NoError(t, err)
	require.NoError(t, c.Transform(context.Background(), in, out))

	want, _ := os.ReadFile(in)
	got, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assertNoLeftovers(t, dir, "in.png", "out.png")
}

func TestCommand_FailureReportsStderr(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.png")

	c, err := NewCommand("sh -c {output}{input}")
	require.NoError(t, err)
	// sh tries to execute a path that does not exist and complains on stderr.
	err = c.Transform(context.Background(), filepath.Join(dir, "missing"), out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sh:")
	assertNoLeftovers(t, dir)
}

type fakeUploader struct {
	keys []string
	err  error
}

func (f *fakeUploader) Upload(_ context.Context, key string, _ []byte, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "s3://bucket/" + key, nil
}

func TestS3Mirror_UploadsOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeRedPNG(t, dir, 4, 4)
	out := filepath.Join(dir, "J1-output.png")

	up := &fakeUploader{}
	m := NewS3Mirror(&Imaging{}, up, "results")
	require.NoError(t, m.Transform(context.Background(), in, out))
	assert.Equal(t, []string{"results/J1-output.png"}, up.keys)
	assert.FileExists(t, out)
}

func TestS3Mirror_UploadFailureRemovesOutput(t *testing.T) {
	dir := t.TempDir()
	in := writeRedPNG(t, dir, 4, 4)
	out := filepath.Join(dir, "J1-output.png")

	m := NewS3Mirror(&Imaging{}, &fakeUploader{err: errors.New("access denied")}, "")
	err := m.Transform(context.Background(), in, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	assert.NoFileExists(t, out)
}

func TestS3Mirror_SkipsUploadOnTransformFailure(t *testing.T) {
	up := &fakeUploader{}
	m := NewS3Mirror(Func(func(context.Context, string, string) error {
		return errors.New("decode error")
	}), up, "")
	assert.EqualError(t, m.Transform(context.Background(), "in.png", "out.png"), "decode error")
	assert.Empty(t, up.keys)
}

func TestNew_SelectsTransformer(t *testing.T) {
	ctx := context.Background()

	tr, err := New(ctx, config.Config{Transformer: "imaging", TransformWidth: 8})
	require.NoError(t, err)
	assert.IsType(t, &Imaging{}, tr)

	tr, err = New(ctx, config.Config{Transformer: "thumbnail"})
	require.NoError(t, err)
	assert.IsType(t, &Thumbnail{}, tr)

	tr, err = New(ctx, config.Config{Transformer: "command", TransformCommand: "rembg i {input} {output}"})
	require.NoError(t, err)
	assert.IsType(t, &Command{}, tr)

	_, err = New(ctx, config.Config{Transformer: "command", TransformCommand: "rembg"})
	assert.Error(t, err)

	_, err = New(ctx, config.Config{Transformer: "magic"})
	assert.Error(t, err)
}
