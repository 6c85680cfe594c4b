package processor

import (
	"archive/zip"
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encodePNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := solidImage(w, h, color.NRGBA{10, 20, 30, 255})
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func writeZip(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.dat")
	f, err := os.Create(path)
	require.NoError(t, err)
	w := zip.NewWriter(f)
	for name, content := range entries {
		entry, err := w.Create(name)
		require.NoError(t, err)
		_, err = entry.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())
	return path
}

func TestExtractArchiveThumbnail(t *testing.T) {
	path := writeZip(t, map[string][]byte{
		"document.xml":           []byte("<doc/>"),
		"QuickLook/Thumbnail.png": encodePNG(t, 64, 48),
	})

	img, err := ExtractArchiveThumbnail(testLogger(), path)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 48, img.Bounds().Dy())
}

func TestExtractArchiveThumbnailNoPreview(t *testing.T) {
	path := writeZip(t, map[string][]byte{"data.bin": {1, 2, 3}})

	img, err := ExtractArchiveThumbnail(testLogger(), path)
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestExtractArchiveThumbnailNotAZip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "not-a.zip")
	require.NoError(t, os.WriteFile(path, []byte("plain text"), 0o644))

	img, err := ExtractArchiveThumbnail(testLogger(), path)
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestExtractOLEThumbnailNotOLE(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain.dat")
	require.NoError(t, os.WriteFile(path, []byte("not an ole container"), 0o644))

	img, err := ExtractOLEThumbnail(testLogger(), path)
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestProcessUnknownTextFallback(t *testing.T) {
	// an unknown extension whose bytes are clean text yields text and no
	// thumbnail, as a success
	path := filepath.Join(t.TempDir(), "input.xyz")
	require.NoError(t, os.WriteFile(path, []byte("readable content\n"), 0o644))

	text, err := ExtractTextFallback(path, 204800, 0.99, 51200)
	require.NoError(t, err)
	assert.Equal(t, "readable content\n", text)
}
