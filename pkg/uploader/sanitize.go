package uploader

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"

	"github.com/disintegration/imaging"
)

// MaxThumbnailBytes is the hard cap on a thumbnail file crossing the trust
// boundary out of the sandbox.
const MaxThumbnailBytes = 1_000_000

// SanitizeThumbnail re-encodes an attacker-influenced PNG before upload. The
// decoded pixels are pasted onto a fresh all-white canvas of the same
// dimensions and run through our own PNG encoder, so ancillary chunks,
// metadata and anything hidden in the file structure never survive; only the
// pixel values do. Oversized files are rejected outright.
func SanitizeThumbnail(data []byte) ([]byte, int, int, error) {
	if len(data) > MaxThumbnailBytes {
		return nil, 0, 0, fmt.Errorf("thumbnail too large: %d bytes", len(data))
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, 0, 0, fmt.Errorf("decoding thumbnail: %w", err)
	}

	bounds := img.Bounds()
	clean := imaging.New(bounds.Dx(), bounds.Dy(), color.NRGBA{255, 255, 255, 255})
	clean = imaging.Paste(clean, img, image.Pt(0, 0))

	var buf bytes.Buffer
	if err := png.Encode(&buf, clean); err != nil {
		return nil, 0, 0, fmt.Errorf("re-encoding thumbnail: %w", err)
	}
	if buf.Len() > MaxThumbnailBytes {
		return nil, 0, 0, fmt.Errorf("sanitized thumbnail too large: %d bytes", buf.Len())
	}
	return buf.Bytes(), bounds.Dx(), bounds.Dy(), nil
}

// SanitizeText truncates extracted text and strips everything outside
// printable ASCII, the common whitespace characters and the remaining basic
// multilingual plane. Control characters, NUL and astral-plane runes are
// removed.
func SanitizeText(text string, maxLength int) string {
	if len(text) > maxLength {
		// the cut may land inside a multi-byte rune; drop the fragment
		text = strings.ToValidUTF8(text[:maxLength], "")
	}

	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			b.WriteRune(r)
		case r >= 0x20 && r <= 0x7E:
			b.WriteRune(r)
		case r >= 0x00A0 && r <= 0xFFFF:
			b.WriteRune(r)
		}
	}
	return b.String()
}
