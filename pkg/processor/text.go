package processor

import (
	"os"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/spkg/bom"
)

// decodeText interprets raw bytes as UTF-8, falling back to latin-1 when they
// are not valid UTF-8. Latin-1 always succeeds (every byte maps to a rune),
// which mirrors what text editors do with legacy files. When the read stopped
// at the byte cap, the cut can land inside a multi-byte rune; the dangling
// fragment is dropped first so a capped UTF-8 file is not mistaken for latin-1
// and garbled wholesale.
func decodeText(raw []byte, capped bool) string {
	raw = bom.Clean(raw)
	if capped {
		raw = trimPartialRune(raw)
	}
	if utf8.Valid(raw) {
		return string(raw)
	}

	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

// trimPartialRune removes a truncated trailing multi-byte sequence. Bytes are
// only dropped when that makes the remainder valid UTF-8; latin-1 content
// stays invalid after any trim and keeps its fallback.
func trimPartialRune(raw []byte) []byte {
	if utf8.Valid(raw) {
		return raw
	}
	for i := 1; i < utf8.UTFMax && i <= len(raw); i++ {
		if trimmed := raw[:len(raw)-i]; utf8.Valid(trimmed) {
			return trimmed
		}
	}
	return raw
}

// ExtractTextFromFile reads up to maxLength bytes of a known text file.
// Returns "" when the file has no non-whitespace content.
func ExtractTextFromFile(path string, maxLength int) (string, error) {
	raw, capped, err := readAtMost(path, maxLength)
	if err != nil {
		return "", err
	}

	text := decodeText(raw, capped)
	if strings.TrimSpace(text) == "" {
		return "", nil
	}
	return text, nil
}

// ExtractTextFallback attempts to treat an unknown format as text. It only
// accepts small files that contain no NUL byte and are almost entirely
// printable; anything else returns "".
func ExtractTextFallback(path string, maxSize int64, minPrintable float64, maxLength int) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() > maxSize {
		return "", nil
	}

	raw, capped, err := readAtMost(path, maxLength)
	if err != nil {
		return "", err
	}

	for _, b := range raw {
		if b == 0 {
			return "", nil
		}
	}

	text := decodeText(raw, capped)
	if strings.TrimSpace(text) == "" {
		return "", nil
	}

	printable := 0
	total := 0
	for _, r := range text {
		total++
		if unicode.IsPrint(r) || r == '\n' || r == '\r' || r == '\t' {
			printable++
		}
	}
	if total == 0 || float64(printable)/float64(total) < minPrintable {
		return "", nil
	}

	return text, nil
}

// readAtMost reads up to n bytes and reports whether it stopped at the cap,
// meaning the file may continue beyond what was read.
func readAtMost(path string, n int) ([]byte, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	buf := make([]byte, n)
	read := 0
	for read < n {
		m, err := f.Read(buf[read:])
		read += m
		if err != nil {
			break
		}
	}
	return buf[:read], read == n, nil
}

// TruncateText caps text at maxLength bytes and strips NUL bytes.
func TruncateText(text string, maxLength int) string {
	text = strings.ReplaceAll(text, "\x00", "")
	if len(text) > maxLength {
		text = text[:maxLength]
	}
	return text
}
