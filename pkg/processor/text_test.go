package processor

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTemp(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func TestExtractTextFromFile(t *testing.T) {
	path := writeTemp(t, "notes.txt", []byte("hello world\n"))
	text, err := ExtractTextFromFile(path, 1000)
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", text)
}

func TestExtractTextFromFileStripsBOM(t *testing.T) {
	path := writeTemp(t, "notes.txt", []byte("\xEF\xBB\xBFhello"))
	text, err := ExtractTextFromFile(path, 1000)
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
}

func TestExtractTextFromFileLatin1Fallback(t *testing.T) {
	// 0xE9 is é in latin-1 and invalid as a standalone UTF-8 byte
	path := writeTemp(t, "notes.txt", []byte("caf\xE9"))
	text, err := ExtractTextFromFile(path, 1000)
	require.NoError(t, err)
	assert.Equal(t, "café", text)
}

func TestExtractTextFromFileRespectsMaxLength(t *testing.T) {
	path := writeTemp(t, "notes.txt", []byte(strings.Repeat("x", 100)))
	text, err := ExtractTextFromFile(path, 10)
	require.NoError(t, err)
	assert.Len(t, text, 10)
}

func TestExtractTextFromFileCapInsideRune(t *testing.T) {
	// 65 bytes of valid UTF-8; a 64-byte cap slices the two-byte ä in half.
	// The dangling lead byte must be dropped, not decoded as latin-1.
	path := writeTemp(t, "notes.txt", []byte(strings.Repeat("a", 63)+"ä"))
	text, err := ExtractTextFromFile(path, 64)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("a", 63), text)
}

func TestExtractTextFromFileCapKeepsWholeRunes(t *testing.T) {
	// the cap lands exactly on a rune boundary, nothing is dropped
	path := writeTemp(t, "notes.txt", []byte("aä"+strings.Repeat("b", 10)))
	text, err := ExtractTextFromFile(path, 3)
	require.NoError(t, err)
	assert.Equal(t, "aä", text)
}

func TestExtractTextFromFileCappedLatin1StaysLatin1(t *testing.T) {
	// latin-1 bytes in the body stay invalid after any trailing trim, so the
	// fallback still applies to a capped legacy file
	path := writeTemp(t, "notes.txt", []byte("caf\xE9 cr\xE8me br\xFBl\xE9e"))
	text, err := ExtractTextFromFile(path, 10)
	require.NoError(t, err)
	assert.Equal(t, "café crème", text)
}

func TestExtractTextFromFileWhitespaceOnly(t *testing.T) {
	path := writeTemp(t, "notes.txt", []byte("  \n\t  "))
	text, err := ExtractTextFromFile(path, 1000)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestExtractTextFallback(t *testing.T) {
	type scenario struct {
		name     string
		content  []byte
		expected string
	}

	scenarios := []scenario{
		{"plain text passes", []byte("a perfectly ordinary readme file\n"), "a perfectly ordinary readme file\n"},
		{"nul byte rejects", []byte("binary\x00data"), ""},
		{"mostly unprintable rejects", append([]byte("x"), []byte{1, 2, 3, 4, 5, 6, 7, 8}...), ""},
		{"whitespace only rejects", []byte("   \n  "), ""},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			path := writeTemp(t, "unknown.dat", s.content)
			text, err := ExtractTextFallback(path, 204800, 0.99, 51200)
			require.NoError(t, err)
			assert.Equal(t, s.expected, text)
		})
	}
}

func TestExtractTextFallbackSizeCap(t *testing.T) {
	path := writeTemp(t, "big.dat", []byte(strings.Repeat("a", 300)))
	text, err := ExtractTextFallback(path, 100, 0.99, 51200)
	require.NoError(t, err)
	assert.Empty(t, text)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "abc", TruncateText("a\x00bc", 100))
	assert.Equal(t, "ab", TruncateText("abcdef", 2))
	assert.Equal(t, TruncateText("abc", 100), TruncateText(TruncateText("abc", 100), 100))
}
