package stage

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStage(t *testing.T) *Stage {
	t.Helper()
	base := t.TempDir()
	s := New(filepath.Join(base, "input"), filepath.Join(base, "output"), filepath.Join(base, "status"))
	require.NoError(t, s.EnsureDirs())
	return s
}

func TestWriteInputOrdering(t *testing.T) {
	s := newTestStage(t)

	meta := JobMeta{
		ContentHash:       "deadbeef01",
		StoragePath:       "uploads/drawing.dwg",
		OriginalFilename:  "drawing.dwg",
		OriginalExtension: ".dwg",
		TryCount:          1,
	}

	require.NoError(t, s.WriteInput(meta, bytes.NewReader([]byte("payload"))))

	// all three files must exist once .ready is visible
	assert.Equal(t, []string{"deadbeef01"}, s.ListReady())

	content, err := os.ReadFile(s.InputBinPath("deadbeef01"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), content)

	got, err := s.ReadMeta("deadbeef01")
	require.NoError(t, err)
	assert.Equal(t, meta, got)
}

func TestDoneRoundTrip(t *testing.T) {
	s := newTestStage(t)

	meta := JobMeta{ContentHash: "cafe02", OriginalFilename: "a.pdf", OriginalExtension: ".pdf"}
	require.NoError(t, s.MarkDone(meta))

	assert.Equal(t, []string{"cafe02"}, s.ListDone())
	assert.Empty(t, s.ListFailed())

	got, err := s.ConsumeDone("cafe02")
	require.NoError(t, err)
	assert.Equal(t, meta, got)

	// marker is gone after consumption
	assert.Empty(t, s.ListDone())
	_, err = s.ConsumeDone("cafe02")
	assert.Error(t, err)
}

func TestFailedRoundTrip(t *testing.T) {
	s := newTestStage(t)

	require.NoError(t, s.MarkFailed("beef03", "processor exited with code 137"))
	assert.Equal(t, []string{"beef03"}, s.ListFailed())

	errText, err := s.ConsumeFailed("beef03")
	require.NoError(t, err)
	assert.Equal(t, "processor exited with code 137", errText)
	assert.Empty(t, s.ListFailed())
}

func TestRemoveInputIsIdempotent(t *testing.T) {
	s := newTestStage(t)

	meta := JobMeta{ContentHash: "f00d04"}
	require.NoError(t, s.WriteInput(meta, bytes.NewReader(nil)))

	s.RemoveInput("f00d04")
	assert.Empty(t, s.ListReady())
	_, err := os.Stat(s.InputBinPath("f00d04"))
	assert.True(t, os.IsNotExist(err))

	// second removal must not panic or error
	s.RemoveInput("f00d04")
}

func TestCleanupOutput(t *testing.T) {
	s := newTestStage(t)

	for _, name := range []string{"aa11.result.json", "aa11.thumbnail.png", "aa11.log", "bb22.result.json"} {
		require.NoError(t, os.WriteFile(filepath.Join(s.OutputDir, name), []byte("x"), 0o644))
	}

	s.CleanupOutput("aa11")

	entries, err := os.ReadDir(s.OutputDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "bb22.result.json", entries[0].Name())
}

func TestCorruptMetaIsAnError(t *testing.T) {
	s := newTestStage(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.InputDir, "bad55.json"), []byte("{not json"), 0o644))

	_, err := s.ReadMeta("bad55")
	assert.Error(t, err)
}
