package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christophe-duc/previewd/pkg/stage"
)

func TestNeedsCAD(t *testing.T) {
	assert.True(t, needsCAD(".dwg"))
	assert.True(t, needsCAD(".dxf"))
	assert.False(t, needsCAD(".pdf"))
	assert.False(t, needsCAD(""))
}

func TestRenameOutputs(t *testing.T) {
	base := t.TempDir()
	s := stage.New(filepath.Join(base, "in"), filepath.Join(base, "out"), filepath.Join(base, "status"))
	require.NoError(t, s.EnsureDirs())

	o := &Orchestrator{Stage: s}

	require.NoError(t, os.WriteFile(filepath.Join(s.OutputDir, "result.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(s.OutputDir, "processor.log"), []byte("log line"), 0o644))

	require.NoError(t, o.renameOutputs("abc123"))

	assert.FileExists(t, s.ResultPath("abc123"))
	assert.FileExists(t, s.LogPath("abc123"))
	// no thumbnail was produced; its rename is simply skipped
	assert.NoFileExists(t, s.ThumbnailPath("abc123"))
	assert.NoFileExists(t, filepath.Join(s.OutputDir, "result.json"))
}

func TestRenameOutputsNothingToRename(t *testing.T) {
	base := t.TempDir()
	s := stage.New(filepath.Join(base, "in"), filepath.Join(base, "out"), filepath.Join(base, "status"))
	require.NoError(t, s.EnsureDirs())

	o := &Orchestrator{Stage: s}
	assert.NoError(t, o.renameOutputs("abc123"))
}
