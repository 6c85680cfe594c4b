package uploader

import (
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christophe-duc/previewd/pkg/blob"
	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/christophe-duc/previewd/pkg/stage"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.Out = io.Discard
	return log.WithField("test", true)
}

func newTestUploader(t *testing.T, blobURL string) *Uploader {
	t.Helper()
	appConfig := config.NewTestAppConfig()
	appConfig.UserConfig.Blob.Endpoint = blobURL
	appConfig.UserConfig.Blob.Token = "secret"

	base := t.TempDir()
	s := stage.New(filepath.Join(base, "input"), filepath.Join(base, "output"), filepath.Join(base, "status"))
	require.NoError(t, s.EnsureDirs())

	return &Uploader{
		Log:    testLogger(),
		Config: appConfig,
		Blob:   blob.NewClient(testLogger(), appConfig.UserConfig.Blob),
		Stage:  s,
	}
}

func TestReadResult(t *testing.T) {
	u := newTestUploader(t, "http://unused")
	content := `{"content_hash":"abc","success":true,"thumbnail_file":"thumbnail.png","extracted_text":"hello"}`
	require.NoError(t, os.WriteFile(u.Stage.ResultPath("abc"), []byte(content), 0o644))

	result, err := u.readResult("abc")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "thumbnail.png", *result.ThumbnailFile)
	assert.Equal(t, "hello", *result.ExtractedText)
}

func TestReadResultMissing(t *testing.T) {
	u := newTestUploader(t, "http://unused")
	_, err := u.readResult("nope")
	assert.Error(t, err)
}

func TestReadResultCorrupt(t *testing.T) {
	u := newTestUploader(t, "http://unused")
	require.NoError(t, os.WriteFile(u.Stage.ResultPath("abc"), []byte("not json"), 0o644))
	_, err := u.readResult("abc")
	assert.Error(t, err)
}

func TestSanitizeAndUpload(t *testing.T) {
	var uploadedPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploadedPath = r.URL.Path
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
	}))
	defer server.Close()

	u := newTestUploader(t, server.URL)
	require.NoError(t, os.WriteFile(u.Stage.ThumbnailPath("abc123"), encodeTestPNG(t, 400, 300), 0o644))

	key, ok := u.sanitizeAndUpload(u.Log, "abc123")
	require.True(t, ok)
	assert.Equal(t, "abc123.png", key)
	assert.Equal(t, "/storage/v1/object/thumbnails/abc123.png", uploadedPath)
}

func TestSanitizeAndUploadMissingThumbnail(t *testing.T) {
	u := newTestUploader(t, "http://unused")
	_, ok := u.sanitizeAndUpload(u.Log, "abc123")
	assert.False(t, ok)
}

func TestSanitizeAndUploadRejectsOversize(t *testing.T) {
	u := newTestUploader(t, "http://unused")
	big := make([]byte, MaxThumbnailBytes+1)
	require.NoError(t, os.WriteFile(u.Stage.ThumbnailPath("abc123"), big, 0o644))

	_, ok := u.sanitizeAndUpload(u.Log, "abc123")
	assert.False(t, ok)
}

func TestForwardProcessorLog(t *testing.T) {
	u := newTestUploader(t, "http://unused")
	logger, hook := test.NewNullLogger()
	u.Log = logger.WithField("test", true)

	logPath := u.Stage.LogPath("abc123")
	require.NoError(t, os.WriteFile(logPath, []byte("line one\nline two\n\n"), 0o644))

	u.forwardProcessorLog("abc123")

	require.Len(t, hook.Entries, 2)
	assert.Equal(t, "line one", hook.Entries[0].Message)
	assert.Equal(t, "processor", hook.Entries[0].Data["source"])
	assert.Equal(t, "abc123", hook.Entries[0].Data["contentHash"])
	assert.NoFileExists(t, logPath)
}

func TestStandardDimensions(t *testing.T) {
	u := newTestUploader(t, "http://unused")
	assert.True(t, u.standardDimensions(400, 300))
	assert.True(t, u.standardDimensions(800, 600))
	assert.False(t, u.standardDimensions(400, 600))
	assert.False(t, u.standardDimensions(1024, 768))
}
