package config

import (
	"testing"
	"time"

	yaml "github.com/goccy/go-yaml"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetDefaultConfig(t *testing.T) {
	defaults := GetDefaultConfig()

	if defaults.Queue.PollInterval != 5*time.Second {
		t.Errorf("Expected Queue.PollInterval to be 5s, got '%s'", defaults.Queue.PollInterval)
	}
	if defaults.Queue.MaxRetries != 3 {
		t.Errorf("Expected Queue.MaxRetries to be 3, got '%d'", defaults.Queue.MaxRetries)
	}
	if defaults.Queue.ReadyBacklogLimit != 10 {
		t.Errorf("Expected Queue.ReadyBacklogLimit to be 10, got '%d'", defaults.Queue.ReadyBacklogLimit)
	}

	if defaults.Sandbox.Timeout != 600*time.Second {
		t.Errorf("Expected Sandbox.Timeout to be 600s, got '%s'", defaults.Sandbox.Timeout)
	}
	if defaults.Sandbox.Runtime != "runsc" {
		t.Errorf("Expected Sandbox.Runtime to be 'runsc', got '%s'", defaults.Sandbox.Runtime)
	}
	if defaults.Sandbox.PidsLimit != 200 {
		t.Errorf("Expected Sandbox.PidsLimit to be 200, got '%d'", defaults.Sandbox.PidsLimit)
	}

	if defaults.Thumbnail.Width != 400 || defaults.Thumbnail.Height != 300 {
		t.Errorf("Expected small thumbnail 400x300, got %dx%d", defaults.Thumbnail.Width, defaults.Thumbnail.Height)
	}
	if defaults.Thumbnail.CropPosition != "top" {
		t.Errorf("Expected CropPosition 'top', got '%s'", defaults.Thumbnail.CropPosition)
	}
	if defaults.Thumbnail.DWGWhiteThreshold != 250 {
		t.Errorf("Expected DWGWhiteThreshold 250, got %d", defaults.Thumbnail.DWGWhiteThreshold)
	}

	if defaults.Text.MaxLength != 51200 {
		t.Errorf("Expected Text.MaxLength 51200, got %d", defaults.Text.MaxLength)
	}
}

func TestThumbnailDimensions(t *testing.T) {
	cfg := GetDefaultConfig().Thumbnail

	tests := []struct {
		ext        string
		wantWidth  int
		wantHeight int
	}{
		{".pdf", 400, 300},
		{"pdf", 400, 300},
		{".jpg", 400, 300},
		{".heic", 400, 300},
		{".dwg", 800, 600},
		{".docx", 800, 600},
		{".mp4", 800, 600},
		{"", 800, 600},
	}

	for _, tt := range tests {
		t.Run(tt.ext, func(t *testing.T) {
			w, h := cfg.Dimensions(tt.ext)
			assert.Equal(t, tt.wantWidth, w)
			assert.Equal(t, tt.wantHeight, h)
		})
	}
}

func TestUserConfigYAMLUnmarshal(t *testing.T) {
	yamlContent := `
queue:
  maxRetries: 5
sandbox:
  runtime: kata
  memory: 4g
thumbnail:
  width: 640
  height: 480
  cropPosition: center
`

	config := GetDefaultConfig()
	err := yaml.Unmarshal([]byte(yamlContent), &config)
	require.NoError(t, err)

	assert.Equal(t, 5, config.Queue.MaxRetries)
	assert.Equal(t, "kata", config.Sandbox.Runtime)
	assert.Equal(t, "4g", config.Sandbox.Memory)
	assert.Equal(t, 640, config.Thumbnail.Width)
	assert.Equal(t, 480, config.Thumbnail.Height)
	assert.Equal(t, "center", config.Thumbnail.CropPosition)

	// untouched keys keep their defaults
	assert.Equal(t, 5*time.Second, config.Queue.PollInterval)
	assert.Equal(t, "previewd-processor:latest", config.Sandbox.Image)
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Setenv("POLL_INTERVAL", "2")
	t.Setenv("PROCESSOR_TIMEOUT", "30s")
	t.Setenv("MAX_RETRIES", "7")
	t.Setenv("PROCESSOR_CPUS", "1.5")
	t.Setenv("CAD_EPHEMERAL", "false")
	t.Setenv("THUMBNAIL_SMALL_EXTENSIONS", "pdf, PNG ,jpg")

	config := GetDefaultConfig()
	ApplyEnvOverrides(&config)

	assert.Equal(t, 2*time.Second, config.Queue.PollInterval)
	assert.Equal(t, 30*time.Second, config.Sandbox.Timeout)
	assert.Equal(t, 7, config.Queue.MaxRetries)
	assert.Equal(t, 1.5, config.Sandbox.CPUs)
	assert.False(t, config.CAD.Ephemeral)
	assert.Equal(t, []string{"pdf", "png", "jpg"}, config.Thumbnail.SmallExtensions)
	assert.True(t, config.Thumbnail.SmallThumbnail(".png"))
	assert.False(t, config.Thumbnail.SmallThumbnail(".heic"))
}

func TestValidate(t *testing.T) {
	config := GetDefaultConfig()

	// the orchestrator needs no network credentials at all
	assert.NoError(t, config.Validate("orchestrator"))

	// the fetcher cannot run without its DSN and the blob endpoint
	err := config.Validate("fetcher")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCHER_DB_DSN")
	assert.Contains(t, err.Error(), "BLOB_ENDPOINT")

	config.DB.FetcherDSN = "postgresql://previewd_fetcher:x@db:5432/app"
	config.Blob.Endpoint = "http://blob:9000"
	assert.NoError(t, config.Validate("fetcher"))

	config.Thumbnail.CropPosition = "bottom"
	assert.Error(t, config.Validate("fetcher"))
}
