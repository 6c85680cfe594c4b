package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/christophe-duc/previewd/pkg/config"
)

func newTestApp(t *testing.T, role string) *App {
	t.Helper()
	appConfig := config.NewTestAppConfig()
	appConfig.Role = role
	app, err := NewApp(appConfig)
	require.NoError(t, err)
	return app
}

func TestNewAppRejectsIncompleteConfig(t *testing.T) {
	appConfig := config.NewTestAppConfig()
	appConfig.Role = "fetcher"

	// the fetcher cannot run without its DSN and the blob endpoint
	_, err := NewApp(appConfig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "FETCHER_DB_DSN")
	assert.Contains(t, err.Error(), "BLOB_ENDPOINT")
}

func TestNewAppAcceptsCompleteConfig(t *testing.T) {
	appConfig := config.NewTestAppConfig()
	appConfig.Role = "uploader"
	appConfig.UserConfig.DB.UploaderDSN = "postgres://uploader@db/app"
	appConfig.UserConfig.Blob.Endpoint = "http://blob:8000"

	app, err := NewApp(appConfig)
	require.NoError(t, err)
	assert.NotNil(t, app.Log)
	assert.Equal(t, "uploader", app.Config.Role)
}

func TestRunUnknownRole(t *testing.T) {
	app := newTestApp(t, "janitor")
	err := app.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown role")
	assert.Contains(t, err.Error(), "janitor")
}

func TestKnownError(t *testing.T) {
	app := newTestApp(t, "orchestrator")

	tests := []struct {
		name         string
		errorMessage string
		expectKnown  bool
	}{
		{
			name:         "docker socket permission",
			errorMessage: "Got permission denied while trying to connect to the Docker daemon socket at unix:///var/run/docker.sock",
			expectKnown:  true,
		},
		{
			name:         "docker daemon down",
			errorMessage: "Cannot connect to the Docker daemon at unix:///var/run/docker.sock. Is the docker daemon running?",
			expectKnown:  true,
		},
		{
			name:         "missing config",
			errorMessage: "missing required configuration: [UPLOADER_DB_DSN]",
			expectKnown:  true,
		},
		{
			name:         "anything else",
			errorMessage: "some unknown error message",
			expectKnown:  false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text, known := app.KnownError(&mockError{message: tt.errorMessage})
			assert.Equal(t, tt.expectKnown, known)
			if known {
				assert.NotEmpty(t, text)
			} else {
				assert.Empty(t, text)
			}
		})
	}
}

type mockError struct {
	message string
}

func (e *mockError) Error() string {
	return e.message
}
