package config

import (
	"os"
	"path/filepath"

	yaml "github.com/goccy/go-yaml"
)

// AppConfig contains the base configuration fields required for previewd.
type AppConfig struct {
	Debug       bool   `long:"debug" env:"DEBUG" default:"false"`
	Version     string `long:"version" env:"VERSION" default:"unversioned"`
	Commit      string `long:"commit" env:"COMMIT"`
	BuildDate   string `long:"build-date" env:"BUILD_DATE"`
	Name        string `long:"name" env:"NAME" default:"previewd"`
	BuildSource string `long:"build-source" env:"BUILD_SOURCE" default:""`

	// Role is which pipeline component this process runs as: fetcher,
	// orchestrator, uploader, processor, ocr-sidecar or cad-sidecar.
	Role string

	UserConfig *UserConfig
	ConfigDir  string
}

// NewAppConfig makes a new app config
func NewAppConfig(name, version, commit, date string, buildSource string, role string, debuggingFlag bool) (*AppConfig, error) {
	configDir, err := findOrCreateConfigDir(name)
	if err != nil {
		return nil, err
	}

	userConfig, err := loadUserConfigWithDefaults(configDir)
	if err != nil {
		return nil, err
	}

	ApplyEnvOverrides(userConfig)

	appConfig := &AppConfig{
		Name:        name,
		Version:     version,
		Commit:      commit,
		BuildDate:   date,
		Debug:       debuggingFlag || os.Getenv("DEBUG") == "TRUE",
		BuildSource: buildSource,
		Role:        role,
		UserConfig:  userConfig,
		ConfigDir:   configDir,
	}

	return appConfig, nil
}

func findOrCreateConfigDir(projectName string) (string, error) {
	configDir := os.Getenv("CONFIG_DIR")
	if configDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			// inside a container there is often no HOME; fall back to /tmp
			base = os.TempDir()
		}
		configDir = filepath.Join(base, projectName)
	}

	if err := os.MkdirAll(configDir, 0o755); err != nil {
		return "", err
	}

	return configDir, nil
}

func loadUserConfigWithDefaults(configDir string) (*UserConfig, error) {
	config := GetDefaultConfig()

	return loadUserConfig(configDir, &config)
}

// loadUserConfig overlays config.yml (if present) on top of the defaults.
// A missing file is not an error: previewd is usually configured purely
// through the environment.
func loadUserConfig(configDir string, base *UserConfig) (*UserConfig, error) {
	fileName := filepath.Join(configDir, "config.yml")

	content, err := os.ReadFile(fileName)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(content, base); err != nil {
		return nil, err
	}

	return base, nil
}

// ConfigFilename returns the filename of the current config file
func (c *AppConfig) ConfigFilename() string {
	return filepath.Join(c.ConfigDir, "config.yml")
}

// NewTestAppConfig returns an AppConfig with plain defaults, for use in tests.
func NewTestAppConfig() *AppConfig {
	userConfig := GetDefaultConfig()
	return &AppConfig{
		Name:       "previewd",
		Version:    "test",
		Role:       "test",
		UserConfig: &userConfig,
	}
}
