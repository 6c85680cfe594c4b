package log

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/sirupsen/logrus"
)

// NewLogger returns a new logger for the given pipeline role. Output goes to
// stdout as JSON; in debug mode a copy also goes to a file in the config dir.
func NewLogger(config *config.AppConfig) *logrus.Entry {
	var log *logrus.Logger
	if config.Debug || os.Getenv("DEBUG") == "TRUE" {
		log = newDevelopmentLogger(config)
	} else {
		log = newProductionLogger()
	}

	// highly recommended: previewd <role> | humanlog
	// https://github.com/aybabtme/humanlog
	log.Formatter = &logrus.JSONFormatter{}

	if config.UserConfig != nil && config.UserConfig.Logging.ShipEndpoint != "" {
		log.AddHook(newShipHook(config.UserConfig.Logging))
	}

	return log.WithFields(logrus.Fields{
		"role":    config.Role,
		"debug":   config.Debug,
		"version": config.Version,
	})
}

func getLogLevel() logrus.Level {
	strLevel := os.Getenv("LOG_LEVEL")
	level, err := logrus.ParseLevel(strLevel)
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

func newDevelopmentLogger(config *config.AppConfig) *logrus.Logger {
	log := logrus.New()
	log.SetLevel(logrus.DebugLevel)
	file, err := os.OpenFile(filepath.Join(config.ConfigDir, "development.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
	if err != nil {
		fmt.Println("unable to log to file")
		os.Exit(1)
	}
	log.SetOutput(io.MultiWriter(os.Stdout, file))
	return log
}

func newProductionLogger() *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stdout
	log.SetLevel(getLogLevel())
	return log
}
