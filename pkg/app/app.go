package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/christophe-duc/previewd/pkg/fetcher"
	"github.com/christophe-duc/previewd/pkg/log"
	"github.com/christophe-duc/previewd/pkg/orchestrator"
	"github.com/christophe-duc/previewd/pkg/processor"
	"github.com/christophe-duc/previewd/pkg/sidecar"
	"github.com/christophe-duc/previewd/pkg/uploader"
)

// Roles lists the valid pipeline roles, in pipeline order.
var Roles = []string{"fetcher", "orchestrator", "processor", "uploader", "ocr-sidecar", "cad-sidecar"}

// App struct
type App struct {
	Config *config.AppConfig
	Log    *logrus.Entry
}

// NewApp bootstrap a new application for the role in config.Role
func NewApp(appConfig *config.AppConfig) (*App, error) {
	app := &App{
		Config: appConfig,
	}
	app.Log = log.NewLogger(appConfig)

	if err := appConfig.UserConfig.Validate(appConfig.Role); err != nil {
		return app, err
	}

	return app, nil
}

// Run starts the role's loop and blocks until it exits or the process
// receives SIGINT/SIGTERM. Every loop honors context cancellation, so a
// signal drains the marker in flight before returning.
func (app *App) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch app.Config.Role {
	case "fetcher":
		return fetcher.NewFetcher(app.Log, app.Config).Run(ctx)
	case "orchestrator":
		o, err := orchestrator.NewOrchestrator(app.Log, app.Config)
		if err != nil {
			return err
		}
		return o.Run(ctx)
	case "uploader":
		return uploader.NewUploader(app.Log, app.Config).Run(ctx)
	case "processor":
		// one job per invocation; the orchestrator starts a fresh
		// container for each
		return processor.NewProcessor(app.Log, app.Config).Run()
	case "ocr-sidecar":
		s, err := sidecar.NewOCRSidecar(app.Log, app.Config)
		if err != nil {
			return err
		}
		return s.Run(ctx)
	case "cad-sidecar":
		return sidecar.NewCADSidecar(app.Log, app.Config).Run(ctx)
	default:
		return fmt.Errorf("unknown role %q, expected one of: %s", app.Config.Role, strings.Join(Roles, ", "))
	}
}

type errorMapping struct {
	originalError string
	newError      string
}

// KnownError takes an error and tells us whether it's an error that we know about where we can print a nicely formatted version of it rather than panicking with a stack trace
func (app *App) KnownError(err error) (string, bool) {
	errorMessage := err.Error()

	mappings := []errorMapping{
		{
			originalError: "Got permission denied while trying to connect to the Docker daemon socket",
			newError:      "Cannot access the docker socket. The orchestrator needs /var/run/docker.sock mounted and a user in the docker group.",
		},
		{
			originalError: "Cannot connect to the Docker daemon",
			newError:      "Cannot connect to the docker daemon. Is it running, and is the socket mounted into this container?",
		},
		{
			originalError: "missing required configuration",
			newError:      errorMessage + "\nRun with --config to see all options and their environment variables.",
		},
	}

	for _, mapping := range mappings {
		if strings.Contains(errorMessage, mapping.originalError) {
			return mapping.newError, true
		}
	}

	return "", false
}
