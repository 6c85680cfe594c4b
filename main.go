package main

import (
	"fmt"
	"log"
	"os"
	"runtime"

	"github.com/go-errors/errors"
	yaml "github.com/goccy/go-yaml"
	"github.com/integrii/flaggy"

	"github.com/christophe-duc/previewd/pkg/app"
	"github.com/christophe-duc/previewd/pkg/config"
)

var (
	commit      string
	version     = "unversioned"
	date        string
	buildSource = "unknown"

	configFlag    = false
	debuggingFlag = false
)

func main() {
	info := fmt.Sprintf(
		"%s\nDate: %s\nBuildSource: %s\nCommit: %s\nOS: %s\nArch: %s",
		version,
		date,
		buildSource,
		commit,
		runtime.GOOS,
		runtime.GOARCH,
	)

	flaggy.SetName("previewd")
	flaggy.SetDescription("Privilege-separated thumbnail and text extraction pipeline")
	flaggy.DefaultParser.AdditionalHelpPrepend = "https://github.com/christophe-duc/previewd"

	flaggy.Bool(&configFlag, "c", "config", "Print the default config")
	flaggy.Bool(&debuggingFlag, "d", "debug", "Enable debug logging")
	flaggy.SetVersion(info)

	subcommands := make(map[string]*flaggy.Subcommand, len(app.Roles))
	for _, role := range app.Roles {
		sub := flaggy.NewSubcommand(role)
		sub.Description = fmt.Sprintf("Run the %s role", role)
		flaggy.AttachSubcommand(sub, 1)
		subcommands[role] = sub
	}

	flaggy.Parse()

	if configFlag {
		content, err := yaml.Marshal(config.GetDefaultConfig())
		if err != nil {
			log.Fatal(err.Error())
		}
		fmt.Println(string(content))
		os.Exit(0)
	}

	role := ""
	for name, sub := range subcommands {
		if sub.Used {
			role = name
		}
	}
	if role == "" {
		flaggy.ShowHelpAndExit("a role subcommand is required")
	}

	appConfig, err := config.NewAppConfig("previewd", version, commit, date, buildSource, role, debuggingFlag)
	if err != nil {
		log.Fatal(err.Error())
	}

	previewd, err := app.NewApp(appConfig)
	if err == nil {
		err = previewd.Run()
	}

	if err != nil {
		if errMessage, known := previewd.KnownError(err); known {
			log.Fatal(errMessage)
		}

		newErr := errors.Wrap(err, 0)
		stackTrace := newErr.ErrorStack()
		previewd.Log.Error(stackTrace)

		log.Fatal(fmt.Sprintf("an error occurred\n\n%s", stackTrace))
	}
}
