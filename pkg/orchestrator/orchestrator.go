package orchestrator

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/previewd/pkg/commands"
	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/christophe-duc/previewd/pkg/stage"
	"github.com/christophe-duc/previewd/pkg/utils"
)

// Orchestrator drives one job at a time from .ready to .done/.failed. It is
// the only component holding the container runtime socket; everything the
// untrusted payload touches runs in containers it spawns and tears down.
type Orchestrator struct {
	Log     *logrus.Entry
	Config  *config.AppConfig
	Sandbox *commands.SandboxCommand
	Stage   *stage.Stage
}

func NewOrchestrator(log *logrus.Entry, appConfig *config.AppConfig) (*Orchestrator, error) {
	sandbox, err := commands.NewSandboxCommand(log, appConfig)
	if err != nil {
		return nil, err
	}

	userConfig := appConfig.UserConfig
	return &Orchestrator{
		Log:     log,
		Config:  appConfig,
		Sandbox: sandbox,
		Stage:   stage.New(userConfig.Dirs.Input, userConfig.Dirs.Output, userConfig.Dirs.Status),
	}, nil
}

// Run is the scheduling loop: scan for .ready markers, process each job
// sequentially, sleep when idle.
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.Stage.EnsureDirs(); err != nil {
		return err
	}

	volumes := o.Config.UserConfig.Volumes
	if err := o.Sandbox.EnsureVolumes(volumes.Input, volumes.Output, volumes.Status, volumes.CADExchange, volumes.OCRExchange); err != nil {
		return err
	}

	o.Log.WithFields(logrus.Fields{
		"image":   o.Config.UserConfig.Sandbox.Image,
		"runtime": o.Config.UserConfig.Sandbox.Runtime,
		"timeout": o.Config.UserConfig.Sandbox.Timeout,
	}).Info("orchestrator starting")

	for {
		ready := o.Stage.ListReady()
		for _, hash := range ready {
			if ctx.Err() != nil {
				break
			}
			o.ProcessJob(hash)
		}

		select {
		case <-ctx.Done():
			o.Log.Info("orchestrator stopping")
			return o.Sandbox.Close()
		case <-time.After(o.Config.UserConfig.Queue.PollInterval):
		}
	}
}

// ProcessJob runs one job through the sandbox. Every failure becomes a
// .failed marker; nothing escapes to the loop. Cleanup of input files, the
// job volume, the ephemeral CAD sidecar and the exchange runs on all paths.
func (o *Orchestrator) ProcessJob(contentHash string) {
	log := o.Log.WithField("contentHash", utils.ShortHash(contentHash))

	hashPrefix := contentHash
	if len(hashPrefix) > 12 {
		hashPrefix = hashPrefix[:12]
	}
	jobVolume := "job-" + hashPrefix
	cadContainer := ""

	defer func() {
		o.Stage.RemoveInput(contentHash)
		if cadContainer != "" {
			o.Sandbox.KillContainer(cadContainer)
		}
		if err := o.Sandbox.RemoveVolume(jobVolume); err != nil {
			log.WithError(err).Warn("could not remove job volume")
		}
		if err := o.Sandbox.SweepExchange(hashPrefix); err != nil {
			log.WithError(err).Warn("exchange sweep failed")
		}
	}()

	fail := func(err error) {
		log.WithError(err).Error("job failed")
		if markErr := o.Stage.MarkFailed(contentHash, utils.Truncate(err.Error(), 2000)); markErr != nil {
			log.WithError(markErr).Error("could not write failure marker")
		}
	}

	meta, err := o.Stage.ReadMeta(contentHash)
	if err != nil {
		fail(fmt.Errorf("job input incomplete: %w", err))
		return
	}
	if _, err := os.Stat(o.Stage.InputBinPath(contentHash)); err != nil {
		fail(fmt.Errorf("job input incomplete: %w", err))
		return
	}

	if err := o.Sandbox.CreateVolume(jobVolume); err != nil {
		fail(fmt.Errorf("creating job volume: %w", err))
		return
	}

	if err := o.copyInputsIn(contentHash, jobVolume); err != nil {
		fail(fmt.Errorf("staging inputs into job volume: %w", err))
		return
	}

	// the CAD converter only needs to exist while a drawing job is running
	if o.Config.UserConfig.CAD.Ephemeral && needsCAD(meta.OriginalExtension) {
		cadContainer, err = o.Sandbox.StartCADSidecar()
		if err != nil {
			log.WithError(err).Warn("cad sidecar spawn failed, conversion will time out")
		}
	}

	processorContainer, err := o.Sandbox.StartProcessor(jobVolume)
	if err != nil {
		fail(fmt.Errorf("starting processor: %w", err))
		return
	}

	log.WithField("file", meta.OriginalFilename).Info("processing in sandbox")

	exitCode, waitErr := o.Sandbox.WaitContainer(processorContainer, o.Config.UserConfig.Sandbox.Timeout)
	if logs, logErr := o.Sandbox.ContainerLogs(processorContainer); logErr == nil && logs != "" {
		log.WithField("containerLogs", utils.Truncate(logs, 4000)).Debug("processor output")
	}
	o.Sandbox.RemoveContainer(processorContainer)

	// outputs are copied out even after a failure so the processor log
	// reaches the uploader's forwarding
	if err := o.copyOutputsOut(contentHash, jobVolume); err != nil {
		log.WithError(err).Warn("could not copy outputs from job volume")
	}

	if waitErr != nil {
		fail(fmt.Errorf("processor did not finish: %w", waitErr))
		return
	}
	if exitCode != 0 {
		fail(fmt.Errorf("processor exited with code %d", exitCode))
		return
	}

	if err := o.Stage.MarkDone(meta); err != nil {
		fail(fmt.Errorf("writing done marker: %w", err))
		return
	}
	log.Info("job done")
}

// copyInputsIn copies the staged input files into the job volume through a
// helper container. Volume names are used, not paths: the helper cannot see
// this process's filesystem.
func (o *Orchestrator) copyInputsIn(contentHash, jobVolume string) error {
	script := fmt.Sprintf("cp /in/%s.bin /work/input.bin && cp /in/%s.json /work/job.json", contentHash, contentHash)
	return o.Sandbox.RunHelper(script, []commands.VolumeMount{
		{Name: o.Config.UserConfig.Volumes.Input, Target: "/in", ReadOnly: true},
		{Name: jobVolume, Target: "/work"},
	})
}

// copyOutputsOut copies everything from the job volume into the output stage
// and renames the well-known files to their hash-prefixed names.
func (o *Orchestrator) copyOutputsOut(contentHash, jobVolume string) error {
	err := o.Sandbox.RunHelper("cp -r /work/* /out/ 2>/dev/null || true", []commands.VolumeMount{
		{Name: jobVolume, Target: "/work", ReadOnly: true},
		{Name: o.Config.UserConfig.Volumes.Output, Target: "/out"},
	})
	if err != nil {
		return err
	}
	return o.renameOutputs(contentHash)
}

func (o *Orchestrator) renameOutputs(contentHash string) error {
	outputDir := o.Stage.OutputDir
	renames := map[string]string{
		outputDir + "/result.json":   o.Stage.ResultPath(contentHash),
		outputDir + "/thumbnail.png": o.Stage.ThumbnailPath(contentHash),
		outputDir + "/processor.log": o.Stage.LogPath(contentHash),
	}
	for src, dst := range renames {
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, dst); err != nil {
			return err
		}
	}
	return nil
}

func needsCAD(extension string) bool {
	return extension == ".dwg" || extension == ".dxf"
}
