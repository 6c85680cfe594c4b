package sidecar

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/christophe-duc/previewd/pkg/utils"
)

// CADSidecar watches its exchange directory for {id}.convert signals and runs
// the CAD converter on the named input. It is spawned inside its own sandbox
// (the drawings are untrusted); this process only shuffles files and execs
// the converter binary baked into the sidecar image.
type CADSidecar struct {
	Log           *logrus.Entry
	ExchangeDir   string
	ConverterPath string
	PollEvery     time.Duration
	Timeout       time.Duration
}

func NewCADSidecar(log *logrus.Entry, appConfig *config.AppConfig) *CADSidecar {
	userConfig := appConfig.UserConfig
	return &CADSidecar{
		Log:           log,
		ExchangeDir:   userConfig.Dirs.CADExchange,
		ConverterPath: userConfig.CAD.ConverterPath,
		PollEvery:     500 * time.Millisecond,
		Timeout:       userConfig.CAD.Timeout,
	}
}

// Run serves conversion requests until the context is cancelled.
func (s *CADSidecar) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.ExchangeDir, 0o755); err != nil {
		return err
	}
	s.Log.WithField("exchange", s.ExchangeDir).Info("cad sidecar ready")

	for {
		signals, _ := filepath.Glob(filepath.Join(s.ExchangeDir, "*.convert"))
		if len(signals) == 0 {
			select {
			case <-ctx.Done():
				s.Log.Info("cad sidecar stopping")
				return nil
			case <-time.After(s.PollEvery):
			}
			continue
		}

		for _, signalFile := range signals {
			if ctx.Err() != nil {
				return nil
			}
			s.handleRequest(signalFile)
		}
	}
}

// handleRequest converts one drawing. The signal file contains the input
// filename; output is {id}.pdf plus a {id}.done marker, or {id}.failed.
func (s *CADSidecar) handleRequest(signalFile string) {
	jobID := strings.TrimSuffix(filepath.Base(signalFile), ".convert")
	log := s.Log.WithField("jobId", jobID)
	defer os.Remove(signalFile)

	fail := func(err error) {
		log.WithError(err).Warn("conversion failed")
		failedFile := filepath.Join(s.ExchangeDir, jobID+".failed")
		if writeErr := os.WriteFile(failedFile, []byte(utils.Truncate(err.Error(), 500)), 0o644); writeErr != nil {
			log.WithError(writeErr).Error("could not write failure marker")
		}
	}

	content, err := os.ReadFile(signalFile)
	if err != nil {
		fail(err)
		return
	}
	inputName := filepath.Base(strings.TrimSpace(string(content)))
	inputPath := filepath.Join(s.ExchangeDir, inputName)
	pdfPath := filepath.Join(s.ExchangeDir, jobID+".pdf")

	if _, err := os.Stat(inputPath); err != nil {
		fail(fmt.Errorf("input not found: %s", inputName))
		return
	}

	log.WithField("input", inputName).Info("converting drawing")
	start := time.Now()

	if err := s.convert(inputPath, pdfPath); err != nil {
		fail(err)
		return
	}
	if _, err := os.Stat(pdfPath); err != nil {
		fail(fmt.Errorf("converter exited cleanly but produced no pdf"))
		return
	}

	if err := touch(filepath.Join(s.ExchangeDir, jobID+".done")); err != nil {
		fail(err)
		return
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("conversion done")
}

// convert runs the converter with auto-fit and auto-orientation, killing it
// when the timeout elapses.
func (s *CADSidecar) convert(inputPath, pdfPath string) error {
	ctx, cancel := context.WithTimeout(context.Background(), s.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, s.ConverterPath,
		"-a", "-auto-orientation", "-f", "-o", pdfPath, inputPath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("converter timed out after %s", s.Timeout)
		}
		return fmt.Errorf("converter: %w: %s", err, utils.Truncate(strings.TrimSpace(output.String()), 500))
	}
	return nil
}

func touch(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}
