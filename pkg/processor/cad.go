package processor

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
)

// CADClient converts CAD drawings to PDF through the CAD sidecar over the
// shared exchange volume.
type CADClient struct {
	Log         *logrus.Entry
	ExchangeDir string
	Timeout     time.Duration

	// IDPrefix ties request ids to the job for the orchestrator's post-job
	// exchange sweep.
	IDPrefix string
}

func NewCADClient(log *logrus.Entry, exchangeDir string, timeout time.Duration) *CADClient {
	return &CADClient{Log: log, ExchangeDir: exchangeDir, Timeout: timeout}
}

// ConvertToPDF ships the drawing into the exchange, signals the sidecar and
// waits for the PDF. On success the returned path points into the exchange
// volume; the caller removes it when done.
func (c *CADClient) ConvertToPDF(sourcePath string) (string, error) {
	jobID := exchangeID(c.IDPrefix)

	inputName := jobID + Ext(sourcePath)
	exchangeInput := filepath.Join(c.ExchangeDir, inputName)
	exchangePDF := filepath.Join(c.ExchangeDir, jobID+".pdf")
	signalFile := filepath.Join(c.ExchangeDir, jobID+".convert")
	doneFile := filepath.Join(c.ExchangeDir, jobID+".done")
	failedFile := filepath.Join(c.ExchangeDir, jobID+".failed")

	if err := copyFile(sourcePath, exchangeInput); err != nil {
		return "", fmt.Errorf("copying drawing to cad exchange: %w", err)
	}

	// the signal file names the input so the sidecar knows which extension
	// it is dealing with
	if err := os.WriteFile(signalFile, []byte(inputName), 0o644); err != nil {
		os.Remove(exchangeInput)
		return "", err
	}

	deadline := time.Now().Add(c.Timeout)
	for time.Now().Before(deadline) {
		if fileExists(doneFile) {
			os.Remove(doneFile)
			os.Remove(exchangeInput)
			if !fileExists(exchangePDF) {
				return "", fmt.Errorf("cad conversion reported done but produced no pdf")
			}
			c.Log.WithField("file", filepath.Base(sourcePath)).Info("cad drawing converted to pdf")
			return exchangePDF, nil
		}

		if content, err := os.ReadFile(failedFile); err == nil {
			os.Remove(failedFile)
			os.Remove(exchangeInput)
			return "", fmt.Errorf("cad conversion failed: %s", truncateError(string(content)))
		}

		time.Sleep(500 * time.Millisecond)
	}

	os.Remove(signalFile)
	os.Remove(exchangeInput)
	return "", fmt.Errorf("cad conversion timed out after %s", c.Timeout)
}
