package processor

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OCRResult is the sidecar's response for one image.
type OCRResult struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Quality    float64 `json:"quality"`
	WordCount  int     `json:"word_count"`
	CharCount  int     `json:"char_count"`
}

// OCRRequest is the JSON body of a {id}.request marker.
type OCRRequest struct {
	ImagePath string `json:"image_path"`
	JobID     string `json:"job_id"`
}

// OCRClient requests text recognition from the long-lived OCR sidecar over
// the shared exchange volume. One request at a time; the sidecar is serial.
type OCRClient struct {
	Log         *logrus.Entry
	ExchangeDir string
	Timeout     time.Duration

	// IDPrefix prefixes every request id. The orchestrator sweeps exchange
	// files by the job's hash prefix after each job, so ids carrying it let
	// leftovers from a killed processor be attributed and removed.
	IDPrefix string
}

func NewOCRClient(log *logrus.Entry, exchangeDir string, timeout time.Duration) *OCRClient {
	return &OCRClient{Log: log, ExchangeDir: exchangeDir, Timeout: timeout}
}

// Recognize copies the image into the exchange, signals the sidecar and polls
// for the result. All exchange files for the request are cleaned up on every
// path except a timeout of the image copy itself (the orchestrator's exchange
// sweep catches those).
func (c *OCRClient) Recognize(imagePath string) (*OCRResult, error) {
	jobID := exchangeID(c.IDPrefix)

	exchangeImage := filepath.Join(c.ExchangeDir, jobID+".png")
	requestFile := filepath.Join(c.ExchangeDir, jobID+".request")
	resultFile := filepath.Join(c.ExchangeDir, jobID+".result")
	failedFile := filepath.Join(c.ExchangeDir, jobID+".failed")

	if err := copyFile(imagePath, exchangeImage); err != nil {
		return nil, fmt.Errorf("copying image to ocr exchange: %w", err)
	}

	request, err := json.Marshal(OCRRequest{ImagePath: jobID + ".png", JobID: jobID})
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(requestFile, request, 0o644); err != nil {
		os.Remove(exchangeImage)
		return nil, err
	}

	deadline := time.Now().Add(c.Timeout)
	for time.Now().Before(deadline) {
		if content, err := os.ReadFile(resultFile); err == nil {
			os.Remove(resultFile)
			os.Remove(exchangeImage)

			var result OCRResult
			if err := json.Unmarshal(content, &result); err != nil {
				return nil, fmt.Errorf("corrupt ocr result: %w", err)
			}
			return &result, nil
		}

		if content, err := os.ReadFile(failedFile); err == nil {
			os.Remove(failedFile)
			os.Remove(exchangeImage)
			return nil, fmt.Errorf("ocr failed: %s", truncateError(string(content)))
		}

		time.Sleep(500 * time.Millisecond)
	}

	os.Remove(requestFile)
	os.Remove(exchangeImage)
	return nil, fmt.Errorf("ocr timed out after %s", c.Timeout)
}

// OCR decision reasons. The reason feeds both logging and the concatenation
// rule in FinalText.
const (
	ReasonNoEmbedded    = "no_embedded_ocr_found_text"
	ReasonOCRFoundMore  = "ocr_found_more"
	ReasonShortEmbedded = "ocr_better_for_short_embedded"
	ReasonBothEmpty     = "both_empty"
	ReasonEmbeddedOK    = "embedded_ok"
)

// ShouldUseOCR decides whether OCR text should replace the embedded text of a
// page. When in doubt it prefers OCR: redundant good text beats missing
// searchable content.
func ShouldUseOCR(embeddedText string, ocr *OCRResult) (bool, string) {
	embLen := len(strings.TrimSpace(embeddedText))
	ocrLen := len(strings.TrimSpace(ocr.Text))

	if embLen < 10 {
		if ocrLen > 50 {
			return true, ReasonNoEmbedded
		}
		return false, ReasonBothEmpty
	}

	if ocrLen > embLen*2 && ocrLen > 200 {
		return true, ReasonOCRFoundMore
	}

	if ocrLen > 100 && ocr.Quality > 0.4 && embLen < 500 && ocr.Quality > 0.5 {
		return true, ReasonShortEmbedded
	}

	return false, ReasonEmbeddedOK
}

// FinalText combines embedded and OCR text according to the decision reason.
// When OCR wins and the embedded text is still substantial, both are kept:
// OCR first, embedded appended behind a separator.
func FinalText(embeddedText string, ocr *OCRResult, reason string) string {
	embedded := strings.TrimSpace(embeddedText)
	ocrText := ""
	if ocr != nil {
		ocrText = strings.TrimSpace(ocr.Text)
	}

	switch reason {
	case ReasonBothEmpty:
		return ""
	case ReasonEmbeddedOK:
		return embedded
	case ReasonNoEmbedded:
		return ocrText
	case ReasonOCRFoundMore, ReasonShortEmbedded:
		if len(embedded) > 50 {
			return ocrText + "\n\n--- embedded text ---\n\n" + embedded
		}
		return ocrText
	}

	if embedded != "" {
		return embedded
	}
	return ocrText
}

// exchangeID builds a request id for the sidecar exchanges, carrying the
// job's hash prefix when one is set.
func exchangeID(prefix string) string {
	id := uuid.NewString()[:8]
	if prefix == "" {
		return id
	}
	return prefix + "-" + id
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}
