package sidecar

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"github.com/otiai10/gosseract/v2"
	"github.com/sirupsen/logrus"

	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/christophe-duc/previewd/pkg/processor"
	"github.com/christophe-duc/previewd/pkg/utils"
)

// Engine is the text recognition backend. The production implementation wraps
// tesseract; tests substitute a fake.
type Engine interface {
	Recognize(imagePath string) (text string, confidence float64, err error)
	Close() error
}

type tesseractEngine struct {
	client *gosseract.Client
}

// newTesseractEngine initializes tesseract once. Language set is "deu+eng"
// style, split into tesseract language codes.
func newTesseractEngine(languages string) (*tesseractEngine, error) {
	client := gosseract.NewClient()
	langs := strings.Split(languages, "+")
	if err := client.SetLanguage(langs...); err != nil {
		client.Close()
		return nil, err
	}
	return &tesseractEngine{client: client}, nil
}

func (e *tesseractEngine) Recognize(imagePath string) (string, float64, error) {
	if err := e.client.SetImage(imagePath); err != nil {
		return "", 0, err
	}

	text, err := e.client.Text()
	if err != nil {
		return "", 0, err
	}

	boxes, err := e.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil {
		return text, 0, nil
	}
	confidence := 0.0
	if len(boxes) > 0 {
		for _, box := range boxes {
			confidence += box.Confidence
		}
		// tesseract reports 0-100
		confidence = confidence / float64(len(boxes)) / 100
	}
	return text, confidence, nil
}

func (e *tesseractEngine) Close() error {
	return e.client.Close()
}

// OCRSidecar is the long-lived OCR service. It loads the recognition model
// and wordlist once, then serves requests from its exchange directory
// strictly serially. The model is not re-entrant.
type OCRSidecar struct {
	Log         *logrus.Entry
	ExchangeDir string
	PollEvery   time.Duration

	engine   Engine
	wordlist map[string]struct{}
}

func NewOCRSidecar(log *logrus.Entry, appConfig *config.AppConfig) (*OCRSidecar, error) {
	userConfig := appConfig.UserConfig

	log.WithField("languages", userConfig.OCR.Languages).Info("loading ocr engine")
	start := time.Now()
	engine, err := newTesseractEngine(userConfig.OCR.Languages)
	if err != nil {
		return nil, fmt.Errorf("initializing ocr engine: %w", err)
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Info("ocr engine ready")

	s := &OCRSidecar{
		Log:         log,
		ExchangeDir: userConfig.Dirs.OCRExchange,
		PollEvery:   userConfig.OCR.ExchangePoll,
		engine:      engine,
	}
	s.loadWordlist(userConfig.OCR.WordlistPath)
	return s, nil
}

func (s *OCRSidecar) loadWordlist(path string) {
	s.wordlist = make(map[string]struct{})
	content, err := os.ReadFile(path)
	if err != nil {
		s.Log.WithField("path", path).Warn("wordlist not found, quality scores default to 0.5")
		return
	}
	for _, word := range strings.Split(strings.TrimSpace(utils.NormalizeLinefeeds(string(content))), "\n") {
		if word != "" {
			s.wordlist[word] = struct{}{}
		}
	}
	s.Log.WithField("words", len(s.wordlist)).Info("loaded wordlist")
}

func (s *OCRSidecar) Close() error {
	if s.engine != nil {
		return s.engine.Close()
	}
	return nil
}

// Run serves requests until the context is cancelled. Requests are handled in
// directory-listing order, one at a time.
func (s *OCRSidecar) Run(ctx context.Context) error {
	if err := os.MkdirAll(s.ExchangeDir, 0o755); err != nil {
		return err
	}
	s.Log.WithField("exchange", s.ExchangeDir).Info("ocr sidecar ready")

	for {
		requests := s.pendingRequests()
		if len(requests) == 0 {
			select {
			case <-ctx.Done():
				s.Log.Info("ocr sidecar stopping")
				return nil
			case <-time.After(s.PollEvery):
			}
			continue
		}

		for _, requestFile := range requests {
			if ctx.Err() != nil {
				return nil
			}
			s.handleRequest(requestFile)
		}
	}
}

func (s *OCRSidecar) pendingRequests() []string {
	matches, err := filepath.Glob(filepath.Join(s.ExchangeDir, "*.request"))
	if err != nil {
		return nil
	}
	return matches
}

// handleRequest serves one {id}.request. Any failure becomes a {id}.failed
// marker; the request file is always removed. The caller cleans up the image
// and the result.
func (s *OCRSidecar) handleRequest(requestFile string) {
	jobID := strings.TrimSuffix(filepath.Base(requestFile), ".request")
	log := s.Log.WithField("jobId", jobID)
	defer os.Remove(requestFile)

	result, err := s.recognizeRequest(requestFile, jobID)
	if err != nil {
		log.WithError(err).Error("ocr request failed")
		failedFile := filepath.Join(s.ExchangeDir, jobID+".failed")
		if writeErr := os.WriteFile(failedFile, []byte(utils.Truncate(err.Error(), 500)), 0o644); writeErr != nil {
			log.WithError(writeErr).Error("could not write failure marker")
		}
		return
	}

	content, err := json.Marshal(result)
	if err != nil {
		log.WithError(err).Error("could not encode ocr result")
		return
	}
	if err := os.WriteFile(filepath.Join(s.ExchangeDir, jobID+".result"), content, 0o644); err != nil {
		log.WithError(err).Error("could not write ocr result")
		return
	}

	log.WithFields(logrus.Fields{
		"chars":   result.CharCount,
		"quality": result.Quality,
	}).Info("ocr complete")
}

func (s *OCRSidecar) recognizeRequest(requestFile, jobID string) (*processor.OCRResult, error) {
	content, err := os.ReadFile(requestFile)
	if err != nil {
		return nil, err
	}

	var request processor.OCRRequest
	if err := json.Unmarshal(content, &request); err != nil {
		return nil, fmt.Errorf("corrupt request: %w", err)
	}

	imageName := request.ImagePath
	if imageName == "" {
		imageName = jobID + ".png"
	}
	imagePath := filepath.Join(s.ExchangeDir, filepath.Base(imageName))
	if _, err := os.Stat(imagePath); err != nil {
		return nil, fmt.Errorf("image not found: %s", imageName)
	}

	start := time.Now()
	text, confidence, err := s.engine.Recognize(imagePath)
	if err != nil {
		return nil, err
	}
	s.Log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Debug("recognition finished")

	return &processor.OCRResult{
		Text:       text,
		Confidence: confidence,
		Quality:    s.computeQuality(text),
		WordCount:  len(strings.Fields(text)),
		CharCount:  len(text),
	}, nil
}

// computeQuality scores OCR output against the wordlist: the fraction of
// checkable words the wordlist recognizes. A word is checkable when it is at
// least 3 characters after stripping surrounding punctuation and purely
// alphabetic. Fewer than 3 checkable words is insufficient evidence and
// scores a neutral 0.5, as does a missing wordlist.
func (s *OCRSidecar) computeQuality(text string) float64 {
	if len(s.wordlist) == 0 || text == "" {
		return 0.5
	}

	var checkable []string
	for _, word := range strings.Fields(strings.ToLower(text)) {
		if len(word) < 3 {
			continue
		}
		word = strings.Trim(word, ".,;:!?()[]{}\"'-")
		if word == "" || !isAlpha(word) {
			continue
		}
		checkable = append(checkable, word)
	}

	if len(checkable) < 3 {
		return 0.5
	}

	recognized := 0
	for _, word := range checkable {
		if _, ok := s.wordlist[word]; ok {
			recognized++
		}
	}
	return float64(recognized) / float64(len(checkable))
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
