package processor

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"

	// decoders for formats the standard image package does not cover
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/christophe-duc/previewd/pkg/config"
	"github.com/christophe-duc/previewd/pkg/stage"
	"github.com/christophe-duc/previewd/pkg/utils"
)

// Result is the processor's answer, written to /work/result.json. Exit code 0
// means a result file was written, even when Success is false.
type Result struct {
	ContentHash   string  `json:"content_hash"`
	Success       bool    `json:"success"`
	ThumbnailFile *string `json:"thumbnail_file"`
	ExtractedText *string `json:"extracted_text"`
	Error         *string `json:"error"`
}

// Processor converts one staged input file into a thumbnail and extracted
// text inside the air-gapped sandbox. Its whole world is the /work volume and
// the two sidecar exchanges.
type Processor struct {
	Log     *logrus.Entry
	Config  *config.AppConfig
	WorkDir string
	OCR     *OCRClient
	CAD     *CADClient
}

func NewProcessor(log *logrus.Entry, appConfig *config.AppConfig) *Processor {
	userConfig := appConfig.UserConfig
	return &Processor{
		Log:     log,
		Config:  appConfig,
		WorkDir: userConfig.Dirs.Work,
		OCR:     NewOCRClient(log, userConfig.Dirs.OCRExchange, userConfig.OCR.RequestTimeout),
		CAD:     NewCADClient(log, userConfig.Dirs.CADExchange, userConfig.CAD.Timeout),
	}
}

// Run processes the job staged in the work directory and writes result.json.
// The returned error is fatal only when no result could be written at all.
func (p *Processor) Run() error {
	meta, err := p.readJob()
	if err != nil {
		return err
	}

	log := p.Log.WithField("contentHash", utils.ShortHash(meta.ContentHash))
	log.WithField("file", meta.OriginalFilename).Info("processing")

	prefix := meta.ContentHash
	if len(prefix) > 12 {
		prefix = prefix[:12]
	}
	p.OCR.IDPrefix = prefix
	p.CAD.IDPrefix = prefix

	// give the input its real extension back so the converters get their
	// type hints from the filename
	inputPath := filepath.Join(p.WorkDir, "input"+meta.OriginalExtension)
	if err := os.Rename(filepath.Join(p.WorkDir, "input.bin"), inputPath); err != nil {
		return fmt.Errorf("staging input file: %w", err)
	}
	defer os.Remove(inputPath)

	result := Result{ContentHash: meta.ContentHash}

	thumbnail, text, procErr := p.processFile(log, inputPath, meta.OriginalFilename)
	if procErr != nil {
		errText := procErr.Error()
		result.Error = &errText
		log.WithError(procErr).Error("processing failed")
	} else {
		result.Success = true
		if thumbnail != nil {
			thumbPath := filepath.Join(p.WorkDir, "thumbnail.png")
			if err := imaging.Save(thumbnail, thumbPath, imaging.PNGCompressionLevel(png.BestCompression)); err != nil {
				errText := err.Error()
				result.Success = false
				result.Error = &errText
			} else {
				name := "thumbnail.png"
				result.ThumbnailFile = &name
				log.Info("generated thumbnail")
			}
		}
		if text != "" {
			text = TruncateText(text, p.Config.UserConfig.Text.MaxLength)
			result.ExtractedText = &text
			log.WithField("chars", len(text)).Info("extracted text")
		}
		if result.ThumbnailFile == nil && result.ExtractedText == nil {
			log.Info("no thumbnail or text for this file type")
		}
	}

	return p.writeResult(result)
}

func (p *Processor) readJob() (stage.JobMeta, error) {
	var meta stage.JobMeta
	content, err := os.ReadFile(filepath.Join(p.WorkDir, "job.json"))
	if err != nil {
		return meta, fmt.Errorf("reading job metadata: %w", err)
	}
	if err := json.Unmarshal(content, &meta); err != nil {
		return meta, fmt.Errorf("corrupt job metadata: %w", err)
	}
	return meta, nil
}

func (p *Processor) writeResult(result Result) error {
	content, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(p.WorkDir, "result.json"), content, 0o644)
}

// processFile dispatches on the original filename's extension and runs the
// format family's pipeline. An error return means the job failed; (nil, "")
// with no error means the format is unsupported, which is a success with no
// artifacts.
func (p *Processor) processFile(log *logrus.Entry, inputPath, originalFilename string) (image.Image, string, error) {
	thumbnailCfg := p.Config.UserConfig.Thumbnail
	width, height := thumbnailCfg.Dimensions(Ext(originalFilename))

	switch {
	case IsCAD(inputPath):
		return p.processCAD(log, inputPath, width, height)
	case IsOffice(inputPath):
		return p.processOffice(log, inputPath, width, height)
	case IsPDF(inputPath):
		return p.processPDF(log, inputPath, originalFilename, width, height)
	case IsImage(inputPath):
		return p.processImage(log, inputPath, width, height)
	case IsSVG(inputPath):
		img, err := RasterizeSVG(inputPath, p.WorkDir, width)
		if err != nil {
			return nil, "", err
		}
		return p.coverCrop(img, width, height), "", nil
	case IsVideo(inputPath):
		img, err := ExtractVideoFrame(log, inputPath, p.WorkDir)
		if err != nil {
			return nil, "", err
		}
		return p.coverCrop(img, width, height), "", nil
	case IsText(inputPath):
		text, err := ExtractTextFromFile(inputPath, p.Config.UserConfig.Text.MaxLength)
		if err != nil {
			return nil, "", err
		}
		return nil, text, nil
	}

	return p.processUnknown(log, inputPath, width, height)
}

// processUnknown tries the fallback chain on files outside every known
// format family: bundled archive preview, OLE bitmap preview, then treating
// the bytes as text.
func (p *Processor) processUnknown(log *logrus.Entry, inputPath string, width, height int) (image.Image, string, error) {
	if detected, err := mimetype.DetectFile(inputPath); err == nil {
		log = log.WithField("detectedType", detected.String())
	}
	log.Debug("unknown extension, trying fallbacks")

	var thumbnail image.Image

	if img, err := ExtractArchiveThumbnail(log, inputPath); err == nil && img != nil {
		thumbnail = p.coverCrop(img, width, height)
	}

	if thumbnail == nil {
		if img, err := ExtractOLEThumbnail(log, inputPath); err == nil && img != nil {
			thumbnail = p.coverCrop(img, width, height)
		}
	}

	textCfg := p.Config.UserConfig.Text
	text, err := ExtractTextFallback(inputPath, textCfg.FallbackMaxSize, textCfg.FallbackMinPrintable, textCfg.MaxLength)
	if err != nil {
		text = ""
	}
	if text != "" {
		log.WithField("chars", len(text)).Info("extracted text from unknown format")
	}

	// unsupported is not a failure
	return thumbnail, text, nil
}

func (p *Processor) processCAD(log *logrus.Entry, inputPath string, width, height int) (image.Image, string, error) {
	pdfPath, err := p.CAD.ConvertToPDF(inputPath)
	if err != nil {
		return nil, "", err
	}
	defer os.Remove(pdfPath)

	thumbnailCfg := p.Config.UserConfig.Thumbnail
	page, err := RasterizePDFPage(pdfPath, p.WorkDir, thumbnailCfg.DWGIntermediateDPI)
	if err != nil {
		return nil, "", err
	}

	cropped := CropToContent(page, thumbnailCfg.DWGWhiteThreshold)
	thumbnail := p.coverCrop(cropped, width, height)

	// the PDF came out of the CAD converter, so its text layer is exact
	text, err := ExtractPDFText(pdfPath, p.Config.UserConfig.Text.MaxLength)
	if err != nil {
		log.WithError(err).Warn("text extraction from converted drawing failed")
		text = ""
	}
	return thumbnail, text, nil
}

func (p *Processor) processOffice(log *logrus.Entry, inputPath string, width, height int) (image.Image, string, error) {
	pdfPath, err := ConvertOfficeToPDF(log, inputPath, p.WorkDir)
	if err != nil {
		return nil, "", err
	}
	defer os.Remove(pdfPath)

	page, err := RasterizePDFPage(pdfPath, p.WorkDir, 150)
	if err != nil {
		return nil, "", err
	}
	thumbnail := p.coverCrop(page, width, height)

	text, err := ExtractPDFText(pdfPath, p.Config.UserConfig.Text.MaxLength)
	if err != nil {
		log.WithError(err).Warn("text extraction from converted document failed")
		text = ""
	}
	return thumbnail, text, nil
}

// processPDF renders page 1 for the thumbnail and extracts the embedded text.
// For PDFs that did not come out of a converter, page 1 is also OCRed and the
// two texts compared; when OCR wins, every remaining page is rendered and
// recognized too, so a scanned multi-page document keeps its full text. The
// decision itself stays page-1-based.
func (p *Processor) processPDF(log *logrus.Entry, inputPath, originalFilename string, width, height int) (image.Image, string, error) {
	page, err := RasterizePDFPage(inputPath, p.WorkDir, 150)
	if err != nil {
		return nil, "", err
	}
	thumbnail := p.coverCrop(page, width, height)

	embedded, err := ExtractPDFText(inputPath, p.Config.UserConfig.Text.MaxLength)
	if err != nil {
		log.WithError(err).Warn("embedded text extraction failed")
		embedded = ""
	}

	if IsGeneratedPDFSource(Ext(originalFilename)) {
		return thumbnail, embedded, nil
	}

	pageText, err := ExtractPDFPageText(inputPath, 1)
	if err != nil {
		pageText = embedded
	}

	ocrResult, err := p.recognizeImage(page)
	if err != nil {
		log.WithError(err).Warn("ocr unavailable, keeping embedded text")
		return thumbnail, embedded, nil
	}

	useOCR, reason := ShouldUseOCR(pageText, ocrResult)
	log.WithFields(logrus.Fields{
		"useOcr":  useOCR,
		"reason":  reason,
		"quality": ocrResult.Quality,
	}).Debug("ocr decision")

	if useOCR {
		if rest := p.ocrRemainingPages(log, inputPath, len(ocrResult.Text)); rest != "" {
			ocrResult.Text = ocrResult.Text + "\n\n" + rest
		}
	}

	if embedded == "" {
		embedded = pageText
	}
	return thumbnail, FinalText(embedded, ocrResult, reason), nil
}

// ocrRemainingPages recognizes pages 2..N through the sidecar, one page at a
// time, and returns their concatenated text. Stops early once the text cap is
// reached or a page fails; what was recognized so far is kept.
func (p *Processor) ocrRemainingPages(log *logrus.Entry, pdfPath string, textSoFar int) string {
	pages, err := PDFPageCount(pdfPath)
	if err != nil {
		log.WithError(err).Warn("could not count pages, keeping page 1 text only")
		return ""
	}

	maxLength := p.Config.UserConfig.Text.MaxLength
	var texts []string
	for pageNum := 2; pageNum <= pages; pageNum++ {
		if textSoFar >= maxLength {
			break
		}
		img, err := RasterizePDFPageAt(pdfPath, p.WorkDir, 150, pageNum)
		if err != nil {
			log.WithError(err).WithField("page", pageNum).Warn("page render failed, stopping ocr")
			break
		}
		result, err := p.recognizeImage(img)
		if err != nil {
			log.WithError(err).WithField("page", pageNum).Warn("page ocr failed, stopping ocr")
			break
		}
		if text := strings.TrimSpace(result.Text); text != "" {
			texts = append(texts, text)
			textSoFar += len(text)
		}
	}

	if len(texts) > 0 {
		log.WithFields(logrus.Fields{"pages": pages, "recognized": len(texts) + 1}).Info("recognized scanned document")
	}
	return strings.Join(texts, "\n\n")
}

func (p *Processor) processImage(log *logrus.Entry, inputPath string, width, height int) (image.Image, string, error) {
	var img image.Image
	var err error

	ext := Ext(inputPath)
	if ext == ".heic" || ext == ".heif" {
		img, err = ConvertHEIF(inputPath, p.WorkDir)
	} else {
		img, err = imaging.Open(inputPath)
	}
	if err != nil {
		return nil, "", err
	}

	thumbnail := p.coverCrop(img, width, height)

	text, err := p.ocrDecision(log, img, "", "")
	if err != nil {
		log.WithError(err).Warn("ocr unavailable for image")
		text = ""
	}
	return thumbnail, text, nil
}

// recognizeImage saves the image into the work dir and sends it through the
// ocr exchange.
func (p *Processor) recognizeImage(img image.Image) (*OCRResult, error) {
	ocrInput := filepath.Join(p.WorkDir, "ocr-input.png")
	if err := imaging.Save(img, ocrInput); err != nil {
		return nil, err
	}
	defer os.Remove(ocrInput)
	return p.OCR.Recognize(ocrInput)
}

// ocrDecision OCRs the given page image, weighs the result against the
// embedded page text and returns the final text for the document.
func (p *Processor) ocrDecision(log *logrus.Entry, page image.Image, pageText, fullEmbedded string) (string, error) {
	ocrResult, err := p.recognizeImage(page)
	if err != nil {
		return "", err
	}

	useOCR, reason := ShouldUseOCR(pageText, ocrResult)
	log.WithFields(logrus.Fields{
		"useOcr":  useOCR,
		"reason":  reason,
		"quality": ocrResult.Quality,
	}).Debug("ocr decision")

	embedded := fullEmbedded
	if embedded == "" {
		embedded = pageText
	}
	return FinalText(embedded, ocrResult, reason), nil
}

func (p *Processor) coverCrop(img image.Image, width, height int) image.Image {
	return CoverCrop(img, width, height, p.Config.UserConfig.Thumbnail.CropPosition)
}
