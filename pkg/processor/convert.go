package processor

import (
	"bytes"
	"fmt"
	"image"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// runCommand runs an external converter with a timeout, returning stderr in
// the error on a non-zero exit.
func runCommand(timeout time.Duration, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%s: %w: %s", name, err, truncateError(stderr.String()))
		}
		return nil
	case <-time.After(timeout):
		_ = cmd.Process.Kill()
		<-done
		return fmt.Errorf("%s timed out after %s", name, timeout)
	}
}

func truncateError(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 500 {
		return s[:500]
	}
	if s == "" {
		return "no output"
	}
	return s
}

// RasterizePDFPage renders page 1 of a PDF to a PNG at the given dpi and
// decodes it.
func RasterizePDFPage(pdfPath, tempDir string, dpi int) (image.Image, error) {
	return RasterizePDFPageAt(pdfPath, tempDir, dpi, 1)
}

// RasterizePDFPageAt renders a single page of a PDF to a PNG at the given dpi
// and decodes it.
func RasterizePDFPageAt(pdfPath, tempDir string, dpi, page int) (image.Image, error) {
	prefix := filepath.Join(tempDir, uuid.NewString())
	p := strconv.Itoa(page)
	err := runCommand(120*time.Second, "pdftoppm",
		"-png", "-f", p, "-l", p, "-r", strconv.Itoa(dpi), "-singlefile",
		pdfPath, prefix)
	if err != nil {
		return nil, err
	}

	pngPath := prefix + ".png"
	defer os.Remove(pngPath)
	return imaging.Open(pngPath)
}

// PDFPageCount returns the number of pages in a PDF.
func PDFPageCount(pdfPath string) (int, error) {
	cmd := exec.Command("pdfinfo", pdfPath)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return 0, fmt.Errorf("pdfinfo: %w: %s", err, truncateError(stderr.String()))
	}
	return parsePageCount(stdout.String())
}

func parsePageCount(info string) (int, error) {
	for _, line := range strings.Split(info, "\n") {
		rest, ok := strings.CutPrefix(line, "Pages:")
		if !ok {
			continue
		}
		return strconv.Atoi(strings.TrimSpace(rest))
	}
	return 0, fmt.Errorf("pdfinfo reported no page count")
}

// ExtractPDFText extracts the selectable text of a whole PDF.
func ExtractPDFText(pdfPath string, maxLength int) (string, error) {
	cmd := exec.Command("pdftotext", pdfPath, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, truncateError(stderr.String()))
	}

	text := strings.ReplaceAll(stdout.String(), "\x00", "")
	if len(text) > maxLength {
		text = text[:maxLength]
	}
	return text, nil
}

// ExtractPDFPageText extracts the selectable text of a single page. Used for
// the page-1 comparison in the OCR decision.
func ExtractPDFPageText(pdfPath string, page int) (string, error) {
	p := strconv.Itoa(page)
	cmd := exec.Command("pdftotext", "-f", p, "-l", p, pdfPath, "-")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("pdftotext: %w: %s", err, truncateError(stderr.String()))
	}
	return strings.ReplaceAll(stdout.String(), "\x00", ""), nil
}

// ConvertOfficeToPDF converts an office document to PDF with the headless
// office engine. Returns the path of the produced PDF.
func ConvertOfficeToPDF(log *logrus.Entry, sourcePath, tempDir string) (string, error) {
	err := runCommand(120*time.Second, "soffice",
		"--headless", "--convert-to", "pdf", "--outdir", tempDir, sourcePath)
	if err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))
	pdfPath := filepath.Join(tempDir, base+".pdf")
	if _, err := os.Stat(pdfPath); err != nil {
		return "", fmt.Errorf("office conversion produced no PDF for %s", filepath.Base(sourcePath))
	}

	log.WithField("file", filepath.Base(sourcePath)).Info("office document converted to pdf")
	return pdfPath, nil
}

// RasterizeSVG renders an SVG at twice the target width (downscaling later
// keeps thin strokes visible) and flattens transparency onto white.
func RasterizeSVG(sourcePath, tempDir string, targetWidth int) (image.Image, error) {
	pngPath := filepath.Join(tempDir, uuid.NewString()+".png")
	defer os.Remove(pngPath)

	err := runCommand(60*time.Second, "rsvg-convert",
		"--width", strconv.Itoa(targetWidth*2), "--keep-aspect-ratio",
		"--background-color", "white",
		"--output", pngPath, sourcePath)
	if err != nil {
		return nil, err
	}
	return imaging.Open(pngPath)
}

// ExtractVideoFrame grabs a frame at t=1s, falling back to the very first
// frame for clips shorter than a second.
func ExtractVideoFrame(log *logrus.Entry, sourcePath, tempDir string) (image.Image, error) {
	framePath := filepath.Join(tempDir, uuid.NewString()+".png")
	defer os.Remove(framePath)

	err := runCommand(60*time.Second, "ffmpeg",
		"-y", "-i", sourcePath, "-ss", "00:00:01", "-frames:v", "1", "-q:v", "2", framePath)
	if err != nil || !fileExists(framePath) {
		err = runCommand(60*time.Second, "ffmpeg",
			"-y", "-i", sourcePath, "-frames:v", "1", "-q:v", "2", framePath)
		if err != nil {
			return nil, err
		}
		log.WithField("file", filepath.Base(sourcePath)).Debug("fell back to first video frame")
	}
	return imaging.Open(framePath)
}

// ConvertHEIF decodes a HEIC/HEIF image by converting it to PNG first.
func ConvertHEIF(sourcePath, tempDir string) (image.Image, error) {
	pngPath := filepath.Join(tempDir, uuid.NewString()+".png")
	defer os.Remove(pngPath)

	if err := runCommand(60*time.Second, "heif-convert", sourcePath, pngPath); err != nil {
		return nil, err
	}
	return imaging.Open(pngPath)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
