package processor

import (
	"path/filepath"
	"strings"

	"github.com/samber/lo"
)

var (
	imageExtensions  = []string{".jpg", ".jpeg", ".png", ".gif", ".webp", ".bmp", ".tiff", ".tif", ".heic", ".heif"}
	pdfExtensions    = []string{".pdf"}
	cadExtensions    = []string{".dwg", ".dxf"}
	svgExtensions    = []string{".svg"}
	videoExtensions  = []string{".mov", ".mp4", ".avi", ".webm", ".mkv", ".m4v"}
	officeExtensions = []string{".xlsx", ".xls", ".xlsm", ".ods", ".docx", ".doc", ".docm", ".odt", ".pptx", ".ppt", ".pptm", ".odp", ".pages", ".numbers", ".key"}
	textExtensions   = []string{".txt", ".json", ".xml", ".js", ".ts", ".css", ".html", ".md", ".csv", ".yaml", ".yml", ".ini", ".cfg", ".conf", ".log", ".py", ".sh", ".bash"}

	// PDFs produced by converting these formats carry perfect embedded text,
	// so the OCR comparison step is skipped for them.
	generatedPDFSources = []string{
		".dwg", ".dxf",
		".xlsx", ".xls", ".xlsm", ".ods",
		".docx", ".doc", ".docm", ".odt",
		".pptx", ".ppt", ".pptm", ".odp",
		".pages", ".numbers", ".key",
	}

	// Archive entries checked, in order, when falling back to a bundled
	// preview image inside zip-based formats.
	archiveThumbnailPaths = []string{
		"Thumbnails/Preview.jpg",
		"Thumbnails/Preview.png",
		"QuickLook/Thumbnail.jpg",
		"QuickLook/Thumbnail.png",
		"QuickLook/Preview.jpg",
		"QuickLook/Preview.png",
		"preview.png",
		"preview.jpg",
		"previews/preview.png",
		"previews/preview.jpg",
	}
)

// Ext returns the lowercased extension of a filename, dot included.
func Ext(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

func IsImage(filename string) bool  { return lo.Contains(imageExtensions, Ext(filename)) }
func IsPDF(filename string) bool    { return lo.Contains(pdfExtensions, Ext(filename)) }
func IsCAD(filename string) bool    { return lo.Contains(cadExtensions, Ext(filename)) }
func IsOffice(filename string) bool { return lo.Contains(officeExtensions, Ext(filename)) }
func IsSVG(filename string) bool    { return lo.Contains(svgExtensions, Ext(filename)) }
func IsVideo(filename string) bool  { return lo.Contains(videoExtensions, Ext(filename)) }
func IsText(filename string) bool   { return lo.Contains(textExtensions, Ext(filename)) }

// CanGenerateThumbnail reports whether the filename's extension maps to one of
// the thumbnail-capable format families. Files outside it still get a chance
// through the archive and OLE fallbacks.
func CanGenerateThumbnail(filename string) bool {
	return IsImage(filename) || IsPDF(filename) || IsCAD(filename) ||
		IsOffice(filename) || IsSVG(filename) || IsVideo(filename)
}

// CanExtractText reports whether the extension maps to a text-capable format.
func CanExtractText(filename string) bool {
	return IsPDF(filename) || IsText(filename)
}

// IsGeneratedPDFSource reports whether a PDF derived from this extension has
// trustworthy embedded text.
func IsGeneratedPDFSource(ext string) bool {
	return lo.Contains(generatedPDFSources, strings.ToLower(ext))
}
