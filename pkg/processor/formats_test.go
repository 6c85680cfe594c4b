package processor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExt(t *testing.T) {
	assert.Equal(t, ".pdf", Ext("Invoice.PDF"))
	assert.Equal(t, ".dwg", Ext("/work/input.dwg"))
	assert.Equal(t, "", Ext("README"))
}

func TestDispatchPredicates(t *testing.T) {
	assert.True(t, IsImage("photo.JPG"))
	assert.True(t, IsImage("scan.heic"))
	assert.True(t, IsCAD("plan.dxf"))
	assert.True(t, IsOffice("report.docx"))
	assert.True(t, IsVideo("clip.mkv"))
	assert.True(t, IsText("config.yaml"))
	assert.False(t, IsImage("drawing.dwg"))
	assert.False(t, IsText("archive.zip"))
}

func TestCanGenerateThumbnail(t *testing.T) {
	assert.True(t, CanGenerateThumbnail("a.pdf"))
	assert.True(t, CanGenerateThumbnail("a.svg"))
	assert.True(t, CanGenerateThumbnail("a.mov"))
	assert.False(t, CanGenerateThumbnail("a.zip"))
	assert.False(t, CanGenerateThumbnail("a.txt"))
}

func TestIsGeneratedPDFSource(t *testing.T) {
	assert.True(t, IsGeneratedPDFSource(".dwg"))
	assert.True(t, IsGeneratedPDFSource(".DOCX"))
	assert.True(t, IsGeneratedPDFSource(".numbers"))
	assert.False(t, IsGeneratedPDFSource(".pdf"))
	assert.False(t, IsGeneratedPDFSource(".jpg"))
}
