package processor

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
)

func solidImage(w, h int, c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestCoverCropDimensions(t *testing.T) {
	type scenario struct {
		name     string
		srcW     int
		srcH     int
		targetW  int
		targetH  int
		position string
	}

	scenarios := []scenario{
		{"wide to landscape", 1200, 900, 400, 300, "top"},
		{"tall to landscape", 300, 900, 400, 300, "top"},
		{"tall centered", 300, 900, 400, 300, "center"},
		{"square to large", 500, 500, 800, 600, "top"},
		{"already target size", 400, 300, 400, 300, "top"},
	}

	for _, s := range scenarios {
		t.Run(s.name, func(t *testing.T) {
			img := solidImage(s.srcW, s.srcH, color.White)
			result := CoverCrop(img, s.targetW, s.targetH, s.position)
			assert.Equal(t, s.targetW, result.Bounds().Dx())
			assert.Equal(t, s.targetH, result.Bounds().Dy())
		})
	}
}

func TestCoverCropTopAnchorKeepsTop(t *testing.T) {
	// tall image: top half black, bottom half white. Cropping with the top
	// anchor must keep the black half.
	img := image.NewNRGBA(image.Rect(0, 0, 400, 1200))
	for y := 0; y < 1200; y++ {
		c := color.NRGBA{255, 255, 255, 255}
		if y < 600 {
			c = color.NRGBA{0, 0, 0, 255}
		}
		for x := 0; x < 400; x++ {
			img.SetNRGBA(x, y, c)
		}
	}

	result := CoverCrop(img, 400, 300, "top")
	r, g, b, _ := result.At(200, 10).RGBA()
	assert.Zero(t, r)
	assert.Zero(t, g)
	assert.Zero(t, b)
}

func TestFindGapSplits(t *testing.T) {
	// content span of 100 with a 20-wide gap in the middle: the gap is 20%
	// of the span, above the 15% threshold, so it splits
	hasContent := make([]bool, 120)
	for i := 10; i < 50; i++ {
		hasContent[i] = true
	}
	for i := 70; i < 110; i++ {
		hasContent[i] = true
	}

	splits := findGapSplits(hasContent, 0.15)
	assert.Equal(t, []int{70}, splits)
}

func TestFindGapSplitsIgnoresSmallGaps(t *testing.T) {
	// 5-wide gap in a 100 span is below both the ratio and the absolute
	// minimum
	hasContent := make([]bool, 120)
	for i := 10; i < 60; i++ {
		hasContent[i] = true
	}
	for i := 65; i < 110; i++ {
		hasContent[i] = true
	}

	assert.Empty(t, findGapSplits(hasContent, 0.15))
}

func TestFindGapSplitsEmpty(t *testing.T) {
	assert.Empty(t, findGapSplits(make([]bool, 50), 0.15))
}

func TestRegionsFromSplits(t *testing.T) {
	hasContent := make([]bool, 120)
	for i := 10; i < 50; i++ {
		hasContent[i] = true
	}
	for i := 70; i < 110; i++ {
		hasContent[i] = true
	}

	regions := regionsFromSplits(hasContent, []int{70})
	assert.Equal(t, []region{{10, 50}, {70, 110}}, regions)
}

func TestCropToContentBoundingBox(t *testing.T) {
	// white canvas with one black block: simple bounding box plus 2% margin
	img := solidImage(1000, 1000, color.White)
	for y := 400; y < 600; y++ {
		for x := 300; x < 700; x++ {
			img.Set(x, y, color.Black)
		}
	}

	cropped := CropToContent(img, 250)
	bounds := cropped.Bounds()

	// 400 wide content + 2% margins, 200 tall content + 2% margins
	assert.InDelta(t, 416, bounds.Dx(), 2)
	assert.InDelta(t, 208, bounds.Dy(), 2)
}

func TestCropToContentPicksDensestRegion(t *testing.T) {
	// two horizontally separated blocks: a large drawing on the left, a
	// small title block far right. The crop must contain the large one.
	img := solidImage(2000, 1000, color.White)
	for y := 100; y < 900; y++ {
		for x := 100; x < 800; x++ {
			img.Set(x, y, color.Black)
		}
	}
	for y := 450; y < 550; y++ {
		for x := 1800; x < 1900; x++ {
			img.Set(x, y, color.Black)
		}
	}

	cropped := CropToContent(img, 250)
	bounds := cropped.Bounds()

	assert.Less(t, bounds.Dx(), 1000, "crop should exclude the distant title block")
	assert.GreaterOrEqual(t, bounds.Dx(), 700)
	assert.GreaterOrEqual(t, bounds.Dy(), 800)
}

func TestCropToContentAllWhite(t *testing.T) {
	img := solidImage(100, 80, color.White)
	cropped := CropToContent(img, 250)
	assert.Equal(t, 100, cropped.Bounds().Dx())
	assert.Equal(t, 80, cropped.Bounds().Dy())
}
