package processor

import (
	"image"

	"github.com/disintegration/imaging"
)

// CoverCrop crops img to the target aspect ratio and resizes it to exactly
// width x height. Wide images lose width from both sides; tall images lose
// height from the bottom (position "top") or both edges (position "center").
// Cropping the top off a document-like image would cut its heading, which is
// usually the most recognizable part.
func CoverCrop(img image.Image, width, height int, position string) *image.NRGBA {
	bounds := img.Bounds()
	imgWidth := bounds.Dx()
	imgHeight := bounds.Dy()

	targetRatio := float64(width) / float64(height)
	imgRatio := float64(imgWidth) / float64(imgHeight)

	var cropped image.Image
	if imgRatio > targetRatio {
		newWidth := int(float64(imgHeight) * targetRatio)
		left := (imgWidth - newWidth) / 2
		cropped = imaging.Crop(img, image.Rect(left, 0, left+newWidth, imgHeight))
	} else {
		newHeight := int(float64(imgWidth) / targetRatio)
		top := 0
		if position != "top" {
			top = (imgHeight - newHeight) / 2
		}
		cropped = imaging.Crop(img, image.Rect(0, top, imgWidth, top+newHeight))
	}

	return imaging.Resize(cropped, width, height, imaging.Lanczos)
}

// contentProfile holds, per axis, whether each row/column contains any pixel
// darker than the white threshold.
type contentProfile struct {
	rows []bool
	cols []bool
	// dark[y][x] caches the per-pixel content test for region scoring
	dark [][]bool
}

func buildContentProfile(img image.Image, whiteThreshold int) contentProfile {
	gray := imaging.Grayscale(img)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	profile := contentProfile{
		rows: make([]bool, h),
		cols: make([]bool, w),
		dark: make([][]bool, h),
	}

	for y := 0; y < h; y++ {
		profile.dark[y] = make([]bool, w)
		for x := 0; x < w; x++ {
			// Grayscale output has R=G=B; Pix is NRGBA
			value := int(gray.Pix[gray.PixOffset(x, y)])
			if value < whiteThreshold {
				profile.dark[y][x] = true
				profile.rows[y] = true
				profile.cols[x] = true
			}
		}
	}
	return profile
}

func contentSpan(hasContent []bool) (first, last int, ok bool) {
	first = -1
	for i, c := range hasContent {
		if c {
			if first < 0 {
				first = i
			}
			last = i + 1
		}
	}
	return first, last, first >= 0
}

// findGapSplits finds split points within one axis: a split is the end of a
// maximal empty run whose length is at least gapRatio of the content span.
// Gaps shorter than 10 units are never splits regardless of the ratio, which
// keeps hairline whitespace in dense drawings from shattering the region grid.
func findGapSplits(hasContent []bool, gapRatio float64) []int {
	first, last, ok := contentSpan(hasContent)
	if !ok {
		return nil
	}

	gapThreshold := int(float64(last-first) * gapRatio)
	if gapThreshold < 10 {
		return nil
	}

	var splits []int
	inGap := false
	gapStart := 0
	for i := first; i < last; i++ {
		if !hasContent[i] {
			if !inGap {
				inGap = true
				gapStart = i
			}
			continue
		}
		if inGap {
			if i-gapStart >= gapThreshold {
				splits = append(splits, i)
			}
			inGap = false
		}
	}
	return splits
}

// region is a half-open [start, end) interval on one axis.
type region struct {
	start, end int
}

func regionsFromSplits(hasContent []bool, splits []int) []region {
	first, last, ok := contentSpan(hasContent)
	if !ok {
		return nil
	}
	if len(splits) == 0 {
		return []region{{first, last}}
	}

	var regions []region
	prev := first
	for _, split := range splits {
		end := split
		for end > prev && !hasContent[end-1] {
			end--
		}
		if end > prev {
			regions = append(regions, region{prev, end})
		}
		prev = split
	}
	if prev < last {
		regions = append(regions, region{prev, last})
	}
	return regions
}

// findLargestContentRegion returns the bounding rectangle of the densest
// region of non-white pixels. When the content splits into multiple regions
// along either axis (a CAD sheet with a title block beside the drawing, or
// several detail views), the row-region x col-region cell with the most
// content pixels wins. A single region on both axes degrades to the plain
// bounding box.
func findLargestContentRegion(img image.Image, whiteThreshold int) image.Rectangle {
	bounds := img.Bounds()
	profile := buildContentProfile(img, whiteThreshold)

	rowFirst, rowLast, ok := contentSpan(profile.rows)
	if !ok {
		return image.Rect(0, 0, bounds.Dx(), bounds.Dy())
	}
	colFirst, colLast, _ := contentSpan(profile.cols)

	boundingBox := image.Rect(colFirst, rowFirst, colLast, rowLast)

	rowRegions := regionsFromSplits(profile.rows, findGapSplits(profile.rows, 0.15))
	colRegions := regionsFromSplits(profile.cols, findGapSplits(profile.cols, 0.15))

	if len(rowRegions) <= 1 && len(colRegions) <= 1 {
		return boundingBox
	}

	var best image.Rectangle
	bestContent := 0
	for _, rowRegion := range rowRegions {
		for _, colRegion := range colRegions {
			content := 0
			for y := rowRegion.start; y < rowRegion.end; y++ {
				for x := colRegion.start; x < colRegion.end; x++ {
					if profile.dark[y][x] {
						content++
					}
				}
			}
			if content > bestContent {
				bestContent = content
				best = image.Rect(colRegion.start, rowRegion.start, colRegion.end, rowRegion.end)
			}
		}
	}

	if bestContent == 0 {
		return boundingBox
	}
	return best
}

// CropToContent crops a rendered CAD sheet to its densest content region plus
// a 2% margin on each side, clamped to the image bounds.
func CropToContent(img image.Image, whiteThreshold int) image.Image {
	rect := findLargestContentRegion(img, whiteThreshold)

	contentWidth := rect.Dx()
	contentHeight := rect.Dy()
	if contentWidth <= 0 || contentHeight <= 0 {
		return img
	}

	bounds := img.Bounds()
	marginX := int(float64(contentWidth) * 0.02)
	marginY := int(float64(contentHeight) * 0.02)

	left := max(0, rect.Min.X-marginX)
	top := max(0, rect.Min.Y-marginY)
	right := min(bounds.Dx(), rect.Max.X+marginX)
	bottom := min(bounds.Dy(), rect.Max.Y+marginY)

	return imaging.Crop(img, image.Rect(left, top, right, bottom))
}
