package processor

import (
	"archive/zip"
	"bytes"
	"image"
	"os"

	"github.com/disintegration/imaging"
	"github.com/richardlehane/mscfb"
	"github.com/sirupsen/logrus"
)

// ExtractArchiveThumbnail checks whether an unknown file is a zip archive
// carrying a bundled preview image (iWork, sketch-style bundles, some design
// tools) and returns it decoded. Returns nil with no error when the file is
// not a zip or has no preview.
func ExtractArchiveThumbnail(log *logrus.Entry, path string) (image.Image, error) {
	reader, err := zip.OpenReader(path)
	if err != nil {
		// not a zip at all is the common case here
		return nil, nil
	}
	defer reader.Close()

	entries := make(map[string]*zip.File, len(reader.File))
	for _, f := range reader.File {
		entries[f.Name] = f
	}

	for _, candidate := range archiveThumbnailPaths {
		entry, ok := entries[candidate]
		if !ok {
			continue
		}
		rc, err := entry.Open()
		if err != nil {
			return nil, err
		}
		img, err := imaging.Decode(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		log.WithField("entry", candidate).Info("extracted bundled archive preview")
		return img, nil
	}
	return nil, nil
}

// ExtractOLEThumbnail pulls the BITMAP stream out of an OLE compound document
// (legacy CAD and office containers embed a device-independent bitmap preview
// there). Returns nil with no error when the file is not OLE or carries no
// usable bitmap.
func ExtractOLEThumbnail(log *logrus.Entry, path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	doc, err := mscfb.New(f)
	if err != nil {
		return nil, nil
	}

	for entry, err := doc.Next(); err == nil; entry, err = doc.Next() {
		if entry.Name != "BITMAP" {
			continue
		}
		data := make([]byte, entry.Size)
		if _, err := entry.Read(data); err != nil {
			return nil, nil
		}
		if len(data) < 2 || data[0] != 'B' || data[1] != 'M' {
			return nil, nil
		}
		img, err := imaging.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, nil
		}
		log.Info("extracted ole bitmap preview")
		return img, nil
	}
	return nil, nil
}
