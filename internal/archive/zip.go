package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

const (
	TrainingFolder = "training_images"
	ContentType    = "application/zip"
)

var ErrNoImages = errors.New("archive contains no images")

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
}

type Entry struct {
	Name string
	Data []byte
}

func TrainingImageName(i int) string {
	return fmt.Sprintf("%s/image_%d.jpg", TrainingFolder, i+1)
}

// PackTrainingImages writes the images, in order, as
// training_images/image_1.jpg ... training_images/image_N.jpg.
func PackTrainingImages(images [][]byte) ([]byte, error) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)

	for i, img := range images {
		w, err := zw.Create(TrainingImageName(i))
		if err != nil {
			return nil, fmt.Errorf("error adding image %d to archive: %w", i+1, err)
		}
		if _, err := w.Write(img); err != nil {
			return nil, fmt.Errorf("error writing image %d to archive: %w", i+1, err)
		}
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("error finalizing archive: %w", err)
	}

	return buf.Bytes(), nil
}

func IsImageName(name string) bool {
	_, ok := imageExtensions[strings.ToLower(path.Ext(name))]
	return ok
}

// ExtractImages returns the image entries of a ZIP, sorted by name. Directories,
// non-image files and macOS resource forks are skipped.
func ExtractImages(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("error opening archive: %w", err)
	}

	var entries []Entry
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(f.Name, "__MACOSX/") || strings.HasPrefix(path.Base(f.Name), "._") {
			continue
		}
		if !IsImageName(f.Name) {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("error opening %s in archive: %w", f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("error reading %s in archive: %w", f.Name, err)
		}

		entries = append(entries, Entry{Name: f.Name, Data: content})
	}

	if len(entries) == 0 {
		return nil, ErrNoImages
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })

	return entries, nil
}
