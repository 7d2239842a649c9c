package images

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ImageFile is an image found in a directory.
type ImageFile struct {
	// Path is the path to the image file.
	Path string
	// Format is the encoding inferred from the extension.
	Format ImageFormat
	// Frame is the number in a "frame-<n>" file name, or -1.
	Frame int
}

// LoadDirectory lists the decodable images in dir, without descending into
// subdirectories. Numbered frames come first in frame order, followed by the
// remaining files by name.
//
// Arguments:
//   - dir: Directory containing image files.
//
// Returns:
//   - []ImageFile: The images found.
//   - error: An error if dir cannot be read.
func LoadDirectory(dir string) ([]ImageFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "reading image directory")
	}

	var files []ImageFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		format, err := FormatFromPath(e.Name())
		if err != nil {
			continue
		}
		files = append(files, ImageFile{
			Path:   filepath.Join(dir, e.Name()),
			Format: format,
			Frame:  frameNumber(e.Name()),
		})
	}

	sort.SliceStable(files, func(i, j int) bool {
		a, b := files[i], files[j]
		if (a.Frame < 0) != (b.Frame < 0) {
			return a.Frame >= 0
		}
		if a.Frame != b.Frame {
			return a.Frame < b.Frame
		}
		return a.Path < b.Path
	})
	return files, nil
}

func frameNumber(name string) int {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	if !strings.HasPrefix(stem, "frame-") {
		return -1
	}
	n, err := strconv.Atoi(strings.TrimPrefix(stem, "frame-"))
	if err != nil || n < 0 {
		return -1
	}
	return n
}
