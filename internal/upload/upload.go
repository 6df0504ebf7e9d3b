// Package upload inspects files before they are sent to the document
// service, so obviously broken uploads fail fast with a local error
// instead of a server-side ingestion failure.
package upload

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Info describes a file that passed preflight checks.
type Info struct {
	Path     string
	Filename string
	SizeMB   float64
	// Pages is zero for non-PDF files.
	Pages int
}

// Inspect validates a file path ahead of upload. PDFs must open and
// report at least one page; other file types only need to exist and be
// non-empty.
func Inspect(path string) (Info, error) {
	st, err := os.Stat(path)
	if err != nil {
		return Info{}, fmt.Errorf("inspecting %s: %w", path, err)
	}
	if st.IsDir() {
		return Info{}, fmt.Errorf("%s is a directory, not a file", path)
	}
	if st.Size() == 0 {
		return Info{}, fmt.Errorf("%s is empty", path)
	}

	info := Info{
		Path:     path,
		Filename: filepath.Base(path),
		SizeMB:   float64(st.Size()) / (1024 * 1024),
	}

	if strings.EqualFold(filepath.Ext(path), ".pdf") {
		pages, err := pdfPageCount(path)
		if err != nil {
			return Info{}, fmt.Errorf("%s is not a readable PDF: %w", path, err)
		}
		if pages == 0 {
			return Info{}, fmt.Errorf("%s has no pages", path)
		}
		info.Pages = pages
	}

	return info, nil
}

func pdfPageCount(path string) (int, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return r.NumPage(), nil
}
