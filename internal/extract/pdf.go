// Package extract pulls plain text out of documents so they can be asked
// about: PDF files and HTML pages (local or fetched over HTTP).
package extract

import (
	"fmt"
	"strings"

	pdfx "github.com/ledongthuc/pdf"
)

const maxPDFPages = 50

// PDFText extracts the plain text of a PDF file, pages concatenated in
// order. Extraction stops after maxPDFPages pages.
func PDFText(path string) (string, error) {
	f, r, err := pdfx.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening pdf %s: %w", path, err)
	}
	defer f.Close()

	total := r.NumPage()
	if total > maxPDFPages {
		total = maxPDFPages
	}

	var out strings.Builder
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		txt, err := page.GetPlainText(nil)
		if err != nil {
			// Some pages fail to decode; keep what we have.
			continue
		}
		if t := strings.TrimSpace(txt); t != "" {
			out.WriteString(t)
			out.WriteString("\n\n")
		}
	}

	text := strings.TrimSpace(out.String())
	if text == "" {
		return "", fmt.Errorf("no text extracted from %s", path)
	}
	return text, nil
}
