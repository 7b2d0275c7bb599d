// Package document inspects and rasterizes submitted PDF resumes.
package document

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ErrNoPages is returned for documents that parse but contain no pages
var ErrNoPages = errors.New("document has no pages")

// open parses data as a PDF. The pdf package panics on some malformed input,
// so panics are turned into errors here.
func open(data []byte) (r *pdf.Reader, err error) {
	defer func() {
		if p := recover(); p != nil {
			r, err = nil, fmt.Errorf("malformed PDF: %v", p)
		}
	}()
	return pdf.NewReader(bytes.NewReader(data), int64(len(data)))
}

// CountPages returns the number of pages declared by the document's page tree
func CountPages(data []byte) (n int, err error) {
	r, err := open(data)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			n, err = 0, fmt.Errorf("malformed PDF page tree: %v", p)
		}
	}()
	return r.NumPage(), nil
}

// ExtractText returns the plain text of every page, pages separated by blank lines
func ExtractText(data []byte) (text string, err error) {
	r, err := open(data)
	if err != nil {
		return "", fmt.Errorf("failed to open PDF: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			text, err = "", fmt.Errorf("malformed PDF content: %v", p)
		}
	}()

	total := r.NumPage()
	if total == 0 {
		return "", ErrNoPages
	}

	var sb strings.Builder
	for i := 1; i <= total; i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		pageText, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(strings.TrimSpace(pageText))
	}
	return sb.String(), nil
}
