// Package preview renders the effective region tree of a page for local
// inspection, as HTML or PDF, and optionally publishes the result.
package preview

import "errors"

type Format string

const (
	FormatHTML Format = "html"
	FormatPDF  Format = "pdf"
)

// ParseFormat maps a query value to a Format. The empty string means HTML.
func ParseFormat(value string) (Format, error) {
	switch Format(value) {
	case "", FormatHTML:
		return FormatHTML, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

// Result contains the rendered preview.
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	ObjectKey string
}

var (
	// ErrUnsupportedFormat indicates a preview format other than html or pdf.
	ErrUnsupportedFormat = errors.New("unsupported preview format")
	// ErrPDFDependencyMissing indicates chromium is not installed.
	ErrPDFDependencyMissing = errors.New("preview pdf dependency missing")
)
