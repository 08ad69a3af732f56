// Package document converts uploaded source files into sequences of raw text
// segments with provenance metadata, ready for chunk splitting.
//
// Granularity depends on the declared type: spreadsheet and delimited files
// yield one segment per row, PDFs one per page, word-processor and markup
// files one per element, plain text a single segment.
package document

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupportedFormat indicates the declared file type is not in the
// supported set. This is the only loader failure that propagates to the
// caller; format-specific load failures degrade to an empty result.
var ErrUnsupportedFormat = errors.New("unsupported file format")

// Type identifies a supported source file format.
type Type string

// The closed set of supported formats.
const (
	TypeSpreadsheet  Type = "xlsx"
	TypeDelimited    Type = "csv"
	TypePDF          Type = "pdf"
	TypePlainText    Type = "txt"
	TypeMarkup       Type = "md"
	TypeWordDocument Type = "docx"
)

// ParseType converts a file extension or type tag into a Type.
// A leading dot is accepted ("pdf" and ".pdf" are equivalent).
func ParseType(s string) (Type, error) {
	tag := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), "."))
	switch Type(tag) {
	case TypeSpreadsheet, TypeDelimited, TypePDF, TypePlainText, TypeMarkup, TypeWordDocument:
		return Type(tag), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

// Raw is a single text segment extracted from a source file.
// Metadata always carries at least a "source" provenance key.
type Raw struct {
	Content  string
	Metadata map[string]any
}
