package document

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// loadPDF extracts one segment per page.
func loadPDF(data []byte, source string) ([]Raw, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}

	numPages := reader.NumPage()
	raws := make([]Raw, 0, numPages)
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// A single unreadable page does not sink the document.
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		raws = append(raws, Raw{
			Content: text,
			Metadata: map[string]any{
				"source": source,
				"page":   pageNum,
			},
		})
	}
	return raws, nil
}
