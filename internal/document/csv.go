package document

import (
	"encoding/csv"
	"fmt"
	"strings"
)

// loadCSV extracts one segment per data row. Each segment renders the row as
// "header: value" lines so the embedded text stays self-describing without
// the rest of the file. A file with a header but no data rows yields an
// empty result.
func loadCSV(data []byte, source string) ([]Raw, error) {
	text, encName, err := decodeText(data)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(strings.NewReader(text))
	reader.FieldsPerRecord = -1 // tolerate ragged rows
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse CSV: %w", err)
	}
	if len(records) < 2 {
		return []Raw{}, nil
	}

	header := records[0]
	raws := make([]Raw, 0, len(records)-1)
	for rowNum, record := range records[1:] {
		var b strings.Builder
		for i, field := range record {
			name := fmt.Sprintf("column_%d", i+1)
			if i < len(header) {
				name = header[i]
			}
			fmt.Fprintf(&b, "%s: %s\n", name, field)
		}
		content := strings.TrimRight(b.String(), "\n")
		if content == "" {
			continue
		}
		raws = append(raws, Raw{
			Content: content,
			Metadata: map[string]any{
				"source":   source,
				"row":      rowNum + 1,
				"encoding": encName,
			},
		})
	}
	return raws, nil
}
