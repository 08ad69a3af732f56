package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"path"
	"sort"
	"strconv"
	"strings"
)

// sharedStringsXML mirrors xl/sharedStrings.xml. Each <si> may hold a plain
// <t> or a sequence of rich-text runs <r><t>.
type sharedStringsXML struct {
	Items []sharedStringItem `xml:"si"`
}

type sharedStringItem struct {
	Text string `xml:"t"`
	Runs []struct {
		Text string `xml:"t"`
	} `xml:"r"`
}

func (si sharedStringItem) value() string {
	if len(si.Runs) == 0 {
		return si.Text
	}
	var b strings.Builder
	for _, run := range si.Runs {
		b.WriteString(run.Text)
	}
	return b.String()
}

// worksheetXML mirrors the row/cell structure of a worksheet part.
type worksheetXML struct {
	SheetData struct {
		Rows []struct {
			Cells []worksheetCell `xml:"c"`
		} `xml:"row"`
	} `xml:"sheetData"`
}

type worksheetCell struct {
	Type   string `xml:"t,attr"`
	Value  string `xml:"v"`
	Inline struct {
		Text string `xml:"t"`
	} `xml:"is"`
}

// loadSpreadsheet extracts one segment per non-empty row across all
// worksheets of an XLSX archive, resolving shared-string cell references.
func loadSpreadsheet(data []byte, source string) ([]Raw, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open XLSX archive: %w", err)
	}

	shared, err := readSharedStrings(reader)
	if err != nil {
		return nil, err
	}

	var sheetNames []string
	sheetFiles := make(map[string]*zip.File)
	for _, file := range reader.File {
		if strings.HasPrefix(file.Name, "xl/worksheets/") && strings.HasSuffix(file.Name, ".xml") {
			sheetFiles[file.Name] = file
			sheetNames = append(sheetNames, file.Name)
		}
	}
	if len(sheetNames) == 0 {
		return nil, fmt.Errorf("no worksheets found in archive")
	}
	// Part names are "sheetN.xml", so a plain string sort would place
	// sheet10 before sheet2. Order by the numeric suffix instead.
	sort.Slice(sheetNames, func(i, j int) bool {
		ni, oki := sheetNumber(sheetNames[i])
		nj, okj := sheetNumber(sheetNames[j])
		if oki && okj && ni != nj {
			return ni < nj
		}
		if oki != okj {
			return oki
		}
		return sheetNames[i] < sheetNames[j]
	})

	var raws []Raw
	for _, name := range sheetNames {
		sheetRaws, err := readWorksheet(sheetFiles[name], shared, source, sheetLabel(name))
		if err != nil {
			return nil, err
		}
		raws = append(raws, sheetRaws...)
	}
	return raws, nil
}

func readSharedStrings(reader *zip.Reader) ([]string, error) {
	for _, file := range reader.File {
		if file.Name != "xl/sharedStrings.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open sharedStrings.xml: %w", err)
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read sharedStrings.xml: %w", err)
		}
		var sst sharedStringsXML
		if err := xml.Unmarshal(raw, &sst); err != nil {
			return nil, fmt.Errorf("failed to parse sharedStrings.xml: %w", err)
		}
		values := make([]string, len(sst.Items))
		for i, item := range sst.Items {
			values[i] = item.value()
		}
		return values, nil
	}
	// A workbook without shared strings is valid (all inline/numeric cells).
	return nil, nil
}

func readWorksheet(file *zip.File, shared []string, source, sheet string) ([]Raw, error) {
	rc, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open worksheet %s: %w", file.Name, err)
	}
	raw, err := io.ReadAll(rc)
	rc.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read worksheet %s: %w", file.Name, err)
	}

	var ws worksheetXML
	if err := xml.Unmarshal(raw, &ws); err != nil {
		return nil, fmt.Errorf("failed to parse worksheet %s: %w", file.Name, err)
	}

	var raws []Raw
	for rowNum, row := range ws.SheetData.Rows {
		fields := make([]string, 0, len(row.Cells))
		for _, cell := range row.Cells {
			if v := cellValue(cell, shared); v != "" {
				fields = append(fields, v)
			}
		}
		if len(fields) == 0 {
			continue
		}
		raws = append(raws, Raw{
			Content: strings.Join(fields, " | "),
			Metadata: map[string]any{
				"source": source,
				"sheet":  sheet,
				"row":    rowNum + 1,
			},
		})
	}
	return raws, nil
}

func cellValue(cell worksheetCell, shared []string) string {
	switch cell.Type {
	case "s":
		idx, err := strconv.Atoi(strings.TrimSpace(cell.Value))
		if err != nil || idx < 0 || idx >= len(shared) {
			return ""
		}
		return shared[idx]
	case "inlineStr":
		return cell.Inline.Text
	default:
		return cell.Value
	}
}

// sheetLabel turns "xl/worksheets/sheet1.xml" into "sheet1".
func sheetLabel(name string) string {
	base := path.Base(name)
	return strings.TrimSuffix(base, path.Ext(base))
}

// sheetNumber extracts the trailing integer of a worksheet part name, so
// "xl/worksheets/sheet12.xml" yields 12. ok is false when the label carries
// no digit suffix.
func sheetNumber(name string) (int, bool) {
	label := sheetLabel(name)
	i := len(label)
	for i > 0 && label[i-1] >= '0' && label[i-1] <= '9' {
		i--
	}
	if i == len(label) {
		return 0, false
	}
	n, err := strconv.Atoi(label[i:])
	if err != nil {
		return 0, false
	}
	return n, true
}
