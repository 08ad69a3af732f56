package document

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// documentXML mirrors the parts of word/document.xml we extract text from.
// encoding/xml matches on local names, so the w: namespace needs no handling.
type documentXML struct {
	Body struct {
		Paragraphs []docxParagraph `xml:"p"`
	} `xml:"body"`
}

type docxParagraph struct {
	Runs []docxRun `xml:"r"`
}

type docxRun struct {
	Texts []string `xml:"t"`
}

// loadWordDocument extracts one segment per non-empty paragraph from a DOCX
// archive (a ZIP container holding word/document.xml).
func loadWordDocument(data []byte, source string) ([]Raw, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open DOCX archive: %w", err)
	}

	var docBytes []byte
	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open document.xml: %w", err)
		}
		docBytes, err = io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read document.xml: %w", err)
		}
		break
	}
	if docBytes == nil {
		return nil, fmt.Errorf("word/document.xml not found in archive")
	}

	var doc documentXML
	if err := xml.Unmarshal(docBytes, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse document.xml: %w", err)
	}

	raws := make([]Raw, 0, len(doc.Body.Paragraphs))
	paragraphNum := 0
	for _, para := range doc.Body.Paragraphs {
		var b strings.Builder
		for _, run := range para.Runs {
			for _, t := range run.Texts {
				b.WriteString(t)
			}
		}
		content := strings.TrimSpace(b.String())
		if content == "" {
			continue
		}
		raws = append(raws, Raw{
			Content: content,
			Metadata: map[string]any{
				"source":    source,
				"paragraph": paragraphNum,
			},
		})
		paragraphNum++
	}
	return raws, nil
}
