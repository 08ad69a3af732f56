package document

import (
	"archive/zip"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c2h5ohfu/AetherCell/internal/log"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		in      string
		want    Type
		wantErr bool
	}{
		{"csv", TypeDelimited, false},
		{".csv", TypeDelimited, false},
		{"PDF", TypePDF, false},
		{"xlsx", TypeSpreadsheet, false},
		{"txt", TypePlainText, false},
		{"md", TypeMarkup, false},
		{"docx", TypeWordDocument, false},
		{"exe", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseType(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrUnsupportedFormat)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoadBytes_UnknownTypePropagates(t *testing.T) {
	loader := NewLoader(log.NewNop())

	_, err := loader.LoadBytes(context.Background(), []byte("x"), "x.bin", Type("bin"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestLoad_MissingFilePropagates(t *testing.T) {
	loader := NewLoader(log.NewNop())

	_, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "nope.txt"), TypePlainText)
	assert.Error(t, err)
}

func TestLoad_PlainTextFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello retrieval"), 0o600))

	loader := NewLoader(log.NewNop())
	raws, err := loader.Load(context.Background(), path, TypePlainText)

	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "hello retrieval", raws[0].Content)
	assert.Equal(t, "notes.txt", raws[0].Metadata["source"])
	assert.Equal(t, "utf-8", raws[0].Metadata["encoding"])
}

func TestLoadBytes_CSVRows(t *testing.T) {
	csvData := []byte("name,city\nalice,berlin\nbob,paris\ncarol,tokyo\n")
	loader := NewLoader(log.NewNop())

	raws, err := loader.LoadBytes(context.Background(), csvData, "people.csv", TypeDelimited)

	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Contains(t, raws[0].Content, "name: alice")
	assert.Contains(t, raws[0].Content, "city: berlin")
	assert.Equal(t, 1, raws[0].Metadata["row"])
	assert.Equal(t, 3, raws[2].Metadata["row"])
	for _, raw := range raws {
		assert.Equal(t, "people.csv", raw.Metadata["source"])
	}
}

func TestLoadBytes_CSVEncodingFallback(t *testing.T) {
	// "café" in Latin-1: the 0xE9 byte is invalid UTF-8.
	csvData := []byte("drink\ncaf\xe9\n")
	loader := NewLoader(log.NewNop())

	raws, err := loader.LoadBytes(context.Background(), csvData, "menu.csv", TypeDelimited)

	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Contains(t, raws[0].Content, "café")
	assert.NotEqual(t, "utf-8", raws[0].Metadata["encoding"])
}

func TestLoadBytes_CSVHeaderOnly(t *testing.T) {
	loader := NewLoader(log.NewNop())

	raws, err := loader.LoadBytes(context.Background(), []byte("a,b,c\n"), "empty.csv", TypeDelimited)

	require.NoError(t, err)
	assert.Empty(t, raws)
}

func TestLoadBytes_GBKText(t *testing.T) {
	// "中文" encoded as GBK.
	gbk := []byte{0xd6, 0xd0, 0xce, 0xc4}
	loader := NewLoader(log.NewNop())

	raws, err := loader.LoadBytes(context.Background(), gbk, "cn.txt", TypePlainText)

	require.NoError(t, err)
	require.Len(t, raws, 1)
	assert.Equal(t, "中文", raws[0].Content)
	assert.Equal(t, "gbk", raws[0].Metadata["encoding"])
}

func TestLoadBytes_CorruptPDFDegradesToEmpty(t *testing.T) {
	loader := NewLoader(log.NewNop())

	raws, err := loader.LoadBytes(context.Background(), []byte("not a pdf"), "broken.pdf", TypePDF)

	require.NoError(t, err, "format-specific failures must not propagate")
	assert.Empty(t, raws)
}

func TestLoadBytes_MarkdownSections(t *testing.T) {
	md := []byte("intro paragraph\n\n# First\n\nbody one\n\n## Second\n\nbody two\n")
	loader := NewLoader(log.NewNop())

	raws, err := loader.LoadBytes(context.Background(), md, "doc.md", TypeMarkup)

	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Contains(t, raws[0].Content, "intro paragraph")
	assert.Contains(t, raws[1].Content, "body one")
	assert.Equal(t, "First", raws[1].Metadata["heading"])
	assert.Contains(t, raws[2].Content, "body two")
	assert.Equal(t, "Second", raws[2].Metadata["heading"])
	for i, raw := range raws {
		assert.Equal(t, i, raw.Metadata["section"])
	}
}

func buildDocx(t *testing.T, documentXML string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	f, err := w.Create("word/document.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(documentXML))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestLoadBytes_WordDocumentParagraphs(t *testing.T) {
	doc := buildDocx(t, `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:r><w:t>First paragraph.</w:t></w:r></w:p>
    <w:p></w:p>
    <w:p><w:r><w:t>Second </w:t></w:r><w:r><w:t>paragraph.</w:t></w:r></w:p>
  </w:body>
</w:document>`)

	loader := NewLoader(log.NewNop())
	raws, err := loader.LoadBytes(context.Background(), doc, "report.docx", TypeWordDocument)

	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "First paragraph.", raws[0].Content)
	assert.Equal(t, "Second paragraph.", raws[1].Content)
	assert.Equal(t, 0, raws[0].Metadata["paragraph"])
	assert.Equal(t, 1, raws[1].Metadata["paragraph"])
}

func TestLoadBytes_CorruptDocxDegradesToEmpty(t *testing.T) {
	loader := NewLoader(log.NewNop())

	raws, err := loader.LoadBytes(context.Background(), []byte("zip? no"), "x.docx", TypeWordDocument)

	require.NoError(t, err)
	assert.Empty(t, raws)
}

func buildXlsx(t *testing.T, sharedStrings, sheet string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	if sharedStrings != "" {
		f, err := w.Create("xl/sharedStrings.xml")
		require.NoError(t, err)
		_, err = f.Write([]byte(sharedStrings))
		require.NoError(t, err)
	}
	f, err := w.Create("xl/worksheets/sheet1.xml")
	require.NoError(t, err)
	_, err = f.Write([]byte(sheet))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestLoadBytes_SpreadsheetSheetOrderNumeric(t *testing.T) {
	sheetWith := func(text string) string {
		return `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row><c t="inlineStr"><is><t>` + text + `</t></is></c></row>
  </sheetData>
</worksheet>`
	}

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	// Archive order deliberately scrambled; the loader must still emit
	// sheet2 before sheet10.
	for _, part := range []struct{ name, text string }{
		{"xl/worksheets/sheet10.xml", "tenth"},
		{"xl/worksheets/sheet1.xml", "first"},
		{"xl/worksheets/sheet2.xml", "second"},
	} {
		f, err := w.Create(part.name)
		require.NoError(t, err)
		_, err = f.Write([]byte(sheetWith(part.text)))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())

	loader := NewLoader(log.NewNop())
	raws, err := loader.LoadBytes(context.Background(), buf.Bytes(), "multi.xlsx", TypeSpreadsheet)

	require.NoError(t, err)
	require.Len(t, raws, 3)
	assert.Equal(t, "first", raws[0].Content)
	assert.Equal(t, "second", raws[1].Content)
	assert.Equal(t, "tenth", raws[2].Content)
	assert.Equal(t, "sheet10", raws[2].Metadata["sheet"])
}

func TestLoadBytes_SpreadsheetRows(t *testing.T) {
	shared := `<?xml version="1.0"?>
<sst xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <si><t>name</t></si>
  <si><t>alice</t></si>
</sst>`
	sheet := `<?xml version="1.0"?>
<worksheet xmlns="http://schemas.openxmlformats.org/spreadsheetml/2006/main">
  <sheetData>
    <row><c t="s"><v>0</v></c><c><v>1</v></c></row>
    <row><c t="s"><v>1</v></c><c><v>30</v></c></row>
  </sheetData>
</worksheet>`

	loader := NewLoader(log.NewNop())
	raws, err := loader.LoadBytes(context.Background(), buildXlsx(t, shared, sheet), "data.xlsx", TypeSpreadsheet)

	require.NoError(t, err)
	require.Len(t, raws, 2)
	assert.Equal(t, "name | 1", raws[0].Content)
	assert.Equal(t, "alice | 30", raws[1].Content)
	assert.Equal(t, "sheet1", raws[0].Metadata["sheet"])
	assert.Equal(t, 1, raws[0].Metadata["row"])
	assert.Equal(t, 2, raws[1].Metadata["row"])
}
