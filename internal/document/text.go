package document

import (
	"bytes"
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/simplifiedchinese"
)

// fallbackEncoding pairs a decoder with its name for provenance metadata.
type fallbackEncoding struct {
	name    string
	decoder *encoding.Decoder
}

// fallbackEncodings is the ordered list tried after UTF-8 fails.
// GBK first: it is the most common non-UTF-8 encoding in the uploads this
// system sees, and its decoder rejects many byte sequences, so a false
// positive is less likely than with the single-byte charmaps.
func fallbackEncodings() []fallbackEncoding {
	return []fallbackEncoding{
		{"gbk", simplifiedchinese.GBK.NewDecoder()},
		{"windows-1252", charmap.Windows1252.NewDecoder()},
		{"iso-8859-1", charmap.ISO8859_1.NewDecoder()},
	}
}

// decodeText decodes file bytes into a string, trying UTF-8 first and then
// the fallback list. Returns the decoded text and the encoding name used.
func decodeText(data []byte) (string, string, error) {
	if utf8.Valid(data) {
		return string(data), "utf-8", nil
	}

	for _, enc := range fallbackEncodings() {
		decoded, err := enc.decoder.Bytes(data)
		if err != nil {
			continue
		}
		// x/text decoders substitute U+FFFD for undecodable bytes instead of
		// returning an error, so a clean decode is one with no replacements.
		if utf8.Valid(decoded) && !bytes.ContainsRune(decoded, utf8.RuneError) {
			return string(decoded), enc.name, nil
		}
	}

	return "", "", fmt.Errorf("content is not valid UTF-8 and no fallback encoding applied")
}

// loadPlainText extracts a single segment holding the whole file.
func loadPlainText(data []byte, source string) ([]Raw, error) {
	text, encName, err := decodeText(data)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return []Raw{}, nil
	}
	return []Raw{{
		Content: text,
		Metadata: map[string]any{
			"source":   source,
			"encoding": encName,
		},
	}}, nil
}
