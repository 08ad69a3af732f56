package document

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// Loader converts source files into raw text segments.
//
// Except for an unknown type tag, load failures never propagate: the loader
// runs inside background ingestion jobs with no waiting caller, so a broken
// file degrades to an empty sequence after logging.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a Loader. A nil logger falls back to slog.Default().
func NewLoader(logger *slog.Logger) *Loader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{logger: logger}
}

// Load reads the file at path and extracts raw text segments according to
// the declared type. Every returned segment carries a "source" metadata key
// holding the file's base name.
func (l *Loader) Load(ctx context.Context, path string, typ Type) ([]Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		// Unreadable input is a dispatch-level failure, like an unknown type.
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return l.LoadBytes(ctx, data, filepath.Base(path), typ)
}

// LoadBytes extracts raw text segments from in-memory file content.
func (l *Loader) LoadBytes(ctx context.Context, data []byte, source string, typ Type) ([]Raw, error) {
	var (
		raws    []Raw
		loadErr error
	)

	switch typ {
	case TypeDelimited:
		raws, loadErr = loadCSV(data, source)
	case TypePlainText:
		raws, loadErr = loadPlainText(data, source)
	case TypePDF:
		raws, loadErr = loadPDF(data, source)
	case TypeMarkup:
		raws, loadErr = loadMarkdown(data, source)
	case TypeSpreadsheet:
		raws, loadErr = loadSpreadsheet(data, source)
	case TypeWordDocument:
		raws, loadErr = loadWordDocument(data, source)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, typ)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if loadErr != nil {
		l.logger.Error("failed to load file, returning empty result",
			"source", source, "type", string(typ), "error", loadErr)
		return []Raw{}, nil
	}

	l.logger.Debug("loaded file", "source", source, "type", string(typ), "segments", len(raws))
	return raws, nil
}
