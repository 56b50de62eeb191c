// Package extract reads raw source datasets from a directory of flat files.
//
// Each dataset kind maps to a base file name; the extractor probes the known
// extensions (.csv, then .html) and reads whichever exists. A missing file
// only makes that dataset absent from the run; a missing or unreadable source
// directory fails the whole stage.
package extract

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/text/encoding/charmap"

	"salesetl/internal/config"
	"salesetl/internal/dataset"
	"salesetl/internal/logger"
)

// SourceUnavailableError reports that the source directory itself could not
// be read. It is distinct from a missing individual file, which is not an
// error.
type SourceUnavailableError struct {
	Dir string
	Err error
}

func (e *SourceUnavailableError) Error() string {
	return fmt.Sprintf("source directory %s unavailable: %v", e.Dir, e.Err)
}

func (e *SourceUnavailableError) Unwrap() error { return e.Err }

// DirExtractor extracts all known datasets found under a source directory.
type DirExtractor struct {
	charset string
	log     *logger.Logger
}

// New creates a DirExtractor. cfg.Charset selects the source encoding;
// "windows-1252" wraps every file in a transcoding reader.
func New(cfg *config.SourceConfig, log *logger.Logger) *DirExtractor {
	return &DirExtractor{charset: cfg.Charset, log: log}
}

// extensions in probe order. CSV wins when both exist.
var extensions = []string{".csv", ".html"}

// Extract reads every dataset kind whose file exists under dir. The returned
// slice preserves dataset.Kinds() order and contains only the datasets that
// were found.
func (e *DirExtractor) Extract(ctx context.Context, dir string) ([]dataset.Raw, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, &SourceUnavailableError{Dir: dir, Err: err}
	}

	var out []dataset.Raw
	for _, kind := range dataset.Kinds() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		raw, found, err := e.extractOne(dir, kind)
		if err != nil {
			return nil, err
		}
		if !found {
			e.log.WithDataset(kind.String()).Infow("source file missing, dataset skipped",
				"base", dataset.SchemaFor(kind).BaseName)
			continue
		}

		e.log.WithDataset(kind.String()).Infow("extracted dataset", "rows", len(raw.Rows))
		out = append(out, raw)
	}
	return out, nil
}

// extractOne probes the known extensions for one kind and reads the first
// file that exists.
func (e *DirExtractor) extractOne(dir string, kind dataset.Kind) (dataset.Raw, bool, error) {
	base := dataset.SchemaFor(kind).BaseName

	for _, ext := range extensions {
		path := filepath.Join(dir, base+ext)
		f, err := os.Open(path)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return dataset.Raw{}, false, fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()

		header, rows, err := e.readFile(f, ext)
		if err != nil {
			return dataset.Raw{}, false, fmt.Errorf("read %s: %w", path, err)
		}
		return dataset.Raw{Kind: kind, Header: header, Rows: rows}, true, nil
	}
	return dataset.Raw{}, false, nil
}

func (e *DirExtractor) readFile(f io.Reader, ext string) ([]string, [][]string, error) {
	r := e.decode(f)
	if ext == ".html" {
		return readHTMLTable(r)
	}
	return readCSV(r)
}

// decode wraps r in a transcoding reader when the configured charset is not
// UTF-8.
func (e *DirExtractor) decode(r io.Reader) io.Reader {
	if e.charset == "windows-1252" {
		return charmap.Windows1252.NewDecoder().Reader(r)
	}
	return r
}
