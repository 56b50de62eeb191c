// Package transform converts raw extracted datasets into their canonical
// form: headers normalized to canonical column names, cells coerced to the
// schema's declared types, rows deduplicated by natural key.
//
// Transformation is lenient per row and strict per dataset: a row that cannot
// be coerced is dropped and counted, but a dataset missing a required column
// altogether fails with a ValidationError.
package transform

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"salesetl/internal/dataset"
	"salesetl/internal/logger"
)

// ValidationError reports that a dataset is structurally unusable: one or
// more required columns are absent from the source header. It is terminal for
// the dataset, not for its siblings.
type ValidationError struct {
	Kind    dataset.Kind
	Missing []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("dataset %s: missing required columns: %s",
		e.Kind, strings.Join(e.Missing, ", "))
}

// Result is the outcome of transforming one dataset.
type Result struct {
	Canonical dataset.Canonical

	// RowsIn is the raw row count before any filtering.
	RowsIn int
	// Dropped counts rows removed for empty natural keys or uncoercible
	// required cells.
	Dropped int
	// Deduped counts rows removed as natural-key duplicates. The first
	// occurrence wins.
	Deduped int
}

// Transformer transforms raw datasets against their declared schemas.
type Transformer struct {
	log *logger.Logger
}

// New creates a Transformer.
func New(log *logger.Logger) *Transformer {
	return &Transformer{log: log}
}

// Transform converts one raw dataset to canonical form.
func (t *Transformer) Transform(raw dataset.Raw) (*Result, error) {
	schema := dataset.SchemaFor(raw.Kind)
	log := t.log.WithDataset(raw.Kind.String())

	colIdx, err := mapHeader(schema, raw.Header)
	if err != nil {
		return nil, err
	}

	res := &Result{
		Canonical: dataset.Canonical{Kind: raw.Kind, Columns: schema.Columns()},
		RowsIn:    len(raw.Rows),
	}
	seen := make(map[string]struct{}, len(raw.Rows))

	for i, row := range raw.Rows {
		vals, ok := coerceRow(schema, colIdx, row)
		if !ok {
			res.Dropped++
			log.Debugw("dropped row", "line", i+2)
			continue
		}

		key := naturalKey(schema, vals)
		if key == "" {
			res.Dropped++
			log.Debugw("dropped row with empty natural key", "line", i+2)
			continue
		}
		if _, dup := seen[key]; dup {
			res.Deduped++
			continue
		}
		seen[key] = struct{}{}

		res.Canonical.Rows = append(res.Canonical.Rows, vals)
	}

	log.Infow("transformed dataset",
		"rows_in", res.RowsIn,
		"rows_out", res.Canonical.Len(),
		"dropped", res.Dropped,
		"deduped", res.Deduped)
	return res, nil
}

// mapHeader resolves each canonical column to its position in the source
// header. Source headers are matched case-insensitively with spaces folded to
// underscores. A required column with no match fails the dataset.
func mapHeader(schema dataset.Schema, header []string) ([]int, error) {
	srcIdx := make(map[string]int, len(header))
	for i, h := range header {
		srcIdx[normalizeHeader(h)] = i
	}

	colIdx := make([]int, len(schema.Fields))
	var missing []string
	for i, f := range schema.Fields {
		pos, ok := srcIdx[f.Name]
		if !ok {
			colIdx[i] = -1
			if f.Required {
				missing = append(missing, f.Name)
			}
			continue
		}
		colIdx[i] = pos
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Kind: schema.Kind, Missing: missing}
	}
	return colIdx, nil
}

func normalizeHeader(h string) string {
	h = strings.TrimSpace(h)
	h = strings.ToLower(h)
	return strings.ReplaceAll(h, " ", "_")
}

// coerceRow converts one source row to typed canonical values. It returns
// false when a required cell is empty or fails coercion; optional cells
// degrade to nil instead.
func coerceRow(schema dataset.Schema, colIdx []int, row []string) ([]any, bool) {
	vals := make([]any, len(schema.Fields))

	for i, f := range schema.Fields {
		pos := colIdx[i]
		var cell string
		if pos >= 0 && pos < len(row) {
			cell = strings.TrimSpace(row[pos])
		}

		if cell == "" {
			if f.Required {
				return nil, false
			}
			vals[i] = nil
			continue
		}

		v, err := coerce(cell, f.Type)
		if err != nil {
			if f.Required {
				return nil, false
			}
			vals[i] = nil
			continue
		}
		vals[i] = v
	}

	fillDerived(schema, vals)
	return vals, true
}

// dateLayouts are tried in order. ISO first, then the formats legacy exports
// actually ship with.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"01/02/2006",
	"02-Jan-2006",
}

func coerce(cell string, t dataset.FieldType) (any, error) {
	switch t {
	case dataset.TypeString:
		return cell, nil

	case dataset.TypeInt:
		n, err := strconv.ParseInt(stripThousands(cell), 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil

	case dataset.TypeFloat:
		f, err := strconv.ParseFloat(stripThousands(stripCurrency(cell)), 64)
		if err != nil {
			return nil, err
		}
		return f, nil

	case dataset.TypeDate:
		for _, layout := range dateLayouts {
			if ts, err := time.Parse(layout, cell); err == nil {
				return ts, nil
			}
		}
		return nil, fmt.Errorf("unparseable date %q", cell)

	default:
		return nil, fmt.Errorf("unknown field type %d", t)
	}
}

func stripThousands(s string) string {
	return strings.ReplaceAll(s, ",", "")
}

func stripCurrency(s string) string {
	return strings.TrimPrefix(s, "$")
}

// fillDerived computes columns the source may omit. For sales, total_amount
// defaults to quantity * unit_price.
func fillDerived(schema dataset.Schema, vals []any) {
	if schema.Kind != dataset.Sales {
		return
	}
	ti := schema.FieldIndex("total_amount")
	if ti < 0 || vals[ti] != nil {
		return
	}
	qi := schema.FieldIndex("quantity")
	pi := schema.FieldIndex("unit_price")
	q, qok := vals[qi].(int64)
	p, pok := vals[pi].(float64)
	if qok && pok {
		vals[ti] = float64(q) * p
	}
}

// naturalKey joins the row's natural-key cells into a dedupe key. Empty when
// any component is empty.
func naturalKey(schema dataset.Schema, vals []any) string {
	parts := make([]string, 0, len(schema.NaturalKey))
	for _, col := range schema.NaturalKey {
		i := schema.FieldIndex(col)
		s, ok := vals[i].(string)
		if !ok || s == "" {
			return ""
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\x1f")
}
