package pipeline

import (
	"context"
	"fmt"
	"time"

	"salesetl/internal/dataset"
	"salesetl/internal/logger"
	"salesetl/internal/metrics"
	"salesetl/internal/warehouse"
)

// DimensionLoader upserts dimension datasets and builds the surrogate-key map
// the fact loader resolves against. Dimensions always load before facts.
type DimensionLoader struct {
	wh        warehouse.Warehouse
	rec       *Recorder
	log       *logger.Logger
	batchSize int
}

// NewDimensionLoader creates a DimensionLoader. batchSize bounds both upsert
// and surrogate-select chunk sizes.
func NewDimensionLoader(wh warehouse.Warehouse, rec *Recorder, log *logger.Logger, batchSize int) *DimensionLoader {
	if batchSize <= 0 {
		batchSize = 1024
	}
	return &DimensionLoader{wh: wh, rec: rec, log: log, batchSize: batchSize}
}

// Load upserts every dimension dataset in ds and merges the resulting
// natural-key -> surrogate-key mappings into keys. Non-dimension datasets are
// ignored. Returns the total rows written.
func (l *DimensionLoader) Load(ctx context.Context, ds []dataset.Canonical, keys *warehouse.SurrogateKeyMap) (int64, error) {
	var total int64
	for _, d := range ds {
		spec, ok := warehouse.DimensionFor(d.Kind)
		if !ok {
			continue
		}

		start := time.Now()
		l.rec.Table(ctx, spec.Table, StatusStarted, 0, start, nil)

		written, err := l.loadOne(ctx, spec, d, keys)
		if err != nil {
			l.rec.Table(ctx, spec.Table, StatusFailed, written, start, err)
			return total, err
		}

		l.rec.Table(ctx, spec.Table, StatusSuccess, written, start, nil)
		metrics.IncCounter("etl.rows.loaded", float64(written), metrics.Labels{"table": spec.Table})
		l.log.Infow("dimension loaded",
			"table", spec.Table,
			"rows", written,
			"duration", time.Since(start).Truncate(time.Millisecond))
		total += written
	}
	return total, nil
}

func (l *DimensionLoader) loadOne(ctx context.Context, spec warehouse.DimensionSpec, d dataset.Canonical, keys *warehouse.SurrogateKeyMap) (int64, error) {
	rows, naturalKeys, err := projectDimension(spec, d)
	if err != nil {
		return 0, &warehouse.LoadError{Table: spec.Table, Err: err}
	}

	var written int64
	for start := 0; start < len(rows); start += l.batchSize {
		end := min(start+l.batchSize, len(rows))
		n, err := l.wh.UpsertDimensionRows(ctx, spec, rows[start:end])
		if err != nil {
			return written, err
		}
		written += n
	}

	resolved := make(map[string]int64, len(naturalKeys))
	for start := 0; start < len(naturalKeys); start += l.batchSize {
		end := min(start+l.batchSize, len(naturalKeys))
		kv, err := l.wh.SelectSurrogates(ctx, spec, naturalKeys[start:end])
		if err != nil {
			return written, err
		}
		for k, v := range kv {
			resolved[k] = v
		}
	}

	// Every upserted natural key must resolve; a gap here means the
	// warehouse and the key map would disagree for the rest of the run.
	for _, k := range naturalKeys {
		if _, ok := resolved[warehouse.NormalizeKey(k)]; !ok {
			return written, &warehouse.LoadError{
				Table: spec.Table,
				Err:   fmt.Errorf("natural key %v unresolved after upsert", k),
			}
		}
	}

	keys.Merge(spec.Table, resolved)
	return written, nil
}

// projectDimension reorders canonical rows into the spec's insert column
// order and collects the natural keys.
func projectDimension(spec warehouse.DimensionSpec, d dataset.Canonical) ([][]any, []any, error) {
	cols := spec.Columns()
	idx := make([]int, len(cols))
	for i, col := range cols {
		idx[i] = d.ColumnIndex(col)
		if idx[i] < 0 {
			return nil, nil, fmt.Errorf("dataset %s has no column %s", d.Kind, col)
		}
	}

	rows := make([][]any, len(d.Rows))
	naturalKeys := make([]any, len(d.Rows))
	for r, src := range d.Rows {
		row := make([]any, len(cols))
		for i, si := range idx {
			row[i] = src[si]
		}
		rows[r] = row
		naturalKeys[r] = row[0] // natural key is always first
	}
	return rows, naturalKeys, nil
}
