package pipeline

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"salesetl/internal/dataset"
	"salesetl/internal/logger"
	"salesetl/internal/metrics"
	"salesetl/internal/warehouse"
)

// FactStats summarizes one fact load.
type FactStats struct {
	// Written is the number of fact rows upserted.
	Written int64
	// Skipped counts rows dropped because a dimension reference did not
	// resolve. A resolution miss isolates the row, never the batch.
	Skipped int64
}

// FactLoader resolves fact rows against the surrogate-key map and upserts
// them in parallel batches.
type FactLoader struct {
	wh        warehouse.Warehouse
	rec       *Recorder
	log       *logger.Logger
	batchSize int
	workers   int
}

// NewFactLoader creates a FactLoader.
func NewFactLoader(wh warehouse.Warehouse, rec *Recorder, log *logger.Logger, batchSize, workers int) *FactLoader {
	if batchSize <= 0 {
		batchSize = 1024
	}
	if workers <= 0 {
		workers = 1
	}
	return &FactLoader{wh: wh, rec: rec, log: log, batchSize: batchSize, workers: workers}
}

// Load resolves and upserts one fact dataset. Rows whose dimension references
// cannot be resolved are skipped and counted; any database error fails the
// load.
func (l *FactLoader) Load(ctx context.Context, d dataset.Canonical, keys *warehouse.SurrogateKeyMap) (FactStats, error) {
	spec := warehouse.SalesFact
	start := time.Now()
	l.rec.Table(ctx, spec.Table, StatusStarted, 0, start, nil)

	stats, err := l.load(ctx, spec, d, keys)
	if err != nil {
		l.rec.Table(ctx, spec.Table, StatusFailed, stats.Written, start, err)
		return stats, err
	}

	l.rec.Table(ctx, spec.Table, StatusSuccess, stats.Written, start, nil)
	metrics.IncCounter("etl.rows.loaded", float64(stats.Written), metrics.Labels{"table": spec.Table})
	metrics.IncCounter("etl.rows.skipped", float64(stats.Skipped), metrics.Labels{"table": spec.Table})
	l.log.Infow("facts loaded",
		"table", spec.Table,
		"rows", stats.Written,
		"skipped", stats.Skipped,
		"workers", l.workers,
		"duration", time.Since(start).Truncate(time.Millisecond))
	return stats, nil
}

func (l *FactLoader) load(ctx context.Context, spec warehouse.FactSpec, d dataset.Canonical, keys *warehouse.SurrogateKeyMap) (FactStats, error) {
	resolved, skipped, err := l.resolve(d, keys)
	if err != nil {
		return FactStats{}, &warehouse.LoadError{Table: spec.Table, Err: err}
	}

	stats := FactStats{Skipped: skipped}

	// Cancellation model: the first worker error cancels the derived
	// context with a cause; remaining batches drain without executing.
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	errCh := make(chan error, 1)
	setErr := func(err error) {
		select {
		case errCh <- err:
			cancel(err)
		default:
			// First error wins.
		}
	}

	batchCh := make(chan [][]any, l.workers*2)
	var written atomic.Int64

	var wg sync.WaitGroup
	wg.Add(l.workers)
	for w := 0; w < l.workers; w++ {
		go func() {
			defer wg.Done()
			for batch := range batchCh {
				select {
				case <-ctx.Done():
					continue
				default:
				}

				n, err := l.wh.UpsertFactRows(ctx, spec, batch)
				if err != nil {
					setErr(err)
					continue
				}
				written.Add(n)
			}
		}()
	}

	for start := 0; start < len(resolved); start += l.batchSize {
		end := min(start+l.batchSize, len(resolved))
		select {
		case batchCh <- resolved[start:end]:
		case <-ctx.Done():
		}
	}
	close(batchCh)
	wg.Wait()

	stats.Written = written.Load()

	select {
	case err := <-errCh:
		return stats, err
	default:
	}
	return stats, nil
}

// resolve swaps every natural reference in the fact dataset for its surrogate
// key. Misses skip the row.
func (l *FactLoader) resolve(d dataset.Canonical, keys *warehouse.SurrogateKeyMap) (rows [][]any, skipped int64, err error) {
	idx, err := factIndexes(d)
	if err != nil {
		return nil, 0, err
	}

	rows = make([][]any, 0, len(d.Rows))
	for _, src := range d.Rows {
		orderDate, ok := src[idx.orderDate].(time.Time)
		if !ok {
			skipped++
			continue
		}

		dateKey, ok := keys.DateKey(orderDate)
		if !ok {
			skipped++
			l.log.Debugw("skipped fact row: date outside calendar range",
				"order_number", src[idx.orderNumber], "order_date", orderDate)
			continue
		}

		customerKey, ok1 := keys.Lookup("dim_customer", src[idx.customerCode])
		productKey, ok2 := keys.Lookup("dim_product", src[idx.productCode])
		repKey, ok3 := keys.Lookup("dim_sales_rep", src[idx.repCode])
		if !ok1 || !ok2 || !ok3 {
			skipped++
			l.log.Debugw("skipped fact row: unresolved dimension reference",
				"order_number", src[idx.orderNumber],
				"customer", ok1, "product", ok2, "rep", ok3)
			continue
		}

		rows = append(rows, []any{
			src[idx.orderNumber], dateKey, customerKey, productKey, repKey,
			src[idx.quantity], src[idx.unitPrice], src[idx.totalAmount],
		})
	}
	return rows, skipped, nil
}

type factColumnIndexes struct {
	orderNumber, orderDate             int
	customerCode, productCode, repCode int
	quantity, unitPrice, totalAmount   int
}

func factIndexes(d dataset.Canonical) (factColumnIndexes, error) {
	idx := factColumnIndexes{
		orderNumber:  d.ColumnIndex("order_number"),
		orderDate:    d.ColumnIndex("order_date"),
		customerCode: d.ColumnIndex("customer_code"),
		productCode:  d.ColumnIndex("product_code"),
		repCode:      d.ColumnIndex("rep_code"),
		quantity:     d.ColumnIndex("quantity"),
		unitPrice:    d.ColumnIndex("unit_price"),
		totalAmount:  d.ColumnIndex("total_amount"),
	}
	for _, i := range []int{
		idx.orderNumber, idx.orderDate, idx.customerCode, idx.productCode,
		idx.repCode, idx.quantity, idx.unitPrice, idx.totalAmount,
	} {
		if i < 0 {
			return idx, fmt.Errorf("dataset %s is missing a fact column", d.Kind)
		}
	}
	return idx, nil
}
