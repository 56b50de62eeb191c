package warehouse

import (
	"time"

	"salesetl/internal/dataset"
)

// DimensionSpec describes one dimension table: its surrogate key, the natural
// (business) key upserts conflict on, and the mutable attribute columns that
// get overwritten on update.
type DimensionSpec struct {
	Table            string
	SurrogateColumn  string
	NaturalKeyColumn string
	AttributeColumns []string
}

// Columns returns the insert column order: natural key first, then
// attributes. UpsertDimensionRows rows follow this order.
func (s DimensionSpec) Columns() []string {
	out := make([]string, 0, 1+len(s.AttributeColumns))
	out = append(out, s.NaturalKeyColumn)
	out = append(out, s.AttributeColumns...)
	return out
}

// FactSpec describes one fact table and the natural-identity columns fact
// upserts dedupe on.
type FactSpec struct {
	Table         string
	Columns       []string
	DedupeColumns []string
}

var dimensions = map[dataset.Kind]DimensionSpec{
	dataset.Customers: {
		Table:            "dim_customer",
		SurrogateColumn:  "customer_key",
		NaturalKeyColumn: "customer_code",
		AttributeColumns: []string{"customer_name", "city", "state", "region", "segment"},
	},
	dataset.Products: {
		Table:            "dim_product",
		SurrogateColumn:  "product_key",
		NaturalKeyColumn: "product_code",
		AttributeColumns: []string{"product_name", "category", "unit_cost", "unit_price"},
	},
	dataset.SalesReps: {
		Table:            "dim_sales_rep",
		SurrogateColumn:  "rep_key",
		NaturalKeyColumn: "rep_code",
		AttributeColumns: []string{"rep_name", "region", "hire_date"},
	},
}

// DimensionFor returns the dimension spec backing a dataset kind. The second
// result is false for the fact-shaped kind.
func DimensionFor(k dataset.Kind) (DimensionSpec, bool) {
	s, ok := dimensions[k]
	return s, ok
}

// SalesFact is the single fact table of the schema.
var SalesFact = FactSpec{
	Table: "fact_sales",
	Columns: []string{
		"order_number", "date_key", "customer_key", "product_key", "rep_key",
		"quantity", "unit_price", "total_amount",
	},
	DedupeColumns: []string{"order_number"},
}

// AuditTable is the append-only audit sink.
const AuditTable = "etl_audit"

// DateDimension is the pre-populated calendar table. Its surrogate key is the
// deterministic yyyymmdd integer, so resolution never needs a database
// round-trip.
const DateDimension = "dim_date"

// CalendarColumns is the dim_date insert column order used by CalendarRows.
var CalendarColumns = []string{
	"date_key", "full_date", "year", "quarter", "month", "day",
	"day_of_week", "month_name", "is_weekend",
}

// DateKey computes the deterministic surrogate key for a calendar day.
func DateKey(t time.Time) int64 {
	return int64(t.Year())*10000 + int64(t.Month())*100 + int64(t.Day())
}

// CalendarRows generates the deterministic calendar rows for [start, end],
// aligned to CalendarColumns. Backends insert them idempotently during
// EnsureSchema.
func CalendarRows(start, end time.Time) [][]any {
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	end = time.Date(end.Year(), end.Month(), end.Day(), 0, 0, 0, 0, time.UTC)

	var rows [][]any
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		wd := d.Weekday()
		rows = append(rows, []any{
			DateKey(d),
			d.Format("2006-01-02"),
			int64(d.Year()),
			int64((int(d.Month())-1)/3 + 1),
			int64(d.Month()),
			int64(d.Day()),
			int64(wd),
			d.Month().String(),
			wd == time.Saturday || wd == time.Sunday,
		})
	}
	return rows
}

// AuditRecord is one append-only stage-transition record.
type AuditRecord struct {
	RunID        string
	Pipeline     string
	Stage        string
	Status       string
	Table        string // set for per-table Load records, empty for stage-level
	Records      int64
	ErrorMessage string
	StartTime    time.Time
	Duration     time.Duration
}
