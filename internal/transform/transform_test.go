package transform

import (
	"errors"
	"math"
	"testing"
	"time"

	"salesetl/internal/dataset"
	"salesetl/internal/logger"
)

func newTransformer() *Transformer {
	return New(logger.NewNop())
}

func TestTransformCustomers(t *testing.T) {
	raw := dataset.Raw{
		Kind: dataset.Customers,
		// Headers arrive in mixed case with spaces; order differs from
		// the canonical schema.
		Header: []string{"Customer Name", "CUSTOMER CODE", "City", "State", "Region", "Segment"},
		Rows: [][]string{
			{"Acme Corp", "C001", "Portland", "OR", "West", "Enterprise"},
			{"Beta LLC", "C002", "Austin", "TX", "South", "SMB"},
		},
	}

	res, err := newTransformer().Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Canonical.Len() != 2 {
		t.Fatalf("got %d rows, want 2", res.Canonical.Len())
	}

	row := res.Canonical.Rows[0]
	codeIdx := res.Canonical.ColumnIndex("customer_code")
	nameIdx := res.Canonical.ColumnIndex("customer_name")
	if row[codeIdx] != "C001" || row[nameIdx] != "Acme Corp" {
		t.Errorf("row = %v, columns misaligned", row)
	}
}

func TestTransformDedupesByNaturalKey(t *testing.T) {
	raw := dataset.Raw{
		Kind:   dataset.Customers,
		Header: []string{"customer_code", "customer_name"},
		Rows: [][]string{
			{"C001", "First Occurrence"},
			{"C002", "Other"},
			{"C001", "Second Occurrence"},
		},
	}

	res, err := newTransformer().Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Canonical.Len() != 2 {
		t.Fatalf("got %d rows, want 2 after dedupe", res.Canonical.Len())
	}
	if res.Deduped != 1 {
		t.Errorf("Deduped = %d, want 1", res.Deduped)
	}

	// First occurrence wins.
	nameIdx := res.Canonical.ColumnIndex("customer_name")
	if got := res.Canonical.Rows[0][nameIdx]; got != "First Occurrence" {
		t.Errorf("kept row name = %v, want first occurrence", got)
	}
}

func TestTransformMissingRequiredColumn(t *testing.T) {
	raw := dataset.Raw{
		Kind:   dataset.Customers,
		Header: []string{"customer_code", "city"}, // no customer_name
		Rows:   [][]string{{"C001", "Portland"}},
	}

	_, err := newTransformer().Transform(raw)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want *ValidationError", err)
	}
	if verr.Kind != dataset.Customers {
		t.Errorf("Kind = %v, want Customers", verr.Kind)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "customer_name" {
		t.Errorf("Missing = %v, want [customer_name]", verr.Missing)
	}
}

func TestTransformDropsBadRows(t *testing.T) {
	raw := dataset.Raw{
		Kind: dataset.Sales,
		Header: []string{
			"order_number", "order_date", "customer_code", "product_code",
			"rep_code", "quantity", "unit_price", "total_amount",
		},
		Rows: [][]string{
			{"SO-1", "2024-03-15", "C001", "P001", "R001", "2", "10.50", "21.00"},
			{"", "2024-03-15", "C001", "P001", "R001", "2", "10.50", "21.00"},      // empty natural key
			{"SO-2", "not-a-date", "C001", "P001", "R001", "2", "10.50", "21.00"},  // bad required date
			{"SO-3", "2024-03-15", "C001", "P001", "R001", "lots", "10.50", "21"},  // bad required int
		},
	}

	res, err := newTransformer().Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if res.Canonical.Len() != 1 {
		t.Fatalf("got %d rows, want 1", res.Canonical.Len())
	}
	if res.Dropped != 3 {
		t.Errorf("Dropped = %d, want 3", res.Dropped)
	}
}

func TestTransformCoercion(t *testing.T) {
	raw := dataset.Raw{
		Kind: dataset.Sales,
		Header: []string{
			"order_number", "order_date", "customer_code", "product_code",
			"rep_code", "quantity", "unit_price", "total_amount",
		},
		Rows: [][]string{
			{"SO-1", "03/15/2024", "C001", "P001", "R001", "1,200", "$10.50", "$12,600.00"},
		},
	}

	res, err := newTransformer().Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	row := res.Canonical.Rows[0]
	c := res.Canonical

	if got := row[c.ColumnIndex("order_date")].(time.Time); got.Format("2006-01-02") != "2024-03-15" {
		t.Errorf("order_date = %v, want 2024-03-15", got)
	}
	if got := row[c.ColumnIndex("quantity")].(int64); got != 1200 {
		t.Errorf("quantity = %d, want 1200", got)
	}
	if got := row[c.ColumnIndex("unit_price")].(float64); got != 10.50 {
		t.Errorf("unit_price = %v, want 10.50", got)
	}
	if got := row[c.ColumnIndex("total_amount")].(float64); got != 12600.00 {
		t.Errorf("total_amount = %v, want 12600.00", got)
	}
}

func TestTransformDerivesTotalAmount(t *testing.T) {
	raw := dataset.Raw{
		Kind: dataset.Sales,
		Header: []string{
			"order_number", "order_date", "customer_code", "product_code",
			"rep_code", "quantity", "unit_price",
		}, // total_amount absent entirely
		Rows: [][]string{
			{"SO-1", "2024-03-15", "C001", "P001", "R001", "3", "9.99"},
		},
	}

	res, err := newTransformer().Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	got, ok := res.Canonical.Rows[0][res.Canonical.ColumnIndex("total_amount")].(float64)
	if !ok || math.Abs(got-29.97) > 1e-9 {
		t.Errorf("total_amount = %v, want 29.97", got)
	}
}

func TestTransformOptionalCellDegradesToNil(t *testing.T) {
	raw := dataset.Raw{
		Kind:   dataset.Products,
		Header: []string{"product_code", "product_name", "category", "unit_cost", "unit_price"},
		Rows: [][]string{
			{"P001", "Widget", "", "not-a-number", "19.99"},
		},
	}

	res, err := newTransformer().Transform(raw)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	row := res.Canonical.Rows[0]
	if row[res.Canonical.ColumnIndex("category")] != nil {
		t.Error("empty optional cell should be nil")
	}
	if row[res.Canonical.ColumnIndex("unit_cost")] != nil {
		t.Error("uncoercible optional cell should degrade to nil, not drop the row")
	}
	if row[res.Canonical.ColumnIndex("unit_price")] != 19.99 {
		t.Errorf("unit_price = %v, want 19.99", row[res.Canonical.ColumnIndex("unit_price")])
	}
}
