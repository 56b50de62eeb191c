package extract

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"golang.org/x/text/encoding/charmap"

	"salesetl/internal/config"
	"salesetl/internal/dataset"
	"salesetl/internal/logger"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func newExtractor(charset string) *DirExtractor {
	return New(&config.SourceConfig{Charset: charset}, logger.NewNop())
}

func findRaw(raws []dataset.Raw, kind dataset.Kind) (dataset.Raw, bool) {
	for _, r := range raws {
		if r.Kind == kind {
			return r, true
		}
	}
	return dataset.Raw{}, false
}

func TestExtractMissingDirectory(t *testing.T) {
	_, err := newExtractor("").Extract(context.Background(), "/nonexistent/source")

	var uerr *SourceUnavailableError
	if !errors.As(err, &uerr) {
		t.Fatalf("err = %v, want *SourceUnavailableError", err)
	}
}

func TestExtractSkipsMissingFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "customers.csv", "customer_code,customer_name\nC001,Acme\n")

	raws, err := newExtractor("").Extract(context.Background(), dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	if len(raws) != 1 {
		t.Fatalf("got %d datasets, want 1", len(raws))
	}
	if raws[0].Kind != dataset.Customers {
		t.Errorf("kind = %v, want Customers", raws[0].Kind)
	}
}

func TestExtractCSV(t *testing.T) {
	dir := t.TempDir()
	// BOM on the first header cell, a quoted comma, uneven spacing.
	writeFile(t, dir, "customers.csv",
		"\uFEFFcustomer_code,customer_name,city\nC001,\"Acme, Inc\",Portland\nC002,Beta,Austin\n")

	raws, err := newExtractor("").Extract(context.Background(), dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	raw, ok := findRaw(raws, dataset.Customers)
	if !ok {
		t.Fatal("customers dataset not extracted")
	}

	if raw.Header[0] != "customer_code" {
		t.Errorf("header[0] = %q, BOM should be stripped", raw.Header[0])
	}
	if len(raw.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(raw.Rows))
	}
	if raw.Rows[0][1] != "Acme, Inc" {
		t.Errorf("quoted cell = %q, want %q", raw.Rows[0][1], "Acme, Inc")
	}
}

func TestExtractHTMLTable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "products.html", `<html><body>
<table>
  <thead><tr><th>product_code</th><th>product_name</th><th>unit_price</th></tr></thead>
  <tbody>
    <tr><td> P001 </td><td>Widget</td><td>19.99</td></tr>
    <tr><td>P002</td><td>Gadget</td><td>29.99</td></tr>
  </tbody>
</table>
</body></html>`)

	raws, err := newExtractor("").Extract(context.Background(), dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	raw, ok := findRaw(raws, dataset.Products)
	if !ok {
		t.Fatal("products dataset not extracted")
	}

	if len(raw.Header) != 3 || raw.Header[0] != "product_code" {
		t.Errorf("header = %v", raw.Header)
	}
	if len(raw.Rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(raw.Rows))
	}
	if raw.Rows[0][0] != "P001" {
		t.Errorf("cell = %q, want trimmed %q", raw.Rows[0][0], "P001")
	}
}

func TestExtractHTMLTableWithoutThead(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "sales_reps.html", `<table>
<tr><th>rep_code</th><th>rep_name</th></tr>
<tr><td>R001</td><td>Jordan</td></tr>
</table>`)

	raws, err := newExtractor("").Extract(context.Background(), dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	raw, ok := findRaw(raws, dataset.SalesReps)
	if !ok {
		t.Fatal("sales_reps dataset not extracted")
	}
	if raw.Header[0] != "rep_code" {
		t.Errorf("header = %v, first row should become header", raw.Header)
	}
	if len(raw.Rows) != 1 || raw.Rows[0][1] != "Jordan" {
		t.Errorf("rows = %v", raw.Rows)
	}
}

func TestExtractCSVWinsOverHTML(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "customers.csv", "customer_code,customer_name\nC-CSV,FromCSV\n")
	writeFile(t, dir, "customers.html", `<table><tr><th>customer_code</th></tr><tr><td>C-HTML</td></tr></table>`)

	raws, err := newExtractor("").Extract(context.Background(), dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	raw, _ := findRaw(raws, dataset.Customers)
	if len(raw.Rows) != 1 || raw.Rows[0][0] != "C-CSV" {
		t.Errorf("rows = %v, want the CSV variant", raw.Rows)
	}
}

func TestExtractWindows1252(t *testing.T) {
	// "Müller" encoded as windows-1252: ü is a single 0xFC byte.
	encoded, err := charmap.Windows1252.NewEncoder().String("customer_code,customer_name\nC001,Müller\n")
	if err != nil {
		t.Fatal(err)
	}

	dir := t.TempDir()
	writeFile(t, dir, "customers.csv", encoded)

	raws, err := newExtractor("windows-1252").Extract(context.Background(), dir)
	if err != nil {
		t.Fatalf("Extract: %v", err)
	}
	raw, _ := findRaw(raws, dataset.Customers)
	if raw.Rows[0][1] != "Müller" {
		t.Errorf("cell = %q, want %q", raw.Rows[0][1], "Müller")
	}
}
