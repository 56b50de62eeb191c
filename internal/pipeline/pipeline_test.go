package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"salesetl/internal/config"
	"salesetl/internal/dataset"
	"salesetl/internal/logger"
	"salesetl/internal/transform"
	"salesetl/internal/warehouse"
)

// fakeWarehouse is an in-memory warehouse.Warehouse that records audits and
// keys fact rows by order number, so reruns exercise upsert semantics.
type fakeWarehouse struct {
	mu sync.Mutex

	audits []warehouse.AuditRecord
	dims   map[string]map[string]int64 // table -> natural key -> surrogate
	facts  map[string][]any            // order_number -> row
	nextID int64

	ensureErr    error
	failDimTable string
	failFacts    bool
	failAudits   bool
}

func newFakeWarehouse() *fakeWarehouse {
	return &fakeWarehouse{
		dims:  make(map[string]map[string]int64),
		facts: make(map[string][]any),
	}
}

func (f *fakeWarehouse) Close() {}

func (f *fakeWarehouse) EnsureSchema(ctx context.Context) error { return f.ensureErr }

func (f *fakeWarehouse) UpsertDimensionRows(ctx context.Context, spec warehouse.DimensionSpec, rows [][]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if spec.Table == f.failDimTable {
		return 0, &warehouse.LoadError{Table: spec.Table, Err: errors.New("injected failure")}
	}

	kv := f.dims[spec.Table]
	if kv == nil {
		kv = make(map[string]int64)
		f.dims[spec.Table] = kv
	}
	for _, row := range rows {
		nk := warehouse.NormalizeKey(row[0])
		if _, ok := kv[nk]; !ok {
			f.nextID++
			kv[nk] = f.nextID
		}
	}
	return int64(len(rows)), nil
}

func (f *fakeWarehouse) SelectSurrogates(ctx context.Context, spec warehouse.DimensionSpec, keys []any) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]int64, len(keys))
	for _, k := range keys {
		nk := warehouse.NormalizeKey(k)
		if id, ok := f.dims[spec.Table][nk]; ok {
			out[nk] = id
		}
	}
	return out, nil
}

func (f *fakeWarehouse) UpsertFactRows(ctx context.Context, spec warehouse.FactSpec, rows [][]any) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFacts {
		return 0, &warehouse.LoadError{Table: spec.Table, Err: errors.New("injected failure")}
	}
	for _, row := range rows {
		f.facts[warehouse.NormalizeKey(row[0])] = row
	}
	return int64(len(rows)), nil
}

func (f *fakeWarehouse) InsertAudit(ctx context.Context, rec warehouse.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failAudits {
		return errors.New("audit sink down")
	}
	f.audits = append(f.audits, rec)
	return nil
}

// fakeExtractor returns canned raw datasets.
type fakeExtractor struct {
	raws []dataset.Raw
	err  error
}

func (f *fakeExtractor) Extract(ctx context.Context, dir string) ([]dataset.Raw, error) {
	return f.raws, f.err
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Pipeline.Name = "test_pipeline"
	cfg.Warehouse.Calendar = config.CalendarConfig{Start: "2024-01-01", End: "2024-12-31"}
	cfg.Runtime.BatchSize = 2
	cfg.Runtime.LoaderWorkers = 2
	return cfg
}

func fullSourceRaws() []dataset.Raw {
	salesHeader := []string{
		"order_number", "order_date", "customer_code", "product_code",
		"rep_code", "quantity", "unit_price", "total_amount",
	}
	return []dataset.Raw{
		{
			Kind:   dataset.Customers,
			Header: []string{"customer_code", "customer_name"},
			Rows:   [][]string{{"C001", "Acme"}, {"C002", "Beta"}},
		},
		{
			Kind:   dataset.Products,
			Header: []string{"product_code", "product_name"},
			Rows:   [][]string{{"P001", "Widget"}},
		},
		{
			Kind:   dataset.SalesReps,
			Header: []string{"rep_code", "rep_name"},
			Rows:   [][]string{{"R001", "Jordan"}},
		},
		{
			Kind:   dataset.Sales,
			Header: salesHeader,
			Rows: [][]string{
				{"SO-1", "2024-03-15", "C001", "P001", "R001", "2", "10.00", "20.00"},
				{"SO-2", "2024-03-16", "C002", "P001", "R001", "1", "10.00", "10.00"},
				{"SO-3", "2024-03-17", "C001", "P001", "R001", "5", "10.00", "50.00"},
			},
		},
	}
}

func newOrchestrator(wh warehouse.Warehouse, raws []dataset.Raw, extractErr error) *Orchestrator {
	log := logger.NewNop()
	return New(testConfig(), wh,
		&fakeExtractor{raws: raws, err: extractErr},
		transform.New(log),
		log)
}

// auditSeq flattens audits to "Stage/Status" or "Stage/Status(table)".
func auditSeq(audits []warehouse.AuditRecord) []string {
	out := make([]string, len(audits))
	for i, a := range audits {
		if a.Table != "" {
			out[i] = fmt.Sprintf("%s/%s(%s)", a.Stage, a.Status, a.Table)
		} else {
			out[i] = fmt.Sprintf("%s/%s", a.Stage, a.Status)
		}
	}
	return out
}

func TestRunHappyPath(t *testing.T) {
	wh := newFakeWarehouse()
	orch := newOrchestrator(wh, fullSourceRaws(), nil)

	stats, err := orch.Run(context.Background(), "/src")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.Extracted != 7 {
		t.Errorf("Extracted = %d, want 7", stats.Extracted)
	}
	if stats.FactRows != 3 || stats.FactSkipped != 0 {
		t.Errorf("FactRows = %d, FactSkipped = %d, want 3, 0", stats.FactRows, stats.FactSkipped)
	}
	if len(wh.facts) != 3 {
		t.Errorf("fact table has %d rows, want 3", len(wh.facts))
	}

	seq := auditSeq(wh.audits)

	// Stage-level records bracket the run in stage order.
	wantPrefix := []string{"Extract/Started", "Extract/Success", "Transform/Started", "Transform/Success", "Load/Started"}
	for i, want := range wantPrefix {
		if seq[i] != want {
			t.Fatalf("audit[%d] = %s, want %s (full: %v)", i, seq[i], want, seq)
		}
	}
	if seq[len(seq)-1] != "Load/Success" {
		t.Errorf("last audit = %s, want Load/Success", seq[len(seq)-1])
	}

	// Every run-id matches and per-run audit ids are uniform.
	for _, a := range wh.audits {
		if a.RunID != stats.RunID {
			t.Errorf("audit run_id = %s, want %s", a.RunID, stats.RunID)
		}
		if a.Pipeline != "test_pipeline" {
			t.Errorf("audit pipeline = %s", a.Pipeline)
		}
	}
}

// Dimension table audits must all complete before the fact table's first
// audit: facts can only load against fully-populated dimensions.
func TestRunDimensionAuditsPrecedeFacts(t *testing.T) {
	wh := newFakeWarehouse()
	orch := newOrchestrator(wh, fullSourceRaws(), nil)

	if _, err := orch.Run(context.Background(), "/src"); err != nil {
		t.Fatalf("Run: %v", err)
	}

	factStart := -1
	lastDimSuccess := -1
	for i, a := range wh.audits {
		switch {
		case a.Table == "fact_sales" && a.Status == StatusStarted:
			factStart = i
		case a.Table != "" && a.Table != "fact_sales" && a.Status == StatusSuccess:
			lastDimSuccess = i
		}
	}
	if factStart == -1 || lastDimSuccess == -1 {
		t.Fatalf("missing table audits: %v", auditSeq(wh.audits))
	}
	if lastDimSuccess > factStart {
		t.Errorf("dimension audit at %d after fact start at %d: %v",
			lastDimSuccess, factStart, auditSeq(wh.audits))
	}
}

func TestRunExtractFailure(t *testing.T) {
	wh := newFakeWarehouse()
	orch := newOrchestrator(wh, nil, errors.New("directory unreadable"))

	_, err := orch.Run(context.Background(), "/src")

	var sf *StageFailure
	if !errors.As(err, &sf) || sf.Stage != StageExtract {
		t.Fatalf("err = %v, want StageFailure{Extract}", err)
	}

	seq := auditSeq(wh.audits)
	want := []string{"Extract/Started", "Extract/Failed"}
	if len(seq) != 2 || seq[0] != want[0] || seq[1] != want[1] {
		t.Errorf("audits = %v, want %v", seq, want)
	}
}

func TestRunTransformFailureProcessesSiblings(t *testing.T) {
	raws := []dataset.Raw{
		{
			Kind:   dataset.Customers,
			Header: []string{"customer_code"}, // customer_name missing
			Rows:   [][]string{{"C001"}},
		},
		{
			Kind:   dataset.Products,
			Header: []string{"product_code", "product_name"},
			Rows:   [][]string{{"P001", "Widget"}},
		},
	}
	wh := newFakeWarehouse()
	orch := newOrchestrator(wh, raws, nil)

	stats, err := orch.Run(context.Background(), "/src")

	var sf *StageFailure
	if !errors.As(err, &sf) || sf.Stage != StageTransform {
		t.Fatalf("err = %v, want StageFailure{Transform}", err)
	}
	var verr *transform.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("err = %v, want wrapped ValidationError", err)
	}

	// The healthy sibling still transformed before the stage failed.
	if stats.Transformed != 1 {
		t.Errorf("Transformed = %d, want 1", stats.Transformed)
	}

	// Load never started.
	for _, a := range wh.audits {
		if a.Stage == StageLoad {
			t.Errorf("unexpected Load audit: %v", auditSeq(wh.audits))
			break
		}
	}
}

func TestRunLoadFailure(t *testing.T) {
	wh := newFakeWarehouse()
	wh.failDimTable = "dim_product"
	orch := newOrchestrator(wh, fullSourceRaws(), nil)

	_, err := orch.Run(context.Background(), "/src")

	var sf *StageFailure
	if !errors.As(err, &sf) || sf.Stage != StageLoad {
		t.Fatalf("err = %v, want StageFailure{Load}", err)
	}
	var lerr *warehouse.LoadError
	if !errors.As(err, &lerr) || lerr.Table != "dim_product" {
		t.Fatalf("err = %v, want wrapped LoadError{dim_product}", err)
	}
	if len(wh.facts) != 0 {
		t.Error("facts loaded despite dimension failure")
	}

	seq := auditSeq(wh.audits)
	if seq[len(seq)-1] != "Load/Failed" {
		t.Errorf("last audit = %s, want Load/Failed", seq[len(seq)-1])
	}
}

func TestRunFactUpsertFailure(t *testing.T) {
	wh := newFakeWarehouse()
	wh.failFacts = true
	orch := newOrchestrator(wh, fullSourceRaws(), nil)

	_, err := orch.Run(context.Background(), "/src")

	var sf *StageFailure
	if !errors.As(err, &sf) || sf.Stage != StageLoad {
		t.Fatalf("err = %v, want StageFailure{Load}", err)
	}
	var lerr *warehouse.LoadError
	if !errors.As(err, &lerr) || lerr.Table != "fact_sales" {
		t.Fatalf("err = %v, want wrapped LoadError{fact_sales}", err)
	}

	// Dimensions committed before the fact failure; their audits closed
	// with Success.
	dimSuccess := 0
	for _, a := range wh.audits {
		if a.Table != "" && a.Table != "fact_sales" && a.Status == StatusSuccess {
			dimSuccess++
		}
	}
	if dimSuccess != 3 {
		t.Errorf("dimension Success audits = %d, want 3", dimSuccess)
	}
}

func TestRunResolutionMissSkipsRow(t *testing.T) {
	raws := fullSourceRaws()
	// One unknown customer, one date outside the calendar range.
	raws[3].Rows = append(raws[3].Rows,
		[]string{"SO-4", "2024-05-01", "C999", "P001", "R001", "1", "1.00", "1.00"},
		[]string{"SO-5", "2031-01-01", "C001", "P001", "R001", "1", "1.00", "1.00"},
	)

	wh := newFakeWarehouse()
	orch := newOrchestrator(wh, raws, nil)

	stats, err := orch.Run(context.Background(), "/src")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.FactRows != 3 {
		t.Errorf("FactRows = %d, want 3", stats.FactRows)
	}
	if stats.FactSkipped != 2 {
		t.Errorf("FactSkipped = %d, want 2", stats.FactSkipped)
	}
	if _, ok := wh.facts["SO-4"]; ok {
		t.Error("row with unresolvable customer was loaded")
	}
	if _, ok := wh.facts["SO-5"]; ok {
		t.Error("row with out-of-range date was loaded")
	}
}

// A source directory holding only some datasets still runs to completion:
// missing dimensions load zero records and their fact references become
// resolution misses, never errors.
func TestRunPartialSourceTolerated(t *testing.T) {
	full := fullSourceRaws()
	raws := []dataset.Raw{full[0], full[3]} // customers + sales only

	wh := newFakeWarehouse()
	orch := newOrchestrator(wh, raws, nil)

	stats, err := orch.Run(context.Background(), "/src")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if stats.FactRows != 0 {
		t.Errorf("FactRows = %d, want 0", stats.FactRows)
	}
	if stats.FactSkipped != 3 {
		t.Errorf("FactSkipped = %d, want 3", stats.FactSkipped)
	}
	if len(wh.dims["dim_customer"]) != 2 {
		t.Errorf("dim_customer has %d rows, want 2", len(wh.dims["dim_customer"]))
	}
	if seq := auditSeq(wh.audits); seq[len(seq)-1] != "Load/Success" {
		t.Errorf("last audit = %s, want Load/Success", seq[len(seq)-1])
	}
}

func TestRunIsIdempotent(t *testing.T) {
	wh := newFakeWarehouse()

	for i := 0; i < 2; i++ {
		orch := newOrchestrator(wh, fullSourceRaws(), nil)
		if _, err := orch.Run(context.Background(), "/src"); err != nil {
			t.Fatalf("run %d: %v", i+1, err)
		}
	}

	if len(wh.facts) != 3 {
		t.Errorf("fact table has %d rows after rerun, want 3", len(wh.facts))
	}
	for table, kv := range wh.dims {
		want := map[string]int{"dim_customer": 2, "dim_product": 1, "dim_sales_rep": 1}[table]
		if len(kv) != want {
			t.Errorf("%s has %d rows after rerun, want %d", table, len(kv), want)
		}
	}
}

func TestRunAuditFailureIsNonFatal(t *testing.T) {
	wh := newFakeWarehouse()
	wh.failAudits = true
	orch := newOrchestrator(wh, fullSourceRaws(), nil)

	stats, err := orch.Run(context.Background(), "/src")
	if err != nil {
		t.Fatalf("Run should survive a down audit sink: %v", err)
	}
	if stats.FactRows != 3 {
		t.Errorf("FactRows = %d, want 3", stats.FactRows)
	}
}

func TestRunEnsureSchemaFailure(t *testing.T) {
	wh := newFakeWarehouse()
	wh.ensureErr = errors.New("connection refused")
	orch := newOrchestrator(wh, fullSourceRaws(), nil)

	_, err := orch.Run(context.Background(), "/src")
	if err == nil || !strings.Contains(err.Error(), "prepare warehouse") {
		t.Fatalf("err = %v, want prepare warehouse error", err)
	}
	if len(wh.audits) != 0 {
		t.Errorf("audits written without a schema: %v", auditSeq(wh.audits))
	}
}
