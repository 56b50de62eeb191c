package pipeline

import (
	"context"
	"time"

	"salesetl/internal/logger"
	"salesetl/internal/warehouse"
)

// auditSink is the single warehouse method the recorder needs. Narrowing the
// dependency keeps recorder tests free of full warehouse fakes.
type auditSink interface {
	InsertAudit(ctx context.Context, rec warehouse.AuditRecord) error
}

// Recorder appends audit records for one run. Audit writes are best-effort: a
// failed insert is logged and swallowed so observability problems never fail
// the pipeline itself.
type Recorder struct {
	sink     auditSink
	runID    string
	pipeline string
	log      *logger.Logger
}

// NewRecorder creates a Recorder bound to one run.
func NewRecorder(sink auditSink, runID, pipeline string, log *logger.Logger) *Recorder {
	return &Recorder{sink: sink, runID: runID, pipeline: pipeline, log: log}
}

// Stage records a stage-level transition.
func (r *Recorder) Stage(ctx context.Context, stage, status string, records int64, start time.Time, err error) {
	r.record(ctx, stage, status, "", records, start, err)
}

// Table records a per-table transition within the Load stage.
func (r *Recorder) Table(ctx context.Context, table, status string, records int64, start time.Time, err error) {
	r.record(ctx, StageLoad, status, table, records, start, err)
}

func (r *Recorder) record(ctx context.Context, stage, status, table string, records int64, start time.Time, err error) {
	rec := warehouse.AuditRecord{
		RunID:     r.runID,
		Pipeline:  r.pipeline,
		Stage:     stage,
		Status:    status,
		Table:     table,
		Records:   records,
		StartTime: start,
	}
	if status != StatusStarted {
		rec.Duration = time.Since(start)
	}
	if err != nil {
		rec.ErrorMessage = err.Error()
	}

	if werr := r.sink.InsertAudit(ctx, rec); werr != nil {
		r.log.Warnw("audit write failed",
			"stage", stage, "status", status, "table", table, "error", werr)
	}
}
