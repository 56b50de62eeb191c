// Package pipeline orchestrates the extract -> transform -> load run and owns
// the audit trail. Stages run strictly in order; the first failing stage
// aborts the run and every failure is classified by the stage it occurred in.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"salesetl/internal/config"
	"salesetl/internal/dataset"
	"salesetl/internal/logger"
	"salesetl/internal/metrics"
	"salesetl/internal/transform"
	"salesetl/internal/warehouse"
)

// Extractor produces raw datasets from a source directory.
type Extractor interface {
	Extract(ctx context.Context, dir string) ([]dataset.Raw, error)
}

// Transformer converts one raw dataset to canonical form.
type Transformer interface {
	Transform(raw dataset.Raw) (*transform.Result, error)
}

// RunStats is the immutable outcome of one run. Counts are cumulative across
// datasets.
type RunStats struct {
	RunID string

	Extracted   int64 // raw rows read
	Transformed int64 // canonical rows produced
	Dropped     int64 // rows dropped during transform
	Deduped     int64 // natural-key duplicates removed

	DimensionRows int64 // dimension rows written
	FactRows      int64 // fact rows written
	FactSkipped   int64 // fact rows skipped on resolution misses

	Duration time.Duration
}

// Orchestrator wires the three stages over one warehouse.
type Orchestrator struct {
	cfg *config.Config
	wh  warehouse.Warehouse
	ext Extractor
	tr  Transformer
	log *logger.Logger
}

// New creates an Orchestrator.
func New(cfg *config.Config, wh warehouse.Warehouse, ext Extractor, tr Transformer, log *logger.Logger) *Orchestrator {
	return &Orchestrator{cfg: cfg, wh: wh, ext: ext, tr: tr, log: log}
}

// Run executes one complete pipeline run against sourceDir. It returns the
// run stats together with a *StageFailure naming the first failed stage, or
// nil on success. Stats are meaningful even on failure: they describe the
// work finished before the abort.
func (o *Orchestrator) Run(ctx context.Context, sourceDir string) (*RunStats, error) {
	runID := uuid.NewString()
	log := o.log.WithRun(runID)
	stats := &RunStats{RunID: runID}
	runStart := time.Now()
	defer func() { stats.Duration = time.Since(runStart) }()

	// The audit table must exist before the first stage record, so schema
	// setup happens outside the staged portion of the run.
	if err := o.wh.EnsureSchema(ctx); err != nil {
		return stats, fmt.Errorf("prepare warehouse: %w", err)
	}

	rec := NewRecorder(o.wh, runID, o.cfg.Pipeline.Name, log)
	log.Infow("run starting", "source", sourceDir)

	raws, err := o.runExtract(ctx, rec, log, sourceDir, stats)
	if err != nil {
		return stats, err
	}

	canonicals, err := o.runTransform(ctx, rec, log, raws, stats)
	if err != nil {
		return stats, err
	}

	if err := o.runLoad(ctx, rec, log, canonicals, stats); err != nil {
		return stats, err
	}

	log.Infow("run complete",
		"extracted", stats.Extracted,
		"fact_rows", stats.FactRows,
		"fact_skipped", stats.FactSkipped,
		"duration", time.Since(runStart).Truncate(time.Millisecond))
	return stats, nil
}

func (o *Orchestrator) runExtract(ctx context.Context, rec *Recorder, log *logger.Logger, sourceDir string, stats *RunStats) ([]dataset.Raw, error) {
	start := time.Now()
	rec.Stage(ctx, StageExtract, StatusStarted, 0, start, nil)

	raws, err := o.ext.Extract(ctx, sourceDir)
	if err != nil {
		rec.Stage(ctx, StageExtract, StatusFailed, 0, start, err)
		return nil, o.failStage(log, StageExtract, start, err)
	}

	for _, raw := range raws {
		stats.Extracted += int64(len(raw.Rows))
	}

	rec.Stage(ctx, StageExtract, StatusSuccess, stats.Extracted, start, nil)
	metrics.IncCounter("etl.rows.extracted", float64(stats.Extracted), nil)
	o.finishStage(log, StageExtract, start, stats.Extracted)
	return raws, nil
}

func (o *Orchestrator) runTransform(ctx context.Context, rec *Recorder, log *logger.Logger, raws []dataset.Raw, stats *RunStats) ([]dataset.Canonical, error) {
	start := time.Now()
	rec.Stage(ctx, StageTransform, StatusStarted, 0, start, nil)

	// A validation failure is terminal for its dataset but siblings still
	// transform; the stage fails afterwards with every error attached.
	var canonicals []dataset.Canonical
	var errs []error
	for _, raw := range raws {
		res, err := o.tr.Transform(raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		stats.Transformed += int64(res.Canonical.Len())
		stats.Dropped += int64(res.Dropped)
		stats.Deduped += int64(res.Deduped)
		canonicals = append(canonicals, res.Canonical)
	}

	if len(errs) > 0 {
		err := errors.Join(errs...)
		rec.Stage(ctx, StageTransform, StatusFailed, stats.Transformed, start, err)
		return nil, o.failStage(log, StageTransform, start, err)
	}

	rec.Stage(ctx, StageTransform, StatusSuccess, stats.Transformed, start, nil)
	metrics.IncCounter("etl.rows.dropped", float64(stats.Dropped), nil)
	o.finishStage(log, StageTransform, start, stats.Transformed)
	return canonicals, nil
}

func (o *Orchestrator) runLoad(ctx context.Context, rec *Recorder, log *logger.Logger, canonicals []dataset.Canonical, stats *RunStats) error {
	start := time.Now()
	rec.Stage(ctx, StageLoad, StatusStarted, 0, start, nil)

	written, err := o.load(ctx, rec, log, canonicals, stats)
	if err != nil {
		rec.Stage(ctx, StageLoad, StatusFailed, written, start, err)
		return o.failStage(log, StageLoad, start, err)
	}

	rec.Stage(ctx, StageLoad, StatusSuccess, written, start, nil)
	o.finishStage(log, StageLoad, start, written)
	return nil
}

// load runs the two-phase dimensional load: dimensions first to populate the
// key map, then facts resolved against it.
func (o *Orchestrator) load(ctx context.Context, rec *Recorder, log *logger.Logger, canonicals []dataset.Canonical, stats *RunStats) (int64, error) {
	calStart, calEnd, err := o.cfg.Warehouse.Calendar.Range()
	if err != nil {
		return 0, err
	}
	keys := warehouse.NewSurrogateKeyMap(calStart, calEnd)

	dims := NewDimensionLoader(o.wh, rec, log, o.cfg.Runtime.BatchSize)
	dimRows, err := dims.Load(ctx, canonicals, keys)
	stats.DimensionRows = dimRows
	if err != nil {
		return dimRows, err
	}

	total := dimRows
	for _, d := range canonicals {
		if d.Kind != dataset.Sales {
			continue
		}
		facts := NewFactLoader(o.wh, rec, log, o.cfg.Runtime.BatchSize, o.cfg.Runtime.LoaderWorkers)
		fs, err := facts.Load(ctx, d, keys)
		stats.FactRows = fs.Written
		stats.FactSkipped = fs.Skipped
		total += fs.Written
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func (o *Orchestrator) failStage(log *logger.Logger, stage string, start time.Time, err error) error {
	dur := time.Since(start).Truncate(time.Millisecond)
	log.WithStage(stage).Errorw("stage failed", "duration", dur, "error", err)
	metrics.IncCounter("etl.stage.failures", 1, metrics.Labels{"stage": stage})
	metrics.ObserveDuration("etl.stage.duration", time.Since(start).Seconds(), metrics.Labels{"stage": stage, "status": "failed"})
	return &StageFailure{Stage: stage, Err: err}
}

func (o *Orchestrator) finishStage(log *logger.Logger, stage string, start time.Time, records int64) {
	dur := time.Since(start).Truncate(time.Millisecond)
	log.WithStage(stage).Infow("stage complete", "records", records, "duration", dur)
	metrics.ObserveDuration("etl.stage.duration", time.Since(start).Seconds(), metrics.Labels{"stage": stage, "status": "ok"})
}
