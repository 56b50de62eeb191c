package pipeline

import "fmt"

// Stage names as they appear in audit records.
const (
	StageExtract   = "Extract"
	StageTransform = "Transform"
	StageLoad      = "Load"
)

// Audit statuses.
const (
	StatusStarted = "Started"
	StatusSuccess = "Success"
	StatusFailed  = "Failed"
)

// StageFailure wraps the first stage error of a run. A run has at most one
// failed stage; stages after it never start.
type StageFailure struct {
	Stage string
	Err   error
}

func (e *StageFailure) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailure) Unwrap() error { return e.Err }
