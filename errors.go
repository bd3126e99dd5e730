package csv2iceberg

import "fmt"

// Stage names a step of the pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageBootstrap Stage = "bootstrap"
	StageUpload    Stage = "upload"
	StageSession   Stage = "session"
	StageTable     Stage = "table"
)

// StageError reports the pipeline stage that failed.
type StageError struct {
	Stage Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying cause.
func (e *StageError) Unwrap() error {
	return e.Err
}
