// Package audit records pipeline tables at named checkpoints so a run can
// be reviewed after the fact without re-querying the source systems.
package audit

import "github.com/renalreg/timeline-sync/internal/model"

// Stage labels emitted by the pipelines. Recorders accept any label; these
// are the ones both pipelines use, in order.
const (
	StageImported  = "imported"
	StageFormatted = "formatted"
	StageGrouped   = "grouped"
	StageReduced   = "reduced"
	StageSplit     = "split"
	StageWritten   = "written"
)

// Recorder captures episode tables at named pipeline stages. Implementations
// must tolerate the same label being recorded more than once per run; the
// treatment pipeline groups twice.
type Recorder interface {
	// Checkpoint records the state of a pipeline table at a named stage.
	Checkpoint(label string, episodes []model.Episode)

	// Failure records an episode the store could not persist.
	Failure(episode model.Episode, err error)

	// Close finalizes the audit output. No further calls are valid after
	// Close returns.
	Close() error
}

// NopRecorder discards everything. Used for --no-audit and in tests.
type NopRecorder struct{}

func (NopRecorder) Checkpoint(string, []model.Episode) {}

func (NopRecorder) Failure(model.Episode, error) {}

func (NopRecorder) Close() error { return nil }
