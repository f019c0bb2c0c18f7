package reconcile

import (
	"github.com/rotisserie/eris"

	"github.com/renalreg/timeline-sync/internal/model"
)

// VerifyReconciled guards the handoff to persistence. A reconciled row
// without a patient or with a source type outside the configured order means
// the pipeline corrupted data rather than hit a recoverable condition, so the
// first offending row aborts the run.
func VerifyReconciled(rows []model.Episode, order PriorityOrder) error {
	for i := range rows {
		if rows[i].PatientID <= 0 {
			return eris.Errorf("reconcile: reconciled row %d has no patient id", i)
		}
		if !order.Contains(rows[i].SourceType) {
			return eris.Errorf("reconcile: reconciled row %d has source type %q outside the priority order", i, rows[i].SourceType)
		}
	}
	return nil
}
