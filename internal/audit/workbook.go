package audit

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/model"
)

var episodeHeader = []string{
	"id", "patient_id", "modality", "from_date", "to_date",
	"source_type", "source_group_id", "created_at", "modified_at", "extra",
}

var failureHeader = []string{"id", "patient_id", "source_type", "from_date", "error"}

// WorkbookRecorder writes one xlsx workbook per pipeline run: a summary
// sheet, one sheet per checkpoint, and a failed sheet when any write fails.
// Safe for use from the pipeline and the store concurrently.
type WorkbookRecorder struct {
	mu     sync.Mutex
	file   *xlsx.File
	path   string
	seen   map[string]int
	failed *xlsx.Sheet
	rows   int
	log    *zap.Logger
}

// NewWorkbookRecorder creates the audit workbook for one pipeline run under
// dir. The filename carries the pipeline name and the run id so workbooks
// line up with run-log entries.
func NewWorkbookRecorder(dir, pipeline string, runID uuid.UUID) (*WorkbookRecorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "audit: create directory %s", dir)
	}

	f := xlsx.NewFile()
	summary, err := f.AddSheet("run")
	if err != nil {
		return nil, eris.Wrap(err, "audit: add summary sheet")
	}
	addPair(summary, "pipeline", pipeline)
	addPair(summary, "run_id", runID.String())
	addPair(summary, "started_at", time.Now().UTC().Format(time.RFC3339))

	return &WorkbookRecorder{
		file: f,
		path: filepath.Join(dir, fmt.Sprintf("%s_%s.xlsx", pipeline, runID)),
		seen: make(map[string]int),
		log: zap.L().With(
			zap.String("component", "audit"),
			zap.String("pipeline", pipeline),
		),
	}, nil
}

// Path returns where Close will save the workbook.
func (w *WorkbookRecorder) Path() string {
	return w.path
}

// Checkpoint adds one sheet holding the table as it stood at this stage.
// Repeated labels get a numeric suffix so both grouping passes stay visible.
func (w *WorkbookRecorder) Checkpoint(label string, episodes []model.Episode) {
	w.mu.Lock()
	defer w.mu.Unlock()

	name := w.sheetName(label)
	sheet, err := w.file.AddSheet(name)
	if err != nil {
		w.log.Warn("audit: add checkpoint sheet failed",
			zap.String("sheet", name), zap.Error(err))
		return
	}

	header := sheet.AddRow()
	for _, col := range episodeHeader {
		header.AddCell().SetString(col)
	}
	for _, ep := range episodes {
		writeEpisode(sheet, ep)
	}
	w.rows += len(episodes)

	w.log.Debug("audit checkpoint",
		zap.String("stage", label), zap.Int("rows", len(episodes)))
}

// Failure appends the episode and the error to the failed sheet, creating
// the sheet on first use.
func (w *WorkbookRecorder) Failure(ep model.Episode, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.failed == nil {
		sheet, addErr := w.file.AddSheet("failed")
		if addErr != nil {
			w.log.Warn("audit: add failed sheet failed", zap.Error(addErr))
			return
		}
		header := sheet.AddRow()
		for _, col := range failureHeader {
			header.AddCell().SetString(col)
		}
		w.failed = sheet
	}

	row := w.failed.AddRow()
	row.AddCell().SetString(strPtr(ep.ID))
	row.AddCell().SetString(strconv.FormatInt(ep.PatientID, 10))
	row.AddCell().SetString(string(ep.SourceType))
	row.AddCell().SetString(date(ep.FromDate))
	row.AddCell().SetString(err.Error())
}

// Close saves the workbook. Call exactly once, after the run finishes.
func (w *WorkbookRecorder) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.file.Save(w.path); err != nil {
		return eris.Wrapf(err, "audit: save workbook %s", w.path)
	}
	w.log.Info("audit workbook written",
		zap.String("path", w.path), zap.Int("rows", w.rows))
	return nil
}

// sheetName disambiguates repeated labels: grouped, grouped_2, grouped_3.
func (w *WorkbookRecorder) sheetName(label string) string {
	w.seen[label]++
	if n := w.seen[label]; n > 1 {
		return fmt.Sprintf("%s_%d", label, n)
	}
	return label
}

func writeEpisode(sheet *xlsx.Sheet, ep model.Episode) {
	row := sheet.AddRow()
	row.AddCell().SetString(strPtr(ep.ID))
	row.AddCell().SetString(strconv.FormatInt(ep.PatientID, 10))
	row.AddCell().SetString(int64Ptr(ep.Modality))
	row.AddCell().SetString(date(ep.FromDate))
	row.AddCell().SetString(datePtr(ep.ToDate))
	row.AddCell().SetString(string(ep.SourceType))
	row.AddCell().SetString(int64Ptr(ep.SourceGroupID))
	row.AddCell().SetString(timePtr(ep.CreatedAt))
	row.AddCell().SetString(timePtr(ep.ModifiedAt))
	row.AddCell().SetString(extra(ep.Extra))
}

func addPair(sheet *xlsx.Sheet, key, value string) {
	row := sheet.AddRow()
	row.AddCell().SetString(key)
	row.AddCell().SetString(value)
}

func date(t time.Time) string {
	return t.Format("2006-01-02")
}

func datePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return date(*t)
}

func timePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func int64Ptr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

// extra renders the free-form attributes deterministically, sorted by key.
func extra(m map[string]any) string {
	if len(m) == 0 {
		return ""
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += "; "
		}
		out += fmt.Sprintf("%s=%v", k, m[k])
	}
	return out
}
