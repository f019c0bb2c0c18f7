package pipeline

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/renalreg/timeline-sync/internal/audit"
	"github.com/renalreg/timeline-sync/internal/identity"
	"github.com/renalreg/timeline-sync/internal/model"
	"github.com/renalreg/timeline-sync/internal/runlog"
	"github.com/renalreg/timeline-sync/internal/source"
	"github.com/renalreg/timeline-sync/internal/store"
	"github.com/renalreg/timeline-sync/internal/transplant"
	"github.com/renalreg/timeline-sync/internal/treatment"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

// --- Radar Mock ---

type mockRadarSource struct {
	mock.Mock
}

func (m *mockRadarSource) Treatments(ctx context.Context) ([]model.Episode, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Episode), args.Error(1)
}

func (m *mockRadarSource) Transplants(ctx context.Context) ([]model.Episode, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Episode), args.Error(1)
}

func (m *mockRadarSource) PatientIdentifiers(ctx context.Context) ([]identity.Identifier, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Identifier), args.Error(1)
}

func (m *mockRadarSource) GroupCodes(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *mockRadarSource) HospitalUnits(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

// --- UKRDC Mock ---

type mockUKRDCSource struct {
	mock.Mock
}

func (m *mockUKRDCSource) Treatments(ctx context.Context, ukrdcIDs []string) ([]treatment.RawTreatment, error) {
	args := m.Called(ctx, ukrdcIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]treatment.RawTreatment), args.Error(1)
}

func (m *mockUKRDCSource) PatientLinks(ctx context.Context) ([]identity.Link, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]identity.Link), args.Error(1)
}

func (m *mockUKRDCSource) ModalityCodes(ctx context.Context) (map[string]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

func (m *mockUKRDCSource) SatelliteUnits(ctx context.Context) (map[string]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// --- Registry Mock ---

type mockRegistrySource struct {
	mock.Mock
}

func (m *mockRegistrySource) Treatments(ctx context.Context, rrNos []int64) ([]treatment.RawTreatment, error) {
	args := m.Called(ctx, rrNos)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]treatment.RawTreatment), args.Error(1)
}

func (m *mockRegistrySource) Transplants(ctx context.Context, rrNos []int64) ([]transplant.RawTransplant, error) {
	args := m.Called(ctx, rrNos)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]transplant.RawTransplant), args.Error(1)
}

func (m *mockRegistrySource) PatientNumbers(ctx context.Context, kind identity.IdentifierKind, values []string) (map[string]int64, error) {
	args := m.Called(ctx, kind, values)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]int64), args.Error(1)
}

// --- Run log fake ---

type fakeRunLog struct {
	startErr    error
	completeErr error
	started     []string
	completed   map[uuid.UUID]map[string]int64
	failed      map[uuid.UUID]string
	ids         []uuid.UUID
}

func newFakeRunLog() *fakeRunLog {
	return &fakeRunLog{
		completed: make(map[uuid.UUID]map[string]int64),
		failed:    make(map[uuid.UUID]string),
	}
}

func (f *fakeRunLog) Start(_ context.Context, pipeline string) (uuid.UUID, error) {
	if f.startErr != nil {
		return uuid.Nil, f.startErr
	}
	id := uuid.New()
	f.started = append(f.started, pipeline)
	f.ids = append(f.ids, id)
	return id, nil
}

func (f *fakeRunLog) Complete(_ context.Context, id uuid.UUID, counts map[string]int64) error {
	if f.completeErr != nil {
		return f.completeErr
	}
	f.completed[id] = counts
	return nil
}

func (f *fakeRunLog) Fail(_ context.Context, id uuid.UUID, errMsg string) error {
	f.failed[id] = errMsg
	return nil
}

// --- Writer fake ---

type fakeWriter struct {
	mu      sync.Mutex
	cfgs    []store.Config
	newRows []model.Episode
	updates []model.Episode
	res     store.Result
	err     error
	calls   int
}

func (f *fakeWriter) factory() WriterFactory {
	return func(cfg store.Config) EpisodeWriter {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.cfgs = append(f.cfgs, cfg)
		return f
	}
}

func (f *fakeWriter) Write(_ context.Context, newRows, updateRows []model.Episode) (store.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.newRows = append(f.newRows, newRows...)
	f.updates = append(f.updates, updateRows...)
	if f.err != nil {
		return store.Result{}, f.err
	}
	if f.res.Inserted == 0 && f.res.Updated == 0 && f.res.Failed == nil {
		return store.Result{Inserted: int64(len(newRows)), Updated: int64(len(updateRows))}, nil
	}
	return f.res, nil
}

// --- Recorder fake ---

type checkpoint struct {
	label string
	rows  []model.Episode
}

type fakeRecorder struct {
	checkpoints []checkpoint
	failures    []store.Failure
	closed      bool
}

func (f *fakeRecorder) factory() RecorderFactory {
	return func(string, uuid.UUID) (audit.Recorder, error) {
		return f, nil
	}
}

func (f *fakeRecorder) Checkpoint(label string, episodes []model.Episode) {
	rows := make([]model.Episode, len(episodes))
	copy(rows, episodes)
	f.checkpoints = append(f.checkpoints, checkpoint{label: label, rows: rows})
}

func (f *fakeRecorder) Failure(episode model.Episode, err error) {
	f.failures = append(f.failures, store.Failure{Episode: episode, Err: err})
}

func (f *fakeRecorder) Close() error {
	f.closed = true
	return nil
}

func (f *fakeRecorder) labels() []string {
	out := make([]string, len(f.checkpoints))
	for i, c := range f.checkpoints {
		out[i] = c.label
	}
	return out
}

// --- Ensure interface compliance ---
var (
	_ RadarSource    = (*mockRadarSource)(nil)
	_ UKRDCSource    = (*mockUKRDCSource)(nil)
	_ RegistrySource = (*mockRegistrySource)(nil)
	_ RadarSource    = (*source.Radar)(nil)
	_ UKRDCSource    = (*source.UKRDC)(nil)
	_ RegistrySource = (*source.RR)(nil)
	_ RunLog         = (*fakeRunLog)(nil)
	_ RunLog         = (*runlog.Log)(nil)
	_ EpisodeWriter  = (*fakeWriter)(nil)
	_ EpisodeWriter  = (*store.Writer)(nil)
	_ audit.Recorder = (*fakeRecorder)(nil)
)
