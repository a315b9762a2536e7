package augment

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"scantamper/internal/logging"
	"scantamper/internal/models"
	"scantamper/pkg/annotations"
	"scantamper/pkg/config"
	"scantamper/pkg/model"
	"scantamper/pkg/resolver"
	"scantamper/pkg/scanio"
)

const table = `seriesuid,coordX,coordY,coordZ,diameter_mm
1,20,20,20,4
3,10,12,14,6
`

type fixture struct {
	cfg   *config.Config
	store *scanio.Store
	res   resolver.Resolver
	paths []string
	calls atomic.Int32
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	var paths []string
	for _, name := range []string{"scan_001.npy", "scan_002.npy", "scan_003.npy"} {
		path := filepath.Join(dir, name)
		f, err := os.Create(path)
		require.NoError(t, err)
		require.NoError(t, scanio.WriteNPY(f, make([]float64, 40*40*40), []int{40, 40, 40}))
		require.NoError(t, f.Close())
		paths = append(paths, path)
	}

	tbl, err := annotations.ReadCSV(strings.NewReader(table))
	require.NoError(t, err)
	store := scanio.NewStore(logging.Discard())

	cfg := config.DefaultConfig()
	cfg.Model.PhysicalCubeSize = [3]float64{8, 8, 8}
	cfg.Augment.OutputDir = filepath.Join(dir, "out")

	return &fixture{
		cfg:   cfg,
		store: store,
		res:   &resolver.AnnotationResolver{Table: tbl, Geometry: store, Source: "table"},
		paths: paths,
	}
}

func (f *fixture) artifact() *model.Artifact {
	return &model.Artifact{
		Name: "stub",
		Generator: model.Func{
			Shape: models.Shape{Z: 8, Y: 8, X: 8},
			Fn: func(ctx context.Context, c *models.Volume) (*models.Volume, error) {
				f.calls.Add(1)
				return models.NewFilledVolume(c.Shape, 5), nil
			},
		},
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.cfg, f.store, f.res, f.artifact(), logging.Discard())

	report := svc.Run(context.Background(), f.paths)

	require.Len(t, report.Completed, 2)
	require.Len(t, report.Failures, 1)
	assert.NotEmpty(t, report.RunID)
	assert.Equal(t, f.paths[1], report.Failures[0].ScanPath)
	assert.Equal(t, "resolve", report.Failures[0].Stage)
	assert.True(t, resolver.IsNotFound(report.Failures[0].Err))
	assert.Equal(t, int32(2), f.calls.Load())

	assert.Equal(t, f.paths[0], report.Completed[0].Instance.ScanPath)
	assert.Equal(t, [3]int{20, 20, 20}, report.Completed[0].Result.Anchor)
	assert.Equal(t, [3]int{14, 12, 10}, report.Completed[1].Result.Anchor)

	for _, o := range report.Completed {
		assert.Equal(t, filepath.Join(f.cfg.Augment.OutputDir, "generated_"+strings.TrimSuffix(filepath.Base(o.Instance.ScanPath), ".npy")+".zvol"), o.Output)
		assert.FileExists(t, o.Output)
	}

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scan_002.npy")
}

func TestRunWithWorkers(t *testing.T) {
	f := newFixture(t)
	f.cfg.Augment.Workers = 3
	f.cfg.Model.SerializeInference = true
	f.cfg.Augment.OutputFormat = scanio.FormatNPY
	artifact := f.artifact()
	svc := NewService(f.cfg, f.store, f.res, artifact, logging.Discard())

	report := svc.Run(context.Background(), f.paths)
	require.Len(t, report.Completed, 2)
	require.Len(t, report.Failures, 1)

	saved, err := f.store.Load(report.Completed[0].Output)
	require.NoError(t, err)
	assert.Equal(t, 5.0, saved.Volume.At(20, 20, 20))
	assert.Equal(t, 0.0, saved.Volume.At(0, 0, 0))

	// the shared artifact is not modified
	assert.IsType(t, model.Func{}, artifact.Generator)
}

func TestRunLoadFailure(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.paths[2]))
	f.res = &stubResolver{}
	svc := NewService(f.cfg, f.store, f.res, f.artifact(), logging.Discard())

	report := svc.Run(context.Background(), f.paths)
	require.Len(t, report.Completed, 2)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, "load", report.Failures[0].Stage)
}

func TestRunFailuresKeepInputOrder(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, os.Remove(f.paths[0]))
	f.res = rejectResolver{path: f.paths[2]}
	svc := NewService(f.cfg, f.store, f.res, f.artifact(), logging.Discard())

	report := svc.Run(context.Background(), f.paths)
	require.Len(t, report.Completed, 1)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, f.paths[0], report.Failures[0].ScanPath)
	assert.Equal(t, "load", report.Failures[0].Stage)
	assert.Equal(t, f.paths[2], report.Failures[1].ScanPath)
	assert.Equal(t, "resolve", report.Failures[1].Stage)
}

func TestRunDegradedStillSaves(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.cfg, f.store, f.res, model.DegradedArtifact(os.ErrNotExist), logging.Discard())

	report := svc.Run(context.Background(), f.paths)
	require.Len(t, report.Completed, 2)
	for _, o := range report.Completed {
		assert.True(t, o.Result.Skipped)
		assert.FileExists(t, o.Output)
	}
}

func TestRunCancelled(t *testing.T) {
	f := newFixture(t)
	f.res = &stubResolver{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := NewService(f.cfg, f.store, f.res, f.artifact(), logging.Discard()).Run(ctx, f.paths)
	assert.Empty(t, report.Completed)
	assert.Len(t, report.Failures, 3)
	assert.ErrorIs(t, report.Err(), context.Canceled)
}

type stubResolver struct{}

func (stubResolver) Resolve(ctx context.Context, scanPath string) (models.Coordinate, error) {
	return models.VoxelCoordinate(20, 20, 20), nil
}

type rejectResolver struct{ path string }

func (r rejectResolver) Resolve(ctx context.Context, scanPath string) (models.Coordinate, error) {
	if scanPath == r.path {
		return models.Coordinate{}, &resolver.NotFoundError{ScanPath: scanPath, Source: "test", Err: os.ErrNotExist}
	}
	return models.VoxelCoordinate(20, 20, 20), nil
}
