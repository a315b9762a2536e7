package manipulator

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"scantamper/internal/models"
	"scantamper/pkg/blend"
	"scantamper/pkg/cube"
	"scantamper/pkg/geometry"
	"scantamper/pkg/intensity"
	"scantamper/pkg/metrics"
	"scantamper/pkg/model"
	"scantamper/pkg/visualization"
)

// Result describes one Tamper call.
type Result struct {
	// Anchor is the voxel the cube was centered on.
	Anchor [3]int

	// Shape is the extraction shape in scan voxels.
	Shape models.Shape

	// Skipped is set when the manipulator is degraded and nothing was changed.
	Skipped bool

	// Repaired counts voxels replaced by overflow repair.
	Repaired int

	// Metrics compares the clean cube with the final one.
	Metrics metrics.Comparison

	Duration time.Duration
}

// Tamper replaces the region around coord with a synthesized cube. World
// coordinates are converted with the scan's own geometry.
func (m *Manipulator) Tamper(ctx context.Context, coord models.Coordinate) (*Result, error) {
	if m.scan == nil {
		return nil, ErrScanNotLoaded
	}
	start := time.Now()
	tc := m.cfg.Tamper

	// 1. target voxel
	anchor := geometry.Resolve(coord, m.scan.Geometry)
	res := &Result{Anchor: anchor}

	if m.Degraded() {
		m.logger.Warn("skipping tamper: no model", "scan", m.scan.Path, "target", coord.String())
		res.Skipped = true
		m.state = Tampered
		return res, nil
	}
	if tc.Equalize && m.artifact.Equalizer == nil {
		return nil, ErrNoEqualizer
	}

	// 2. extraction shape; mismatches with the model are settled before cutting
	shape := cube.ScaledShape(m.cfg.Model.PhysicalCubeSize, m.scan.Spacing)
	inputShape := m.artifact.Generator.InputShape()
	if shape != inputShape && !tc.Resample {
		return nil, fmt.Errorf("%w: %s vs %s", ErrShapeMismatch, shape, inputShape)
	}
	res.Shape = shape

	m.logger.Debug("cutting out target region", "anchor", anchor, "shape", shape.String())
	vol := m.scan.Volume

	// 3. extract
	clean := cube.Extract(vol, anchor, shape, tc.FillValue)
	m.saveStage("01_clean_cube", clean)

	// 4. model input
	input := clean.Clone()
	if tc.Equalize {
		m.stats.Denormalize(input)
		m.artifact.Equalizer.Equalize(input)
		m.artifact.Params.ToModelRange(input)
	}
	if shape != inputShape {
		input = cube.Resample(input, inputShape)
	}
	if lims, ok := maskLimits(tc.MaskZ, tc.MaskY, tc.MaskX, inputShape); ok {
		cube.ZeroRegion(input, lims)
	}
	m.saveStage("02_model_input", input)

	// 5. inference under a deadline
	output, err := m.infer(ctx, input)
	if err != nil {
		return nil, err
	}
	m.saveStage("03_model_output", output)

	if shape != inputShape {
		output = cube.Resample(output, shape)
	}

	// 6, 7. back to scan intensities
	if tc.Equalize {
		intensity.Clamp(output, tc.ClampLow, tc.ClampHigh)
		m.artifact.Params.FromModelRange(output)
		m.artifact.Equalizer.Dequalize(output)
		res.Repaired = intensity.RepairOverflow(output, tc.Ceiling, tc.Floor, tc.RepairWindow)
		m.stats.Normalize(output)
		if res.Repaired > 0 {
			m.logger.Debug("repaired overflow", "voxels", res.Repaired)
		}
	}

	// 8. write back
	m.logger.Debug("pasting sample into scan")
	if m.cfg.TouchUp.Enabled {
		o := m.touchUpOptions()
		before := cube.Extract(vol, anchor, blend.ExtendedShape(shape, o.ExtentFactor), o.Fill)
		blend.Paste(vol, output, anchor)
		blend.TouchUp(vol, before, anchor, shape, o)
	} else {
		blend.Paste(vol, output, anchor)
	}

	final := cube.Extract(vol, anchor, shape, tc.FillValue)
	m.saveStage("04_final_cube", final)
	res.Metrics = metrics.Compare(clean.Data, final.Data)
	res.Duration = time.Since(start)
	m.state = Tampered

	m.logger.Info("tampered scan",
		"scan", m.scan.Path,
		"target", coord.String(),
		"anchor", anchor,
		"shape", shape.String(),
		"rmse", res.Metrics.RMSE,
		"ssim", res.Metrics.SSIM,
		"duration", res.Duration)
	return res, nil
}

func (m *Manipulator) infer(ctx context.Context, input *models.Volume) (*models.Volume, error) {
	timeout := m.cfg.Model.InferenceTimeout
	if m.artifact.Timeout > 0 {
		timeout = m.artifact.Timeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	out, err := model.Infer(ctx, m.artifact.Generator, input)
	if err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	return out, nil
}

// touchUpOptions converts the configured thresholds to the normalized units of
// the loaded scan.
func (m *Manipulator) touchUpOptions() blend.Options {
	tu := m.cfg.TouchUp
	o := blend.Options{
		ExtentFactor:      tu.ExtentFactor,
		KernelSize:        tu.KernelSize,
		SigmoidCenter:     tu.SigmoidCenter,
		SigmoidWidth:      tu.SigmoidWidth,
		BackgroundCeiling: tu.BackgroundCeiling,
		CopyNoise:         tu.CopyNoise,
		CopyNoiseCeiling:  tu.CopyNoiseCeiling,
		NoiseScale:        tu.NoiseScale,
		NoiseCoarsening:   tu.NoiseCoarsening,
		ReferenceLocation: tu.ReferenceLocation,
		Seed:              tu.Seed,
	}.InUnits(m.stats.Mean, m.stats.Std)
	o.Fill = m.cfg.Tamper.FillValue
	return o
}

// maskLimits turns the configured mask ranges into box limits over shape. An
// unset axis spans the whole cube; with no axis set there is no mask.
func maskLimits(z, y, x []int, shape models.Shape) ([3][2]int, bool) {
	if len(z) == 0 && len(y) == 0 && len(x) == 0 {
		return [3][2]int{}, false
	}
	d := shape.Dims()
	var lims [3][2]int
	for i, r := range [][]int{z, y, x} {
		if len(r) == 2 {
			lims[i] = [2]int{r[0], r[1]}
		} else {
			lims[i] = [2]int{0, d[i]}
		}
	}
	return lims, true
}

// saveStage writes a cube as z slices when intermediary results are enabled.
// Failures are logged only.
func (m *Manipulator) saveStage(stage string, c *models.Volume) {
	if !m.cfg.Output.SaveIntermediaryResults {
		return
	}
	dir := filepath.Join(m.intermediaryDir(), stage)
	if err := visualization.NewViewer(c).SaveSliceSequence("z", dir); err != nil {
		m.logger.Warn("saving intermediary result", "stage", stage, "error", err)
	}
}
