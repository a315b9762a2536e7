// Package augment tampers with a batch of scans using one shared model.
package augment

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"scantamper/internal/models"
	"scantamper/pkg/config"
	"scantamper/pkg/manipulator"
	"scantamper/pkg/model"
	"scantamper/pkg/resolver"
	"scantamper/pkg/scanio"
)

// Outcome is a successfully tampered scan.
type Outcome struct {
	Instance models.Instance
	Output   string
	Result   *manipulator.Result
}

// Failure is a scan that could not be processed.
type Failure struct {
	ScanPath string
	Stage    string
	Err      error
}

func (f Failure) Error() string {
	return fmt.Sprintf("%s: %s: %v", f.ScanPath, f.Stage, f.Err)
}

func (f Failure) Unwrap() error { return f.Err }

// Report summarizes a batch run. Completed and Failures keep input order.
type Report struct {
	RunID     string
	Completed []Outcome
	Failures  []Failure
	Duration  time.Duration
}

// Err joins all failures, or returns nil when every scan was processed.
func (r *Report) Err() error {
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Service drives manipulators over a batch of scans.
type Service struct {
	cfg      *config.Config
	store    *scanio.Store
	resolver resolver.Resolver
	artifact *model.Artifact
	logger   *slog.Logger
}

// NewService returns a service sharing artifact between all scans. The artifact
// is never modified.
func NewService(cfg *config.Config, store *scanio.Store, res resolver.Resolver, artifact *model.Artifact, logger *slog.Logger) *Service {
	return &Service{cfg: cfg, store: store, resolver: res, artifact: artifact, logger: logger}
}

// Instances resolves the tamper coordinate of every scan. Scans that cannot be
// resolved are returned as failures.
func (s *Service) Instances(ctx context.Context, scanPaths []string) ([]models.Instance, []Failure) {
	var (
		instances []models.Instance
		failures  []Failure
	)
	for _, path := range scanPaths {
		coord, err := s.resolver.Resolve(ctx, path)
		if err != nil {
			s.logger.Warn("cannot resolve tamper target", "scan", path, "error", err)
			failures = append(failures, Failure{ScanPath: path, Stage: "resolve", Err: err})
			continue
		}
		instances = append(instances, models.Instance{ScanPath: path, Coordinate: coord})
	}
	return instances, failures
}

// Run resolves and tampers every scan, saving each under the configured prefix
// plus its base name. One scan's failure never stops the others.
func (s *Service) Run(ctx context.Context, scanPaths []string) *Report {
	start := time.Now()
	report := &Report{RunID: uuid.NewString()}
	logger := s.logger.With("run", report.RunID)

	instances, failures := s.Instances(ctx, scanPaths)
	report.Failures = failures

	workers := max(s.cfg.Augment.Workers, 1)
	artifact := s.artifact
	if workers > 1 && s.cfg.Model.SerializeInference && artifact != nil && !artifact.Degraded {
		artifact = artifact.WithGenerator(model.NewSerialized(artifact.Generator))
	}

	logger.Info("starting batch", "scans", len(scanPaths), "resolved", len(instances), "workers", workers)

	outcomes := make([]*Outcome, len(instances))
	fails := make([]*Failure, len(instances))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, inst := range instances {
		g.Go(func() error {
			out, fail := s.process(gctx, artifact, inst, logger)
			outcomes[i], fails[i] = out, fail
			return nil
		})
	}
	g.Wait()

	for i := range instances {
		if outcomes[i] != nil {
			report.Completed = append(report.Completed, *outcomes[i])
		}
		if fails[i] != nil {
			report.Failures = append(report.Failures, *fails[i])
		}
	}
	order := make(map[string]int, len(scanPaths))
	for i, path := range slices.Backward(scanPaths) {
		order[path] = i
	}
	slices.SortStableFunc(report.Failures, func(a, b Failure) int {
		return cmp.Compare(order[a.ScanPath], order[b.ScanPath])
	})
	report.Duration = time.Since(start)

	logger.Info("batch finished",
		"completed", len(report.Completed),
		"failed", len(report.Failures),
		"duration", report.Duration)
	return report
}

func (s *Service) process(ctx context.Context, artifact *model.Artifact, inst models.Instance, logger *slog.Logger) (*Outcome, *Failure) {
	fail := func(stage string, err error) (*Outcome, *Failure) {
		logger.Error("scan failed", "scan", inst.ScanPath, "stage", stage, "error", err)
		return nil, &Failure{ScanPath: inst.ScanPath, Stage: stage, Err: err}
	}
	if err := ctx.Err(); err != nil {
		return fail("start", err)
	}

	m := manipulator.New(s.cfg, s.store, logger)
	if artifact != nil {
		m.UseArtifact(artifact)
	} else {
		m.UseArtifact(model.DegradedArtifact(errors.New("no model")))
	}

	if err := m.LoadScan(inst.ScanPath); err != nil {
		return fail("load", err)
	}
	res, err := m.Tamper(ctx, inst.Coordinate)
	if err != nil {
		return fail("tamper", err)
	}
	ac := s.cfg.Augment
	out, err := m.SaveScan(ac.OutputDir, inst.SaveFilename(ac.OutputPrefix), ac.OutputFormat)
	if err != nil {
		return fail("save", err)
	}
	return &Outcome{Instance: inst, Output: out, Result: res}, nil
}
