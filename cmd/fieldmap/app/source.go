package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
	"github.com/roman-kulish/nearfield-scanner/internal/storage"
)

// Source loads the scans of one run.
type Source interface {
	Orientation(ctx context.Context, o field.Orientation) (*field.OrientationScan, error)
	Combined(ctx context.Context) (*field.CombinedField, error)
	Close() error
}

// ErrNotScanned is returned for an orientation the run never recorded.
var ErrNotScanned = errors.New("orientation not scanned")

// resynthesize recombines a run from its orientation scans. The 45° scan is optional.
func resynthesize(ctx context.Context, src Source, logger *slog.Logger) (*field.CombinedField, error) {
	s0, err := src.Orientation(ctx, field.Orientation0)
	if err != nil {
		return nil, err
	}
	s90, err := src.Orientation(ctx, field.Orientation90)
	if err != nil {
		return nil, err
	}

	s45, err := src.Orientation(ctx, field.Orientation45)
	if errors.Is(err, ErrNotScanned) {
		logger.Info("no 45° scan, the angle is not estimated")
		s45 = nil
	} else if err != nil {
		return nil, err
	}

	cf, err := field.Combine(s0, s90, s45)
	if err != nil {
		return nil, fmt.Errorf("recombining scans: %w", err)
	}
	if s45 != nil && !cf.HasAngle {
		logger.Warn("45° scan does not align with the 0° and 90° scans, the angle is not estimated")
	}
	return cf, nil
}

// artifactSource reads the JSON files written next to the artifact base name.
type artifactSource struct {
	paths storage.Paths
}

func newArtifactSource(base string) *artifactSource {
	return &artifactSource{paths: storage.NewPaths(base)}
}

func (s *artifactSource) Orientation(_ context.Context, o field.Orientation) (*field.OrientationScan, error) {
	path := s.paths.Orientation(o)
	scan, err := storage.LoadOrientation(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNotScanned)
	}
	return scan, err
}

func (s *artifactSource) Combined(context.Context) (*field.CombinedField, error) {
	return storage.LoadCombined(s.paths.Combined())
}

func (s *artifactSource) Close() error {
	return nil
}

// archiveSource reads a run from the SQLite archive. The archive holds no
// combined map, so Combined always recombines the orientation scans.
type archiveSource struct {
	store    *storage.SqliteStore
	run      *storage.Run
	metadata field.Metadata
	logger   *slog.Logger
}

func newArchiveSource(ctx context.Context, dbPath string, runID int64, logger *slog.Logger) (*archiveSource, error) {
	if _, err := os.Stat(dbPath); err != nil && os.IsNotExist(err) {
		return nil, fmt.Errorf("database file '%s' does not exist: %w", dbPath, err)
	}

	store := storage.NewSqliteStore(dbPath)
	run, err := findRun(ctx, store, runID)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	s := &archiveSource{store: store, run: run, logger: logger}
	s.metadata = runMetadata(run, logger)
	return s, nil
}

// findRun returns the run with id, or the latest run when id is zero.
func findRun(ctx context.Context, store *storage.SqliteStore, id int64) (*storage.Run, error) {
	if id > 0 {
		return store.Run(ctx, id)
	}

	runs, err := store.Runs(ctx)
	if err != nil {
		return nil, err
	}
	if len(runs) == 0 {
		return nil, fmt.Errorf("archive has no runs: %w", storage.ErrNoData)
	}

	latest := runs[0]
	for _, r := range runs[1:] {
		if r.ID > latest.ID {
			latest = r
		}
	}
	return latest, nil
}

// recordedConfig is the subset of the scanner configuration archived with each run.
type recordedConfig struct {
	Radio struct {
		CenterFrequency float64 `json:"centerFrequency"`
		Bandwidth       float64 `json:"bandwidth"`
		Gain            float64 `json:"gain"`
	} `json:"radio"`
	Scan struct {
		BoardWidth  float64 `json:"boardWidth"`
		BoardHeight float64 `json:"boardHeight"`
		Resolution  float64 `json:"resolution"`
	} `json:"scan"`
	Sampler struct {
		SamplesPerAttempt int `json:"samplesPerAttempt"`
	} `json:"sampler"`
}

func runMetadata(run *storage.Run, logger *slog.Logger) field.Metadata {
	md := field.Metadata{StartedAt: run.StartedAt}
	if run.Config == nil {
		return md
	}

	var rc recordedConfig
	if err := json.Unmarshal([]byte(*run.Config), &rc); err != nil {
		logger.Warn("ignoring unreadable run configuration", slog.Int64("run", run.ID), slog.String("error", err.Error()))
		return md
	}

	md.BoardSize = [2]float64{rc.Scan.BoardWidth, rc.Scan.BoardHeight}
	md.Resolution = rc.Scan.Resolution
	md.CenterFrequency = rc.Radio.CenterFrequency
	md.Bandwidth = rc.Radio.Bandwidth
	md.Gain = rc.Radio.Gain
	md.Averages = rc.Sampler.SamplesPerAttempt
	return md
}

func (s *archiveSource) Orientation(ctx context.Context, o field.Orientation) (*field.OrientationScan, error) {
	scan, err := s.store.LoadOrientation(ctx, s.run.ID, o)
	if errors.Is(err, storage.ErrNoData) {
		return nil, fmt.Errorf("run %d: %w", s.run.ID, ErrNotScanned)
	}
	if err != nil {
		return nil, err
	}

	md := s.metadata
	md.Orientation = o
	scan.Metadata = md
	return scan, nil
}

func (s *archiveSource) Combined(ctx context.Context) (*field.CombinedField, error) {
	return resynthesize(ctx, s, s.logger)
}

func (s *archiveSource) Close() error {
	return s.store.Close()
}
