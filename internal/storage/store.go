package storage

import (
	"context"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

// Store archives scanning runs and their measurements. All operations that
// write to the database should be considered atomic per call.
type Store interface {
	// CreateRun registers a new scanning run and returns it with its identifiers.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - baseName: Artifact base name the run is saved under (e.g. "scan.json")
	//   - config: Optional scan configuration. Can be string, []byte, or JSON-serializable object
	//
	// Returns:
	//   - run: The created run with its database ID and UUID
	//   - error: If run creation fails or context is cancelled
	CreateRun(ctx context.Context, baseName string, config any) (run *Run, err error)

	// Run retrieves a specific run by its ID.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Unique run identifier
	//
	// Returns:
	//   - run: Pointer to run data
	//   - error: If retrieval fails, the run does not exist or context is cancelled
	Run(ctx context.Context, id int64) (run *Run, err error)

	// Runs returns all runs stored in the database, ordered by start time.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//
	// Returns:
	//   - runs: Slice of pointers to run data
	//   - error: If retrieval fails or context is cancelled
	Runs(ctx context.Context) (runs []*Run, err error)

	// StoreMeasurements saves measurements of one orientation pass. The
	// measurement at ms[i] is stored at raster index offset+i; an existing
	// measurement at the same index is replaced. Measurements are written in
	// batches, one transaction per batch.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - runID: ID of the run the measurements belong to
	//   - o: Probe orientation of the pass
	//   - offset: Raster index of ms[0]
	//   - ms: Measurements in raster order
	//
	// Returns:
	//   - error: If storage fails or context is cancelled
	StoreMeasurements(ctx context.Context, runID int64, o field.Orientation, offset int, ms []field.Measurement) error

	// Close releases all database connections and resources.
	// After Close is called, the store instance cannot be reused.
	// It is safe to call Close multiple times.
	//
	// Returns:
	//   - error: If closing fails or some resources cannot be released
	Close() error
}
