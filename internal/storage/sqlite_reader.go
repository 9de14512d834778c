package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

// ErrNoData indicates that no measurements exist for the given parameters.
var ErrNoData = errors.New("no data available")

// MeasurementReader provides an iterator-based interface for reading archived
// measurements with optional filtering.
type MeasurementReader interface {
	// Run returns the run this reader is accessing.
	Run() *Run

	// Next advances the iterator and returns true if there is another
	// measurement to read, false when the iteration is complete or if an error occurred.
	Next(context.Context) bool

	// Current returns the current measurement.
	// If called after Next() returns false, the behavior is undefined.
	Current() Record

	// Error returns any error that occurred during iteration.
	// If Next() returns false, Error() should be checked to distinguish between
	// end of data and an error condition.
	Error() error

	// Close releases any resources associated with the reader.
	// After Close is called, the reader should not be used.
	Close() error
}

// ReaderOption configures a measurement reader with filtering criteria.
type ReaderOption func(*SqliteMeasurementReader)

// WithOrientation restricts the reader to one orientation pass.
func WithOrientation(o field.Orientation) ReaderOption {
	return func(r *SqliteMeasurementReader) {
		r.orientation = &o
	}
}

// WithTimeRange excludes measurements taken outside [start, end].
func WithTimeRange(start, end time.Time) ReaderOption {
	return func(r *SqliteMeasurementReader) {
		r.startTime = &start
		r.endTime = &end
	}
}

// WithPresentOnly skips cells without a reading.
func WithPresentOnly() ReaderOption {
	return func(r *SqliteMeasurementReader) {
		r.presentOnly = true
	}
}

// SqliteMeasurementReader implements MeasurementReader for the SQLite backend.
type SqliteMeasurementReader struct {
	db *sql.DB

	runID int64
	run   *Run

	orientation *field.Orientation // Optional orientation filter
	startTime   *time.Time         // Optional start of time range filter
	endTime     *time.Time         // Optional end of time range filter
	presentOnly bool

	current Record
	rows    *sql.Rows
	err     error
}

var _ MeasurementReader = (*SqliteMeasurementReader)(nil)

func newSqliteMeasurementReader(ctx context.Context, db *sql.DB, runID int64, opts ...ReaderOption) (*SqliteMeasurementReader, error) {
	r := &SqliteMeasurementReader{
		db:    db,
		runID: runID,
	}
	for _, opt := range opts {
		opt(r)
	}
	if err := r.init(ctx); err != nil {
		return nil, fmt.Errorf("initializing reader: %w", err)
	}
	return r, nil
}

func (r *SqliteMeasurementReader) init(ctx context.Context) error {
	if r.db == nil {
		return errors.New("database connection required")
	}
	if r.runID <= 0 {
		return errors.New("run ID required")
	}

	steps := []struct {
		msg string
		fn  func(context.Context) error
	}{
		{msg: "loading run", fn: r.loadRun},
		{msg: "validating filters", fn: r.validateFilters},
		{msg: "initializing query", fn: r.initQuery},
	}
	for _, s := range steps {
		if err := s.fn(ctx); err != nil {
			return fmt.Errorf("%s: %w", s.msg, err)
		}
	}
	return nil
}

func (r *SqliteMeasurementReader) loadRun(ctx context.Context) (err error) {
	stmt, err := r.db.PrepareContext(ctx, selectRunSQL)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer closeWithError(stmt, &err)

	var data runData
	if err = stmt.QueryRowContext(ctx, r.runID).Scan(&data.ID, &data.UUID, &data.StartedAt, &data.BaseName, &data.Config); err != nil {
		return fmt.Errorf("querying run: %w", err)
	}

	r.run = toRun(&data)
	return
}

func (r *SqliteMeasurementReader) validateFilters(context.Context) error {
	if r.startTime != nil && r.endTime != nil && r.startTime.After(*r.endTime) {
		return fmt.Errorf("start time %s is after end time %s", r.startTime, r.endTime)
	}
	return nil
}

func (r *SqliteMeasurementReader) initQuery(ctx context.Context) (err error) {
	var sb strings.Builder
	sb.WriteString(selectMeasurementsSQL)

	args := []any{r.runID}

	if r.orientation != nil {
		sb.WriteString(" AND orientation = ?")
		args = append(args, int(*r.orientation))
	}
	if r.startTime != nil {
		sb.WriteString(" AND measured_at >= ?")
		args = append(args, r.startTime.UTC())
	}
	if r.endTime != nil {
		sb.WriteString(" AND measured_at <= ?")
		args = append(args, r.endTime.UTC())
	}
	if r.presentOnly {
		sb.WriteString(" AND power IS NOT NULL")
	}
	sb.WriteString(" ORDER BY orientation, idx")

	if r.rows, err = r.db.QueryContext(ctx, sb.String(), args...); err != nil {
		return err
	}
	return nil
}

func (r *SqliteMeasurementReader) Run() *Run {
	return r.run
}

func (r *SqliteMeasurementReader) Next(ctx context.Context) bool {
	if r.err != nil || r.rows == nil {
		return false
	}

	select {
	case <-ctx.Done():
		r.err = ctx.Err()
		return false
	default:
	}

	if !r.rows.Next() {
		return false
	}

	var data measurementData
	if err := r.rows.Scan(&data.Orientation, &data.Index, &data.X, &data.Y, &data.Power, &data.MeasuredAt); err != nil {
		r.err = fmt.Errorf("scanning measurement: %w", err)
		return false
	}

	r.current = toRecord(&data)
	return true
}

func (r *SqliteMeasurementReader) Current() Record {
	return r.current
}

func (r *SqliteMeasurementReader) Error() error {
	if r.err != nil {
		return r.err
	}
	if r.rows != nil {
		return r.rows.Err()
	}
	return nil
}

func (r *SqliteMeasurementReader) Close() error {
	if r.rows != nil {
		err := r.rows.Close()
		r.rows = nil
		return err
	}
	return nil
}
