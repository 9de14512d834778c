package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

// maxBatchRows keeps a batch insert below SQLite's bound parameter limit.
const maxBatchRows = 500

// SqliteStore handles database operations
type SqliteStore struct {
	dbPath string

	writeDB     *sql.DB
	writeDBOnce sync.Once
	writeDBErr  error

	readDB     *sql.DB
	readDBOnce sync.Once
	readDBErr  error

	closeOnce sync.Once
	closeErr  error
}

var _ Store = (*SqliteStore)(nil)

// NewSqliteStore creates a store backed by the Sqlite database at dbPath.
// Connections are opened lazily; the schema is created on first write.
func NewSqliteStore(dbPath string) *SqliteStore {
	return &SqliteStore{dbPath: dbPath}
}

func runSQLCommand(db *sql.DB, sql string) error {
	_, err := db.Exec(sql)
	return err
}

func (s *SqliteStore) getWriteDB() (*sql.DB, error) {
	s.writeDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "_journal_mode=WAL&_synchronous=NORMAL&_foreign_keys=on"))
		if err != nil {
			s.writeDBErr = fmt.Errorf("opening write connection: %w", err)
			return
		}

		if err = runSQLCommand(db, initSchemaSQL); err != nil {
			_ = db.Close()
			s.writeDBErr = fmt.Errorf("initializing schema: %w", err)
			return
		}

		s.writeDB = db
	})

	return s.writeDB, s.writeDBErr
}

func (s *SqliteStore) getReadDB() (*sql.DB, error) {
	s.readDBOnce.Do(func() {
		db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?%s", s.dbPath, "mode=ro"))
		if err != nil {
			s.readDBErr = fmt.Errorf("opening read connection: %w", err)
			return
		}
		s.readDB = db
	})

	return s.readDB, s.readDBErr
}

func (s *SqliteStore) CreateRun(ctx context.Context, baseName string, config any) (run *Run, err error) {
	var configData sql.NullString

	if config != nil {
		switch c := config.(type) {
		case string:
			configData.Valid = true
			configData.String = c

		case []byte:
			configData.Valid = true
			configData.String = string(c)

		default:
			var p []byte
			if p, err = json.Marshal(config); err != nil {
				err = fmt.Errorf("marshaling config: %w", err)
				return
			}

			configData.Valid = true
			configData.String = string(p)
		}
	}

	db, err := s.getWriteDB()
	if err != nil {
		err = fmt.Errorf("getting write connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, insertRunSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	data := runData{
		UUID:      uuid.NewString(),
		StartedAt: time.Now().UTC(),
		BaseName:  baseName,
		Config:    configData,
	}

	result, err := stmt.ExecContext(ctx, data.UUID, data.StartedAt, data.BaseName, data.Config)
	if err != nil {
		err = fmt.Errorf("inserting run: %w", err)
		return
	}

	if data.ID, err = result.LastInsertId(); err != nil {
		err = fmt.Errorf("getting run ID: %w", err)
		return
	}

	return toRun(&data), nil
}

func (s *SqliteStore) Run(ctx context.Context, id int64) (run *Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	stmt, err := db.PrepareContext(ctx, selectRunSQL)
	if err != nil {
		err = fmt.Errorf("preparing statement: %w", err)
		return
	}
	defer closeWithError(stmt, &err)

	var data runData
	if err = stmt.QueryRowContext(ctx, id).Scan(&data.ID, &data.UUID, &data.StartedAt, &data.BaseName, &data.Config); err != nil {
		err = fmt.Errorf("scanning run: %w", err)
		return
	}

	return toRun(&data), nil
}

func (s *SqliteStore) Runs(ctx context.Context) (runs []*Run, err error) {
	db, err := s.getReadDB()
	if err != nil {
		err = fmt.Errorf("getting read connection: %w", err)
		return
	}

	rows, err := db.QueryContext(ctx, selectRunsSQL)
	if err != nil {
		err = fmt.Errorf("querying runs: %w", err)
		return
	}
	defer closeWithError(rows, &err)

	for rows.Next() {
		var data runData
		if err = rows.Scan(&data.ID, &data.UUID, &data.StartedAt, &data.BaseName, &data.Config); err != nil {
			err = fmt.Errorf("scanning run: %w", err)
			return
		}
		runs = append(runs, toRun(&data))
	}

	err = rows.Err()
	return
}

func (s *SqliteStore) StoreMeasurements(ctx context.Context, runID int64, o field.Orientation, offset int, ms []field.Measurement) error {
	if len(ms) == 0 {
		return nil
	}

	db, err := s.getWriteDB()
	if err != nil {
		return fmt.Errorf("getting write connection: %w", err)
	}

	at := time.Now()
	for start := 0; start < len(ms); start += maxBatchRows {
		end := min(start+maxBatchRows, len(ms))
		if err = s.storeBatch(ctx, db, runID, o, offset+start, ms[start:end], at); err != nil {
			return fmt.Errorf("storing measurements %d-%d: %w", offset+start, offset+end-1, err)
		}
	}

	return nil
}

func (s *SqliteStore) storeBatch(ctx context.Context, db *sql.DB, runID int64, o field.Orientation, offset int, ms []field.Measurement, at time.Time) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer rollbackWithError(tx, &err)

	// Prepare values array
	values := make([]any, 0, len(ms)*7)

	// Build batch insert query
	valuesPlaceholder := "(?, ?, ?, ?, ?, ?, ?)"

	var sb strings.Builder

	sb.WriteString(insertMeasurementSQL)

	for i, m := range ms {
		data := toMeasurementData(runID, o, offset+i, m, at)
		values = append(values,
			data.RunID,
			data.Orientation,
			data.Index,
			data.X,
			data.Y,
			data.Power,
			data.MeasuredAt,
		)

		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(valuesPlaceholder)
	}

	// Single batch insert
	if _, err = tx.ExecContext(ctx, sb.String(), values...); err != nil {
		return fmt.Errorf("batch inserting measurements: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	return nil
}

// ReadMeasurements creates a reader over the archived measurements of a run,
// ordered by orientation and raster index.
//
// Parameters:
//   - ctx: Context for cancellation and timeouts
//   - runID: Unique identifier of the run to read from
//   - opts: Optional filters (WithOrientation, WithTimeRange, WithPresentOnly)
//
// The returned reader must be closed after use to release database resources.
// Each reader instance should only be used from a single goroutine.
func (s *SqliteStore) ReadMeasurements(ctx context.Context, runID int64, opts ...ReaderOption) (*SqliteMeasurementReader, error) {
	db, err := s.getReadDB()
	if err != nil {
		return nil, fmt.Errorf("getting read connection: %w", err)
	}
	return newSqliteMeasurementReader(ctx, db, runID, opts...)
}

// LoadOrientation rebuilds an orientation scan of a run from the archive.
// The metadata carries only the orientation and the run start time.
func (s *SqliteStore) LoadOrientation(ctx context.Context, runID int64, o field.Orientation) (scan *field.OrientationScan, err error) {
	reader, err := s.ReadMeasurements(ctx, runID, WithOrientation(o))
	if err != nil {
		return nil, err
	}
	defer closeWithError(reader, &err)

	scan = &field.OrientationScan{
		Orientation: o,
		Metadata: field.Metadata{
			Orientation: o,
			StartedAt:   reader.Run().StartedAt,
		},
	}

	for reader.Next(ctx) {
		scan.Measurements = append(scan.Measurements, reader.Current().Measurement)
	}
	if err = reader.Error(); err != nil {
		return nil, fmt.Errorf("reading measurements: %w", err)
	}
	if len(scan.Measurements) == 0 {
		return nil, fmt.Errorf("run %d has no %s measurements: %w", runID, o, ErrNoData)
	}

	return scan, nil
}

func (s *SqliteStore) Close() error {
	s.closeOnce.Do(func() {
		var writeErr, readErr error

		if s.writeDB != nil {
			_ = runSQLCommand(s.writeDB, initIndexesSQL)

			writeErr = s.writeDB.Close()
			s.writeDB = nil
		}

		if s.readDB != nil {
			readErr = s.readDB.Close()
			s.readDB = nil
		}

		s.closeErr = errors.Join(writeErr, readErr)
	})

	return s.closeErr
}
