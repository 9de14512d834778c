package storage

import (
	"database/sql"
	"errors"
	"time"

	"github.com/roman-kulish/nearfield-scanner/internal/field"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	// Rollback after a successful Commit returns sql.ErrTxDone, which is not a failure
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toMeasurementData(runID int64, o field.Orientation, idx int, m field.Measurement, at time.Time) *measurementData {
	var power sql.NullFloat64
	if v, ok := m.Reading.Value(); ok {
		power.Float64 = v
		power.Valid = true
	}

	return &measurementData{
		RunID:       runID,
		Orientation: int(o),
		Index:       idx,
		X:           m.X,
		Y:           m.Y,
		Power:       power,
		MeasuredAt:  at.UTC(),
	}
}

func toRun(d *runData) *Run {
	r := Run{
		ID:        d.ID,
		UUID:      d.UUID,
		StartedAt: d.StartedAt,
		BaseName:  d.BaseName,
	}
	if d.Config.Valid {
		r.Config = &d.Config.String
	}
	return &r
}

func toRecord(d *measurementData) Record {
	r := field.Absent()
	if d.Power.Valid {
		r = field.Present(d.Power.Float64)
	}

	return Record{
		Orientation: field.Orientation(d.Orientation),
		Index:       d.Index,
		Measurement: field.Measurement{X: d.X, Y: d.Y, Reading: r},
		MeasuredAt:  d.MeasuredAt,
	}
}
