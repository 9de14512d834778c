package storage

import (
	"database/sql"
	"time"
)

type runData struct {
	ID        int64
	UUID      string
	StartedAt time.Time
	BaseName  string
	Config    sql.NullString
}

type measurementData struct {
	RunID       int64
	Orientation int
	Index       int
	X           float64
	Y           float64
	Power       sql.NullFloat64
	MeasuredAt  time.Time
}
