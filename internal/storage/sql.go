package storage

import (
	_ "embed"
)

const (
	insertRunSQL = `
INSERT INTO runs (uuid,
                  started_at,
                  base_name,
                  config)
VALUES (?, ?, ?, ?)`

	selectRunSQL = `
SELECT 
    id, 
    uuid, 
    started_at, 
    base_name, 
    config 
FROM runs 
WHERE 
    id = ?`

	selectRunsSQL = `
SELECT 
    id, 
    uuid, 
    started_at, 
    base_name, 
    config 
FROM runs
ORDER BY started_at, id`

	// rows are upserted so a repeated orientation pass replaces the previous one
	insertMeasurementSQL = `
INSERT OR REPLACE INTO measurements (run_id,
                                     orientation,
                                     idx,
                                     x,
                                     y,
                                     power,
                                     measured_at)
VALUES `

	selectMeasurementsSQL = `
SELECT 
    orientation, 
    idx, 
    x, 
    y, 
    power, 
    measured_at 
FROM measurements 
WHERE 
    run_id = ?`
)

//go:embed schema.sql
var initSchemaSQL string

//go:embed indexes.sql
var initIndexesSQL string
