package storage

import (
	_ "embed"
)

const (
	insertRunSQL = `
INSERT INTO runs (id,
                  kind,
                  start_time,
                  config)
VALUES (?, ?, ?, ?)`

	finishRunSQL = `
UPDATE runs
SET finish_time = ?,
    status      = ?
WHERE id = ?`

	selectRunSQL = `
SELECT
    id,
    kind,
    start_time,
    finish_time,
    status,
    config
FROM runs
WHERE
    id = ?`

	selectRunsSQL = `
SELECT
    id,
    kind,
    start_time,
    finish_time,
    status,
    config
FROM runs
ORDER BY start_time`

	insertYieldSQL = `
INSERT INTO record_yields (run_id,
                           record,
                           minutes,
                           apnea,
                           normal,
                           unlabeled,
                           ambiguous,
                           invalid,
                           annotations_missing)
VALUES `

	selectYieldsSQL = `
SELECT
    record,
    minutes,
    apnea,
    normal,
    unlabeled,
    ambiguous,
    invalid,
    annotations_missing
FROM record_yields
WHERE
    run_id = ?
ORDER BY id`

	insertEpochSQL = `
INSERT INTO epochs (run_id,
                    epoch,
                    loss,
                    accuracy,
                    val_loss,
                    val_accuracy)
VALUES (?, ?, ?, ?, ?, ?)`

	selectEpochsSQL = `
SELECT
    epoch,
    loss,
    accuracy,
    val_loss,
    val_accuracy
FROM epochs
WHERE
    run_id = ?
ORDER BY epoch`

	insertEvaluationSQL = `
INSERT INTO evaluations (run_id,
                         split,
                         samples,
                         loss,
                         accuracy)
VALUES (?, ?, ?, ?, ?)`

	insertExemplarSQL = `
INSERT INTO exemplars (run_id,
                       class,
                       record,
                       minute,
                       probability)
VALUES (?, ?, ?, ?, ?)`

	insertCalibrationSQL = `
INSERT INTO calibrations (run_id,
                          threshold,
                          distinct_ok,
                          header_path)
VALUES (?, ?, ?, ?)`

	selectCalibrationSQL = `
SELECT
    c.threshold,
    c.distinct_ok,
    c.header_path,
    e.class,
    e.record,
    e.minute,
    e.probability
FROM calibrations c
JOIN exemplars e ON e.run_id = c.run_id
WHERE
    c.run_id = ?
ORDER BY e.id`
)

//go:embed schema.sql
var schemaSQL string
