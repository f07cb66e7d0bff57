// Package obstacledb persists accepted obstacle features to sqlite so
// ingestion sessions can be analysed and replayed offline.
package obstacledb

import (
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/foresight/internal/monitoring"
	"github.com/banshee-data/foresight/internal/obstacle"
)

type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the feature store at path and applies
// any pending schema migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to migrate feature store: %w", err)
	}
	return db, nil
}

// Run groups the features recorded during one ingestion session.
type Run struct {
	ID        string    `json:"id"`
	Label     string    `json:"label"`
	StartedAt time.Time `json:"started_at"`
}

// FeatureRecord is one persisted feature row.
type FeatureRecord struct {
	RunID      string           `json:"run_id"`
	ObstacleID int              `json:"obstacle_id"`
	Type       obstacle.Type    `json:"type"`
	Feature    obstacle.Feature `json:"feature"`
	InsertedAt time.Time        `json:"inserted_at"`
}

// BeginRun opens a new recording session and returns its id.
func (db *DB) BeginRun(label string) (string, error) {
	runID := uuid.New().String()
	_, err := db.Exec(
		`INSERT INTO runs (id, label, started_at_unix_nanos) VALUES (?, ?, ?)`,
		runID, label, time.Now().UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("failed to begin run: %w", err)
	}
	monitoring.Logf("started feature recording run %s (%s)", runID, label)
	return runID, nil
}

// Runs lists recorded sessions, newest first.
func (db *DB) Runs() ([]Run, error) {
	rows, err := db.Query(`SELECT id, label, started_at_unix_nanos FROM runs ORDER BY started_at_unix_nanos DESC LIMIT 100`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var startedAt int64
		if err := rows.Scan(&r.ID, &r.Label, &startedAt); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, startedAt)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return runs, nil
}

const insertFeatureSQL = `INSERT INTO features (
	run_id, obstacle_id, obstacle_type, timestamp,
	position_x, position_y, position_z,
	velocity_x, velocity_y, velocity_z,
	velocity_heading, speed,
	acceleration_x, acceleration_y, acceleration_z,
	acc_magnitude, theta, inserted_at_unix_nanos
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func featureArgs(runID string, obstacleID int, typ obstacle.Type, f obstacle.Feature) []any {
	return []any{
		runID, obstacleID, string(typ), f.Timestamp,
		f.Position.X, f.Position.Y, f.Position.Z,
		f.Velocity.X, f.Velocity.Y, f.Velocity.Z,
		f.VelocityHeading, f.Speed,
		f.Acceleration.X, f.Acceleration.Y, f.Acceleration.Z,
		f.AccMagnitude, f.Theta, time.Now().UnixNano(),
	}
}

// RecordFeature persists a single feature row.
func (db *DB) RecordFeature(runID string, obstacleID int, typ obstacle.Type, f obstacle.Feature) error {
	_, err := db.Exec(insertFeatureSQL, featureArgs(runID, obstacleID, typ, f)...)
	if err != nil {
		return fmt.Errorf("failed to record feature: %w", err)
	}
	return nil
}

// RecordBatch persists a batch of feature rows in one transaction.
func (db *DB) RecordBatch(records []FeatureRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			monitoring.Logf("warning: failed to rollback feature batch: %v", err)
		}
	}()

	stmt, err := tx.Prepare(insertFeatureSQL)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		if _, err := stmt.Exec(featureArgs(rec.RunID, rec.ObstacleID, rec.Type, rec.Feature)...); err != nil {
			return fmt.Errorf("failed to record feature batch: %w", err)
		}
	}

	return tx.Commit()
}

// FeatureHistory returns the persisted features of one obstacle in a run,
// newest first. A positive limit caps the number of rows.
func (db *DB) FeatureHistory(runID string, obstacleID int, limit int) ([]FeatureRecord, error) {
	q := `SELECT run_id, obstacle_id, obstacle_type, timestamp,
		position_x, position_y, position_z,
		velocity_x, velocity_y, velocity_z,
		velocity_heading, speed,
		acceleration_x, acceleration_y, acceleration_z,
		acc_magnitude, theta, inserted_at_unix_nanos
	FROM features WHERE run_id = ? AND obstacle_id = ? ORDER BY timestamp DESC`
	args := []any{runID, obstacleID}
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FeatureRecord
	for rows.Next() {
		var rec FeatureRecord
		var typ string
		var insertedAt int64
		f := &rec.Feature
		if err := rows.Scan(
			&rec.RunID, &rec.ObstacleID, &typ, &f.Timestamp,
			&f.Position.X, &f.Position.Y, &f.Position.Z,
			&f.Velocity.X, &f.Velocity.Y, &f.Velocity.Z,
			&f.VelocityHeading, &f.Speed,
			&f.Acceleration.X, &f.Acceleration.Y, &f.Acceleration.Z,
			&f.AccMagnitude, &f.Theta, &insertedAt,
		); err != nil {
			return nil, err
		}
		rec.Type = obstacle.Type(typ)
		f.ID = rec.ObstacleID
		rec.InsertedAt = time.Unix(0, insertedAt)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return records, nil
}

// RunSummary aggregates one recorded session.
type RunSummary struct {
	RunID          string  `json:"run_id"`
	Obstacles      int     `json:"obstacles"`
	Features       int     `json:"features"`
	FirstTimestamp float64 `json:"first_timestamp"`
	LastTimestamp  float64 `json:"last_timestamp"`
	MaxSpeed       float64 `json:"max_speed"`
	AvgSpeed       float64 `json:"avg_speed"`
}

// Summarise aggregates the persisted features of a run. A run with no
// features yields zero counts.
func (db *DB) Summarise(runID string) (*RunSummary, error) {
	s := &RunSummary{RunID: runID}
	err := db.QueryRow(`SELECT
			COUNT(DISTINCT obstacle_id),
			COUNT(*),
			COALESCE(MIN(timestamp), 0),
			COALESCE(MAX(timestamp), 0),
			COALESCE(MAX(speed), 0),
			COALESCE(AVG(speed), 0)
		FROM features WHERE run_id = ?`, runID).
		Scan(&s.Obstacles, &s.Features, &s.FirstTimestamp, &s.LastTimestamp, &s.MaxSpeed, &s.AvgSpeed)
	if err != nil {
		return nil, fmt.Errorf("failed to summarise run %s: %w", runID, err)
	}
	return s, nil
}

// ObstacleIDs returns the distinct obstacle ids recorded in a run.
func (db *DB) ObstacleIDs(runID string) ([]int, error) {
	rows, err := db.Query(`SELECT DISTINCT obstacle_id FROM features WHERE run_id = ? ORDER BY obstacle_id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

// Backup snapshots the live database with VACUUM INTO and streams the
// snapshot file to w, removing it afterwards.
func (db *DB) Backup(w io.Writer) error {
	backupPath := filepath.Join(os.TempDir(), fmt.Sprintf("foresight-backup-%d.db", time.Now().UnixNano()))
	if _, err := db.Exec("VACUUM INTO ?", backupPath); err != nil {
		return fmt.Errorf("failed to create backup: %w", err)
	}

	backupFile, err := os.Open(backupPath)
	if err != nil {
		return fmt.Errorf("failed to open backup file: %w", err)
	}
	defer func() {
		backupFile.Close()
		if err := os.Remove(backupPath); err != nil {
			monitoring.Logf("failed to remove backup file: %v", err)
		}
	}()

	if _, err := io.Copy(w, backupFile); err != nil {
		return fmt.Errorf("failed to stream backup: %w", err)
	}
	return nil
}
