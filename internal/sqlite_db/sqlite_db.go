package sqlite_db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// InitDB initializes an SQLite database at the given path.
// It creates the database file if it doesn't exist and sets up the prediction tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	// Extract the directory from the dataSourceName
	dir := filepath.Dir(dataSourceName)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	schema := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			"id" TEXT PRIMARY KEY,
			"command" TEXT NOT NULL,
			"config" TEXT NOT NULL,
			"timestamp" DATETIME DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS pose_predictions (
			"id" INTEGER PRIMARY KEY AUTOINCREMENT,
			"run_id" TEXT NOT NULL REFERENCES runs(id),
			"target" TEXT NOT NULL,
			"reference" TEXT NOT NULL,
			"tx" REAL, "ty" REAL, "tz" REAL,
			"rx" REAL, "ry" REAL, "rz" REAL
		);`,
		`CREATE TABLE IF NOT EXISTS depth_predictions (
			"id" INTEGER PRIMARY KEY AUTOINCREMENT,
			"run_id" TEXT NOT NULL REFERENCES runs(id),
			"image" TEXT NOT NULL,
			"scale" INTEGER NOT NULL,
			"height" INTEGER NOT NULL,
			"width" INTEGER NOT NULL,
			"min_depth" REAL,
			"max_depth" REAL,
			"mean_depth" REAL
		);`,
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create prediction tables: %w", err)
		}
	}

	log.Printf("SQLite database initialized at %s", dataSourceName)
	return db, nil
}

// CreateRun records one command invocation and returns its id.
func CreateRun(db *sql.DB, command, configJSON string) (string, error) {
	id := uuid.NewString()
	if _, err := db.Exec(`INSERT INTO runs (id, command, config) VALUES (?, ?, ?)`, id, command, configJSON); err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}
	return id, nil
}

// LogRun opens the database at path, records a run of command with cfg
// serialised as JSON, and hands the run id to insert. The database is closed
// before LogRun returns, including on error.
func LogRun(path, command string, cfg any, insert func(db *sql.DB, runID string) error) (runID string, err error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to encode config: %w", err)
	}
	db, err := InitDB(path)
	if err != nil {
		return "", err
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close database: %w", cerr))
		}
	}()

	runID, err = CreateRun(db, command, string(raw))
	if err != nil {
		return "", err
	}
	if err := insert(db, runID); err != nil {
		return runID, err
	}
	return runID, nil
}

// PoseRecord is one relative pose between a target and a reference frame.
type PoseRecord struct {
	RunID     string
	Target    string
	Reference string
	Vector    [6]float64
}

// InsertPose stores a pose prediction.
func InsertPose(db *sql.DB, r PoseRecord) error {
	v := r.Vector
	_, err := db.Exec(`INSERT INTO pose_predictions (run_id, target, reference, tx, ty, tz, rx, ry, rz)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Target, r.Reference, v[0], v[1], v[2], v[3], v[4], v[5])
	if err != nil {
		return fmt.Errorf("failed to insert pose prediction: %w", err)
	}
	return nil
}

// Poses returns the poses of a run in insertion order.
func Poses(db *sql.DB, runID string) ([]PoseRecord, error) {
	rows, err := db.Query(`SELECT run_id, target, reference, tx, ty, tz, rx, ry, rz
		FROM pose_predictions WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query poses: %w", err)
	}
	defer rows.Close()

	var out []PoseRecord
	for rows.Next() {
		var r PoseRecord
		v := &r.Vector
		if err := rows.Scan(&r.RunID, &r.Target, &r.Reference, &v[0], &v[1], &v[2], &v[3], &v[4], &v[5]); err != nil {
			return nil, fmt.Errorf("failed to scan pose: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// DepthRecord summarises one predicted depth map.
type DepthRecord struct {
	RunID         string
	Image         string
	Scale         int
	Height, Width int
	Min, Max      float64
	Mean          float64
}

// InsertDepth stores a depth map summary.
func InsertDepth(db *sql.DB, r DepthRecord) error {
	_, err := db.Exec(`INSERT INTO depth_predictions (run_id, image, scale, height, width, min_depth, max_depth, mean_depth)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Image, r.Scale, r.Height, r.Width, r.Min, r.Max, r.Mean)
	if err != nil {
		return fmt.Errorf("failed to insert depth prediction: %w", err)
	}
	return nil
}

// Depths returns the depth summaries of a run ordered by scale.
func Depths(db *sql.DB, runID string) ([]DepthRecord, error) {
	rows, err := db.Query(`SELECT run_id, image, scale, height, width, min_depth, max_depth, mean_depth
		FROM depth_predictions WHERE run_id = ? ORDER BY image, scale`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query depths: %w", err)
	}
	defer rows.Close()

	var out []DepthRecord
	for rows.Next() {
		var r DepthRecord
		if err := rows.Scan(&r.RunID, &r.Image, &r.Scale, &r.Height, &r.Width, &r.Min, &r.Max, &r.Mean); err != nil {
			return nil, fmt.Errorf("failed to scan depth: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
