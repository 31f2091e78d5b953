package sqlite_db

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestPosePredictions(t *testing.T) {
	db, err := InitDB(filepath.Join(t.TempDir(), "runs", "predictions.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer db.Close()

	run, err := CreateRun(db, "predict_pose", `{"flowType":"none"}`)
	if err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	want := []PoseRecord{
		{RunID: run, Target: "f1.png", Reference: "f0.png", Vector: [6]float64{0.01, 0, -0.02, 0, 0, 0.001}},
		{RunID: run, Target: "f2.png", Reference: "f1.png", Vector: [6]float64{0.02, 0.01, 0, 0, 0, 0}},
	}
	for _, r := range want {
		if err := InsertPose(db, r); err != nil {
			t.Fatalf("InsertPose: %v", err)
		}
	}

	got, err := Poses(db, run)
	if err != nil {
		t.Fatalf("Poses: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d poses; want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("pose %d = %+v; want %+v", i, got[i], want[i])
		}
	}

	other, err := Poses(db, "missing")
	if err != nil || len(other) != 0 {
		t.Errorf("Poses(missing) = %v, %v; want none", other, err)
	}
}

func TestDepthPredictions(t *testing.T) {
	db, err := InitDB(filepath.Join(t.TempDir(), "predictions.db"))
	if err != nil {
		t.Fatalf("InitDB: %v", err)
	}
	defer db.Close()

	run, err := CreateRun(db, "predict_depth", "{}")
	if err != nil {
		t.Fatal(err)
	}
	for scale := 1; scale >= 0; scale-- {
		r := DepthRecord{RunID: run, Image: "a.png", Scale: scale, Height: 192 >> scale, Width: 640 >> scale, Min: 0.1, Max: 1.9, Mean: 0.7}
		if err := InsertDepth(db, r); err != nil {
			t.Fatalf("InsertDepth: %v", err)
		}
	}
	got, err := Depths(db, run)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Scale != 0 || got[0].Width != 640 || got[1].Height != 96 {
		t.Errorf("Depths = %+v", got)
	}
}

func TestLogRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	cfg := map[string]any{"numScales": 4}

	run, err := LogRun(path, "predict_depth", cfg, func(db *sql.DB, runID string) error {
		return InsertDepth(db, DepthRecord{RunID: runID, Image: "a.png", Height: 192, Width: 640, Min: 0.1, Max: 100, Mean: 4})
	})
	if err != nil {
		t.Fatalf("LogRun: %v", err)
	}

	db, err := InitDB(path)
	if err != nil {
		t.Fatalf("reopening: %v", err)
	}
	defer db.Close()
	var command, config string
	if err := db.QueryRow(`SELECT command, config FROM runs WHERE id = ?`, run).Scan(&command, &config); err != nil {
		t.Fatalf("reading run: %v", err)
	}
	if command != "predict_depth" || config != `{"numScales":4}` {
		t.Errorf("run = %q %q", command, config)
	}
	got, err := Depths(db, run)
	if err != nil || len(got) != 1 || got[0].Width != 640 {
		t.Errorf("Depths = %+v, %v", got, err)
	}
}

func TestLogRunErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("unencodable config", func(t *testing.T) {
		path := filepath.Join(dir, "bad_config.db")
		called := false
		_, err := LogRun(path, "predict_pose", map[string]any{"c": make(chan int)}, func(*sql.DB, string) error {
			called = true
			return nil
		})
		if err == nil {
			t.Fatal("LogRun accepted a config that cannot be encoded")
		}
		if called {
			t.Error("insert ran after the config failed to encode")
		}
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			t.Errorf("database created despite the encoding error: %v", statErr)
		}
	})

	t.Run("insert failure", func(t *testing.T) {
		path := filepath.Join(dir, "insert.db")
		boom := errors.New("insert failed")
		var handle *sql.DB
		run, err := LogRun(path, "predict_pose", struct{}{}, func(db *sql.DB, _ string) error {
			handle = db
			return boom
		})
		if !errors.Is(err, boom) {
			t.Fatalf("LogRun error = %v; want %v", err, boom)
		}
		if run == "" {
			t.Error("run id dropped on insert failure")
		}
		if handle == nil || handle.Ping() == nil {
			t.Error("database left open after insert failure")
		}
	})
}
