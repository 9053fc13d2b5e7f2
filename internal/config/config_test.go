package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Match.Threshold != 0.6 {
		t.Errorf("Match.Threshold = %v, want 0.6", cfg.Match.Threshold)
	}
	if cfg.Match.Margin != 0.05 {
		t.Errorf("Match.Margin = %v, want 0.05", cfg.Match.Margin)
	}
	if cfg.Match.Aggregation != "best" {
		t.Errorf("Match.Aggregation = %q, want best", cfg.Match.Aggregation)
	}
	if cfg.Embedding.URL != "http://localhost:8000" {
		t.Errorf("Embedding.URL = %q, want default", cfg.Embedding.URL)
	}
	if cfg.Embedding.Dim != 512 {
		t.Errorf("Embedding.Dim = %d, want 512", cfg.Embedding.Dim)
	}
	if cfg.Attendance.DedupInterval != 5*time.Minute {
		t.Errorf("Attendance.DedupInterval = %v, want 5m", cfg.Attendance.DedupInterval)
	}
	if cfg.Attendance.Timezone != "UTC" {
		t.Errorf("Attendance.Timezone = %q, want UTC", cfg.Attendance.Timezone)
	}
	if len(cfg.Attendance.Windows) == 0 {
		t.Error("embedded windows config produced no windows")
	}
	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("Database.MaxOpenConns = %d, want 25", cfg.Database.MaxOpenConns)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("MATCH_THRESHOLD", "0.72")
	t.Setenv("MATCH_AGGREGATION", "mean")
	t.Setenv("EMBEDDING_DIM", "128")
	t.Setenv("EMBEDDING_TIMEOUT", "3s")
	t.Setenv("ATTENDANCE_DEDUP_INTERVAL", "10m")
	t.Setenv("DATABASE_URL", "postgres://localhost/facegate")
	t.Setenv("FACEGATE_API_KEY", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Match.Threshold != 0.72 {
		t.Errorf("Match.Threshold = %v, want 0.72", cfg.Match.Threshold)
	}
	if cfg.Match.Aggregation != "mean" {
		t.Errorf("Match.Aggregation = %q, want mean", cfg.Match.Aggregation)
	}
	if cfg.Embedding.Dim != 128 {
		t.Errorf("Embedding.Dim = %d, want 128", cfg.Embedding.Dim)
	}
	if cfg.Embedding.Timeout != 3*time.Second {
		t.Errorf("Embedding.Timeout = %v, want 3s", cfg.Embedding.Timeout)
	}
	if cfg.Attendance.DedupInterval != 10*time.Minute {
		t.Errorf("Attendance.DedupInterval = %v, want 10m", cfg.Attendance.DedupInterval)
	}
	if cfg.Database.URL != "postgres://localhost/facegate" {
		t.Errorf("Database.URL = %q, want override", cfg.Database.URL)
	}
	if cfg.Web.APIKey != "secret" {
		t.Errorf("Web.APIKey = %q, want secret", cfg.Web.APIKey)
	}
}

func TestLoadInvalidEnvFallsBack(t *testing.T) {
	t.Setenv("EMBEDDING_DIM", "not-a-number")
	t.Setenv("MATCH_THRESHOLD", "high")
	t.Setenv("EMBEDDING_TIMEOUT", "-1s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Embedding.Dim != 512 {
		t.Errorf("Embedding.Dim = %d, want default 512", cfg.Embedding.Dim)
	}
	if cfg.Match.Threshold != 0.6 {
		t.Errorf("Match.Threshold = %v, want default 0.6", cfg.Match.Threshold)
	}
	if cfg.Embedding.Timeout != 10*time.Second {
		t.Errorf("Embedding.Timeout = %v, want default 10s", cfg.Embedding.Timeout)
	}
}

func TestLoadWindowsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "windows.yaml")
	content := `windows:
  - name: night-shift
    start: "18:00"
    end: "23:00"
    grace_minutes: 15
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write windows file: %v", err)
	}
	t.Setenv("ATTENDANCE_WINDOWS_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Attendance.Windows) != 1 {
		t.Fatalf("windows = %d, want 1", len(cfg.Attendance.Windows))
	}
	w := cfg.Attendance.Windows[0]
	if w.Name != "night-shift" || w.Start != "18:00" || w.GraceMinutes != 15 {
		t.Errorf("window = %+v, want night-shift 18:00 grace 15", w)
	}
}

func TestLoadWindowsFileErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		t.Setenv("ATTENDANCE_WINDOWS_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
		if _, err := Load(); err == nil {
			t.Error("Load() succeeded with a missing windows file")
		}
	})

	t.Run("empty windows", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "windows.yaml")
		if err := os.WriteFile(path, []byte("windows: []\n"), 0o644); err != nil {
			t.Fatalf("write windows file: %v", err)
		}
		t.Setenv("ATTENDANCE_WINDOWS_PATH", path)
		if _, err := Load(); err == nil {
			t.Error("Load() succeeded with no windows defined")
		}
	})
}
