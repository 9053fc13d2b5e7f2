package config

import (
	_ "embed"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed windows.yaml
var windowsYAML []byte

type Config struct {
	Match      MatchConfig
	Quality    QualityConfig
	Embedding  EmbeddingConfig
	Attendance AttendanceConfig
	Database   DatabaseConfig
	Web        WebConfig
}

type MatchConfig struct {
	// Threshold is the minimum cosine similarity the top candidate must
	// reach to be accepted.
	Threshold float64
	// Margin is the minimum similarity gap between the top two candidates.
	// A top candidate within the margin of the runner-up is rejected as
	// ambiguous even when it clears the threshold.
	Margin float64
	// Aggregation selects how multiple templates per identity are combined:
	// "best" (maximum similarity) or "mean".
	Aggregation string
	// CandidateLimit caps how many nearest templates the HNSW prefilter
	// returns for exact scoring (0 disables the prefilter).
	CandidateLimit int
}

type QualityConfig struct {
	MinWidth     int     // minimum decoded image width in pixels
	MinHeight    int     // minimum decoded image height in pixels
	MinSharpness float64 // minimum Laplacian variance on the grayscale image
	MinDetScore  float64 // minimum face detection confidence
	MinLiveness  float64 // detections below this liveness score are spoof-suspect
	MaxEdge      int     // images larger than this edge are downscaled before extraction
}

type EmbeddingConfig struct {
	URL          string        // face service base URL (defaults to http://localhost:8000)
	Dim          int           // embedding dimension, validated at startup (defaults to 512)
	ModelVersion string        // model identifier stored with templates and audit events
	Timeout      time.Duration // per-call timeout for the face service
	MaxRetries   int           // bounded retries for transient extraction failures
	RetryBackoff time.Duration // initial backoff between retries (doubles per attempt)
}

type AttendanceConfig struct {
	// DedupInterval is the minimum elapsed time between an accepted
	// check-in and the accepted match treated as check-out. Matches inside
	// the interval are rejected as duplicates.
	DedupInterval time.Duration
	// Timezone for calendar-day boundaries and window comparisons.
	Timezone string
	// Windows are the configured attendance windows.
	Windows []WindowConfig
}

// WindowConfig is one attendance window as configured in windows.yaml.
// Start and End are local times of day formatted as HH:MM.
type WindowConfig struct {
	Name         string `yaml:"name"`
	Start        string `yaml:"start"`
	End          string `yaml:"end"`
	GraceMinutes int    `yaml:"grace_minutes"`
}

type windowsFile struct {
	Windows []WindowConfig `yaml:"windows"`
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL (empty selects the in-memory backend)
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

type WebConfig struct {
	APIKey         string  // API key required on mutating endpoints (empty disables auth)
	DeviceRate     float64 // verify requests per second per device
	DeviceBurst    int     // burst size per device
	AllowedOrigins string  // comma-separated CORS origin whitelist
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable and parses it as a float.
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

// envDuration reads an environment variable and parses it as a duration.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// loadWindows reads attendance windows from ATTENDANCE_WINDOWS_PATH when
// set, otherwise from the embedded defaults.
func loadWindows() ([]WindowConfig, error) {
	data := windowsYAML
	if path := os.Getenv("ATTENDANCE_WINDOWS_PATH"); path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read windows file %s: %w", path, err)
		}
		data = fileData
	}

	var wf windowsFile
	if err := yaml.Unmarshal(data, &wf); err != nil {
		return nil, fmt.Errorf("parse windows config: %w", err)
	}
	if len(wf.Windows) == 0 {
		return nil, fmt.Errorf("windows config defines no attendance windows")
	}
	return wf.Windows, nil
}

func Load() (*Config, error) {
	windows, err := loadWindows()
	if err != nil {
		return nil, err
	}

	return &Config{
		Match: MatchConfig{
			Threshold:      envFloat("MATCH_THRESHOLD", 0.6),
			Margin:         envFloat("MATCH_MARGIN", 0.05),
			Aggregation:    envString("MATCH_AGGREGATION", "best"),
			CandidateLimit: envInt("MATCH_CANDIDATE_LIMIT", 64),
		},
		Quality: QualityConfig{
			MinWidth:     envInt("QUALITY_MIN_WIDTH", 160),
			MinHeight:    envInt("QUALITY_MIN_HEIGHT", 160),
			MinSharpness: envFloat("QUALITY_MIN_SHARPNESS", 18.0),
			MinDetScore:  envFloat("QUALITY_MIN_DET_SCORE", 0.7),
			MinLiveness:  envFloat("QUALITY_MIN_LIVENESS", 0.5),
			MaxEdge:      envInt("QUALITY_MAX_EDGE", 800),
		},
		Embedding: EmbeddingConfig{
			URL:          envString("EMBEDDING_URL", "http://localhost:8000"),
			Dim:          envInt("EMBEDDING_DIM", 512),
			ModelVersion: envString("EMBEDDING_MODEL_VERSION", "arcface-r100@1"),
			Timeout:      envDuration("EMBEDDING_TIMEOUT", 10*time.Second),
			MaxRetries:   envInt("EMBEDDING_MAX_RETRIES", 3),
			RetryBackoff: envDuration("EMBEDDING_RETRY_BACKOFF", 200*time.Millisecond),
		},
		Attendance: AttendanceConfig{
			DedupInterval: envDuration("ATTENDANCE_DEDUP_INTERVAL", 5*time.Minute),
			Timezone:      envString("ATTENDANCE_TIMEZONE", "UTC"),
			Windows:       windows,
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		Web: WebConfig{
			APIKey:         os.Getenv("FACEGATE_API_KEY"),
			DeviceRate:     envFloat("VERIFY_DEVICE_RATE", 2.0),
			DeviceBurst:    envInt("VERIFY_DEVICE_BURST", 5),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
	}, nil
}
