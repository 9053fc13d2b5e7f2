package cmd

import (
	"context"
	"fmt"

	"github.com/veritime/facegate/internal/attendance"
	"github.com/veritime/facegate/internal/audit"
	"github.com/veritime/facegate/internal/config"
	"github.com/veritime/facegate/internal/embedding"
	"github.com/veritime/facegate/internal/matcher"
	"github.com/veritime/facegate/internal/metrics"
	"github.com/veritime/facegate/internal/quality"
	"github.com/veritime/facegate/internal/store"
	"github.com/veritime/facegate/internal/store/memory"
	"github.com/veritime/facegate/internal/store/postgres"
	"github.com/veritime/facegate/internal/verify"
)

// app holds the wired pipeline components shared by the commands.
type app struct {
	cfg  *config.Config
	pool *postgres.Pool // nil when running on the in-memory backend

	identities store.IdentityStore
	templates  store.TemplateStore
	attendance store.AttendanceStore
	audit      store.AuditStore

	client   *embedding.Client
	gate     *quality.Gate
	index    *store.TemplateIndex
	matcher  *matcher.Matcher
	tracker  *attendance.Tracker
	recorder *audit.Recorder
	enroller *verify.Enroller
	verifier *verify.Service
}

// buildApp wires the full pipeline from configuration. A configured
// DATABASE_URL selects PostgreSQL; without one everything runs in memory,
// which is only useful for local experiments.
func buildApp(ctx context.Context, collector metrics.Recorder) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}

	if cfg.Database.URL != "" {
		pool, err := postgres.Initialize(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		a.pool = pool
		a.identities = postgres.NewIdentityRepository(pool)
		a.templates = postgres.NewTemplateRepository(pool)
		a.attendance = postgres.NewAttendanceRepository(pool)
		a.audit = postgres.NewAuditRepository(pool)
		fmt.Println("Using PostgreSQL backend")
	} else {
		mem := memory.NewStore()
		a.identities = mem
		a.templates = mem
		a.attendance = mem
		a.audit = mem
		fmt.Println("Warning: no DATABASE_URL set, state lives in memory only")
	}

	// Commands that never call the face service still work when it is
	// down; serve re-validates and refuses to start on a mismatch.
	a.client = embedding.NewClient(cfg.Embedding)
	if err := a.client.CheckModel(ctx); err != nil {
		fmt.Printf("Warning: face service validation failed: %v\n", err)
	}

	a.gate = quality.NewGate(cfg.Quality, a.client)

	a.index = store.NewTemplateIndex()
	active, err := a.templates.AllActive(ctx)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to load active templates: %w", err)
	}
	if err := a.index.Build(active); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to build template index: %w", err)
	}
	fmt.Printf("Template index built with %d active templates\n", a.index.Len())

	a.matcher = matcher.New(cfg.Match, a.templates, a.index)

	a.tracker, err = attendance.NewTracker(cfg.Attendance, a.attendance)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.recorder = audit.NewRecorder(a.audit)
	a.enroller = verify.NewEnroller(a.gate, a.client, a.templates, a.index)
	a.verifier = verify.NewService(a.gate, a.client, a.matcher, a.tracker, a.recorder, collector, cfg.Match, cfg.Embedding)

	return a, nil
}

// Close releases the app's resources.
func (a *app) Close() {
	if a.pool != nil {
		if err := a.pool.Close(); err != nil {
			fmt.Printf("Warning: failed to close database pool: %v\n", err)
		}
	}
}
