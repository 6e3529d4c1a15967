package repository

import (
	"database/sql"
	"testing"
	"time"

	"github.com/modelci/modelci/internal/config"
	"github.com/modelci/modelci/internal/migrations"
	"github.com/modelci/modelci/pkg/modelci/core"
	"github.com/modelci/modelci/pkg/modelci/domain"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	t.Setenv(config.DATABASE_TYPE, config.DATABASE_TYPE_SQLLITE)

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("opening sqlite: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	schema, err := migrations.FS.ReadFile("sqllite3/000001_init.up.sql")
	if err != nil {
		t.Fatalf("reading schema: %v", err)
	}
	if _, err := db.Exec(string(schema)); err != nil {
		t.Fatalf("applying schema: %v", err)
	}
	return db
}

func testRun(externalID string) *domain.Run {
	now := time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)
	return &domain.Run{
		Status:         domain.StatusNew,
		Created:        now,
		Modified:       now,
		RunnerGroup:    "default",
		FlowType:       "PipelineFlow",
		ExternalID:     externalID,
		ConcurrencyKey: "nightly-slow-main",
		State:          "ResolveConcurrency",
	}
}

func TestFindByExternalIdMissingReturnsNil(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunRepository(db, core.NewFakeClock(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)))

	run, err := repo.FindByExternalId("sched-nightly-slow-abcd-202603010700")
	if err != nil {
		t.Fatalf("expected nil error for missing external id, got %v", err)
	}
	if run != nil {
		t.Fatalf("expected nil run for missing external id, got %+v", run)
	}
}

func TestFindByExternalIdRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunRepository(db, core.NewFakeClock(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)))

	id, err := repo.Save(testRun("sched-nightly-slow-abcd-202603010700"))
	if err != nil {
		t.Fatalf("saving run: %v", err)
	}

	found, err := repo.FindByExternalId("sched-nightly-slow-abcd-202603010700")
	if err != nil {
		t.Fatalf("finding run: %v", err)
	}
	if found == nil {
		t.Fatal("expected run, got nil")
	}
	if found.ID != id {
		t.Errorf("expected id %d, got %d", id, found.ID)
	}
	if found.ConcurrencyKey != "nightly-slow-main" {
		t.Errorf("expected concurrency key nightly-slow-main, got %s", found.ConcurrencyKey)
	}
}

func TestSaveDuplicateExternalIdRejected(t *testing.T) {
	db := setupTestDB(t)
	repo := NewRunRepository(db, core.NewFakeClock(time.Date(2026, 3, 1, 7, 0, 0, 0, time.UTC)))

	if _, err := repo.Save(testRun("sched-nightly-slow-abcd-202603010700")); err != nil {
		t.Fatalf("saving run: %v", err)
	}
	if _, err := repo.Save(testRun("sched-nightly-slow-abcd-202603010700")); err == nil {
		t.Fatal("expected unique constraint error for duplicate external id")
	}
}
