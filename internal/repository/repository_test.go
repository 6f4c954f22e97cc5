package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/riskboard/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "riskboard-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestSQLiteRepository(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	tenantID := "tenant-001"
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetAnalysis", func(t *testing.T) {
		rec := &domain.AnalysisRecord{
			ID:          "an-001",
			Source:      domain.SourceUpload,
			FileName:    "june.csv",
			Status:      domain.AnalysisPartial,
			Total:       10,
			HighCount:   2,
			MediumCount: 3,
			LowCount:    5,
			Message:     "1 of 11 rows could not be scored",
			DurationMs:  420,
			CreatedAt:   base,
		}
		if err := repo.SaveAnalysis(ctx, tenantID, rec); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}

		got, err := repo.GetAnalysis(ctx, tenantID, "an-001")
		if err != nil {
			t.Fatalf("GetAnalysis failed: %v", err)
		}
		if got.TenantID != tenantID {
			t.Errorf("expected tenant %s, got %s", tenantID, got.TenantID)
		}
		if got.Source != domain.SourceUpload || got.FileName != "june.csv" {
			t.Errorf("unexpected source/file: %s %s", got.Source, got.FileName)
		}
		if got.Total != 10 || got.HighCount != 2 || got.MediumCount != 3 || got.LowCount != 5 {
			t.Errorf("unexpected counts: %+v", got)
		}
		if got.Message != rec.Message {
			t.Errorf("expected message %q, got %q", rec.Message, got.Message)
		}
		if !got.CreatedAt.Equal(base) {
			t.Errorf("expected created_at %v, got %v", base, got.CreatedAt)
		}
	})

	t.Run("SaveIsUpsert", func(t *testing.T) {
		rec := &domain.AnalysisRecord{
			ID:        "an-001",
			Source:    domain.SourceUpload,
			Status:    domain.AnalysisCompleted,
			Total:     11,
			CreatedAt: base,
		}
		if err := repo.SaveAnalysis(ctx, tenantID, rec); err != nil {
			t.Fatalf("SaveAnalysis failed: %v", err)
		}
		got, err := repo.GetAnalysis(ctx, tenantID, "an-001")
		if err != nil {
			t.Fatalf("GetAnalysis failed: %v", err)
		}
		if got.Status != domain.AnalysisCompleted || got.Total != 11 {
			t.Errorf("expected updated row, got %+v", got)
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetAnalysis(ctx, "tenant-002", "an-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound for other tenant, got %v", err)
		}
	})

	t.Run("ListNewestFirst", func(t *testing.T) {
		for i, id := range []string{"an-002", "an-003"} {
			rec := &domain.AnalysisRecord{
				ID:        id,
				Source:    domain.SourceDemo,
				Status:    domain.AnalysisCompleted,
				Total:     50,
				CreatedAt: base.Add(time.Duration(i+1) * time.Minute),
			}
			if err := repo.SaveAnalysis(ctx, tenantID, rec); err != nil {
				t.Fatalf("SaveAnalysis failed: %v", err)
			}
		}

		list, err := repo.ListAnalyses(ctx, tenantID, 0)
		if err != nil {
			t.Fatalf("ListAnalyses failed: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 records, got %d", len(list))
		}
		if list[0].ID != "an-003" || list[2].ID != "an-001" {
			t.Errorf("unexpected order: %s, %s, %s", list[0].ID, list[1].ID, list[2].ID)
		}

		limited, err := repo.ListAnalyses(ctx, tenantID, 2)
		if err != nil {
			t.Fatalf("ListAnalyses failed: %v", err)
		}
		if len(limited) != 2 {
			t.Errorf("expected 2 records, got %d", len(limited))
		}

		other, err := repo.ListAnalyses(ctx, "tenant-002", 10)
		if err != nil {
			t.Fatalf("ListAnalyses failed: %v", err)
		}
		if len(other) != 0 {
			t.Errorf("expected no records for other tenant, got %d", len(other))
		}
	})

	t.Run("RequiresTenant", func(t *testing.T) {
		err := repo.SaveAnalysis(ctx, "", &domain.AnalysisRecord{ID: "x"})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
		if _, err := repo.ListAnalyses(ctx, "", 1); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("RequiresID", func(t *testing.T) {
		err := repo.SaveAnalysis(ctx, tenantID, &domain.AnalysisRecord{})
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestRebind(t *testing.T) {
	pg := &SQLRepository{driver: "postgres"}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("unexpected postgres rebind: %s", got)
	}
	lite := &SQLRepository{driver: "sqlite"}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("unexpected sqlite rebind: %s", got)
	}
}

func TestUnsupportedDriver(t *testing.T) {
	if _, err := New(domain.RepositoryConfig{Driver: "mysql"}); err == nil {
		t.Error("expected error for unsupported driver")
	}
}
