package rest

import (
	"testing"

	"github.com/forgehook/forgehook/internal/repository"
	"github.com/forgehook/forgehook/migrations"
)

func setupTestRepo(t *testing.T) *repository.SQLiteRepository {
	t.Helper()
	repo, err := repository.NewSQLiteRepository(":memory:")
	if err != nil {
		t.Fatalf("failed creating test repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	migrationSQL, err := migrations.FS.ReadFile("0001_init.sql")
	if err != nil {
		t.Fatalf("failed reading embedded migration: %v", err)
	}
	if err := repo.RunMigrations(string(migrationSQL)); err != nil {
		t.Fatalf("failed running migrations: %v", err)
	}
	return repo
}
