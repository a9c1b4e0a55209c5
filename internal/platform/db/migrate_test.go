package db

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeMigrations(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("failed to write test file %s: %v", name, err)
		}
	}
	return dir
}

func TestLoadMigrations_SplitsUpAndDown(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_scheduling.sql": "CREATE TABLE slot (id UUID);\n-- +down\nDROP TABLE slot;\n",
		"002_booking.sql":    "CREATE TABLE booking (id UUID);",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(migrations))
	}
	if migrations[0].Up != "CREATE TABLE slot (id UUID);" {
		t.Errorf("unexpected up section: %q", migrations[0].Up)
	}
	if migrations[0].Down != "DROP TABLE slot;" {
		t.Errorf("unexpected down section: %q", migrations[0].Down)
	}
	if migrations[1].Down != "" {
		t.Errorf("expected no down section, got %q", migrations[1].Down)
	}
}

func TestLoadMigrations_SortOrder(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"010_tables.sql": "SELECT 10;",
		"002_second.sql": "SELECT 2;",
		"001_first.sql":  "SELECT 1;",
		"005_middle.sql": "SELECT 5;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	expected := []int{1, 2, 5, 10}
	if len(migrations) != len(expected) {
		t.Fatalf("expected %d migrations, got %d", len(expected), len(migrations))
	}
	for i, v := range expected {
		if migrations[i].Version != v {
			t.Errorf("migration[%d]: expected version %d, got %d", i, v, migrations[i].Version)
		}
	}
}

func TestLoadMigrations_SkipsUnversionedFiles(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_valid.sql":      "SELECT 1;",
		"readme.sql":         "-- no version prefix",
		"notes.txt":          "not a sql file",
		"abc_invalid.sql":    "-- non-numeric prefix",
		"002_also_valid.sql": "SELECT 2;",
	})

	migrations, err := NewMigrator(nil, dir).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) != 2 {
		t.Fatalf("expected 2 valid migrations, got %d", len(migrations))
	}
}

func TestLoadMigrations_DuplicateVersion(t *testing.T) {
	dir := writeMigrations(t, map[string]string{
		"001_a.sql": "SELECT 1;",
		"1_b.sql":   "SELECT 1;",
	})
	if _, err := NewMigrator(nil, dir).LoadMigrations(); err == nil {
		t.Error("expected error for duplicate version")
	}
}

func TestLoadMigrations_NonExistentDir(t *testing.T) {
	if _, err := NewMigrator(nil, "/nonexistent/migrations").LoadMigrations(); err == nil {
		t.Error("expected error for non-existent directory")
	}
}

func TestBuildStatus(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_scheduling.sql"},
		{Version: 2, Name: "002_booking.sql"},
	}
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	statuses := buildStatus(migrations, map[int]time.Time{1: at})
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses, got %d", len(statuses))
	}
	if !statuses[0].Applied || statuses[0].AppliedAt == nil || !statuses[0].AppliedAt.Equal(at) {
		t.Errorf("expected 001 applied at %v, got %+v", at, statuses[0])
	}
	if statuses[1].Applied || statuses[1].AppliedAt != nil {
		t.Errorf("expected 002 pending, got %+v", statuses[1])
	}
}

func TestMigrationsDirectoryIsLoadable(t *testing.T) {
	migrations, err := NewMigrator(nil, filepath.Join("..", "..", "..", "migrations")).LoadMigrations()
	if err != nil {
		t.Fatalf("LoadMigrations() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected at least one migration")
	}
	for _, m := range migrations {
		if m.Up == "" || m.Down == "" {
			t.Errorf("%s: expected both up and down sections", m.Name)
		}
	}
}
