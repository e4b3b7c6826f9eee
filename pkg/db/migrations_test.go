package db

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const migrationsTestPrefix = "db:migrations_test"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("%s - failed to write %s: %v", migrationsTestPrefix, name, err)
		}
	}
}

func TestLoadMigrationFiles_SortedSQLOnly(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"0003_third.sql":  "THIRD",
		"0001_first.sql":  "FIRST",
		"0002_second.sql": "SECOND",
		"README.md":       "# Migrations",
		"notes.txt":       "notes",
	})
	if err := os.Mkdir(filepath.Join(dir, "subdir.sql"), 0755); err != nil {
		t.Fatalf("%s - failed to create subdir: %v", migrationsTestPrefix, err)
	}

	result, err := LoadMigrationFiles(dir)
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	want := []string{"FIRST", "SECOND", "THIRD"}
	if len(result) != len(want) {
		t.Fatalf("%s - expected %d migrations, got %d", migrationsTestPrefix, len(want), len(result))
	}
	for i := range want {
		if result[i] != want[i] {
			t.Errorf("%s - migration %d = %q, want %q", migrationsTestPrefix, i, result[i], want[i])
		}
	}
}

func TestLoadMigrationFiles_EmptyDir(t *testing.T) {
	result, err := LoadMigrationFiles(t.TempDir())
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", migrationsTestPrefix, err)
	}
	if len(result) != 0 {
		t.Errorf("%s - expected empty result, got %d items", migrationsTestPrefix, len(result))
	}
}

func TestLoadMigrationFiles_NonExistentDir(t *testing.T) {
	if _, err := LoadMigrationFiles(filepath.Join(t.TempDir(), "nonexistent")); err == nil {
		t.Errorf("%s - expected error for non-existent directory", migrationsTestPrefix)
	}
}

func TestLoadMigrationFiles_Embedded(t *testing.T) {
	result, err := LoadMigrationFiles("")
	if err != nil {
		t.Fatalf("%s - embedded migrations: %v", migrationsTestPrefix, err)
	}
	if len(result) == 0 || !strings.Contains(result[0], "watcher_peers") {
		t.Errorf("%s - embedded migrations do not create watcher_peers", migrationsTestPrefix)
	}
}
