package storage

import (
	"context"
	"slices"
	"testing"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_ReopenKeepsMigrations(t *testing.T) {
	dir := t.TempDir()

	var runs [][]int
	for range 2 {
		s, err := Open(dir)
		if err != nil {
			t.Fatalf("Open(%s): %v", dir, err)
		}
		versions, err := s.AppliedMigrations()
		s.Close()
		if err != nil {
			t.Fatalf("AppliedMigrations: %v", err)
		}
		runs = append(runs, versions)
	}

	if !slices.Equal(runs[0], runs[1]) {
		t.Errorf("applied migrations changed on reopen: %v -> %v", runs[0], runs[1])
	}
}

func TestLoadMigrations_MatchApplied(t *testing.T) {
	s := openTestStore(t)

	migrations, err := loadMigrations()
	if err != nil {
		t.Fatalf("loadMigrations: %v", err)
	}
	applied, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	var want []int
	for _, m := range migrations {
		want = append(want, m.version)
	}
	if !slices.IsSorted(want) {
		t.Errorf("embedded migrations out of order: %v", want)
	}
	if !slices.Equal(applied, want) {
		t.Errorf("applied = %v, want %v", applied, want)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	tests := []struct {
		name    string
		want    int
		wantErr bool
	}{
		{"001_conversations.sql", 1, false},
		{"012_more.sql", 12, false},
		{"nounderscore.sql", 0, true},
		{"abc_bad.sql", 0, true},
	}
	for _, tt := range tests {
		got, err := parseMigrationVersion(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseMigrationVersion(%q) err = %v, wantErr %v", tt.name, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseMigrationVersion(%q) = %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSchema_Indexes(t *testing.T) {
	s := openTestStore(t)

	rows, err := s.db.Query(`SELECT name FROM sqlite_master WHERE type = 'index'`)
	if err != nil {
		t.Fatalf("listing indexes: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			t.Fatalf("scanning index name: %v", err)
		}
		names = append(names, name)
	}

	for _, idx := range []string{
		"idx_messages_seq",
		"idx_messages_state",
		"idx_pending_actions_user",
		"idx_jobs_claim",
		"idx_context_vectors_source",
		"idx_notifications_user",
	} {
		if !slices.Contains(names, idx) {
			t.Errorf("index %q missing; have %v", idx, names)
		}
	}
}

func TestDefaultLocationSeededByMigration(t *testing.T) {
	s := openTestStore(t)

	loc, err := s.DefaultLocation(context.Background())
	if err != nil {
		t.Fatalf("DefaultLocation: %v", err)
	}
	if loc.Usage != "internal" || loc.Name != "WH/Stock" {
		t.Errorf("DefaultLocation = %+v", loc)
	}
}
