package db

import (
	"strings"
	"testing"
	"testing/fstest"
	"time"
)

func TestLoad_SortsAndSkips(t *testing.T) {
	files := fstest.MapFS{
		"010_tables.sql":  {Data: []byte("SELECT 10;")},
		"002_second.sql":  {Data: []byte("SELECT 2;")},
		"001_first.sql":   {Data: []byte("SELECT 1;")},
		"README.md":       {Data: []byte("docs")},
		"abc_invalid.sql": {Data: []byte("SELECT 0;")},
		"noprefix.sql":    {Data: []byte("SELECT 0;")},
	}

	migrations, err := NewMigrator(nil, files, "").Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) != 3 {
		t.Fatalf("expected 3 migrations, got %d", len(migrations))
	}
	for i, want := range []int{1, 2, 10} {
		if migrations[i].Version != want {
			t.Errorf("migrations[%d].Version = %d, want %d", i, migrations[i].Version, want)
		}
	}
	if migrations[0].Name != "001_first.sql" || migrations[0].SQL != "SELECT 1;" {
		t.Errorf("unexpected first migration: %+v", migrations[0])
	}
}

func TestLoad_Embedded(t *testing.T) {
	migrations, err := NewMigrator(nil, Migrations(), "fhir").Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(migrations) == 0 {
		t.Fatal("expected embedded migrations")
	}
	if migrations[0].Version != 1 || !strings.Contains(migrations[0].SQL, "CREATE TABLE IF NOT EXISTS resources") {
		t.Errorf("first migration = %+v", migrations[0])
	}
}

func TestNewMigrator_DefaultSchema(t *testing.T) {
	m := NewMigrator(nil, fstest.MapFS{}, "")
	if m.table() != `"public"."_migrations"` {
		t.Errorf("table() = %s", m.table())
	}
	if got := NewMigrator(nil, fstest.MapFS{}, "tenant_a").table(); got != `"tenant_a"."_migrations"` {
		t.Errorf("table() = %s", got)
	}
}

func TestPendingAndStatuses(t *testing.T) {
	migrations := []Migration{
		{Version: 1, Name: "001_a.sql"},
		{Version: 2, Name: "002_b.sql"},
		{Version: 3, Name: "003_c.sql"},
	}
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	applied := map[int]time.Time{1: at}

	todo := pending(migrations, applied)
	if len(todo) != 2 || todo[0].Version != 2 || todo[1].Version != 3 {
		t.Errorf("pending = %+v", todo)
	}

	st := statuses(migrations, applied)
	if len(st) != 3 {
		t.Fatalf("expected 3 statuses, got %d", len(st))
	}
	if !st[0].Applied || st[0].AppliedAt == nil || !st[0].AppliedAt.Equal(at) {
		t.Errorf("status[0] = %+v", st[0])
	}
	if st[1].Applied || st[1].AppliedAt != nil {
		t.Errorf("status[1] = %+v", st[1])
	}
}
