package store

import (
	"testing"
	"testing/fstest"

	"composer/api/db/migrations"
)

func TestMigrationsHaveMatchingUpAndDownFiles(t *testing.T) {
	loaded, err := LoadMigrations(migrations.FS)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(loaded) == 0 {
		t.Fatal("no migrations discovered")
	}
	for i := 1; i < len(loaded); i++ {
		if loaded[i-1].Version >= loaded[i].Version {
			t.Fatalf("migrations out of order: %s before %s", loaded[i-1].Version, loaded[i].Version)
		}
	}
}

func TestLoadMigrationsRejectsMissingDown(t *testing.T) {
	fsys := fstest.MapFS{
		"0001_init.up.sql":   {Data: []byte("CREATE TABLE a (id TEXT);")},
		"0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
		"0002_more.up.sql":   {Data: []byte("CREATE TABLE b (id TEXT);")},
	}
	if _, err := LoadMigrations(fsys); err == nil {
		t.Fatal("expected error for version without down file")
	}
}

func TestLoadMigrationsIgnoresOtherFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"0002_more.up.sql":   {Data: []byte("CREATE TABLE b (id TEXT);")},
		"0002_more.down.sql": {Data: []byte("DROP TABLE b;")},
		"0001_init.up.sql":   {Data: []byte("CREATE TABLE a (id TEXT);")},
		"0001_init.down.sql": {Data: []byte("DROP TABLE a;")},
		"README.md":          {Data: []byte("notes")},
		"migrations.go":      {Data: []byte("package migrations")},
	}
	loaded, err := LoadMigrations(fsys)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(loaded) != 2 {
		t.Fatalf("expected 2 migrations, got %d", len(loaded))
	}
	if loaded[0].Name != "0001_init.up.sql" || loaded[1].Name != "0002_more.up.sql" {
		t.Fatalf("unexpected order: %s, %s", loaded[0].Name, loaded[1].Name)
	}
	if loaded[1].Down != "DROP TABLE b;" {
		t.Fatalf("unexpected down sql: %q", loaded[1].Down)
	}
}
