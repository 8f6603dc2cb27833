package migrations

import (
	"io/fs"
	"strings"
	"testing"
)

func TestEmbeddedMigrationsPresent(t *testing.T) {
	for _, tc := range []struct {
		fsys fs.FS
		dir  string
	}{
		{PostgresFS, "postgres"},
		{ClickhouseFS, "clickhouse"},
	} {
		files, err := sqlFiles(tc.fsys, tc.dir)
		if err != nil {
			t.Fatalf("sqlFiles(%s): %v", tc.dir, err)
		}
		if len(files) == 0 {
			t.Errorf("no %s migrations embedded", tc.dir)
		}
		for i := 1; i < len(files); i++ {
			if files[i-1] >= files[i] {
				t.Errorf("%s migrations not sorted: %v", tc.dir, files)
			}
		}
	}
}

func TestClickhouseMigrationsSplitCleanly(t *testing.T) {
	files, err := sqlFiles(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatalf("sqlFiles: %v", err)
	}
	for _, file := range files {
		data, err := fs.ReadFile(ClickhouseFS, "clickhouse/"+file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if err := validateNoSemicolonInStrings(string(data)); err != nil {
			t.Errorf("%s: %v", file, err)
		}
		for _, stmt := range splitStatements(string(data)) {
			if strings.HasPrefix(stmt, "--") {
				t.Errorf("%s: comment leaked into statement %q", file, stmt)
			}
		}
	}
}

func TestSplitStatements(t *testing.T) {
	input := "-- header\nCREATE TABLE a (x UInt8);\n\nCREATE TABLE b (y UInt8);\n"
	stmts := splitStatements(input)
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %q", len(stmts), stmts)
	}
	if stmts[0] != "CREATE TABLE a (x UInt8)" {
		t.Errorf("stmts[0] = %q", stmts[0])
	}
}

func TestValidateNoSemicolonInStrings(t *testing.T) {
	if err := validateNoSemicolonInStrings("SELECT 'a;b'"); err == nil {
		t.Error("expected error for semicolon inside string")
	}
	if err := validateNoSemicolonInStrings("SELECT 'it''s'; SELECT 1"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestDatabaseFromDSN(t *testing.T) {
	db, err := databaseFromDSN("clickhouse://default:@localhost:9000/oraculo")
	if err != nil || db != "oraculo" {
		t.Errorf("databaseFromDSN = %q, %v", db, err)
	}
	if _, err := databaseFromDSN("clickhouse://localhost:9000"); err == nil {
		t.Error("expected error for missing database")
	}
}
