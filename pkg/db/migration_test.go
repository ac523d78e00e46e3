package db

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// TestInitDBCreatesFinalSchema verifies InitDB creates every logical table of the
// parameter store and records the schema version.
func TestInitDBCreatesFinalSchema(t *testing.T) {
	dbConn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()
	dbConn.SetMaxOpenConns(1)

	if err := InitDB(dbConn); err != nil {
		t.Fatalf("InitDB failed: %v", err)
	}

	for _, table := range []string{
		"kinetic_parameters", "enrichment_applications", "query_cache", "organism_compatibility",
		"raw_source_records", "aggregated_statistics", "schema_version",
	} {
		var name string
		if err := dbConn.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name); err != nil {
			t.Fatalf("%s table missing: %v", table, err)
		}
	}

	rows, err := dbConn.Query("PRAGMA table_info(query_cache)")
	if err != nil {
		t.Fatalf("pragmas: %v", err)
	}
	defer rows.Close()
	cols := map[string]bool{}
	for rows.Next() {
		var cid int
		var colName, ctype string
		var notnull, pk int
		var dfltVal interface{}
		if err := rows.Scan(&cid, &colName, &ctype, &notnull, &dfltVal, &pk); err != nil {
			t.Fatalf("scan col: %v", err)
		}
		cols[colName] = true
	}
	for _, c := range []string{"regime", "id_kind", "identifier", "organism", "hit_count"} {
		if !cols[c] {
			t.Fatalf("expected %s in query_cache, got %v", c, cols)
		}
	}

	v, err := CurrentVersion(dbConn)
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if v != SchemaVersion {
		t.Fatalf("expected schema version %d, got %d", SchemaVersion, v)
	}
}

func TestInitDBIsIdempotent(t *testing.T) {
	dbConn, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer dbConn.Close()
	dbConn.SetMaxOpenConns(1)

	for i := 0; i < 2; i++ {
		if err := InitDB(dbConn); err != nil {
			t.Fatalf("InitDB run %d failed: %v", i+1, err)
		}
	}
	var n int
	if err := dbConn.QueryRow("SELECT COUNT(*) FROM schema_version").Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected a single schema_version row, got %d", n)
	}
}
