package db

import (
	"bytes"
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuildDSN(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		driver  string
		path    string
		prefix  string
		contain string
	}{
		{name: "mattn plain path", driver: "sqlite3", path: filepath.Join(dir, "a", "nvs.db"), prefix: "file:", contain: "_journal_mode=WAL"},
		{name: "modernc plain path", driver: "sqlite", path: filepath.Join(dir, "b", "nvs.db"), prefix: "file:", contain: "_pragma=journal_mode(WAL)"},
		{name: "file uri with query", driver: "sqlite3", path: "file:" + filepath.Join(dir, "c.db") + "?cache=shared", prefix: "file:", contain: "cache=shared&_busy_timeout=5000"},
		{name: "memory", driver: "sqlite", path: ":memory:", prefix: ":memory:", contain: ":memory:"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildDSN(tt.driver, tt.path)
			if err != nil {
				t.Fatalf("buildDSN: %v", err)
			}
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("dsn = %q; want prefix %q", got, tt.prefix)
			}
			if !strings.Contains(got, tt.contain) {
				t.Errorf("dsn = %q; want it to contain %q", got, tt.contain)
			}
		})
	}
}

func TestBuildDSN_unknownDriver(t *testing.T) {
	if _, err := buildDSN("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("buildDSN(postgres) = nil error; want error")
	}
}

func TestOpen_pureGo(t *testing.T) {
	conn, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "nvs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() {
		if err := Close(conn); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()

	var ok int
	if err := conn.QueryRow(`SELECT 1`).Scan(&ok); err != nil || ok != 1 {
		t.Fatalf("SELECT 1 = %d, %v", ok, err)
	}
}

func TestClose_nil(t *testing.T) {
	if err := Close(nil); err != nil {
		t.Fatalf("Close(nil) = %v; want nil", err)
	}
}

func TestOpen_queryLog(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	conn, err := Open(context.Background(), "sqlite", filepath.Join(t.TempDir(), "nvs.db"), WithQueryLog(logger))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer func() { _ = Close(conn) }()

	if _, err := conn.Exec(`CREATE TABLE t (v BLOB)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := conn.Exec(`INSERT INTO t (v) VALUES (?)`, []byte{1, 2, 3}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, `INSERT INTO t (v) VALUES (?)`) {
		t.Errorf("insert not logged: %q", out)
	}
	if !strings.Contains(out, `<3 bytes>`) {
		t.Errorf("blob arg not summarised: %q", out)
	}
}

func TestOpen_queryLogUnknownDriver(t *testing.T) {
	_, err := Open(context.Background(), "postgres", filepath.Join(t.TempDir(), "x.db"), WithQueryLog(slog.Default()))
	if err == nil {
		t.Fatal("Open(postgres) = nil error; want error")
	}
}
