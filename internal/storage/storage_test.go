package storage

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), ".ctxlink", "ctxlink.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close database: %v", err)
		}
	})

	return db, dbPath
}

func TestDatabaseInitialization(t *testing.T) {
	db, dbPath := setupTestDB(t)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatalf("Database file was not created at %s", dbPath)
	}

	version, err := db.getSchemaVersion()
	if err != nil {
		t.Fatalf("Failed to get schema version: %v", err)
	}
	if version != currentSchemaVersion {
		t.Errorf("Expected schema version %d, got %d", currentSchemaVersion, version)
	}
}

func TestReopenExistingDatabase(t *testing.T) {
	db, dbPath := setupTestDB(t)
	ctx := context.Background()

	if err := db.PutContext(ctx, ContextRow{ID: "u1", ConversationID: "c1", Timestamp: time.Now(), Payload: []byte(`{}`)}); err != nil {
		t.Fatalf("PutContext failed: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	again, err := Open(dbPath, logger)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer again.Close()

	rows, err := again.ListContexts(ctx)
	if err != nil || len(rows) != 1 {
		t.Errorf("ListContexts = %d rows, %v; want 1", len(rows), err)
	}
}

func TestContextRoundTrip(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	ts := time.Date(2024, 1, 1, 12, 0, 0, 123000000, time.UTC)
	payload := []byte(`{"id":"u1","prompt":"` + strings.Repeat("fix bug ", 200) + `"}`)

	if err := db.PutContext(ctx, ContextRow{
		ID:             "u1",
		ConversationID: "c1",
		CommitHash:     "abc123",
		Timestamp:      ts,
		Payload:        payload,
	}); err != nil {
		t.Fatalf("PutContext failed: %v", err)
	}

	row, found, err := db.GetContext(ctx, "u1")
	if err != nil || !found {
		t.Fatalf("GetContext = found %v, err %v", found, err)
	}
	if string(row.Payload) != string(payload) {
		t.Error("payload did not survive compression")
	}
	if row.CommitHash != "abc123" || row.ConversationID != "c1" || !row.Timestamp.Equal(ts) {
		t.Errorf("row = %+v", row)
	}

	var stored []byte
	if err := db.conn.QueryRow("SELECT payload FROM contexts WHERE id = 'u1'").Scan(&stored); err != nil {
		t.Fatal(err)
	}
	if len(stored) >= len(payload) {
		t.Errorf("stored payload %d bytes, expected compression below %d", len(stored), len(payload))
	}
}

func TestPutContextReplaces(t *testing.T) {
	db, _ := setupTestDB(t)
	ctx := context.Background()
	ts := time.Now()

	for _, commit := range []string{"", "def456"} {
		if err := db.PutContext(ctx, ContextRow{ID: "u1", ConversationID: "c1", CommitHash: commit, Timestamp: ts, Payload: []byte(`{}`)}); err != nil {
			t.Fatalf("PutContext failed: %v", err)
		}
	}

	rows, err := db.ListContexts(ctx)
	if err != nil {
		t.Fatalf("ListContexts failed: %v", err)
	}
	if len(rows) != 1 || rows[0].CommitHash != "def456" {
		t.Errorf("rows = %+v, want a single replaced row", rows)
	}
}

func TestGetContextMissing(t *testing.T) {
	db, _ := setupTestDB(t)

	_, found, err := db.GetContext(context.Background(), "nope")
	if err != nil || found {
		t.Errorf("GetContext(missing) = found %v, err %v", found, err)
	}
}
