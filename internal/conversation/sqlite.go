package conversation

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	_ "modernc.org/sqlite"

	"ctxlink/internal/errors"
)

// Schema is the layout of the conversation database read by SQLiteSource
const Schema = `
CREATE TABLE IF NOT EXISTS turns (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	role TEXT NOT NULL,
	text TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	model TEXT,
	input_tokens INTEGER,
	output_tokens INTEGER,
	selections_json TEXT,
	related_files_json TEXT,
	links_json TEXT
);
CREATE INDEX IF NOT EXISTS idx_turns_conversation ON turns(conversation_id, created_at);
`

// SQLiteSource reads turns from a SQLite database, opened read-only.
// created_at holds Unix milliseconds.
type SQLiteSource struct {
	path           string
	conversationID string
	logger         *slog.Logger
	db             *sql.DB
}

// NewSQLiteSource creates a source over the database at path. An empty
// conversationID follows the conversation with the most recent turn.
func NewSQLiteSource(path, conversationID string, logger *slog.Logger) *SQLiteSource {
	return &SQLiteSource{path: path, conversationID: conversationID, logger: logger}
}

func (s *SQLiteSource) open() (*sql.DB, error) {
	if s.db != nil {
		return s.db, nil
	}
	if _, err := os.Stat(s.path); err != nil {
		return nil, errors.New(errors.FetchFailed, "Conversation database not found: "+s.path, err, nil)
	}

	dsn := fmt.Sprintf("file:%s?mode=ro&_pragma=busy_timeout(5000)", s.path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errors.New(errors.FetchFailed, "Failed to open conversation database", err, nil)
	}
	db.SetMaxOpenConns(1)
	s.db = db
	return db, nil
}

// ActiveTurns implements Source
func (s *SQLiteSource) ActiveTurns(ctx context.Context) ([]Turn, error) {
	db, err := s.open()
	if err != nil {
		return nil, err
	}

	conversationID := s.conversationID
	if conversationID == "" {
		err := db.QueryRowContext(ctx,
			`SELECT conversation_id FROM turns ORDER BY created_at DESC, rowid DESC LIMIT 1`,
		).Scan(&conversationID)
		if err == sql.ErrNoRows {
			return []Turn{}, nil
		}
		if err != nil {
			return nil, errors.New(errors.FetchFailed, "Failed to resolve active conversation", err, nil)
		}
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, conversation_id, role, text, created_at, model,
		       input_tokens, output_tokens, selections_json, related_files_json, links_json
		FROM turns
		WHERE conversation_id = ?
		ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, errors.New(errors.FetchFailed, "Failed to query turns", err, nil)
	}
	defer rows.Close()

	turns := make([]Turn, 0)
	for rows.Next() {
		var (
			t                           Turn
			role                        string
			createdAtMs                 int64
			model                       sql.NullString
			inputTokens, outputTokens   sql.NullInt64
			selections, related, linked sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.ConversationID, &role, &t.Text, &createdAtMs, &model,
			&inputTokens, &outputTokens, &selections, &related, &linked); err != nil {
			return nil, errors.New(errors.FetchFailed, "Failed to scan turn", err, nil)
		}

		t.Role = Role(role)
		t.CreatedAt = time.UnixMilli(createdAtMs).UTC()
		t.Model = model.String
		if inputTokens.Valid {
			v := int(inputTokens.Int64)
			t.InputTokens = &v
		}
		if outputTokens.Valid {
			v := int(outputTokens.Int64)
			t.OutputTokens = &v
		}
		if err := decodeJSONColumn(selections, &t.Selections); err != nil {
			return nil, errors.New(errors.FetchFailed, "Malformed selections for turn "+t.ID, err, nil)
		}
		if err := decodeJSONColumn(related, &t.RelatedFiles); err != nil {
			return nil, errors.New(errors.FetchFailed, "Malformed related files for turn "+t.ID, err, nil)
		}
		if err := decodeJSONColumn(linked, &t.Links); err != nil {
			return nil, errors.New(errors.FetchFailed, "Malformed links for turn "+t.ID, err, nil)
		}

		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.New(errors.FetchFailed, "Failed to read turns", err, nil)
	}

	s.logger.Debug("Fetched conversation turns",
		"conversationId", conversationID,
		"turns", len(turns),
	)
	return turns, nil
}

// Close releases the database handle
func (s *SQLiteSource) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func decodeJSONColumn(col sql.NullString, into interface{}) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), into)
}
