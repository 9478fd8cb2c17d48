package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// ContextRow is one stored context. Payload is the uncompressed JSON record;
// compression happens on the way in and out.
type ContextRow struct {
	ID             string
	ConversationID string
	CommitHash     string
	Timestamp      time.Time
	Payload        []byte
}

var (
	encoderOnce sync.Once
	encoder     *zstd.Encoder
	decoderOnce sync.Once
	decoder     *zstd.Decoder
)

func zstdEncoder() *zstd.Encoder {
	encoderOnce.Do(func() {
		// Only fails on invalid options
		encoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	return encoder
}

func zstdDecoder() *zstd.Decoder {
	decoderOnce.Do(func() {
		decoder, _ = zstd.NewReader(nil)
	})
	return decoder
}

// PutContext inserts or replaces a context row
func (db *DB) PutContext(ctx context.Context, row ContextRow) error {
	compressed := zstdEncoder().EncodeAll(row.Payload, nil)

	var commit interface{}
	if row.CommitHash != "" {
		commit = row.CommitHash
	}

	return db.WithTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT OR REPLACE INTO contexts (id, conversation_id, commit_hash, timestamp, encoding, payload, updated_at)
			VALUES (?, ?, ?, ?, 'zstd', ?, ?)
		`, row.ID, row.ConversationID, commit,
			row.Timestamp.UTC().Format(time.RFC3339Nano),
			compressed,
			time.Now().UTC().Format(time.RFC3339),
		)
		return err
	})
}

// GetContext loads one row; found is false when id is unknown
func (db *DB) GetContext(ctx context.Context, id string) (row ContextRow, found bool, err error) {
	r := db.conn.QueryRowContext(ctx, `
		SELECT id, conversation_id, commit_hash, timestamp, encoding, payload
		FROM contexts WHERE id = ?
	`, id)
	row, err = scanContext(r)
	if err == sql.ErrNoRows {
		return ContextRow{}, false, nil
	}
	if err != nil {
		return ContextRow{}, false, err
	}
	return row, true, nil
}

// ListContexts returns every row ordered by timestamp
func (db *DB) ListContexts(ctx context.Context) ([]ContextRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, conversation_id, commit_hash, timestamp, encoding, payload
		FROM contexts ORDER BY timestamp, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]ContextRow, 0)
	for rows.Next() {
		row, err := scanContext(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanContext(s scanner) (ContextRow, error) {
	var (
		row       ContextRow
		commit    sql.NullString
		timestamp string
		encoding  string
		payload   []byte
	)
	if err := s.Scan(&row.ID, &row.ConversationID, &commit, &timestamp, &encoding, &payload); err != nil {
		return ContextRow{}, err
	}
	row.CommitHash = commit.String

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		return ContextRow{}, fmt.Errorf("context %s: bad timestamp: %w", row.ID, err)
	}
	row.Timestamp = ts

	switch encoding {
	case "zstd":
		row.Payload, err = zstdDecoder().DecodeAll(payload, nil)
		if err != nil {
			return ContextRow{}, fmt.Errorf("context %s: decompress: %w", row.ID, err)
		}
	case "", "identity":
		row.Payload = payload
	default:
		return ContextRow{}, fmt.Errorf("context %s: unknown encoding %q", row.ID, encoding)
	}
	return row, nil
}
