package conversation

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"ctxlink/internal/errors"
)

// FileSource reads turns from a transcript file: a JSON array (.json),
// JSON Lines (.jsonl, .ndjson) or a YAML list (.yaml, .yml). The file is
// re-read on every fetch.
type FileSource struct {
	path           string
	conversationID string
	logger         *slog.Logger
}

// NewFileSource creates a source over the transcript at path. An empty
// conversationID follows the conversation with the most recent turn.
func NewFileSource(path, conversationID string, logger *slog.Logger) *FileSource {
	return &FileSource{path: path, conversationID: conversationID, logger: logger}
}

// ActiveTurns implements Source
func (s *FileSource) ActiveTurns(ctx context.Context) ([]Turn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, errors.New(errors.FetchFailed, "Failed to read transcript "+s.path, err, nil)
	}

	turns, err := decodeTranscript(s.path, data)
	if err != nil {
		return nil, errors.New(errors.FetchFailed, "Failed to parse transcript "+s.path, err, nil)
	}

	turns = filterConversation(turns, s.conversationID)
	s.logger.Debug("Fetched conversation turns",
		"path", s.path,
		"turns", len(turns),
	)
	return turns, nil
}

func decodeTranscript(path string, data []byte) ([]Turn, error) {
	turns := make([]Turn, 0)
	if len(bytes.TrimSpace(data)) == 0 {
		return turns, nil
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &turns); err != nil {
			return nil, err
		}
	case ".jsonl", ".ndjson":
		scanner := bufio.NewScanner(bytes.NewReader(data))
		scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
		lineNo := 0
		for scanner.Scan() {
			lineNo++
			line := bytes.TrimSpace(scanner.Bytes())
			if len(line) == 0 {
				continue
			}
			var t Turn
			if err := json.Unmarshal(line, &t); err != nil {
				return nil, fmt.Errorf("line %d: %w", lineNo, err)
			}
			turns = append(turns, t)
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	default:
		if err := json.Unmarshal(data, &turns); err != nil {
			return nil, err
		}
	}
	return turns, nil
}

// NewSource builds the configured Source. kind is "sqlite" or "file".
func NewSource(kind, path, conversationID string, logger *slog.Logger) (Source, error) {
	switch kind {
	case "sqlite":
		return NewSQLiteSource(path, conversationID, logger), nil
	case "file":
		return NewFileSource(path, conversationID, logger), nil
	default:
		return nil, errors.New(errors.InvalidConfig, "Unknown conversation source: "+kind, nil, nil)
	}
}
