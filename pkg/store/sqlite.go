package store

import (
	"context"
	"database/sql"
	"encoding/json"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/go-go-golems/spellbook/pkg/conversation"
)

const sqliteConversationsSchemaV1 = `
CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    payload_json TEXT NOT NULL,
    metadata_json TEXT NOT NULL,
    saved_at_ms INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists conversations in a SQLite database.
//
// Storage format keeps one JSON payload per conversation row so the message
// schema can evolve without SQL column churn while still getting durable
// persistence and cheap listings out of the metadata column.
type SQLiteStore struct {
	dsn string
	db  *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn == "" {
		return nil, errors.New("sqlite conversation store: empty dsn")
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "could not open sqlite database %s", dsn)
	}

	s := &SQLiteStore{dsn: dsn, db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(sqliteConversationsSchemaV1); err != nil {
		return errors.Wrap(err, "could not migrate conversation schema")
	}
	return nil
}

func (s *SQLiteStore) Save(ctx context.Context, id string, messages []*conversation.Message, meta Metadata) error {
	if id == "" {
		return errors.New("conversation id is required")
	}

	payload, err := json.Marshal(messages)
	if err != nil {
		return errors.Wrap(err, "could not serialize conversation")
	}
	metadata, err := json.Marshal(meta)
	if err != nil {
		return errors.Wrap(err, "could not serialize conversation metadata")
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO conversations (id, payload_json, metadata_json, saved_at_ms)
VALUES (?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    payload_json = excluded.payload_json,
    metadata_json = excluded.metadata_json,
    saved_at_ms = excluded.saved_at_ms
`, id, string(payload), string(metadata), meta.SavedAt.UnixMilli())
	if err != nil {
		return errors.Wrapf(err, "could not save conversation %s", id)
	}

	log.Debug().
		Str("conversation_id", id).
		Int("message_count", meta.MessageCount).
		Msg("saved conversation")
	return nil
}

func (s *SQLiteStore) Load(ctx context.Context, id string) ([]*conversation.Message, Metadata, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload_json, metadata_json FROM conversations WHERE id = ?`, id)

	var payload, metadata string
	if err := row.Scan(&payload, &metadata); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, Metadata{}, errors.Wrapf(ErrNotFound, "conversation %q", id)
		}
		return nil, Metadata{}, errors.Wrapf(err, "could not load conversation %s", id)
	}

	var messages []*conversation.Message
	if err := json.Unmarshal([]byte(payload), &messages); err != nil {
		return nil, Metadata{}, errors.Wrapf(err, "could not decode conversation %s", id)
	}
	var meta Metadata
	if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
		return nil, Metadata{}, errors.Wrapf(err, "could not decode conversation metadata %s", id)
	}

	return messages, meta, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, metadata_json FROM conversations ORDER BY saved_at_ms DESC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "could not list conversations")
	}
	defer func() {
		_ = rows.Close()
	}()

	var entries []Entry
	for rows.Next() {
		var id, metadata string
		if err := rows.Scan(&id, &metadata); err != nil {
			return nil, errors.Wrap(err, "could not scan conversation row")
		}
		var meta Metadata
		if err := json.Unmarshal([]byte(metadata), &meta); err != nil {
			return nil, errors.Wrapf(err, "could not decode conversation metadata %s", id)
		}
		entries = append(entries, Entry{ID: id, Metadata: meta})
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "could not iterate conversation rows")
	}
	return entries, nil
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id); err != nil {
		return errors.Wrapf(err, "could not delete conversation %s", id)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
