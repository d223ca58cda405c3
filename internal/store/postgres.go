package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
)

var _ Store = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS documents (
	collection TEXT        NOT NULL,
	id         TEXT        NOT NULL,
	body       JSONB       NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (collection, id)
)`

// PostgresStore keeps documents as JSONB rows. Merges run inside a
// transaction holding the row lock.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore connects through the pgx driver and ensures the schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db connect failed: %w", err)
	}
	if _, err := db.ExecContext(ctx, postgresSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type documentRow struct {
	ID   string `db:"id"`
	Body []byte `db:"body"`
}

func (s *PostgresStore) Get(ctx context.Context, path string) (Document, error) {
	collection, id, err := SplitPath(path)
	if err != nil {
		return Document{}, err
	}

	var body []byte
	err = s.db.GetContext(ctx, &body, `SELECT body FROM documents WHERE collection = $1 AND id = $2`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return Document{}, ErrNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to get %s: %w", path, err)
	}

	fields, err := decodeBody(body)
	if err != nil {
		return Document{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return Document{Path: path, ID: id, Fields: fields}, nil
}

func (s *PostgresStore) Create(ctx context.Context, path string, fields map[string]any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	body, err := json.Marshal(mergeFields(nil, fields))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (collection, id, body) VALUES ($1, $2, $3::jsonb) ON CONFLICT (collection, id) DO NOTHING`,
		collection, id, string(body))
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if n == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (s *PostgresStore) Set(ctx context.Context, path string, fields map[string]any, merge bool) error {
	return s.write(ctx, path, fields, merge, false)
}

func (s *PostgresStore) Update(ctx context.Context, path string, fields map[string]any) error {
	return s.write(ctx, path, fields, true, true)
}

func (s *PostgresStore) write(ctx context.Context, path string, fields map[string]any, merge, mustExist bool) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin write of %s: %w", path, err)
	}
	defer tx.Rollback()

	// Make sure a row exists so concurrent first writers serialize on its lock.
	if !mustExist {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO documents (collection, id, body) VALUES ($1, $2, '{}'::jsonb) ON CONFLICT (collection, id) DO NOTHING`,
			collection, id)
		if err != nil {
			return fmt.Errorf("failed to create %s: %w", path, err)
		}
	}

	var body []byte
	err = tx.GetContext(ctx, &body, `SELECT body FROM documents WHERE collection = $1 AND id = $2 FOR UPDATE`, collection, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to lock %s: %w", path, err)
	}

	var existing map[string]any
	if merge {
		if existing, err = decodeBody(body); err != nil {
			return fmt.Errorf("failed to decode %s: %w", path, err)
		}
	}

	next, err := json.Marshal(mergeFields(existing, fields))
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE documents SET body = $3::jsonb, updated_at = now() WHERE collection = $1 AND id = $2`,
		collection, id, string(next))
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = $1 AND id = $2`, collection, id); err != nil {
		return fmt.Errorf("failed to delete %s: %w", path, err)
	}
	return nil
}

// Query loads the collection and filters rows in process; collections here
// hold at most a retention window of day documents or the subscriber list.
func (s *PostgresStore) Query(ctx context.Context, collection string, filters ...Filter) ([]Document, error) {
	var rows []documentRow
	err := s.db.SelectContext(ctx, &rows, `SELECT id, body FROM documents WHERE collection = $1 ORDER BY id`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", collection, err)
	}

	docs := make([]Document, 0, len(rows))
	for _, row := range rows {
		fields, err := decodeBody(row.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s/%s: %w", collection, row.ID, err)
		}
		if !matchAll(fields, filters) {
			continue
		}
		docs = append(docs, Document{Path: Path(collection, row.ID), ID: row.ID, Fields: fields})
	}
	return docs, nil
}

func decodeBody(body []byte) (map[string]any, error) {
	fields := map[string]any{}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}
