package sopflow

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

const documentSchema = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	title      TEXT NOT NULL,
	content    TEXT NOT NULL,
	is_active  INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// SQLiteDocumentStore is a DocumentStore backed by a SQLite file. Inactive
// documents stay in the table but are invisible to the engine.
type SQLiteDocumentStore struct {
	db *sql.DB
}

// NewSQLiteDocumentStore opens (or creates) the document database at path.
func NewSQLiteDocumentStore(path string) (*SQLiteDocumentStore, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open document database: %w", err)
	}
	if _, err := db.Exec(documentSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create document schema: %w", err)
	}
	return &SQLiteDocumentStore{db: db}, nil
}

// Close closes the underlying database.
func (s *SQLiteDocumentStore) Close() error {
	return s.db.Close()
}

// Put inserts or replaces a document and marks it active.
func (s *SQLiteDocumentStore) Put(ctx context.Context, doc Document) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, title, content, is_active) VALUES (?, ?, ?, 1)
		 ON CONFLICT(id) DO UPDATE SET title = excluded.title, content = excluded.content, is_active = 1`,
		doc.ID, doc.Title, doc.Content)
	if err != nil {
		return fmt.Errorf("failed to store document: %w", err)
	}
	return nil
}

// Deactivate hides a document from the engine without deleting it.
func (s *SQLiteDocumentStore) Deactivate(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE documents SET is_active = 0 WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to deactivate document: %w", err)
	}
	return nil
}

// GetAllActive returns every active document, oldest first.
func (s *SQLiteDocumentStore) GetAllActive(ctx context.Context) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, content FROM documents WHERE is_active = 1 ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.Title, &doc.Content); err != nil {
			return nil, fmt.Errorf("failed to scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}
	return docs, nil
}

// FindByID returns an active document by ID, or nil.
func (s *SQLiteDocumentStore) FindByID(ctx context.Context, id string) (*Document, error) {
	var doc Document
	err := s.db.QueryRowContext(ctx,
		`SELECT id, title, content FROM documents WHERE id = ? AND is_active = 1`, id).
		Scan(&doc.ID, &doc.Title, &doc.Content)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query document: %w", err)
	}
	return &doc, nil
}
