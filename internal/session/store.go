package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/vrite/vrite/internal/blocks"
)

// Store persists documents and their conversation history in sqlite.
type Store struct {
	db          *sql.DB
	beforeWrite func()
}

// SetBeforeWrite registers a hook invoked before every write to the store.
// The conflict watcher uses it to tell the process's own saves apart from
// external ones. Must be set before the store is shared across goroutines.
func (s *Store) SetBeforeWrite(fn func()) {
	s.beforeWrite = fn
}

func (s *Store) markWrite() {
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
}

// NewStore opens (or creates) the store at dbPath.
func NewStore(ctx context.Context, dbPath string) (*Store, error) {
	// WAL mode allows readers alongside the single writer.
	dsn := dbPath + "?_journal_mode=WAL&_busy_timeout=5000"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite doesn't support multiple writers well.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		doc_id     TEXT PRIMARY KEY,
		title      TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS turns (
		turn_id    INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id     TEXT NOT NULL,
		role       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (doc_id) REFERENCES documents(doc_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_turns_doc ON turns(doc_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return nil
}

// SaveDocument inserts or updates a document snapshot.
func (s *Store) SaveDocument(ctx context.Context, doc *Document) error {
	s.markWrite()
	content, err := json.Marshal(doc.Blocks)
	if err != nil {
		return fmt.Errorf("marshal document content: %w", err)
	}
	now := time.Now()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	doc.UpdatedAt = now

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (doc_id, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(doc_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			updated_at = excluded.updated_at`,
		doc.ID, doc.Title, string(content), doc.CreatedAt.Unix(), doc.UpdatedAt.Unix())
	if err != nil {
		return fmt.Errorf("save document %s: %w", doc.ID, err)
	}
	return nil
}

// LoadDocument retrieves a document by id.
func (s *Store) LoadDocument(ctx context.Context, id string) (*Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT doc_id, title, content, created_at, updated_at
		FROM documents WHERE doc_id = ?`, id)

	var doc Document
	var content string
	var created, updated int64
	if err := row.Scan(&doc.ID, &doc.Title, &content, &created, &updated); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("document %s not found", id)
		}
		return nil, fmt.Errorf("load document %s: %w", id, err)
	}
	if err := json.Unmarshal([]byte(content), &doc.Blocks); err != nil {
		return nil, fmt.Errorf("unmarshal document content: %w", err)
	}
	if doc.Blocks == nil {
		doc.Blocks = []blocks.Block{}
	}
	doc.CreatedAt = time.Unix(created, 0)
	doc.UpdatedAt = time.Unix(updated, 0)
	return &doc, nil
}

// ListDocuments returns all documents, newest first.
func (s *Store) ListDocuments(ctx context.Context) ([]DocumentMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc_id, title, created_at, updated_at
		FROM documents ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentMeta
	for rows.Next() {
		var m DocumentMeta
		var created, updated int64
		if err := rows.Scan(&m.ID, &m.Title, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan document row: %w", err)
		}
		m.CreatedAt = time.Unix(created, 0)
		m.UpdatedAt = time.Unix(updated, 0)
		out = append(out, m)
	}
	return out, rows.Err()
}

// DeleteDocument removes a document and its conversation history.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	s.markWrite()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE doc_id = ?`, id); err != nil {
		return fmt.Errorf("delete turns for %s: %w", id, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE doc_id = ?`, id); err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	return nil
}

// AppendTurn records one conversation message for a document.
func (s *Store) AppendTurn(ctx context.Context, docID, role, content string) error {
	s.markWrite()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO turns (doc_id, role, content, created_at)
		VALUES (?, ?, ?, ?)`,
		docID, role, content, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("append turn for %s: %w", docID, err)
	}
	return nil
}

// History returns a document's conversation in order.
func (s *Store) History(ctx context.Context, docID string) ([]Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT role, content FROM turns
		WHERE doc_id = ? ORDER BY turn_id ASC`, docID)
	if err != nil {
		return nil, fmt.Errorf("load history for %s: %w", docID, err)
	}
	defer rows.Close()

	var out []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.Role, &t.Content); err != nil {
			return nil, fmt.Errorf("scan turn row: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Turn is one stored conversation message.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
