package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"condo-water/internal/docstore"
)

const defaultDocumentsTable = "documents"

// Store is a Postgres document store over a single JSONB table.
// Each Commit runs in one transaction; preconditions are evaluated by the
// guarded UPDATE/DELETE statements themselves, so concurrent writers on the
// same row serialize on the row lock.
type Store struct {
	db    *sql.DB
	table string
	now   func() time.Time
}

// StoreOption configures the store.
type StoreOption func(*Store)

// WithTable overrides the default table.
func WithTable(table string) StoreOption {
	return func(s *Store) {
		if table != "" {
			s.table = table
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore constructs a store with defaults.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:    db,
		table: defaultDocumentsTable,
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get loads a document.
func (s *Store) Get(ctx context.Context, collection, id string) (*docstore.Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("docstore postgres: nil db")
	}
	if collection == "" || id == "" {
		return nil, docstore.ErrInvalidKey
	}

	query := fmt.Sprintf(`
SELECT data, created_at, updated_at
FROM %s
WHERE collection = $1 AND id = $2
LIMIT 1`, s.table)

	doc := docstore.Document{Collection: collection, ID: id}
	var data []byte
	if err := s.db.QueryRowContext(ctx, query, collection, id).Scan(&data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, docstore.ErrNotFound
		}
		return nil, err
	}
	doc.Data = data
	doc.CreatedAt = doc.CreatedAt.UTC()
	doc.UpdatedAt = doc.UpdatedAt.UTC()
	return &doc, nil
}

// Query returns matching documents.
func (s *Store) Query(ctx context.Context, q docstore.Query) ([]docstore.Document, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("docstore postgres: nil db")
	}
	if err := docstore.ValidateQuery(q); err != nil {
		return nil, err
	}

	query, args := s.buildQuery(q)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []docstore.Document
	for rows.Next() {
		doc := docstore.Document{Collection: q.Collection}
		var data []byte
		if err := rows.Scan(&doc.ID, &data, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, err
		}
		doc.Data = data
		doc.CreatedAt = doc.CreatedAt.UTC()
		doc.UpdatedAt = doc.UpdatedAt.UTC()
		result = append(result, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) buildQuery(q docstore.Query) (string, []any) {
	var b strings.Builder
	args := []any{q.Collection}
	fmt.Fprintf(&b, "SELECT id, data, created_at, updated_at FROM %s WHERE collection = $1", s.table)
	for _, f := range q.Filters {
		args = append(args, f.Field, f.Equals)
		fmt.Fprintf(&b, " AND data->>$%d = $%d", len(args)-1, len(args))
	}
	if q.OrderBy != "" {
		args = append(args, q.OrderBy)
		direction := "ASC"
		if q.Descending {
			direction = "DESC"
		}
		fmt.Fprintf(&b, " ORDER BY data->>$%d %s, id ASC", len(args), direction)
	} else {
		b.WriteString(" ORDER BY id ASC")
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	return b.String(), args
}

// Commit applies the batch in a single transaction.
func (s *Store) Commit(ctx context.Context, batch *docstore.Batch) error {
	if s == nil || s.db == nil {
		return errors.New("docstore postgres: nil db")
	}
	if batch == nil || batch.Len() == 0 {
		return docstore.ErrEmptyBatch
	}
	if err := batch.Err(); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	now := s.now()
	for _, op := range batch.Ops() {
		if err := s.apply(ctx, tx, op, now); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

func (s *Store) apply(ctx context.Context, tx *sql.Tx, op docstore.Op, now time.Time) error {
	switch op.Kind {
	case docstore.OpCreate:
		if op.Precondition != nil {
			return errors.New("docstore postgres: precondition on create")
		}
		res, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (collection, id, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (collection, id) DO NOTHING`, s.table), op.Collection, op.ID, []byte(op.Data), now)
		if err != nil {
			return err
		}
		return expectRow(res, docstore.ErrAlreadyExists)
	case docstore.OpSet:
		if op.Precondition != nil {
			return s.guardedUpdate(ctx, tx, op, now)
		}
		_, err := tx.ExecContext(ctx, fmt.Sprintf(`
INSERT INTO %s (collection, id, data, created_at, updated_at)
VALUES ($1, $2, $3, $4, $4)
ON CONFLICT (collection, id)
DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, s.table), op.Collection, op.ID, []byte(op.Data), now)
		return err
	case docstore.OpUpdate:
		return s.guardedUpdate(ctx, tx, op, now)
	case docstore.OpDelete:
		query := fmt.Sprintf(`DELETE FROM %s WHERE collection = $1 AND id = $2`, s.table)
		args := []any{op.Collection, op.ID}
		if op.Precondition != nil {
			query += " AND data->>$3 = $4"
			args = append(args, op.Precondition.Field, op.Precondition.Equals)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if op.Precondition == nil {
			return nil
		}
		return s.explainMiss(ctx, tx, res, op)
	default:
		return fmt.Errorf("docstore postgres: unknown op %q", op.Kind)
	}
}

func (s *Store) guardedUpdate(ctx context.Context, tx *sql.Tx, op docstore.Op, now time.Time) error {
	query := fmt.Sprintf(`UPDATE %s SET data = $3, updated_at = $4 WHERE collection = $1 AND id = $2`, s.table)
	args := []any{op.Collection, op.ID, []byte(op.Data), now}
	if op.Precondition != nil {
		query += " AND data->>$5 = $6"
		args = append(args, op.Precondition.Field, op.Precondition.Equals)
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return s.explainMiss(ctx, tx, res, op)
}

// explainMiss turns a zero-row guarded write into ErrNotFound or ErrPreconditionFailed.
func (s *Store) explainMiss(ctx context.Context, tx *sql.Tx, res sql.Result, op docstore.Op) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}
	var one int
	err = tx.QueryRowContext(ctx, fmt.Sprintf(`SELECT 1 FROM %s WHERE collection = $1 AND id = $2`, s.table), op.Collection, op.ID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return docstore.ErrNotFound
	}
	if err != nil {
		return err
	}
	return docstore.ErrPreconditionFailed
}

func expectRow(res sql.Result, missErr error) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return missErr
	}
	return nil
}
