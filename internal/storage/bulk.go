package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4"
)

// BookRecord is one catalog entry of a bulk import
type BookRecord struct {
	ID       string
	Title    string
	Author   string
	Genre    string
	CoverURL string
}

var bookColumns = []string{"id", "title", "author", "genre", "cover_url"}

type bookBulk struct {
	rows []BookRecord
	idx  int
}

func (b BookRecord) toInterface() []interface{} {
	return []interface{}{b.ID, b.Title, b.Author, b.Genre, b.CoverURL}
}

func copyFromBooks(rows []BookRecord) pgx.CopyFromSource {
	return &bookBulk{
		rows: rows,
		idx:  -1,
	}
}

func (bb *bookBulk) Next() bool {
	bb.idx++
	return bb.idx < len(bb.rows)
}

func (bb *bookBulk) Values() ([]interface{}, error) {
	r := bb.rows[bb.idx]
	if r.ID == "" || r.Title == "" {
		return nil, fmt.Errorf("book record %d: id and title are required", bb.idx)
	}
	return r.toInterface(), nil
}

func (bb *bookBulk) Err() error {
	return nil
}

// ImportBooks copies records into books in a single transaction and returns the number of rows copied.
func (s *Store) ImportBooks(ctx context.Context, records []BookRecord) (int64, error) {
	s.logger.Debugf("Importing %d books", len(records))

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	// error handling can be omitted for rollback according docs
	defer tx.Rollback(context.Background())

	n, err := tx.CopyFrom(ctx, pgx.Identifier{"books"}, bookColumns, copyFromBooks(records))
	if err != nil {
		return 0, mapError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	s.logger.Debugf("Imported %d books", n)

	return n, nil
}
