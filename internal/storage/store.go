// Package storage is the Postgres backend of the remote collections: filtered selects,
// inserts and updates over pgxpool, change notifications over LISTEN/NOTIFY, schema
// migrations and bulk catalog import.
package storage

import (
	"context"
	"errors"
	"fmt"

	"bookshelf/internal/remote"
	"bookshelf/internal/storage/zapadapter"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"go.uber.org/zap"
)

// Store defines fields used in db interaction processes
type Store struct {
	logger *zap.SugaredLogger
	db     *pgxpool.Pool
}

// NewStore sets provided zap.Logger via zapadapter to pgxpool.Pool and returns instance of Store struct
func NewStore(ctx context.Context, logger *zap.SugaredLogger, cfg Config, opts ...Option) (*Store, error) {
	config, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, err
	}
	config.ConnConfig.Logger = zapadapter.NewLogger(logger.Desugar())
	config.ConnConfig.LogLevel = pgx.LogLevelWarn

	for _, o := range opts {
		o.apply(config)
	}

	pool, err := pgxpool.ConnectConfig(ctx, config)
	if err != nil {
		return nil, err
	}

	return &Store{
		logger: logger,
		db:     pool,
	}, nil
}

// Close closes all pool connections
func (s *Store) Close() {
	s.db.Close()
}

// Select implements remote.Store
func (s *Store) Select(ctx context.Context, q remote.Query) ([]remote.Row, error) {
	sql, args, err := selectSQL(q)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Selecting %s (%s)", q.Collection, q.Filter)

	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}

	out, err := collect(rows)
	if err != nil {
		return nil, mapError(err)
	}

	s.logger.Debugf("Selected %d %s rows", len(out), q.Collection)

	return out, nil
}

// Insert implements remote.Store
func (s *Store) Insert(ctx context.Context, collection string, row remote.Row) (remote.Row, error) {
	sql, args, err := insertSQL(collection, row)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Inserting into %s", collection)

	out, err := s.one(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Inserted into %s with id %s", collection, out.ID())

	return out, nil
}

// Update implements remote.Store
func (s *Store) Update(ctx context.Context, collection, id string, row remote.Row) (remote.Row, error) {
	return s.UpdateWhere(ctx, collection, id, remote.All(), row)
}

// UpdateWhere implements remote.Store. The condition is evaluated by the update statement itself.
func (s *Store) UpdateWhere(ctx context.Context, collection, id string, cond remote.Filter, row remote.Row) (remote.Row, error) {
	sql, args, err := updateSQL(collection, id, cond, row)
	if err != nil {
		return nil, err
	}

	s.logger.Debugf("Updating %s (id: %s, where: %s)", collection, id, cond)

	out, err := s.one(ctx, sql, args)
	if !errors.Is(err, remote.ErrNotFound) || cond.Op == remote.OpAll {
		return out, err
	}

	// no row changed: tell a missing row from one that failed the condition
	tbl, _ := table(collection)
	var exists bool
	if err := s.db.QueryRow(ctx, "select exists(select 1 from "+tbl+" where id = $1)", id).Scan(&exists); err != nil {
		return nil, mapError(err)
	}
	if exists {
		return nil, remote.ErrConflict
	}
	return nil, remote.ErrNotFound
}

func (s *Store) one(ctx context.Context, sql string, args args) (remote.Row, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, mapError(err)
	}

	out, err := collect(rows)
	if err != nil {
		return nil, mapError(err)
	}
	if len(out) == 0 {
		return nil, remote.ErrNotFound
	}

	return out[0], nil
}

// collect reads every row into column-keyed maps and closes rows
func collect(rows pgx.Rows) ([]remote.Row, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()

	var out []remote.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		r := make(remote.Row, len(fields))
		for i, fd := range fields {
			r[string(fd.Name)] = values[i]
		}
		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

// mapError translates constraint violations into remote sentinels
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return fmt.Errorf("%w: %s", remote.ErrConflict, pgErr.ConstraintName)
		case pgerrcode.ForeignKeyViolation:
			return fmt.Errorf("%w: %s", remote.ErrBadReference, pgErr.ConstraintName)
		}
	}
	return err
}
