package storage

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"bookshelf/internal/remote"

	"github.com/jackc/pgtype"
	"github.com/jackc/pgx/v4"
)

var tables = map[string]bool{
	remote.Books:            true,
	remote.BookReviews:      true,
	remote.Messages:         true,
	remote.Communities:      true,
	remote.CommunityMembers: true,
	remote.Loans:            true,
	remote.Wishlist:         true,
}

func table(collection string) (string, error) {
	if !tables[collection] {
		return "", fmt.Errorf("%w: %q", remote.ErrUnknownCollection, collection)
	}
	return pgx.Identifier{collection}.Sanitize(), nil
}

func column(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

// args collects positional parameters while a statement is built
type args []interface{}

func (a *args) add(v interface{}) string {
	*a = append(*a, encodeArg(v))
	return "$" + strconv.Itoa(len(*a))
}

// encodeArg sends zero timestamps as NULL
func encodeArg(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		if t.IsZero() {
			return &pgtype.Timestamptz{Status: pgtype.Null}
		}
		return &pgtype.Timestamptz{Time: t, Status: pgtype.Present}
	}
	return v
}

// where renders f as a boolean SQL expression over the alias t
func where(f remote.Filter, a *args) string {
	switch f.Op {
	case remote.OpEq:
		if f.Value == nil {
			return "t." + column(f.Column) + " is null"
		}
		return "t." + column(f.Column) + " = " + a.add(f.Value)
	case remote.OpIsNull:
		return "t." + column(f.Column) + " is null"
	case remote.OpAnd, remote.OpOr:
		if len(f.Terms) == 0 {
			if f.Op == remote.OpAnd {
				return "true"
			}
			return "false"
		}
		sep := " and "
		if f.Op == remote.OpOr {
			sep = " or "
		}
		parts := make([]string, len(f.Terms))
		for i, t := range f.Terms {
			parts[i] = where(t, a)
		}
		return "(" + strings.Join(parts, sep) + ")"
	default:
		return "true"
	}
}

// selectSQL builds the statement for q
func selectSQL(q remote.Query) (string, args, error) {
	tbl, err := table(q.Collection)
	if err != nil {
		return "", nil, err
	}

	var (
		a   args
		sql strings.Builder
	)

	sql.WriteString("select t.*")
	for _, c := range q.Counts {
		sub, err := table(c.Collection)
		if err != nil {
			return "", nil, err
		}
		fmt.Fprintf(&sql, ", (select count(*) from %s c where c.%s = t.id) as %s",
			sub, column(c.ForeignKey), column(c.Alias))
	}
	sql.WriteString(" from " + tbl + " t where " + where(q.Filter, &a))

	if len(q.Order) > 0 {
		parts := make([]string, len(q.Order))
		for i, o := range q.Order {
			dir := "asc"
			if o.Descending {
				dir = "desc"
			}
			parts[i] = "t." + column(o.Column) + " " + dir
		}
		sql.WriteString(" order by " + strings.Join(parts, ", "))
	}

	return sql.String(), a, nil
}

// sortedColumns returns the keys of row in a stable order, without id when it is empty
func sortedColumns(row remote.Row) []string {
	cols := make([]string, 0, len(row))
	for k, v := range row {
		if k == "id" && (v == nil || v == "") {
			continue
		}
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func insertSQL(collection string, row remote.Row) (string, args, error) {
	tbl, err := table(collection)
	if err != nil {
		return "", nil, err
	}

	cols := sortedColumns(row)
	if len(cols) == 0 {
		return "insert into " + tbl + " default values returning *", nil, nil
	}

	var a args
	names := make([]string, len(cols))
	values := make([]string, len(cols))
	for i, c := range cols {
		names[i] = column(c)
		values[i] = a.add(row[c])
	}

	sql := "insert into " + tbl + " (" + strings.Join(names, ", ") + ") values (" + strings.Join(values, ", ") + ") returning *"
	return sql, a, nil
}

func updateSQL(collection, id string, cond remote.Filter, row remote.Row) (string, args, error) {
	tbl, err := table(collection)
	if err != nil {
		return "", nil, err
	}

	var a args
	var sets []string
	for _, c := range sortedColumns(row) {
		if c == "id" {
			continue
		}
		sets = append(sets, column(c)+" = "+a.add(row[c]))
	}

	match := "t.id = " + a.add(id)
	if cond.Op != remote.OpAll {
		match += " and " + where(cond, &a)
	}

	if len(sets) == 0 {
		// nothing to change, still report the stored row
		return "select * from " + tbl + " t where " + match, a, nil
	}

	sql := "update " + tbl + " t set " + strings.Join(sets, ", ") + " where " + match + " returning *"
	return sql, a, nil
}
