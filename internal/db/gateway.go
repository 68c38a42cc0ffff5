package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNoRows is returned by Get and Update when the filter matched nothing.
var ErrNoRows = pgx.ErrNoRows

var errEmptyFilter = errors.New("db: refusing to run without a filter")

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Values maps column names to values for inserts and patches.
type Values map[string]any

// Filter maps column names to values (equality) or to a Cond.
type Filter map[string]any

// Cond is a non-equality filter condition.
type Cond struct {
	op    string
	value any
}

// In matches a column against any element of a typed slice.
func In(values any) Cond { return Cond{op: "= ANY", value: values} }

// Lt matches rows whose column is strictly less than v.
func Lt(v any) Cond { return Cond{op: "<", value: v} }

// Contains matches array columns holding every element of v.
func Contains(v any) Cond { return Cond{op: "@>", value: v} }

type Query struct {
	Filter  Filter
	OrderBy string
	Desc    bool
	Limit   int
	Offset  int
}

// Insert adds one row and returns it as stored.
func Insert[T any](ctx context.Context, q Querier, table string, values Values) (*T, error) {
	sql, args := buildInsert(table, values)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db: insert into %s: %w", table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByNameLax[T])
	if err != nil {
		return nil, fmt.Errorf("db: insert into %s: %w", table, err)
	}
	return row, nil
}

// Update patches the rows matching filter and returns the first affected row.
// It returns ErrNoRows when nothing matched, which makes it usable as a
// compare-and-swap when the filter includes the expected prior value.
func Update[T any](ctx context.Context, q Querier, table string, filter Filter, patch Values) (*T, error) {
	sql, args, err := buildUpdate(table, filter, patch)
	if err != nil {
		return nil, err
	}
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db: update %s: %w", table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByNameLax[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("db: update %s: %w", table, err)
	}
	return row, nil
}

// Select returns every row matching the query.
func Select[T any](ctx context.Context, q Querier, table string, query Query) ([]T, error) {
	sql, args := buildSelect(table, query)
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db: select from %s: %w", table, err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowToStructByNameLax[T])
	if err != nil {
		return nil, fmt.Errorf("db: select from %s: %w", table, err)
	}
	return out, nil
}

// Get fetches exactly one row; zero rows yields ErrNoRows.
func Get[T any](ctx context.Context, q Querier, table string, filter Filter) (*T, error) {
	if len(filter) == 0 {
		return nil, errEmptyFilter
	}
	sql, args := buildSelect(table, Query{Filter: filter, Limit: 1})
	rows, err := q.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("db: get from %s: %w", table, err)
	}
	row, err := pgx.CollectOneRow(rows, pgx.RowToAddrOfStructByNameLax[T])
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("db: get from %s: %w", table, err)
	}
	return row, nil
}

// Delete removes the rows matching filter and reports how many were removed.
func Delete(ctx context.Context, q Querier, table string, filter Filter) (int64, error) {
	sql, args, err := buildDelete(table, filter)
	if err != nil {
		return 0, err
	}
	tag, err := q.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("db: delete from %s: %w", table, err)
	}
	return tag.RowsAffected(), nil
}

func ident(name string) string {
	return pgx.Identifier{name}.Sanitize()
}

func sortedKeys[M ~map[string]any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func buildWhere(filter Filter, args []any) (string, []any) {
	if len(filter) == 0 {
		return "", args
	}
	clauses := make([]string, 0, len(filter))
	for _, col := range sortedKeys(filter) {
		v := filter[col]
		if c, ok := v.(Cond); ok {
			args = append(args, c.value)
			if c.op == "= ANY" {
				clauses = append(clauses, fmt.Sprintf("%s = ANY($%d)", ident(col), len(args)))
			} else {
				clauses = append(clauses, fmt.Sprintf("%s %s $%d", ident(col), c.op, len(args)))
			}
			continue
		}
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf("%s = $%d", ident(col), len(args)))
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func buildInsert(table string, values Values) (string, []any) {
	cols := sortedKeys(values)
	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, col := range cols {
		quoted[i] = ident(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = values[col]
	}
	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		ident(table), strings.Join(quoted, ", "), strings.Join(placeholders, ", "))
	return sql, args
}

func buildUpdate(table string, filter Filter, patch Values) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, errEmptyFilter
	}
	if len(patch) == 0 {
		return "", nil, errors.New("db: empty patch")
	}
	cols := sortedKeys(patch)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+len(filter))
	for i, col := range cols {
		args = append(args, patch[col])
		sets[i] = fmt.Sprintf("%s = $%d", ident(col), len(args))
	}
	where, args := buildWhere(filter, args)
	sql := fmt.Sprintf("UPDATE %s SET %s%s RETURNING *", ident(table), strings.Join(sets, ", "), where)
	return sql, args, nil
}

func buildSelect(table string, q Query) (string, []any) {
	where, args := buildWhere(q.Filter, nil)
	var b strings.Builder
	b.WriteString("SELECT * FROM ")
	b.WriteString(ident(table))
	b.WriteString(where)
	if q.OrderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(ident(q.OrderBy))
		if q.Desc {
			b.WriteString(" DESC")
		}
	}
	if q.Limit > 0 {
		args = append(args, q.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func buildDelete(table string, filter Filter) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, errEmptyFilter
	}
	where, args := buildWhere(filter, nil)
	return "DELETE FROM " + ident(table) + where, args, nil
}
