// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"context"

	"dario.cat/mergo"
	sq "github.com/Masterminds/squirrel"

	"github.com/MKhiriev/go-file-vault/internal/logger"
	"github.com/MKhiriev/go-file-vault/models"
)

// envelopeColumns are the version-table columns shared by every entity
// kind, in the order every Schema.Scan function must consume them. The
// holder's deleted flag rides along as the sixth column.
var envelopeColumns = []string{
	"v.version_id",
	"v.record_id",
	"v.create_time",
	"v.previous_version_id",
	"v.next_version_id",
	"h.deleted",
}

// RowScanner abstracts *sql.Row and *sql.Rows for Schema.Scan functions.
type RowScanner interface {
	Scan(dest ...any) error
}

// Schema describes one entity kind to the generic store: its table name,
// entity columns and the scan/values functions that move a row between SQL
// and the entity struct. Explicit functions are used instead of reflection
// so a schema mistake is a compile error, not a runtime surprise.
type Schema[R any] struct {
	// Table is the base table name; the store derives <Table>_holder and
	// <Table>_version from it.
	Table string

	// Columns lists the entity columns of the version table, in the order
	// Scan consumes them and Values produces them.
	Columns []string

	// Searchable lists the columns matched by search-mode queries.
	Searchable []string

	// Scan reads one row: the six envelope columns first, then Columns.
	Scan func(row RowScanner) (R, error)

	// Values returns the entity column values of r, matching Columns.
	Values func(r *R) []any

	// Meta exposes the embedded envelope of r.
	Meta func(r *R) *models.Resource
}

// Store provides the versioned resource operations for one entity kind.
type Store[R any] struct {
	schema Schema[R]
	logger *logger.Logger
}

// NewStore constructs a [Store] from its schema descriptor.
func NewStore[R any](schema Schema[R], log *logger.Logger) *Store[R] {
	return &Store[R]{
		schema: schema,
		logger: log,
	}
}

// Condition is one predicate of a query: column, operator, value. The
// operator must be one of =, !=, <>, <, <=, >, >=, like, is, is not.
type Condition struct {
	Column string
	Op     string
	Value  any
}

// Order is one sort key of a query.
type Order struct {
	Column     string
	Descending bool
}

// QueryOptions controls Query and First. Where and Search are mutually
// exclusive: predicates filter exact columns, search substring-matches the
// schema's searchable column set.
type QueryOptions struct {
	Where  []Condition
	Search string

	OrderBy []Order

	Offset uint64
	Limit  uint64

	IncludeDeleted bool
}

// GetOptions controls GetByID.
type GetOptions struct {
	// VersionID pins the lookup to one historical version instead of the
	// current one.
	VersionID *int64

	// IncludeDeleted returns the record even when its holder is
	// soft-deleted.
	IncludeDeleted bool
}

// UpdateOptions controls Update.
type UpdateOptions struct {
	// BaseVersionID builds the new version on top of an older version
	// instead of the current one (merge-from-an-older-version semantics).
	// The current version is still the one retired.
	BaseVersionID *int64

	// ReplaceAll treats patch as the complete desired state instead of a
	// sparse overlay: zero-valued fields overwrite too. Needed when a
	// field must transition back to its zero value.
	ReplaceAll bool
}

func (s *Store[R]) holderTable() string  { return s.schema.Table + "_holder" }
func (s *Store[R]) versionTable() string { return s.schema.Table + "_version" }

func (s *Store[R]) selectColumns() []string {
	cols := make([]string, 0, len(envelopeColumns)+len(s.schema.Columns))
	cols = append(cols, envelopeColumns...)
	for _, c := range s.schema.Columns {
		cols = append(cols, "v."+c)
	}
	return cols
}

// selectBuilder returns the base SELECT over the version table joined with
// the holder, filtered to current versions only.
func (s *Store[R]) selectBuilder(includeDeleted bool) sq.SelectBuilder {
	b := sq.Select(s.selectColumns()...).
		From(s.versionTable() + " AS v").
		Join(s.holderTable() + " AS h ON h.id = v.record_id").
		Where("v.next_version_id IS NULL")
	if !includeDeleted {
		b = b.Where(sq.Eq{"h.deleted": false})
	}
	return b
}

// Create inserts a holder row and the first version row of a new record
// and returns the entity with its envelope populated.
func (s *Store[R]) Create(ctx context.Context, q Querier, entity R) (R, error) {
	log := logger.FromContext(ctx)

	res, err := q.ExecContext(ctx, "INSERT INTO "+s.holderTable()+" (deleted) VALUES (0)")
	if err != nil {
		log.Err(err).Str("table", s.schema.Table).Msg("error inserting holder row")
		return entity, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	recordID, err := res.LastInsertId()
	if err != nil {
		return entity, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	now := time.UnixMilli(time.Now().UnixMilli())

	columns := append([]string{"record_id", "create_time", "previous_version_id", "next_version_id"}, s.schema.Columns...)
	values := append([]any{recordID, now.UnixMilli(), nil, nil}, s.schema.Values(&entity)...)

	query, args, err := sq.Insert(s.versionTable()).Columns(columns...).Values(values...).ToSql()
	if err != nil {
		return entity, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	res, err = q.ExecContext(ctx, query, args...)
	if err != nil {
		log.Err(err).Str("table", s.schema.Table).Msg("error inserting version row")
		return entity, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	versionID, err := res.LastInsertId()
	if err != nil {
		return entity, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	meta := s.schema.Meta(&entity)
	*meta = models.Resource{
		RecordID:   recordID,
		VersionID:  versionID,
		CreateTime: now,
	}
	return entity, nil
}

// GetByID returns the current version of a record, or a pinned historical
// version when opts.VersionID is set. Soft-deleted records are reported as
// [ErrResourceNotFound] unless opts.IncludeDeleted asks for them.
func (s *Store[R]) GetByID(ctx context.Context, q Querier, id int64, opts GetOptions) (R, error) {
	var zero R

	b := sq.Select(s.selectColumns()...).
		From(s.versionTable() + " AS v").
		Join(s.holderTable() + " AS h ON h.id = v.record_id").
		Where(sq.Eq{"v.record_id": id})
	if opts.VersionID != nil {
		b = b.Where(sq.Eq{"v.version_id": *opts.VersionID})
	} else {
		b = b.Where("v.next_version_id IS NULL")
	}
	if !opts.IncludeDeleted {
		b = b.Where(sq.Eq{"h.deleted": false})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	entity, err := s.schema.Scan(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrResourceNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrScanningRow, err)
	}
	return entity, nil
}

// Update appends a new version built as base overlaid with the non-zero
// fields of patch, then retires the passed current version by rewiring its
// forward pointer. Both statements run against the same handle, so inside
// an exclusive transaction the rewiring is atomic.
//
// The caller's current value is stale after a successful update; use the
// returned entity.
func (s *Store[R]) Update(ctx context.Context, q Querier, current R, patch R, opts UpdateOptions) (R, error) {
	var zero R
	log := logger.FromContext(ctx)
	meta := s.schema.Meta(&current)

	var deleted bool
	err := q.QueryRowContext(ctx, "SELECT deleted FROM "+s.holderTable()+" WHERE id = ?", meta.RecordID).Scan(&deleted)
	if errors.Is(err, sql.ErrNoRows) {
		return zero, ErrResourceNotFound
	}
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if deleted {
		return zero, ErrResourceDeleted
	}

	baseVersionID := meta.VersionID
	if opts.BaseVersionID != nil {
		baseVersionID = *opts.BaseVersionID
	}

	base, err := s.GetByID(ctx, q, meta.RecordID, GetOptions{VersionID: &baseVersionID, IncludeDeleted: true})
	if errors.Is(err, ErrResourceNotFound) {
		return zero, ErrBaseVersionNotFound
	}
	if err != nil {
		return zero, err
	}

	next := base
	merge := []func(*mergo.Config){mergo.WithOverride}
	if opts.ReplaceAll {
		merge = append(merge, mergo.WithOverwriteWithEmptyValue)
	}
	if err := mergo.Merge(&next, patch, merge...); err != nil {
		return zero, fmt.Errorf("error merging patch over base version: %w", err)
	}

	now := time.UnixMilli(time.Now().UnixMilli())

	columns := append([]string{"record_id", "create_time", "previous_version_id", "next_version_id"}, s.schema.Columns...)
	values := append([]any{meta.RecordID, now.UnixMilli(), baseVersionID, nil}, s.schema.Values(&next)...)

	query, args, err := sq.Insert(s.versionTable()).Columns(columns...).Values(values...).ToSql()
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		log.Err(err).Str("table", s.schema.Table).Msg("error inserting new version row")
		return zero, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	newVersionID, err := res.LastInsertId()
	if err != nil {
		return zero, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	// Retire the current row, not the base: when updating from an older
	// base there must still be exactly one row with a nil forward pointer.
	_, err = q.ExecContext(ctx,
		"UPDATE "+s.versionTable()+" SET next_version_id = ? WHERE version_id = ?",
		newVersionID, meta.VersionID)
	if err != nil {
		log.Err(err).Str("table", s.schema.Table).Msg("error rewiring version chain")
		return zero, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}

	prev := baseVersionID
	newMeta := s.schema.Meta(&next)
	*newMeta = models.Resource{
		RecordID:          meta.RecordID,
		VersionID:         newVersionID,
		CreateTime:        now,
		PreviousVersionID: &prev,
	}
	return next, nil
}

// SoftDelete flips the holder's deleted flag. Version history remains for
// audit and restore.
func (s *Store[R]) SoftDelete(ctx context.Context, q Querier, current R) error {
	meta := s.schema.Meta(&current)
	_, err := q.ExecContext(ctx, "UPDATE "+s.holderTable()+" SET deleted = 1 WHERE id = ?", meta.RecordID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return nil
}

// Restore clears the holder's deleted flag.
func (s *Store[R]) Restore(ctx context.Context, q Querier, current R) error {
	meta := s.schema.Meta(&current)
	_, err := q.ExecContext(ctx, "UPDATE "+s.holderTable()+" SET deleted = 0 WHERE id = ?", meta.RecordID)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return nil
}

// Purge removes every version row and the holder of a record. Irreversible;
// used by buffer garbage collection and explicit admin purge only.
func (s *Store[R]) Purge(ctx context.Context, q Querier, current R) error {
	meta := s.schema.Meta(&current)
	if _, err := q.ExecContext(ctx, "DELETE FROM "+s.versionTable()+" WHERE record_id = ?", meta.RecordID); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	if _, err := q.ExecContext(ctx, "DELETE FROM "+s.holderTable()+" WHERE id = ?", meta.RecordID); err != nil {
		return fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return nil
}

// Query returns current versions matching the options; soft-deleted records
// are excluded unless asked for. Predicate filtering and search mode are
// mutually exclusive per call.
func (s *Store[R]) Query(ctx context.Context, q Querier, opts QueryOptions) ([]R, error) {
	b, err := s.queryBuilder(opts)
	if err != nil {
		return nil, err
	}

	for _, o := range opts.OrderBy {
		if !s.queryableColumn(o.Column) {
			return nil, fmt.Errorf("%w: unknown order column %q", ErrInvalidQuery, o.Column)
		}
		direction := " ASC"
		if o.Descending {
			direction = " DESC"
		}
		b = b.OrderBy("v." + o.Column + direction)
	}

	if opts.Offset > 0 {
		b = b.Offset(opts.Offset)
	}
	if opts.Limit > 0 {
		b = b.Limit(opts.Limit)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		logger.FromContext(ctx).Err(err).Str("table", s.schema.Table).Msg("error executing query")
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var result []R
	for rows.Next() {
		entity, err := s.schema.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
		}
		result = append(result, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return result, nil
}

// First returns the first record matching the options, or
// [ErrResourceNotFound] when nothing matches.
func (s *Store[R]) First(ctx context.Context, q Querier, opts QueryOptions) (R, error) {
	var zero R
	opts.Limit = 1

	result, err := s.Query(ctx, q, opts)
	if err != nil {
		return zero, err
	}
	if len(result) == 0 {
		return zero, ErrResourceNotFound
	}
	return result[0], nil
}

// Count returns the number of current, non-deleted records matching the
// conditions.
func (s *Store[R]) Count(ctx context.Context, q Querier, where []Condition) (int64, error) {
	b := sq.Select("COUNT(*)").
		From(s.versionTable() + " AS v").
		Join(s.holderTable() + " AS h ON h.id = v.record_id").
		Where("v.next_version_id IS NULL").
		Where(sq.Eq{"h.deleted": false})

	for _, c := range where {
		cond, err := s.condition(c)
		if err != nil {
			return 0, err
		}
		b = b.Where(cond)
	}

	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	var count int64
	if err := q.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return count, nil
}

// Versions returns the whole version history of a record, oldest first,
// regardless of the holder's deleted flag.
func (s *Store[R]) Versions(ctx context.Context, q Querier, recordID int64) ([]R, error) {
	b := sq.Select(s.selectColumns()...).
		From(s.versionTable() + " AS v").
		Join(s.holderTable() + " AS h ON h.id = v.record_id").
		Where(sq.Eq{"v.record_id": recordID}).
		OrderBy("v.version_id ASC")

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrBuildingSQLQuery, err)
	}

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	defer rows.Close()

	var result []R
	for rows.Next() {
		entity, err := s.schema.Scan(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrScanningRow, err)
		}
		result = append(result, entity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExecutingQuery, err)
	}
	return result, nil
}

func (s *Store[R]) queryBuilder(opts QueryOptions) (sq.SelectBuilder, error) {
	b := s.selectBuilder(opts.IncludeDeleted)

	if opts.Search != "" && len(opts.Where) > 0 {
		return b, fmt.Errorf("%w: where and search are mutually exclusive", ErrInvalidQuery)
	}

	if opts.Search != "" {
		if len(s.schema.Searchable) == 0 {
			return b, fmt.Errorf("%w: entity %q has no searchable columns", ErrInvalidQuery, s.schema.Table)
		}
		or := make(sq.Or, 0, len(s.schema.Searchable))
		for _, col := range s.schema.Searchable {
			or = append(or, sq.Like{"v." + col: "%" + opts.Search + "%"})
		}
		return b.Where(or), nil
	}

	for _, c := range opts.Where {
		cond, err := s.condition(c)
		if err != nil {
			return b, err
		}
		b = b.Where(cond)
	}
	return b, nil
}

// queryableColumn reports whether a column may appear in caller-supplied
// predicates or sort keys. Restricting to the schema keeps column names
// out of the SQL injection surface.
func (s *Store[R]) queryableColumn(column string) bool {
	switch column {
	case "record_id", "version_id", "create_time":
		return true
	}
	for _, c := range s.schema.Columns {
		if c == column {
			return true
		}
	}
	return false
}

func (s *Store[R]) condition(c Condition) (sq.Sqlizer, error) {
	if !s.queryableColumn(c.Column) {
		return nil, fmt.Errorf("%w: unknown column %q", ErrInvalidQuery, c.Column)
	}
	col := "v." + c.Column

	switch strings.ToLower(c.Op) {
	case "=", "is":
		return sq.Eq{col: c.Value}, nil
	case "!=", "<>", "is not":
		return sq.NotEq{col: c.Value}, nil
	case "<":
		return sq.Lt{col: c.Value}, nil
	case "<=":
		return sq.LtOrEq{col: c.Value}, nil
	case ">":
		return sq.Gt{col: c.Value}, nil
	case ">=":
		return sq.GtOrEq{col: c.Value}, nil
	case "like":
		return sq.Like{col: c.Value}, nil
	default:
		return nil, fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, c.Op)
	}
}
