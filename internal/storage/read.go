package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
	"example.com/healthstore/internal/storage/codec"
	"example.com/healthstore/internal/storage/schema"
)

const (
	defaultPageSize = 1000
	maxPageSize     = 5000
)

// ReadByIDs returns the records with the given ids. Missing ids are silently
// omitted; the caller layers origin visibility on top.
func (e *Engine) ReadByIDs(ctx context.Context, t datatypes.RecordType, ids []uuid.UUID) ([]*datatypes.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	entry := schema.Lookup(t)

	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id.String()
	}

	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY %s",
		columnList(entry.Main.Columns), entry.Main.Name,
		codec.ColUUID, strings.Join(marks, ", "), codec.ColUUID)
	mains, err := e.queryRows(ctx, query, args, entry.Main.Columns)
	if err != nil {
		return nil, err
	}
	if len(mains) == 0 {
		return nil, nil
	}
	return e.decodeGroup(ctx, entry, mains)
}

// ReadByFilter returns one page of records overlapping the filter's time
// range, ordered by start time then UUID, plus a resume token when more rows
// remain. The page is read in a single transaction so concurrent writers
// never produce a torn view.
func (e *Engine) ReadByFilter(ctx context.Context, filter domain.ReadFilter) ([]*datatypes.Record, string, error) {
	entry := schema.Lookup(filter.Type)

	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	where, args, err := filterConditions(entry, filter)
	if err != nil {
		return nil, "", err
	}

	query := fmt.Sprintf("SELECT %s FROM %s", columnList(entry.Main.Columns), entry.Main.Name)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, pageSize+1)
	query += fmt.Sprintf(" ORDER BY %s ASC, %s ASC LIMIT $%d", entry.StartColumn(), codec.ColUUID, len(args))

	// The sqlite driver cannot end a read-only transaction; its single
	// connection already serializes access, so only ask Postgres for one.
	var txOpts *sql.TxOptions
	if e.db.Dialect == schema.DialectPostgres {
		txOpts = &sql.TxOptions{ReadOnly: true}
	}
	tx, err := e.db.BeginTx(ctx, txOpts)
	if err != nil {
		return nil, "", &domain.StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	mains, err := e.queryRowsTx(ctx, tx, query, args, entry.Main.Columns)
	if err != nil {
		return nil, "", err
	}

	nextToken := ""
	if len(mains) > pageSize {
		mains = mains[:pageSize]
		last := mains[len(mains)-1]
		nextToken = encodePageToken(pageCursor{
			StartMillis: last.Long(entry.StartColumn()),
			UUID:        last.String(codec.ColUUID),
		})
	}
	if len(mains) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, "", &domain.StorageError{Op: "commit", Err: err}
		}
		return nil, "", nil
	}

	records, err := e.decodeGroupTx(ctx, tx, entry, mains)
	if err != nil {
		return nil, "", err
	}
	if err := tx.Commit(); err != nil {
		return nil, "", &domain.StorageError{Op: "commit", Err: err}
	}
	return records, nextToken, nil
}

func filterConditions(entry schema.Entry, filter domain.ReadFilter) ([]string, []any, error) {
	var (
		where []string
		args  []any
	)
	next := func() string { return fmt.Sprintf("$%d", len(args)+1) }

	if tr := filter.TimeRange; tr != nil {
		if !tr.Valid() {
			return nil, nil, &domain.ValidationError{Index: -1, Reason: "time range start must be before end"}
		}
		if entry.Type.Shape() == datatypes.ShapeInstant {
			args = append(args, tr.Start.UnixMilli())
			where = append(where, fmt.Sprintf("%s >= %s", codec.ColTimeMillis, fmt.Sprintf("$%d", len(args))))
			args = append(args, tr.End.UnixMilli())
			where = append(where, fmt.Sprintf("%s < %s", codec.ColTimeMillis, fmt.Sprintf("$%d", len(args))))
		} else {
			args = append(args, tr.End.UnixMilli())
			where = append(where, fmt.Sprintf("%s < %s", codec.ColStartMillis, fmt.Sprintf("$%d", len(args))))
			args = append(args, tr.Start.UnixMilli())
			where = append(where, fmt.Sprintf("%s > %s", codec.ColEndMillis, fmt.Sprintf("$%d", len(args))))
		}
	}

	if len(filter.Origins) > 0 {
		marks := make([]string, len(filter.Origins))
		for i, origin := range filter.Origins {
			args = append(args, origin)
			marks[i] = fmt.Sprintf("$%d", len(args))
		}
		where = append(where, fmt.Sprintf("%s IN (%s)", codec.ColOriginPackage, strings.Join(marks, ", ")))
	}

	if filter.PageToken != "" {
		cursor, err := decodePageToken(filter.PageToken)
		if err != nil {
			return nil, nil, err
		}
		startMark := next()
		args = append(args, cursor.StartMillis)
		uuidMark := next()
		args = append(args, cursor.UUID)
		where = append(where, fmt.Sprintf("(%s, %s) > (%s, %s)",
			entry.StartColumn(), codec.ColUUID, startMark, uuidMark))
	}

	return where, args, nil
}

// decodeGroup loads the series rows for the page and decodes each main row.
// Decoding walks both row sets in UUID order so series codecs can consume
// contiguous groups; results are reordered to match the main rows as given.
func (e *Engine) decodeGroup(ctx context.Context, entry schema.Entry, mains []codec.RowValues) ([]*datatypes.Record, error) {
	return e.decodeGroupWith(ctx, entry, mains, func(ctx context.Context, query string, args []any, cols []codec.Column) ([]codec.RowValues, error) {
		return e.queryRows(ctx, query, args, cols)
	})
}

func (e *Engine) decodeGroupTx(ctx context.Context, tx *sql.Tx, entry schema.Entry, mains []codec.RowValues) ([]*datatypes.Record, error) {
	return e.decodeGroupWith(ctx, entry, mains, func(ctx context.Context, query string, args []any, cols []codec.Column) ([]codec.RowValues, error) {
		return e.queryRowsTx(ctx, tx, query, args, cols)
	})
}

type rowQuery func(ctx context.Context, query string, args []any, cols []codec.Column) ([]codec.RowValues, error)

func (e *Engine) decodeGroupWith(ctx context.Context, entry schema.Entry, mains []codec.RowValues, run rowQuery) ([]*datatypes.Record, error) {
	sorted := make([]codec.RowValues, len(mains))
	copy(sorted, mains)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].String(codec.ColUUID) < sorted[j].String(codec.ColUUID)
	})

	var seriesRows []codec.RowValues
	if entry.Series != nil {
		marks := make([]string, len(sorted))
		args := make([]any, len(sorted))
		for i, row := range sorted {
			marks[i] = fmt.Sprintf("$%d", i+1)
			args[i] = row.String(codec.ColUUID)
		}
		query := fmt.Sprintf("SELECT %s FROM %s WHERE %s IN (%s) ORDER BY %s, %s",
			columnList(entry.Series.Columns), entry.Series.Name,
			codec.ColUUID, strings.Join(marks, ", "), codec.ColUUID, codec.ColSampleIndex)
		var err error
		seriesRows, err = run(ctx, query, args, entry.Series.Columns)
		if err != nil {
			return nil, err
		}
	}

	iter := codec.NewRowIter(seriesRows)
	byUUID := make(map[string]*datatypes.Record, len(sorted))
	for _, main := range sorted {
		rec, err := entry.Codec.Decode(main, iter)
		if err != nil {
			return nil, err
		}
		byUUID[rec.Metadata.UUID.String()] = rec
	}

	out := make([]*datatypes.Record, len(mains))
	for i, main := range mains {
		out[i] = byUUID[main.String(codec.ColUUID)]
	}
	return out, nil
}

func (e *Engine) queryRows(ctx context.Context, query string, args []any, cols []codec.Column) ([]codec.RowValues, error) {
	rows, err := e.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "query", Err: err}
	}
	return scanRows(rows, cols)
}

func (e *Engine) queryRowsTx(ctx context.Context, tx *sql.Tx, query string, args []any, cols []codec.Column) ([]codec.RowValues, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "query", Err: err}
	}
	return scanRows(rows, cols)
}

// scanRows materializes a result set into RowValues using the column specs
// to pick scan targets; this is the generic read helper shared by all codecs.
func scanRows(rows *sql.Rows, cols []codec.Column) ([]codec.RowValues, error) {
	defer rows.Close()

	var out []codec.RowValues
	for rows.Next() {
		targets := make([]any, len(cols))
		for i, col := range cols {
			switch col.Kind {
			case codec.KindReal:
				targets[i] = new(sql.NullFloat64)
			case codec.KindText:
				targets[i] = new(sql.NullString)
			case codec.KindBlob:
				targets[i] = new([]byte)
			default:
				targets[i] = new(sql.NullInt64)
			}
		}
		if err := rows.Scan(targets...); err != nil {
			return nil, &domain.StorageError{Op: "scan", Err: err}
		}

		row := make(codec.RowValues, len(cols))
		for i, col := range cols {
			switch v := targets[i].(type) {
			case *sql.NullInt64:
				if v.Valid {
					row[col.Name] = v.Int64
				}
			case *sql.NullFloat64:
				if v.Valid {
					row[col.Name] = v.Float64
				}
			case *sql.NullString:
				if v.Valid {
					row[col.Name] = v.String
				}
			case *[]byte:
				if *v != nil {
					row[col.Name] = *v
				}
			}
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "scan", Err: err}
	}
	return out, nil
}

func columnList(cols []codec.Column) string {
	names := make([]string, len(cols))
	for i, col := range cols {
		names[i] = col.Name
	}
	return strings.Join(names, ", ")
}
