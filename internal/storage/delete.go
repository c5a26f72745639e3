package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
	"example.com/healthstore/internal/observability"
	"example.com/healthstore/internal/storage/codec"
	"example.com/healthstore/internal/storage/schema"
)

// DeleteByIDs removes the given records and appends one change log DELETE
// entry per removed UUID, all in one transaction. Missing ids are ignored.
func (e *Engine) DeleteByIDs(ctx context.Context, t datatypes.RecordType, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	entry := schema.Lookup(t)

	marks := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id.String()
	}
	where := fmt.Sprintf("%s IN (%s)", codec.ColUUID, strings.Join(marks, ", "))
	return e.deleteWhere(ctx, entry, where, args)
}

// DeleteByFilter removes every record matching the filter.
func (e *Engine) DeleteByFilter(ctx context.Context, filter domain.ReadFilter) (int64, error) {
	entry := schema.Lookup(filter.Type)

	filter.PageToken = ""
	conditions, args, err := filterConditions(entry, filter)
	if err != nil {
		return 0, err
	}
	return e.deleteWhere(ctx, entry, strings.Join(conditions, " AND "), args)
}

func (e *Engine) deleteWhere(ctx context.Context, entry schema.Entry, where string, args []any) (int64, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &domain.StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	query := fmt.Sprintf("SELECT %s, %s FROM %s", codec.ColUUID, codec.ColOriginPackage, entry.Main.Name)
	if where != "" {
		query += " WHERE " + where
	}
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return 0, &domain.StorageError{Op: "query", Err: err}
	}

	type victim struct {
		id     uuid.UUID
		origin string
	}
	var victims []victim
	for rows.Next() {
		var rawID, origin string
		if err := rows.Scan(&rawID, &origin); err != nil {
			rows.Close()
			return 0, &domain.StorageError{Op: "scan", Err: err}
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			rows.Close()
			return 0, fmt.Errorf("%w: malformed stored uuid %q", domain.ErrInternalConsistency, rawID)
		}
		victims = append(victims, victim{id: id, origin: origin})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return 0, &domain.StorageError{Op: "scan", Err: err}
	}
	rows.Close()

	if len(victims) == 0 {
		if err := tx.Commit(); err != nil {
			return 0, &domain.StorageError{Op: "commit", Err: err}
		}
		return 0, nil
	}

	now := e.now().UTC()
	for _, v := range victims {
		if err := e.deleteRows(ctx, tx, entry, v.id); err != nil {
			return 0, err
		}
		if err := e.appendChange(ctx, tx, v.id, entry.Type, v.origin, schema.OpDelete, now); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, &domain.StorageError{Op: "commit", Err: err}
	}
	observability.RecordsDeleted(len(victims))
	return int64(len(victims)), nil
}
