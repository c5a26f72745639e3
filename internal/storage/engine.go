package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
	"example.com/healthstore/internal/observability"
	"example.com/healthstore/internal/storage/codec"
	"example.com/healthstore/internal/storage/schema"
)

// Engine executes record mutations and reads against the registered tables.
// All multi-row mutations for a batch run inside one transaction, and every
// mutation appends its change log entry in that same transaction.
type Engine struct {
	db     *DB
	now    func() time.Time
	logger *log.Logger
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock overrides the write-time clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine constructs an Engine over an opened database.
func NewEngine(db *DB, opts ...Option) *Engine {
	e := &Engine{
		db:     db,
		now:    time.Now,
		logger: log.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DB exposes the underlying handle for collaborators sharing the store.
func (e *Engine) DB() *DB { return e.db }

// NowMillis reports the engine clock as epoch milliseconds.
func (e *Engine) NowMillis() int64 { return e.now().UTC().UnixMilli() }

// UpsertRecords writes the batch atomically and returns the assigned UUIDs in
// input order. A record whose (origin, clientRecordID) pair matches an
// existing record updates it in place, fully replacing any series rows.
func (e *Engine) UpsertRecords(ctx context.Context, records []*datatypes.Record) ([]uuid.UUID, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, &domain.StorageError{Op: "begin", Err: err}
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]uuid.UUID, 0, len(records))
	for i, rec := range records {
		id, err := e.upsertOne(ctx, tx, rec)
		if err != nil {
			if ve := new(domain.ValidationError); errors.As(err, &ve) {
				ve.Index = i
				return nil, ve
			}
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(); err != nil {
		return nil, &domain.StorageError{Op: "commit", Err: err}
	}

	observability.RecordsUpserted(len(ids), e.now())
	return ids, nil
}

func (e *Engine) upsertOne(ctx context.Context, tx *sql.Tx, rec *datatypes.Record) (uuid.UUID, error) {
	entry := schema.Lookup(rec.Type)
	now := e.now().UTC().Truncate(time.Millisecond)

	prev, err := e.findExisting(ctx, tx, entry, rec)
	if err != nil {
		return uuid.Nil, err
	}

	if prev != nil {
		rec.Metadata.UUID = prev.id
		rec.Metadata.CreatedAt = prev.createdAt
		// Last-modified strictly increases across updates to one UUID even
		// when the clock has not advanced.
		lm := now
		if !lm.After(prev.lastModified) {
			lm = prev.lastModified.Add(time.Millisecond)
		}
		rec.Metadata.LastModified = lm
	} else {
		if rec.Metadata.UUID == uuid.Nil {
			rec.Metadata.UUID = uuid.New()
		}
		rec.Metadata.CreatedAt = now
		rec.Metadata.LastModified = now
	}

	main, series, err := entry.Codec.Encode(rec)
	if err != nil {
		return uuid.Nil, err
	}

	if prev != nil {
		if err := e.deleteRows(ctx, tx, entry, rec.Metadata.UUID); err != nil {
			return uuid.Nil, err
		}
	}

	if err := e.insertRow(ctx, tx, entry.Main, main); err != nil {
		return uuid.Nil, err
	}
	if entry.Series != nil {
		for _, row := range series {
			if err := e.insertRow(ctx, tx, *entry.Series, row); err != nil {
				return uuid.Nil, err
			}
		}
	}

	err = e.appendChange(ctx, tx, rec.Metadata.UUID, rec.Type,
		rec.Metadata.Origin.PackageName, schema.OpUpsert, rec.Metadata.LastModified)
	if err != nil {
		return uuid.Nil, err
	}
	return rec.Metadata.UUID, nil
}

type existingRecord struct {
	id           uuid.UUID
	createdAt    time.Time
	lastModified time.Time
}

// findExisting resolves the record's identity. A preset UUID owned by another
// origin is a uniqueness conflict; otherwise the (origin, clientRecordID)
// pair decides whether this is an insert or an idempotent update.
func (e *Engine) findExisting(ctx context.Context, tx *sql.Tx, entry schema.Entry, rec *datatypes.Record) (*existingRecord, error) {
	if rec.Metadata.UUID != uuid.Nil {
		query := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = $1",
			codec.ColOriginPackage, codec.ColCreatedMillis, codec.ColLastModifiedMillis,
			entry.Main.Name, codec.ColUUID)
		var (
			origin           string
			created, updated int64
		)
		err := tx.QueryRowContext(ctx, query, rec.Metadata.UUID.String()).Scan(&origin, &created, &updated)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			// Fresh UUID. The client pair below may still name another record.
		case err != nil:
			return nil, &domain.StorageError{Op: "lookup", Err: err}
		default:
			if origin != rec.Metadata.Origin.PackageName {
				return nil, &domain.UniquenessConflictError{UUID: rec.Metadata.UUID, Origin: rec.Metadata.Origin.PackageName}
			}
			return &existingRecord{
				id:           rec.Metadata.UUID,
				createdAt:    time.UnixMilli(created).UTC(),
				lastModified: time.UnixMilli(updated).UTC(),
			}, nil
		}
	}

	if rec.Metadata.ClientRecordID == "" {
		return nil, nil
	}

	query := fmt.Sprintf("SELECT %s, %s, %s FROM %s WHERE %s = $1 AND %s = $2",
		codec.ColUUID, codec.ColCreatedMillis, codec.ColLastModifiedMillis,
		entry.Main.Name, codec.ColOriginPackage, codec.ColClientRecordID)
	var (
		rawID            string
		created, updated int64
	)
	err := tx.QueryRowContext(ctx, query, rec.Metadata.Origin.PackageName, rec.Metadata.ClientRecordID).
		Scan(&rawID, &created, &updated)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, nil
	case err != nil:
		return nil, &domain.StorageError{Op: "lookup", Err: err}
	}
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, fmt.Errorf("%w: malformed stored uuid %q", domain.ErrInternalConsistency, rawID)
	}
	if rec.Metadata.UUID != uuid.Nil && id != rec.Metadata.UUID {
		// The pair already names another record; a preset UUID cannot claim it.
		return nil, &domain.UniquenessConflictError{UUID: rec.Metadata.UUID, Origin: rec.Metadata.Origin.PackageName}
	}
	return &existingRecord{
		id:           id,
		createdAt:    time.UnixMilli(created).UTC(),
		lastModified: time.UnixMilli(updated).UTC(),
	}, nil
}

func (e *Engine) deleteRows(ctx context.Context, tx *sql.Tx, entry schema.Entry, id uuid.UUID) error {
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s = $1", entry.Main.Name, codec.ColUUID)
	if _, err := tx.ExecContext(ctx, stmt, id.String()); err != nil {
		return &domain.StorageError{Op: "delete", Err: err}
	}
	if entry.Series != nil {
		stmt = fmt.Sprintf("DELETE FROM %s WHERE %s = $1", entry.Series.Name, codec.ColUUID)
		if _, err := tx.ExecContext(ctx, stmt, id.String()); err != nil {
			return &domain.StorageError{Op: "delete", Err: err}
		}
	}
	return nil
}

func (e *Engine) insertRow(ctx context.Context, tx *sql.Tx, spec schema.TableSpec, row codec.RowValues) error {
	names := make([]string, len(spec.Columns))
	marks := make([]string, len(spec.Columns))
	args := make([]any, len(spec.Columns))
	for i, col := range spec.Columns {
		names[i] = col.Name
		marks[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[col.Name]
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		spec.Name, strings.Join(names, ", "), strings.Join(marks, ", "))
	if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
		return &domain.StorageError{Op: "insert", Err: err}
	}
	return nil
}

func (e *Engine) appendChange(ctx context.Context, tx *sql.Tx, id uuid.UUID, t datatypes.RecordType, origin string, op int, at time.Time) error {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (record_uuid, record_type, origin_package, operation, time_millis) VALUES ($1, $2, $3, $4, $5)",
		schema.ChangeLogTable)
	_, err := tx.ExecContext(ctx, stmt, id.String(), int64(t), origin, int64(op), at.UnixMilli())
	if err != nil {
		return &domain.StorageError{Op: "append change", Err: err}
	}
	return nil
}
