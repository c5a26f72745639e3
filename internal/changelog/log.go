// Package changelog issues change tokens and replays the append-only
// mutation log recorded by the storage engine.
package changelog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
	"example.com/healthstore/internal/observability"
	"example.com/healthstore/internal/storage"
	"example.com/healthstore/internal/storage/schema"
)

const defaultPageSize = 1000

// Log reads the change log tables written by the storage engine. Tokens are
// durable rows capturing a log position plus the filters fixed at issuance.
type Log struct {
	engine  *storage.Engine
	visible domain.VisibilityPredicate
}

// NewLog constructs a Log sharing the engine's database. A nil predicate
// makes every origin visible.
func NewLog(engine *storage.Engine, visible domain.VisibilityPredicate) *Log {
	if visible == nil {
		visible = domain.AllowAll
	}
	return &Log{engine: engine, visible: visible}
}

// GetToken returns a token denoting "now" under the request's filters.
// Records existing before issuance are never reported as upserts through it.
func (l *Log) GetToken(ctx context.Context, req domain.TokenRequest) (string, error) {
	db := l.engine.DB()

	var last int64
	query := fmt.Sprintf("SELECT COALESCE(MAX(change_id), 0) FROM %s", schema.ChangeLogTable)
	if err := db.QueryRowContext(ctx, query).Scan(&last); err != nil {
		return "", &domain.StorageError{Op: "token baseline", Err: err}
	}

	id, err := l.insertToken(ctx, last, encodeTypes(req.RecordTypes), strings.Join(req.Origins, ","))
	if err != nil {
		return "", err
	}
	return encodeToken(id), nil
}

// ReadChanges replays log entries strictly after the token, applying the
// filters captured at issuance. Entries are consumed in token order; a UUID
// both upserted and later deleted in the window is reported only as deleted,
// and repeated upserts are reported once with the latest state.
func (l *Log) ReadChanges(ctx context.Context, token string, pageSize int) (domain.ChangePage, error) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}

	tokenID, err := decodeToken(token)
	if err != nil {
		return domain.ChangePage{}, err
	}

	state, err := l.loadToken(ctx, tokenID)
	if err != nil {
		return domain.ChangePage{}, err
	}

	entries, hasMore, err := l.scanEntries(ctx, state, pageSize)
	if err != nil {
		return domain.ChangePage{}, err
	}

	page := domain.ChangePage{NextToken: token, HasMore: hasMore}
	if len(entries) == 0 {
		return page, nil
	}
	observability.ChangePageConsumed(len(entries))

	// Dedupe in token order: the last operation seen for a UUID wins.
	// Invisible origins are consumed for progress but never reported.
	type final struct {
		op  int
		typ datatypes.RecordType
	}
	order := make([]string, 0, len(entries))
	finals := make(map[string]final, len(entries))
	for _, entry := range entries {
		if !l.visible(entry.origin) {
			continue
		}
		if _, seen := finals[entry.uuid]; !seen {
			order = append(order, entry.uuid)
		}
		finals[entry.uuid] = final{op: entry.op, typ: entry.typ}
	}

	upsertsByType := make(map[datatypes.RecordType][]uuid.UUID)
	for _, raw := range order {
		f := finals[raw]
		id, err := uuid.Parse(raw)
		if err != nil {
			return domain.ChangePage{}, fmt.Errorf("%w: malformed change log uuid %q", domain.ErrInternalConsistency, raw)
		}
		if f.op == schema.OpDelete {
			page.DeletedUUIDs = append(page.DeletedUUIDs, id)
			continue
		}
		upsertsByType[f.typ] = append(upsertsByType[f.typ], id)
	}

	fetched := make(map[string]*datatypes.Record)
	for t, ids := range upsertsByType {
		records, err := l.engine.ReadByIDs(ctx, t, ids)
		if err != nil {
			return domain.ChangePage{}, err
		}
		for _, rec := range records {
			fetched[rec.Metadata.UUID.String()] = rec
		}
	}
	// Emit upserts in log order, not fetch order, so a page replays effects
	// in the sequence they were committed. A record upserted in the window
	// but deleted past it is simply absent; its delete entry arrives on a
	// later page.
	for _, raw := range order {
		if finals[raw].op == schema.OpDelete {
			continue
		}
		if rec, ok := fetched[raw]; ok {
			page.Upserted = append(page.Upserted, rec)
		}
	}

	next, err := l.insertToken(ctx, entries[len(entries)-1].changeID, state.recordTypes, state.origins)
	if err != nil {
		return domain.ChangePage{}, err
	}
	page.NextToken = encodeToken(next)
	return page, nil
}

type tokenState struct {
	lastChangeID int64
	recordTypes  string
	origins      string
}

type logEntry struct {
	changeID int64
	uuid     string
	typ      datatypes.RecordType
	origin   string
	op       int
}

func (l *Log) loadToken(ctx context.Context, tokenID int64) (tokenState, error) {
	query := fmt.Sprintf(
		"SELECT last_change_id, record_types, origin_packages FROM %s WHERE token_id = $1",
		schema.ChangeLogTokenTable)
	var state tokenState
	err := l.engine.DB().QueryRowContext(ctx, query, tokenID).
		Scan(&state.lastChangeID, &state.recordTypes, &state.origins)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return tokenState{}, fmt.Errorf("%w: token %d is unknown or expired", domain.ErrInvalidToken, tokenID)
	case err != nil:
		return tokenState{}, &domain.StorageError{Op: "token lookup", Err: err}
	}
	return state, nil
}

func (l *Log) scanEntries(ctx context.Context, state tokenState, pageSize int) ([]logEntry, bool, error) {
	where := []string{"change_id > $1"}
	args := []any{state.lastChangeID}

	if state.recordTypes != "" {
		marks := make([]string, 0)
		for _, part := range strings.Split(state.recordTypes, ",") {
			// The column is INTEGER; binding text would lean on driver
			// affinity.
			n, err := strconv.Atoi(part)
			if err != nil {
				return nil, false, fmt.Errorf("%w: malformed token type filter %q", domain.ErrInternalConsistency, part)
			}
			args = append(args, int64(n))
			marks = append(marks, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, fmt.Sprintf("record_type IN (%s)", strings.Join(marks, ", ")))
	}
	if state.origins != "" {
		marks := make([]string, 0)
		for _, part := range strings.Split(state.origins, ",") {
			args = append(args, part)
			marks = append(marks, fmt.Sprintf("$%d", len(args)))
		}
		where = append(where, fmt.Sprintf("origin_package IN (%s)", strings.Join(marks, ", ")))
	}

	args = append(args, pageSize+1)
	query := fmt.Sprintf(
		"SELECT change_id, record_uuid, record_type, origin_package, operation FROM %s WHERE %s ORDER BY change_id ASC LIMIT $%d",
		schema.ChangeLogTable, strings.Join(where, " AND "), len(args))

	rows, err := l.engine.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, false, &domain.StorageError{Op: "scan changes", Err: err}
	}
	defer rows.Close()

	var entries []logEntry
	for rows.Next() {
		var (
			entry logEntry
			typ   int64
		)
		if err := rows.Scan(&entry.changeID, &entry.uuid, &typ, &entry.origin, &entry.op); err != nil {
			return nil, false, &domain.StorageError{Op: "scan changes", Err: err}
		}
		entry.typ = datatypes.RecordType(typ)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, false, &domain.StorageError{Op: "scan changes", Err: err}
	}

	hasMore := false
	if len(entries) > pageSize {
		entries = entries[:pageSize]
		hasMore = true
	}
	return entries, hasMore, nil
}

func (l *Log) insertToken(ctx context.Context, lastChangeID int64, recordTypes, origins string) (int64, error) {
	stmt := fmt.Sprintf(
		"INSERT INTO %s (last_change_id, record_types, origin_packages, created_millis) VALUES ($1, $2, $3, $4) RETURNING token_id",
		schema.ChangeLogTokenTable)
	var id int64
	err := l.engine.DB().QueryRowContext(ctx, stmt,
		lastChangeID, recordTypes, origins, l.engine.NowMillis()).Scan(&id)
	if err != nil {
		return 0, &domain.StorageError{Op: "issue token", Err: err}
	}
	return id, nil
}

func encodeTypes(types []datatypes.RecordType) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = strconv.Itoa(int(t))
	}
	return strings.Join(parts, ",")
}
