package domain

import (
	"context"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/scheduler"
)

// Service orchestrates store operations: it validates input, runs each
// operation on the bounded worker pool and applies the origin visibility
// predicate on read paths.
type Service struct {
	store   RecordStore
	changes ChangeFeed
	agg     Aggregator
	visible VisibilityPredicate
	pool    *scheduler.Pool
}

// NewService constructs a Service. A nil predicate makes every origin visible.
func NewService(store RecordStore, changes ChangeFeed, agg Aggregator, visible VisibilityPredicate, pool *scheduler.Pool) *Service {
	if visible == nil {
		visible = AllowAll
	}
	if pool == nil {
		pool = scheduler.NewPool(4)
	}
	return &Service{store: store, changes: changes, agg: agg, visible: visible, pool: pool}
}

// UpsertRecords validates and persists the batch, returning assigned UUIDs in
// input order. The whole batch is rejected if any record is invalid.
func (s *Service) UpsertRecords(ctx context.Context, records []*datatypes.Record) ([]uuid.UUID, error) {
	for i, rec := range records {
		if err := ValidateRecord(rec); err != nil {
			if ve, ok := err.(*ValidationError); ok {
				ve.Index = i
			}
			return nil, err
		}
	}

	var ids []uuid.UUID
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		ids, err = s.store.UpsertRecords(ctx, records)
		return err
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// ReadRecords returns the records with the given ids that exist and belong to
// a visible origin. Missing ids are silently omitted.
func (s *Service) ReadRecords(ctx context.Context, t datatypes.RecordType, ids []uuid.UUID) ([]*datatypes.Record, error) {
	var out []*datatypes.Record
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		records, err := s.store.ReadByIDs(ctx, t, ids)
		if err != nil {
			return err
		}
		out = s.filterVisible(records)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadRecordsByFilter returns one page of records matching the filter plus a
// resume token for the next page.
func (s *Service) ReadRecordsByFilter(ctx context.Context, filter ReadFilter) ([]*datatypes.Record, string, error) {
	var (
		out  []*datatypes.Record
		next string
	)
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		records, token, err := s.store.ReadByFilter(ctx, filter)
		if err != nil {
			return err
		}
		out = s.filterVisible(records)
		next = token
		return nil
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

// DeleteRecords removes the given records and reports how many were removed.
func (s *Service) DeleteRecords(ctx context.Context, t datatypes.RecordType, ids []uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.store.DeleteByIDs(ctx, t, ids)
		return err
	})
	return count, err
}

// DeleteRecordsByFilter removes all records matching the filter.
func (s *Service) DeleteRecordsByFilter(ctx context.Context, filter ReadFilter) (int64, error) {
	var count int64
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		count, err = s.store.DeleteByFilter(ctx, filter)
		return err
	})
	return count, err
}

// GetChangeToken issues a change log baseline for the given filters.
func (s *Service) GetChangeToken(ctx context.Context, req TokenRequest) (string, error) {
	var token string
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		token, err = s.changes.GetToken(ctx, req)
		return err
	})
	return token, err
}

// GetChanges replays one page of changes recorded after the token.
func (s *Service) GetChanges(ctx context.Context, token string, pageSize int) (ChangePage, error) {
	var page ChangePage
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		page, err = s.changes.ReadChanges(ctx, token, pageSize)
		if err != nil {
			return err
		}
		page.Upserted = s.filterVisible(page.Upserted)
		return nil
	})
	return page, err
}

// Aggregate computes the requested aggregates.
func (s *Service) Aggregate(ctx context.Context, req AggregateRequest) ([]AggregateBucket, error) {
	var buckets []AggregateBucket
	err := s.pool.Do(ctx, func(ctx context.Context) error {
		var err error
		buckets, err = s.agg.Aggregate(ctx, req)
		return err
	})
	return buckets, err
}

func (s *Service) filterVisible(records []*datatypes.Record) []*datatypes.Record {
	out := make([]*datatypes.Record, 0, len(records))
	for _, rec := range records {
		if s.visible(rec.Metadata.Origin.PackageName) {
			out = append(out, rec)
		}
	}
	return out
}
