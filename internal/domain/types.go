// Package domain defines the business operations of the health store and the
// contracts its storage, change log and aggregation collaborators implement.
package domain

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
)

// TimeRange is an inclusive-start, exclusive-end window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Valid reports whether the range is well formed.
func (tr TimeRange) Valid() bool {
	return !tr.Start.IsZero() && !tr.End.IsZero() && tr.Start.Before(tr.End)
}

// ReadFilter selects records for filter-based reads and deletes.
type ReadFilter struct {
	Type      datatypes.RecordType
	TimeRange *TimeRange
	Origins   []string
	PageSize  int
	PageToken string
}

// TokenRequest captures the filters bound to a change log token at issuance.
type TokenRequest struct {
	RecordTypes []datatypes.RecordType
	Origins     []string
}

// ChangePage is one page of change log replay.
type ChangePage struct {
	Upserted     []*datatypes.Record
	DeletedUUIDs []uuid.UUID
	NextToken    string
	HasMore      bool
}

// AggregationType names one supported aggregate computation.
type AggregationType int

const (
	AggregationUnknown AggregationType = iota
	StepsCountTotal
	TotalCaloriesBurnedTotal
	BasalMetabolicRateAvg
	HeightAvg
	HeightMin
	HeightMax
	HeartRateAvg
	HeartRateMin
	HeartRateMax
	PowerAvg
	PowerMin
	PowerMax
)

func (a AggregationType) String() string {
	switch a {
	case StepsCountTotal:
		return "steps_count_total"
	case TotalCaloriesBurnedTotal:
		return "total_calories_burned_total"
	case BasalMetabolicRateAvg:
		return "basal_metabolic_rate_avg"
	case HeightAvg:
		return "height_avg"
	case HeightMin:
		return "height_min"
	case HeightMax:
		return "height_max"
	case HeartRateAvg:
		return "heart_rate_avg"
	case HeartRateMin:
		return "heart_rate_min"
	case HeartRateMax:
		return "heart_rate_max"
	case PowerAvg:
		return "power_avg"
	case PowerMin:
		return "power_min"
	case PowerMax:
		return "power_max"
	default:
		return "unknown"
	}
}

// ParseAggregationType maps the wire name back to an AggregationType.
func ParseAggregationType(name string) AggregationType {
	for a := StepsCountTotal; a <= PowerMax; a++ {
		if a.String() == name {
			return a
		}
	}
	return AggregationUnknown
}

// AggregateRequest asks for one or more aggregates over a time range.
type AggregateRequest struct {
	Types     []AggregationType
	TimeRange TimeRange
	Origins   []string
	// BucketDuration partitions the range into fixed-width buckets when
	// non-zero; the last bucket may be shorter.
	BucketDuration time.Duration
}

// AggregateBucket holds the aggregates computed for one bucket, or for the
// whole range when no bucket duration was requested.
type AggregateBucket struct {
	StartTime time.Time
	EndTime   time.Time
	Values    map[AggregationType]float64
}

// RecordStore is the persistence contract implemented by the storage engine.
type RecordStore interface {
	UpsertRecords(ctx context.Context, records []*datatypes.Record) ([]uuid.UUID, error)
	ReadByIDs(ctx context.Context, t datatypes.RecordType, ids []uuid.UUID) ([]*datatypes.Record, error)
	ReadByFilter(ctx context.Context, filter ReadFilter) ([]*datatypes.Record, string, error)
	DeleteByIDs(ctx context.Context, t datatypes.RecordType, ids []uuid.UUID) (int64, error)
	DeleteByFilter(ctx context.Context, filter ReadFilter) (int64, error)
}

// ChangeFeed is the change log contract.
type ChangeFeed interface {
	GetToken(ctx context.Context, req TokenRequest) (string, error)
	ReadChanges(ctx context.Context, token string, pageSize int) (ChangePage, error)
}

// Aggregator computes aggregates over stored records.
type Aggregator interface {
	Aggregate(ctx context.Context, req AggregateRequest) ([]AggregateBucket, error)
}

// VisibilityPredicate is supplied by the permission collaborator and decides
// which origins' data a caller may observe. This package never decides grant
// policy itself.
type VisibilityPredicate func(originPackage string) bool

// AllowAll makes every origin visible.
func AllowAll(string) bool { return true }
