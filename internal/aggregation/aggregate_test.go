package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
)

// memStore serves Aggregate's paged scans from a fixed record slice, applying
// the same overlap and origin semantics as the real engine.
type memStore struct {
	records []*datatypes.Record
}

func (m *memStore) UpsertRecords(context.Context, []*datatypes.Record) ([]uuid.UUID, error) {
	panic("not used")
}

func (m *memStore) ReadByIDs(context.Context, datatypes.RecordType, []uuid.UUID) ([]*datatypes.Record, error) {
	panic("not used")
}

func (m *memStore) ReadByFilter(_ context.Context, filter domain.ReadFilter) ([]*datatypes.Record, string, error) {
	var out []*datatypes.Record
	for _, rec := range m.records {
		if rec.Type != filter.Type {
			continue
		}
		if tr := filter.TimeRange; tr != nil && !rec.Overlaps(tr.Start, tr.End) {
			continue
		}
		if len(filter.Origins) > 0 {
			match := false
			for _, origin := range filter.Origins {
				if rec.Metadata.Origin.PackageName == origin {
					match = true
					break
				}
			}
			if !match {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, "", nil
}

func (m *memStore) DeleteByIDs(context.Context, datatypes.RecordType, []uuid.UUID) (int64, error) {
	panic("not used")
}

func (m *memStore) DeleteByFilter(context.Context, domain.ReadFilter) (int64, error) {
	panic("not used")
}

func interval(start time.Time, d time.Duration) *datatypes.IntervalAnchor {
	return &datatypes.IntervalAnchor{StartTime: start, EndTime: start.Add(d)}
}

func origin() datatypes.Metadata {
	return datatypes.Metadata{
		UUID:   uuid.New(),
		Origin: datatypes.DataOrigin{PackageName: "com.example.tracker"},
	}
}

func TestStepsCountTotal(t *testing.T) {
	base := time.Date(2025, time.August, 1, 0, 0, 0, 0, time.UTC)
	store := &memStore{records: []*datatypes.Record{
		{Type: datatypes.TypeSteps, Metadata: origin(), Interval: interval(base.Add(time.Hour), time.Hour), Payload: datatypes.Steps{Count: 100}},
		{Type: datatypes.TypeSteps, Metadata: origin(), Interval: interval(base.Add(5*time.Hour), time.Hour), Payload: datatypes.Steps{Count: 50}},
	}}

	buckets, err := NewAggregator(store, nil).Aggregate(context.Background(), domain.AggregateRequest{
		Types:     []domain.AggregationType{domain.StepsCountTotal},
		TimeRange: domain.TimeRange{Start: base, End: base.Add(24 * time.Hour)},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.Equal(t, 150.0, buckets[0].Values[domain.StepsCountTotal])
}

func TestStepsCountBucketedByStartTime(t *testing.T) {
	base := time.Date(2025, time.August, 2, 0, 0, 0, 0, time.UTC)
	store := &memStore{records: []*datatypes.Record{
		// Starts in bucket 0 but runs into bucket 1; the whole count lands
		// where the record starts.
		{Type: datatypes.TypeSteps, Metadata: origin(), Interval: interval(base.Add(30*time.Minute), time.Hour), Payload: datatypes.Steps{Count: 80}},
		{Type: datatypes.TypeSteps, Metadata: origin(), Interval: interval(base.Add(90*time.Minute), 10*time.Minute), Payload: datatypes.Steps{Count: 20}},
	}}

	buckets, err := NewAggregator(store, nil).Aggregate(context.Background(), domain.AggregateRequest{
		Types:          []domain.AggregationType{domain.StepsCountTotal},
		TimeRange:      domain.TimeRange{Start: base, End: base.Add(2 * time.Hour)},
		BucketDuration: time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.Equal(t, 80.0, buckets[0].Values[domain.StepsCountTotal])
	require.Equal(t, 20.0, buckets[1].Values[domain.StepsCountTotal])
}

func TestCaloriesSplitProportionallyAcrossBuckets(t *testing.T) {
	base := time.Date(2025, time.August, 3, 0, 0, 0, 0, time.UTC)
	// Two hours long, 400 kcal, straddling the bucket boundary at the
	// halfway point: each hour bucket gets half.
	store := &memStore{records: []*datatypes.Record{
		{Type: datatypes.TypeTotalCaloriesBurned, Metadata: origin(), Interval: interval(base, 2 * time.Hour), Payload: datatypes.TotalCaloriesBurned{EnergyKcal: 400}},
	}}

	buckets, err := NewAggregator(store, nil).Aggregate(context.Background(), domain.AggregateRequest{
		Types:          []domain.AggregationType{domain.TotalCaloriesBurnedTotal},
		TimeRange:      domain.TimeRange{Start: base, End: base.Add(2 * time.Hour)},
		BucketDuration: time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.InDelta(t, 200.0, buckets[0].Values[domain.TotalCaloriesBurnedTotal], 1e-9)
	require.InDelta(t, 200.0, buckets[1].Values[domain.TotalCaloriesBurnedTotal], 1e-9)
}

func TestHeartRateSampleReduces(t *testing.T) {
	base := time.Date(2025, time.August, 4, 6, 0, 0, 0, time.UTC)
	store := &memStore{records: []*datatypes.Record{
		{
			Type:     datatypes.TypeHeartRate,
			Metadata: origin(),
			Interval: interval(base, time.Hour),
			Payload: datatypes.HeartRate{Samples: []datatypes.HeartRateSample{
				{Time: base.Add(5 * time.Minute), BeatsPerMinute: 100},
				{Time: base.Add(10 * time.Minute), BeatsPerMinute: 140},
				{Time: base.Add(15 * time.Minute), BeatsPerMinute: 120},
			}},
		},
	}}

	buckets, err := NewAggregator(store, nil).Aggregate(context.Background(), domain.AggregateRequest{
		Types: []domain.AggregationType{
			domain.HeartRateAvg, domain.HeartRateMin, domain.HeartRateMax,
		},
		TimeRange: domain.TimeRange{Start: base, End: base.Add(time.Hour)},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.InDelta(t, 120.0, buckets[0].Values[domain.HeartRateAvg], 1e-9)
	require.Equal(t, 100.0, buckets[0].Values[domain.HeartRateMin])
	require.Equal(t, 140.0, buckets[0].Values[domain.HeartRateMax])
}

func TestInstantReduceAndEmptyBucketOmission(t *testing.T) {
	base := time.Date(2025, time.August, 5, 0, 0, 0, 0, time.UTC)
	store := &memStore{records: []*datatypes.Record{
		{
			Type:     datatypes.TypeHeight,
			Metadata: origin(),
			Instant:  &datatypes.InstantAnchor{Time: base.Add(30 * time.Minute)},
			Payload:  datatypes.Height{Meters: 1.8},
		},
	}}

	buckets, err := NewAggregator(store, nil).Aggregate(context.Background(), domain.AggregateRequest{
		Types:          []domain.AggregationType{domain.HeightAvg},
		TimeRange:      domain.TimeRange{Start: base, End: base.Add(2 * time.Hour)},
		BucketDuration: time.Hour,
	})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	require.InDelta(t, 1.8, buckets[0].Values[domain.HeightAvg], 1e-9)

	_, present := buckets[1].Values[domain.HeightAvg]
	require.False(t, present, "a bucket with no contributing records reports no value")
}

func TestAggregateSkipsInvisibleOrigins(t *testing.T) {
	base := time.Date(2025, time.August, 7, 0, 0, 0, 0, time.UTC)
	hidden := datatypes.Metadata{
		UUID:   uuid.New(),
		Origin: datatypes.DataOrigin{PackageName: "com.hidden.app"},
	}
	store := &memStore{records: []*datatypes.Record{
		{Type: datatypes.TypeSteps, Metadata: origin(), Interval: interval(base, time.Hour), Payload: datatypes.Steps{Count: 100}},
		{Type: datatypes.TypeSteps, Metadata: hidden, Interval: interval(base.Add(2*time.Hour), time.Hour), Payload: datatypes.Steps{Count: 500}},
	}}
	visible := func(pkg string) bool { return pkg == "com.example.tracker" }

	buckets, err := NewAggregator(store, visible).Aggregate(context.Background(), domain.AggregateRequest{
		Types:     []domain.AggregationType{domain.StepsCountTotal},
		TimeRange: domain.TimeRange{Start: base, End: base.Add(24 * time.Hour)},
	})
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	require.Equal(t, 100.0, buckets[0].Values[domain.StepsCountTotal])
}

func TestAggregateRejectsBadRequests(t *testing.T) {
	store := &memStore{}
	agg := NewAggregator(store, nil)
	base := time.Date(2025, time.August, 6, 0, 0, 0, 0, time.UTC)

	_, err := agg.Aggregate(context.Background(), domain.AggregateRequest{
		Types:     []domain.AggregationType{domain.AggregationUnknown},
		TimeRange: domain.TimeRange{Start: base, End: base.Add(time.Hour)},
	})
	var unsupported *domain.UnsupportedAggregationError
	require.ErrorAs(t, err, &unsupported)

	_, err = agg.Aggregate(context.Background(), domain.AggregateRequest{
		Types:     []domain.AggregationType{domain.StepsCountTotal},
		TimeRange: domain.TimeRange{Start: base.Add(time.Hour), End: base},
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
}
