// Package aggregation computes scalar and bucketed aggregates over stored
// records. Requests are validated before any storage access.
package aggregation

import (
	"context"
	"math"
	"time"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
	"example.com/healthstore/internal/observability"
)

// readPageSize bounds how many records one aggregation pass holds per page.
const readPageSize = 1000

// kind describes how an aggregation attributes record values to buckets.
type kind int

const (
	// kindStartBucket adds the whole value to the bucket containing the
	// record's start time.
	kindStartBucket kind = iota
	// kindDurationWeighted splits the value across buckets proportionally to
	// overlap duration.
	kindDurationWeighted
	// kindInstant attributes the value to the bucket containing the record's
	// single timestamp.
	kindInstant
	// kindSample attributes each series sample to the bucket containing its
	// timestamp.
	kindSample
)

// reduce names the scalar folded over the attributed values.
type reduce int

const (
	reduceSum reduce = iota
	reduceAvg
	reduceMin
	reduceMax
)

type spec struct {
	recordType datatypes.RecordType
	kind       kind
	reduce     reduce
}

var specs = map[domain.AggregationType]spec{
	domain.StepsCountTotal:          {datatypes.TypeSteps, kindStartBucket, reduceSum},
	domain.TotalCaloriesBurnedTotal: {datatypes.TypeTotalCaloriesBurned, kindDurationWeighted, reduceSum},
	domain.BasalMetabolicRateAvg:    {datatypes.TypeBasalMetabolicRate, kindInstant, reduceAvg},
	domain.HeightAvg:                {datatypes.TypeHeight, kindInstant, reduceAvg},
	domain.HeightMin:                {datatypes.TypeHeight, kindInstant, reduceMin},
	domain.HeightMax:                {datatypes.TypeHeight, kindInstant, reduceMax},
	domain.HeartRateAvg:             {datatypes.TypeHeartRate, kindSample, reduceAvg},
	domain.HeartRateMin:             {datatypes.TypeHeartRate, kindSample, reduceMin},
	domain.HeartRateMax:             {datatypes.TypeHeartRate, kindSample, reduceMax},
	domain.PowerAvg:                 {datatypes.TypePower, kindSample, reduceAvg},
	domain.PowerMin:                 {datatypes.TypePower, kindSample, reduceMin},
	domain.PowerMax:                 {datatypes.TypePower, kindSample, reduceMax},
}

// Aggregator evaluates aggregate requests against the record store. Records
// from invisible origins never contribute to a value.
type Aggregator struct {
	store   domain.RecordStore
	visible domain.VisibilityPredicate
}

// NewAggregator constructs an Aggregator. A nil predicate makes every origin
// visible.
func NewAggregator(store domain.RecordStore, visible domain.VisibilityPredicate) *Aggregator {
	if visible == nil {
		visible = domain.AllowAll
	}
	return &Aggregator{store: store, visible: visible}
}

// Aggregate computes every requested aggregate, either over the whole range
// or per fixed-width bucket. Cancellation is honored between buckets and
// between storage pages.
func (a *Aggregator) Aggregate(ctx context.Context, req domain.AggregateRequest) ([]domain.AggregateBucket, error) {
	if err := validate(req); err != nil {
		return nil, err
	}
	start := time.Now()

	buckets := makeBuckets(req)
	accs := make([]map[domain.AggregationType]*accumulator, len(buckets))
	for i := range accs {
		accs[i] = make(map[domain.AggregationType]*accumulator, len(req.Types))
	}

	// One storage pass per distinct record type involved.
	byRecordType := make(map[datatypes.RecordType][]domain.AggregationType)
	for _, at := range req.Types {
		s := specs[at]
		byRecordType[s.recordType] = append(byRecordType[s.recordType], at)
	}

	for recordType, aggTypes := range byRecordType {
		err := a.scan(ctx, recordType, req, func(rec *datatypes.Record) {
			for _, at := range aggTypes {
				attribute(specs[at], at, rec, buckets, accs)
			}
		})
		if err != nil {
			return nil, err
		}
	}

	out := make([]domain.AggregateBucket, len(buckets))
	for i, b := range buckets {
		out[i] = domain.AggregateBucket{
			StartTime: b.start,
			EndTime:   b.end,
			Values:    make(map[domain.AggregationType]float64),
		}
		for at, acc := range accs[i] {
			if v, ok := acc.result(specs[at].reduce); ok {
				out[i].Values[at] = v
			}
		}
	}

	observability.AggregateComputed(time.Since(start))
	return out, nil
}

func validate(req domain.AggregateRequest) error {
	if len(req.Types) == 0 {
		return &domain.UnsupportedAggregationError{Aggregation: "none", Reason: "no aggregation types requested"}
	}
	for _, at := range req.Types {
		if _, ok := specs[at]; !ok {
			return &domain.UnsupportedAggregationError{Aggregation: at.String(), Reason: "unknown aggregation type"}
		}
	}
	if !req.TimeRange.Valid() {
		return &domain.ValidationError{Index: -1, Reason: "time range start must be before end"}
	}
	if req.BucketDuration < 0 {
		return &domain.ValidationError{Index: -1, Reason: "bucket duration must be non-negative"}
	}
	return nil
}

type bucket struct {
	start time.Time
	end   time.Time
}

func makeBuckets(req domain.AggregateRequest) []bucket {
	if req.BucketDuration == 0 {
		return []bucket{{start: req.TimeRange.Start, end: req.TimeRange.End}}
	}
	var out []bucket
	for cursor := req.TimeRange.Start; cursor.Before(req.TimeRange.End); cursor = cursor.Add(req.BucketDuration) {
		end := cursor.Add(req.BucketDuration)
		if end.After(req.TimeRange.End) {
			end = req.TimeRange.End
		}
		out = append(out, bucket{start: cursor, end: end})
	}
	return out
}

func (a *Aggregator) scan(ctx context.Context, t datatypes.RecordType, req domain.AggregateRequest, visit func(*datatypes.Record)) error {
	tr := req.TimeRange
	filter := domain.ReadFilter{
		Type:      t,
		TimeRange: &tr,
		Origins:   req.Origins,
		PageSize:  readPageSize,
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		records, next, err := a.store.ReadByFilter(ctx, filter)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if !a.visible(rec.Metadata.Origin.PackageName) {
				continue
			}
			visit(rec)
		}
		if next == "" {
			return nil
		}
		filter.PageToken = next
	}
}

func attribute(s spec, at domain.AggregationType, rec *datatypes.Record, buckets []bucket, accs []map[domain.AggregationType]*accumulator) {
	acc := func(i int) *accumulator {
		if accs[i][at] == nil {
			accs[i][at] = &accumulator{}
		}
		return accs[i][at]
	}

	switch s.kind {
	case kindStartBucket:
		for i, b := range buckets {
			if inBucket(rec.StartTime(), b) {
				acc(i).add(scalarValue(rec))
				return
			}
		}
	case kindDurationWeighted:
		total := rec.EndTime().Sub(rec.StartTime())
		if total <= 0 {
			return
		}
		for i, b := range buckets {
			overlap := overlapDuration(rec.StartTime(), rec.EndTime(), b)
			if overlap <= 0 {
				continue
			}
			fraction := float64(overlap) / float64(total)
			acc(i).add(scalarValue(rec) * fraction)
		}
	case kindInstant:
		for i, b := range buckets {
			if inBucket(rec.Instant.Time, b) {
				acc(i).add(scalarValue(rec))
				return
			}
		}
	case kindSample:
		for _, sv := range sampleValues(rec) {
			for i, b := range buckets {
				if inBucket(sv.at, b) {
					acc(i).add(sv.value)
					break
				}
			}
		}
	}
}

func inBucket(t time.Time, b bucket) bool {
	return !t.Before(b.start) && t.Before(b.end)
}

func overlapDuration(start, end time.Time, b bucket) time.Duration {
	lo := start
	if b.start.After(lo) {
		lo = b.start
	}
	hi := end
	if b.end.Before(hi) {
		hi = b.end
	}
	return hi.Sub(lo)
}

func scalarValue(rec *datatypes.Record) float64 {
	switch p := rec.Payload.(type) {
	case datatypes.Steps:
		return float64(p.Count)
	case datatypes.TotalCaloriesBurned:
		return p.EnergyKcal
	case datatypes.BasalMetabolicRate:
		return p.PowerWatts
	case datatypes.Height:
		return p.Meters
	default:
		return 0
	}
}

type sampleValue struct {
	at    time.Time
	value float64
}

func sampleValues(rec *datatypes.Record) []sampleValue {
	switch p := rec.Payload.(type) {
	case datatypes.HeartRate:
		out := make([]sampleValue, len(p.Samples))
		for i, s := range p.Samples {
			out[i] = sampleValue{at: s.Time, value: float64(s.BeatsPerMinute)}
		}
		return out
	case datatypes.Power:
		out := make([]sampleValue, len(p.Samples))
		for i, s := range p.Samples {
			out[i] = sampleValue{at: s.Time, value: s.Watts}
		}
		return out
	case datatypes.CyclingPedalingCadence:
		out := make([]sampleValue, len(p.Samples))
		for i, s := range p.Samples {
			out[i] = sampleValue{at: s.Time, value: s.RevolutionsPerMinute}
		}
		return out
	default:
		return nil
	}
}

type accumulator struct {
	sum   float64
	count int64
	min   float64
	max   float64
}

func (a *accumulator) add(v float64) {
	if a.count == 0 {
		a.min = v
		a.max = v
	} else {
		a.min = math.Min(a.min, v)
		a.max = math.Max(a.max, v)
	}
	a.sum += v
	a.count++
}

func (a *accumulator) result(r reduce) (float64, bool) {
	if a.count == 0 {
		return 0, false
	}
	switch r {
	case reduceAvg:
		return a.sum / float64(a.count), true
	case reduceMin:
		return a.min, true
	case reduceMax:
		return a.max, true
	default:
		return a.sum, true
	}
}
