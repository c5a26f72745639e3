// Package datatypes defines the record model persisted by the health store.
package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// RecordType identifies one of the closed set of stored record kinds.
type RecordType int

const (
	TypeUnknown RecordType = iota
	TypeSteps
	TypeTotalCaloriesBurned
	TypeBasalMetabolicRate
	TypeHeight
	TypeHeartRate
	TypePower
	TypeCyclingPedalingCadence
)

// Shape describes the temporal anchor a record type carries.
type Shape int

const (
	ShapeInstant Shape = iota
	ShapeInterval
	ShapeSeries
)

// Shape reports the temporal shape of the record type.
func (t RecordType) Shape() Shape {
	switch t {
	case TypeBasalMetabolicRate, TypeHeight:
		return ShapeInstant
	case TypeSteps, TypeTotalCaloriesBurned:
		return ShapeInterval
	case TypeHeartRate, TypePower, TypeCyclingPedalingCadence:
		return ShapeSeries
	default:
		return ShapeInstant
	}
}

func (t RecordType) String() string {
	switch t {
	case TypeSteps:
		return "steps"
	case TypeTotalCaloriesBurned:
		return "total_calories_burned"
	case TypeBasalMetabolicRate:
		return "basal_metabolic_rate"
	case TypeHeight:
		return "height"
	case TypeHeartRate:
		return "heart_rate"
	case TypePower:
		return "power"
	case TypeCyclingPedalingCadence:
		return "cycling_pedaling_cadence"
	default:
		return "unknown"
	}
}

// ParseRecordType maps the wire name back to a RecordType.
func ParseRecordType(name string) RecordType {
	for _, t := range AllRecordTypes() {
		if t.String() == name {
			return t
		}
	}
	return TypeUnknown
}

// AllRecordTypes enumerates every registered record type.
func AllRecordTypes() []RecordType {
	return []RecordType{
		TypeSteps,
		TypeTotalCaloriesBurned,
		TypeBasalMetabolicRate,
		TypeHeight,
		TypeHeartRate,
		TypePower,
		TypeCyclingPedalingCadence,
	}
}

// RecordingMethod tags how a record was captured.
type RecordingMethod int

const (
	RecordingMethodUnknown RecordingMethod = iota
	RecordingMethodActively
	RecordingMethodAutomatic
	RecordingMethodManual
)

// DataOrigin identifies the contributing application and optional device.
type DataOrigin struct {
	PackageName        string
	DeviceManufacturer string
	DeviceModel        string
}

// Metadata is the shape-independent envelope shared by all records.
type Metadata struct {
	// UUID is assigned by the storage engine at insert time if absent and
	// immutable afterwards.
	UUID uuid.UUID
	// ClientRecordID is the caller-supplied idempotency key, unique per origin.
	ClientRecordID      string
	ClientRecordVersion int64
	Origin              DataOrigin
	RecordingMethod     RecordingMethod
	// CreatedAt and LastModified are engine-assigned write times.
	CreatedAt    time.Time
	LastModified time.Time
}

// InstantAnchor is the temporal anchor of instant-shaped records.
type InstantAnchor struct {
	Time time.Time
	// ZoneOffset is the UTC offset in seconds at capture time.
	ZoneOffset int32
}

// IntervalAnchor is the temporal anchor of interval- and series-shaped records.
type IntervalAnchor struct {
	StartTime       time.Time
	EndTime         time.Time
	StartZoneOffset int32
	EndZoneOffset   int32
}

// Record is one stored observation. Exactly one anchor is set depending on
// the record type's shape; series types use the interval anchor.
type Record struct {
	Metadata Metadata
	Type     RecordType
	Instant  *InstantAnchor
	Interval *IntervalAnchor
	Payload  Payload
}

// StartTime returns the record's lower time bound. Instant records use their
// single timestamp as both bounds.
func (r *Record) StartTime() time.Time {
	if r.Instant != nil {
		return r.Instant.Time
	}
	if r.Interval != nil {
		return r.Interval.StartTime
	}
	return time.Time{}
}

// EndTime returns the record's upper time bound.
func (r *Record) EndTime() time.Time {
	if r.Instant != nil {
		return r.Instant.Time
	}
	if r.Interval != nil {
		return r.Interval.EndTime
	}
	return time.Time{}
}

// Overlaps reports whether the record overlaps [start, end) using the
// inclusive-start/exclusive-end convention. Instant records overlap when
// their timestamp falls inside the range.
func (r *Record) Overlaps(start, end time.Time) bool {
	if r.Instant != nil {
		t := r.Instant.Time
		return !t.Before(start) && t.Before(end)
	}
	return r.StartTime().Before(end) && r.EndTime().After(start)
}
