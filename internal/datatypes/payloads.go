package datatypes

import "time"

// Payload is the type-specific portion of a record.
type Payload interface {
	RecordType() RecordType
}

// Steps is the payload of an interval record counting steps taken.
type Steps struct {
	Count int64
}

func (Steps) RecordType() RecordType { return TypeSteps }

// TotalCaloriesBurned is the payload of an interval record measuring energy.
type TotalCaloriesBurned struct {
	EnergyKcal float64
}

func (TotalCaloriesBurned) RecordType() RecordType { return TypeTotalCaloriesBurned }

// BasalMetabolicRate is the payload of an instant record measuring resting power.
type BasalMetabolicRate struct {
	PowerWatts float64
}

func (BasalMetabolicRate) RecordType() RecordType { return TypeBasalMetabolicRate }

// Height is the payload of an instant record.
type Height struct {
	Meters float64
}

func (Height) RecordType() RecordType { return TypeHeight }

// HeartRateSample is one timestamped heart rate measurement.
type HeartRateSample struct {
	Time           time.Time
	BeatsPerMinute int64
}

// HeartRate is the payload of a series record of heart rate samples.
type HeartRate struct {
	Samples []HeartRateSample
}

func (HeartRate) RecordType() RecordType { return TypeHeartRate }

// PowerSample is one timestamped power measurement.
type PowerSample struct {
	Time  time.Time
	Watts float64
}

// Power is the payload of a series record of power samples.
type Power struct {
	Samples []PowerSample
}

func (Power) RecordType() RecordType { return TypePower }

// CadenceSample is one timestamped pedaling cadence measurement.
type CadenceSample struct {
	Time                 time.Time
	RevolutionsPerMinute float64
}

// CyclingPedalingCadence is the payload of a series record of cadence samples.
type CyclingPedalingCadence struct {
	Samples []CadenceSample
}

func (CyclingPedalingCadence) RecordType() RecordType { return TypeCyclingPedalingCadence }

// SampleCount reports the number of series samples carried by the payload,
// or zero for non-series payloads.
func SampleCount(p Payload) int {
	switch v := p.(type) {
	case HeartRate:
		return len(v.Samples)
	case Power:
		return len(v.Samples)
	case CyclingPedalingCadence:
		return len(v.Samples)
	default:
		return 0
	}
}
