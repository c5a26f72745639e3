package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
)

// ValidateRecord checks the shape invariants of a single record. The batch
// index is stamped onto any resulting ValidationError by the caller.
func ValidateRecord(r *datatypes.Record) error {
	if r == nil {
		return &ValidationError{Index: -1, Reason: "nil record"}
	}
	if r.Payload == nil {
		return invalid(r, "missing payload")
	}
	if r.Payload.RecordType() != r.Type {
		return invalid(r, fmt.Sprintf("payload type %s does not match record type %s",
			r.Payload.RecordType(), r.Type))
	}
	if r.Metadata.Origin.PackageName == "" {
		return invalid(r, "missing data origin package name")
	}

	switch r.Type.Shape() {
	case datatypes.ShapeInstant:
		if r.Instant == nil || r.Interval != nil {
			return invalid(r, "instant record must carry exactly an instant anchor")
		}
		if r.Instant.Time.IsZero() {
			return invalid(r, "missing record time")
		}
	case datatypes.ShapeInterval, datatypes.ShapeSeries:
		if r.Interval == nil || r.Instant != nil {
			return invalid(r, "interval record must carry exactly an interval anchor")
		}
		if !r.Interval.StartTime.Before(r.Interval.EndTime) {
			return invalid(r, "interval start time must be before end time")
		}
	}

	return validatePayload(r)
}

func validatePayload(r *datatypes.Record) error {
	switch p := r.Payload.(type) {
	case datatypes.Steps:
		if p.Count < 0 {
			return invalid(r, "step count must be non-negative")
		}
	case datatypes.TotalCaloriesBurned:
		if p.EnergyKcal < 0 {
			return invalid(r, "energy must be non-negative")
		}
	case datatypes.BasalMetabolicRate:
		if p.PowerWatts < 0 {
			return invalid(r, "basal metabolic rate must be non-negative")
		}
	case datatypes.Height:
		if p.Meters < 0 {
			return invalid(r, "height must be non-negative")
		}
	case datatypes.HeartRate:
		if len(p.Samples) == 0 {
			return invalid(r, "series record must carry at least one sample")
		}
		for _, s := range p.Samples {
			if s.BeatsPerMinute < 0 {
				return invalid(r, "heart rate must be non-negative")
			}
			if err := checkSampleInRange(r, s.Time); err != nil {
				return err
			}
		}
	case datatypes.Power:
		if len(p.Samples) == 0 {
			return invalid(r, "series record must carry at least one sample")
		}
		for _, s := range p.Samples {
			if err := checkSampleInRange(r, s.Time); err != nil {
				return err
			}
		}
	case datatypes.CyclingPedalingCadence:
		if len(p.Samples) == 0 {
			return invalid(r, "series record must carry at least one sample")
		}
		for _, s := range p.Samples {
			if s.RevolutionsPerMinute < 0 {
				return invalid(r, "cadence must be non-negative")
			}
			if err := checkSampleInRange(r, s.Time); err != nil {
				return err
			}
		}
	}
	return nil
}

func checkSampleInRange(r *datatypes.Record, t time.Time) error {
	if t.Before(r.Interval.StartTime) || t.After(r.Interval.EndTime) {
		return invalid(r, "sample time outside the record interval")
	}
	return nil
}

func invalid(r *datatypes.Record, reason string) *ValidationError {
	ve := &ValidationError{Index: -1, Reason: reason}
	if r.Metadata.UUID != uuid.Nil {
		ve.UUID = r.Metadata.UUID.String()
	}
	return ve
}
