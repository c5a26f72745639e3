package api

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
)

// RecordView is the JSON representation of a record on the API surface and
// in snapshot exports. Shape-specific fields are pointers so absent fields
// stay absent.
type RecordView struct {
	UUID                string     `json:"uuid,omitempty"`
	Type                string     `json:"type"`
	ClientRecordID      string     `json:"client_record_id,omitempty"`
	ClientRecordVersion int64      `json:"client_record_version,omitempty"`
	Origin              OriginView `json:"origin"`
	RecordingMethod     int        `json:"recording_method,omitempty"`
	CreatedAt           *time.Time `json:"created_at,omitempty"`
	LastModified        *time.Time `json:"last_modified,omitempty"`

	Time       *time.Time `json:"time,omitempty"`
	ZoneOffset *int32     `json:"zone_offset_seconds,omitempty"`

	StartTime       *time.Time `json:"start_time,omitempty"`
	EndTime         *time.Time `json:"end_time,omitempty"`
	StartZoneOffset *int32     `json:"start_zone_offset_seconds,omitempty"`
	EndZoneOffset   *int32     `json:"end_zone_offset_seconds,omitempty"`

	Count        *int64       `json:"count,omitempty"`
	EnergyKcal   *float64     `json:"energy_kcal,omitempty"`
	PowerWatts   *float64     `json:"power_watts,omitempty"`
	HeightMeters *float64     `json:"height_meters,omitempty"`
	Samples      []SampleView `json:"samples,omitempty"`
}

// OriginView identifies the contributing application.
type OriginView struct {
	PackageName        string `json:"package_name"`
	DeviceManufacturer string `json:"device_manufacturer,omitempty"`
	DeviceModel        string `json:"device_model,omitempty"`
}

// SampleView is one series sample; exactly one value field is set depending
// on the record type.
type SampleView struct {
	Time                 time.Time `json:"time"`
	BeatsPerMinute       *int64    `json:"beats_per_minute,omitempty"`
	Watts                *float64  `json:"watts,omitempty"`
	RevolutionsPerMinute *float64  `json:"revolutions_per_minute,omitempty"`
}

// ToRecordView converts a stored record for the wire.
func ToRecordView(rec *datatypes.Record) RecordView {
	m := rec.Metadata
	v := RecordView{
		Type:                rec.Type.String(),
		ClientRecordID:      m.ClientRecordID,
		ClientRecordVersion: m.ClientRecordVersion,
		RecordingMethod:     int(m.RecordingMethod),
		Origin: OriginView{
			PackageName:        m.Origin.PackageName,
			DeviceManufacturer: m.Origin.DeviceManufacturer,
			DeviceModel:        m.Origin.DeviceModel,
		},
	}
	if m.UUID != uuid.Nil {
		v.UUID = m.UUID.String()
	}
	if !m.CreatedAt.IsZero() {
		created := m.CreatedAt
		v.CreatedAt = &created
	}
	if !m.LastModified.IsZero() {
		updated := m.LastModified
		v.LastModified = &updated
	}

	if rec.Instant != nil {
		t := rec.Instant.Time
		off := rec.Instant.ZoneOffset
		v.Time = &t
		v.ZoneOffset = &off
	}
	if rec.Interval != nil {
		start, end := rec.Interval.StartTime, rec.Interval.EndTime
		startOff, endOff := rec.Interval.StartZoneOffset, rec.Interval.EndZoneOffset
		v.StartTime = &start
		v.EndTime = &end
		v.StartZoneOffset = &startOff
		v.EndZoneOffset = &endOff
	}

	switch p := rec.Payload.(type) {
	case datatypes.Steps:
		count := p.Count
		v.Count = &count
	case datatypes.TotalCaloriesBurned:
		energy := p.EnergyKcal
		v.EnergyKcal = &energy
	case datatypes.BasalMetabolicRate:
		watts := p.PowerWatts
		v.PowerWatts = &watts
	case datatypes.Height:
		meters := p.Meters
		v.HeightMeters = &meters
	case datatypes.HeartRate:
		for _, s := range p.Samples {
			bpm := s.BeatsPerMinute
			v.Samples = append(v.Samples, SampleView{Time: s.Time, BeatsPerMinute: &bpm})
		}
	case datatypes.Power:
		for _, s := range p.Samples {
			watts := s.Watts
			v.Samples = append(v.Samples, SampleView{Time: s.Time, Watts: &watts})
		}
	case datatypes.CyclingPedalingCadence:
		for _, s := range p.Samples {
			rpm := s.RevolutionsPerMinute
			v.Samples = append(v.Samples, SampleView{Time: s.Time, RevolutionsPerMinute: &rpm})
		}
	}
	return v
}

// FromRecordView converts a wire record into the domain model.
func FromRecordView(v RecordView) (*datatypes.Record, error) {
	t := datatypes.ParseRecordType(v.Type)
	if t == datatypes.TypeUnknown {
		return nil, fmt.Errorf("unknown record type %q", v.Type)
	}

	rec := &datatypes.Record{
		Type: t,
		Metadata: datatypes.Metadata{
			ClientRecordID:      v.ClientRecordID,
			ClientRecordVersion: v.ClientRecordVersion,
			RecordingMethod:     datatypes.RecordingMethod(v.RecordingMethod),
			Origin: datatypes.DataOrigin{
				PackageName:        v.Origin.PackageName,
				DeviceManufacturer: v.Origin.DeviceManufacturer,
				DeviceModel:        v.Origin.DeviceModel,
			},
		},
	}
	if v.CreatedAt != nil {
		rec.Metadata.CreatedAt = *v.CreatedAt
	}
	if v.LastModified != nil {
		rec.Metadata.LastModified = *v.LastModified
	}
	if v.UUID != "" {
		id, err := uuid.Parse(v.UUID)
		if err != nil {
			return nil, fmt.Errorf("malformed record uuid %q", v.UUID)
		}
		rec.Metadata.UUID = id
	}

	switch t.Shape() {
	case datatypes.ShapeInstant:
		if v.Time == nil {
			return nil, errors.New("instant record requires a time field")
		}
		anchor := datatypes.InstantAnchor{Time: *v.Time}
		if v.ZoneOffset != nil {
			anchor.ZoneOffset = *v.ZoneOffset
		}
		rec.Instant = &anchor
	case datatypes.ShapeInterval, datatypes.ShapeSeries:
		if v.StartTime == nil || v.EndTime == nil {
			return nil, errors.New("interval record requires start_time and end_time fields")
		}
		anchor := datatypes.IntervalAnchor{StartTime: *v.StartTime, EndTime: *v.EndTime}
		if v.StartZoneOffset != nil {
			anchor.StartZoneOffset = *v.StartZoneOffset
		}
		if v.EndZoneOffset != nil {
			anchor.EndZoneOffset = *v.EndZoneOffset
		}
		rec.Interval = &anchor
	}

	payload, err := payloadFromView(t, v)
	if err != nil {
		return nil, err
	}
	rec.Payload = payload
	return rec, nil
}

func payloadFromView(t datatypes.RecordType, v RecordView) (datatypes.Payload, error) {
	switch t {
	case datatypes.TypeSteps:
		if v.Count == nil {
			return nil, errors.New("steps record requires a count field")
		}
		return datatypes.Steps{Count: *v.Count}, nil
	case datatypes.TypeTotalCaloriesBurned:
		if v.EnergyKcal == nil {
			return nil, errors.New("total_calories_burned record requires an energy_kcal field")
		}
		return datatypes.TotalCaloriesBurned{EnergyKcal: *v.EnergyKcal}, nil
	case datatypes.TypeBasalMetabolicRate:
		if v.PowerWatts == nil {
			return nil, errors.New("basal_metabolic_rate record requires a power_watts field")
		}
		return datatypes.BasalMetabolicRate{PowerWatts: *v.PowerWatts}, nil
	case datatypes.TypeHeight:
		if v.HeightMeters == nil {
			return nil, errors.New("height record requires a height_meters field")
		}
		return datatypes.Height{Meters: *v.HeightMeters}, nil
	case datatypes.TypeHeartRate:
		samples := make([]datatypes.HeartRateSample, 0, len(v.Samples))
		for _, s := range v.Samples {
			if s.BeatsPerMinute == nil {
				return nil, errors.New("heart_rate sample requires beats_per_minute")
			}
			samples = append(samples, datatypes.HeartRateSample{Time: s.Time, BeatsPerMinute: *s.BeatsPerMinute})
		}
		return datatypes.HeartRate{Samples: samples}, nil
	case datatypes.TypePower:
		samples := make([]datatypes.PowerSample, 0, len(v.Samples))
		for _, s := range v.Samples {
			if s.Watts == nil {
				return nil, errors.New("power sample requires watts")
			}
			samples = append(samples, datatypes.PowerSample{Time: s.Time, Watts: *s.Watts})
		}
		return datatypes.Power{Samples: samples}, nil
	case datatypes.TypeCyclingPedalingCadence:
		samples := make([]datatypes.CadenceSample, 0, len(v.Samples))
		for _, s := range v.Samples {
			if s.RevolutionsPerMinute == nil {
				return nil, errors.New("cycling_pedaling_cadence sample requires revolutions_per_minute")
			}
			samples = append(samples, datatypes.CadenceSample{Time: s.Time, RevolutionsPerMinute: *s.RevolutionsPerMinute})
		}
		return datatypes.CyclingPedalingCadence{Samples: samples}, nil
	default:
		return nil, fmt.Errorf("unknown record type %q", v.Type)
	}
}
