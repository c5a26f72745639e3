package codec

import "example.com/healthstore/internal/datatypes"

// Per-type column names beyond the shared envelope and anchors.
const (
	colCount                = "count"
	colEnergyKcal           = "energy_kcal"
	colPowerWatts           = "power_watts"
	colHeightMeters         = "height_meters"
	colBeatsPerMinute       = "beats_per_minute"
	colWatts                = "watts"
	colRevolutionsPerMinute = "revolutions_per_minute"
)

// NewStepsCodec builds the codec for step count records.
func NewStepsCodec() Codec {
	return &intervalCodec{
		typ:         datatypes.TypeSteps,
		payloadCols: []Column{{colCount, KindInteger}},
		encodePayload: func(p datatypes.Payload, row RowValues) {
			row[colCount] = p.(datatypes.Steps).Count
		},
		decodePayload: func(row RowValues) datatypes.Payload {
			return datatypes.Steps{Count: row.Long(colCount)}
		},
	}
}

// NewTotalCaloriesBurnedCodec builds the codec for energy records.
func NewTotalCaloriesBurnedCodec() Codec {
	return &intervalCodec{
		typ:         datatypes.TypeTotalCaloriesBurned,
		payloadCols: []Column{{colEnergyKcal, KindReal}},
		encodePayload: func(p datatypes.Payload, row RowValues) {
			row[colEnergyKcal] = p.(datatypes.TotalCaloriesBurned).EnergyKcal
		},
		decodePayload: func(row RowValues) datatypes.Payload {
			return datatypes.TotalCaloriesBurned{EnergyKcal: row.Double(colEnergyKcal)}
		},
	}
}

// NewBasalMetabolicRateCodec builds the codec for resting power records.
func NewBasalMetabolicRateCodec() Codec {
	return &instantCodec{
		typ:         datatypes.TypeBasalMetabolicRate,
		payloadCols: []Column{{colPowerWatts, KindReal}},
		encodePayload: func(p datatypes.Payload, row RowValues) {
			row[colPowerWatts] = p.(datatypes.BasalMetabolicRate).PowerWatts
		},
		decodePayload: func(row RowValues) datatypes.Payload {
			return datatypes.BasalMetabolicRate{PowerWatts: row.Double(colPowerWatts)}
		},
	}
}

// NewHeightCodec builds the codec for height records.
func NewHeightCodec() Codec {
	return &instantCodec{
		typ:         datatypes.TypeHeight,
		payloadCols: []Column{{colHeightMeters, KindReal}},
		encodePayload: func(p datatypes.Payload, row RowValues) {
			row[colHeightMeters] = p.(datatypes.Height).Meters
		},
		decodePayload: func(row RowValues) datatypes.Payload {
			return datatypes.Height{Meters: row.Double(colHeightMeters)}
		},
	}
}

// NewHeartRateCodec builds the codec for heart rate series records.
func NewHeartRateCodec() Codec {
	return &seriesCodec{
		typ:        datatypes.TypeHeartRate,
		sampleCols: []Column{{colBeatsPerMinute, KindInteger}},
		encodeSamples: func(p datatypes.Payload) []RowValues {
			samples := p.(datatypes.HeartRate).Samples
			rows := make([]RowValues, len(samples))
			for i, s := range samples {
				rows[i] = RowValues{
					ColEpochMillis:    s.Time.UnixMilli(),
					colBeatsPerMinute: s.BeatsPerMinute,
				}
			}
			return rows
		},
		decodeSamples: func(rows []RowValues) datatypes.Payload {
			samples := make([]datatypes.HeartRateSample, len(rows))
			for i, row := range rows {
				samples[i] = datatypes.HeartRateSample{
					Time:           millisToTime(row.Long(ColEpochMillis)),
					BeatsPerMinute: row.Long(colBeatsPerMinute),
				}
			}
			return datatypes.HeartRate{Samples: samples}
		},
	}
}

// NewPowerCodec builds the codec for power series records.
func NewPowerCodec() Codec {
	return &seriesCodec{
		typ:        datatypes.TypePower,
		sampleCols: []Column{{colWatts, KindReal}},
		encodeSamples: func(p datatypes.Payload) []RowValues {
			samples := p.(datatypes.Power).Samples
			rows := make([]RowValues, len(samples))
			for i, s := range samples {
				rows[i] = RowValues{
					ColEpochMillis: s.Time.UnixMilli(),
					colWatts:       s.Watts,
				}
			}
			return rows
		},
		decodeSamples: func(rows []RowValues) datatypes.Payload {
			samples := make([]datatypes.PowerSample, len(rows))
			for i, row := range rows {
				samples[i] = datatypes.PowerSample{
					Time:  millisToTime(row.Long(ColEpochMillis)),
					Watts: row.Double(colWatts),
				}
			}
			return datatypes.Power{Samples: samples}
		},
	}
}

// NewCyclingPedalingCadenceCodec builds the codec for cadence series records.
func NewCyclingPedalingCadenceCodec() Codec {
	return &seriesCodec{
		typ:        datatypes.TypeCyclingPedalingCadence,
		sampleCols: []Column{{colRevolutionsPerMinute, KindReal}},
		encodeSamples: func(p datatypes.Payload) []RowValues {
			samples := p.(datatypes.CyclingPedalingCadence).Samples
			rows := make([]RowValues, len(samples))
			for i, s := range samples {
				rows[i] = RowValues{
					ColEpochMillis:          s.Time.UnixMilli(),
					colRevolutionsPerMinute: s.RevolutionsPerMinute,
				}
			}
			return rows
		},
		decodeSamples: func(rows []RowValues) datatypes.Payload {
			samples := make([]datatypes.CadenceSample, len(rows))
			for i, row := range rows {
				samples[i] = datatypes.CadenceSample{
					Time:                 millisToTime(row.Long(ColEpochMillis)),
					RevolutionsPerMinute: row.Double(colRevolutionsPerMinute),
				}
			}
			return datatypes.CyclingPedalingCadence{Samples: samples}
		},
	}
}
