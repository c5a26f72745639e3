package codec

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/domain"
)

// Shared column names. Every main table carries the envelope columns plus
// the anchor columns of its shape; series tables carry the parent UUID, the
// sample position and the sample value columns.
const (
	ColUUID                = "uuid"
	ColClientRecordID      = "client_record_id"
	ColClientRecordVersion = "client_record_version"
	ColOriginPackage       = "origin_package"
	ColDeviceManufacturer  = "device_manufacturer"
	ColDeviceModel         = "device_model"
	ColRecordingMethod     = "recording_method"
	ColCreatedMillis       = "created_millis"
	ColLastModifiedMillis  = "last_modified_millis"

	ColTimeMillis = "time_millis"
	ColZoneOffset = "zone_offset"

	ColStartMillis     = "start_millis"
	ColEndMillis       = "end_millis"
	ColStartZoneOffset = "start_zone_offset"
	ColEndZoneOffset   = "end_zone_offset"

	ColSampleIndex = "sample_index"
	ColEpochMillis = "epoch_millis"
)

// Codec converts one record to flat rows and back. Encode validates shape
// invariants before producing rows; Decode reconstructs exactly one record,
// consuming the contiguous series rows of its UUID when the type is
// series-shaped.
type Codec interface {
	Type() datatypes.RecordType
	// MainColumns lists every column of the main table in storage order.
	MainColumns() []Column
	// SeriesColumns lists the series table columns, or nil for non-series types.
	SeriesColumns() []Column
	Encode(rec *datatypes.Record) (main RowValues, series []RowValues, err error)
	Decode(main RowValues, series *RowIter) (*datatypes.Record, error)
}

func envelopeColumns() []Column {
	return []Column{
		{ColUUID, KindText},
		{ColClientRecordID, KindText},
		{ColClientRecordVersion, KindInteger},
		{ColOriginPackage, KindText},
		{ColDeviceManufacturer, KindText},
		{ColDeviceModel, KindText},
		{ColRecordingMethod, KindInteger},
		{ColCreatedMillis, KindInteger},
		{ColLastModifiedMillis, KindInteger},
	}
}

func instantAnchorColumns() []Column {
	return []Column{
		{ColTimeMillis, KindInteger},
		{ColZoneOffset, KindInteger},
	}
}

func intervalAnchorColumns() []Column {
	return []Column{
		{ColStartMillis, KindInteger},
		{ColEndMillis, KindInteger},
		{ColStartZoneOffset, KindInteger},
		{ColEndZoneOffset, KindInteger},
	}
}

func encodeEnvelope(rec *datatypes.Record, row RowValues) {
	m := rec.Metadata
	row[ColUUID] = m.UUID.String()
	row[ColClientRecordID] = m.ClientRecordID
	row[ColClientRecordVersion] = m.ClientRecordVersion
	row[ColOriginPackage] = m.Origin.PackageName
	row[ColDeviceManufacturer] = m.Origin.DeviceManufacturer
	row[ColDeviceModel] = m.Origin.DeviceModel
	row[ColRecordingMethod] = int64(m.RecordingMethod)
	row[ColCreatedMillis] = m.CreatedAt.UnixMilli()
	row[ColLastModifiedMillis] = m.LastModified.UnixMilli()
}

func decodeEnvelope(row RowValues, rec *datatypes.Record) error {
	id, err := uuid.Parse(row.String(ColUUID))
	if err != nil {
		return fmt.Errorf("%w: malformed record uuid %q", domain.ErrInternalConsistency, row.String(ColUUID))
	}
	rec.Metadata = datatypes.Metadata{
		UUID:                id,
		ClientRecordID:      row.String(ColClientRecordID),
		ClientRecordVersion: row.Long(ColClientRecordVersion),
		Origin: datatypes.DataOrigin{
			PackageName:        row.String(ColOriginPackage),
			DeviceManufacturer: row.String(ColDeviceManufacturer),
			DeviceModel:        row.String(ColDeviceModel),
		},
		RecordingMethod: datatypes.RecordingMethod(row.Long(ColRecordingMethod)),
		CreatedAt:       millisToTime(row.Long(ColCreatedMillis)),
		LastModified:    millisToTime(row.Long(ColLastModifiedMillis)),
	}
	return nil
}

func encodeInstantAnchor(rec *datatypes.Record, row RowValues) {
	row[ColTimeMillis] = rec.Instant.Time.UnixMilli()
	row[ColZoneOffset] = int64(rec.Instant.ZoneOffset)
}

func decodeInstantAnchor(row RowValues, rec *datatypes.Record) {
	rec.Instant = &datatypes.InstantAnchor{
		Time:       millisToTime(row.Long(ColTimeMillis)),
		ZoneOffset: int32(row.Long(ColZoneOffset)),
	}
}

func encodeIntervalAnchor(rec *datatypes.Record, row RowValues) {
	row[ColStartMillis] = rec.Interval.StartTime.UnixMilli()
	row[ColEndMillis] = rec.Interval.EndTime.UnixMilli()
	row[ColStartZoneOffset] = int64(rec.Interval.StartZoneOffset)
	row[ColEndZoneOffset] = int64(rec.Interval.EndZoneOffset)
}

func decodeIntervalAnchor(row RowValues, rec *datatypes.Record) {
	rec.Interval = &datatypes.IntervalAnchor{
		StartTime:       millisToTime(row.Long(ColStartMillis)),
		EndTime:         millisToTime(row.Long(ColEndMillis)),
		StartZoneOffset: int32(row.Long(ColStartZoneOffset)),
		EndZoneOffset:   int32(row.Long(ColEndZoneOffset)),
	}
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// instantCodec handles instant-shaped record types; the payload hooks supply
// the type-specific columns.
type instantCodec struct {
	typ           datatypes.RecordType
	payloadCols   []Column
	encodePayload func(datatypes.Payload, RowValues)
	decodePayload func(RowValues) datatypes.Payload
}

func (c *instantCodec) Type() datatypes.RecordType { return c.typ }

func (c *instantCodec) MainColumns() []Column {
	cols := append(envelopeColumns(), instantAnchorColumns()...)
	return append(cols, c.payloadCols...)
}

func (c *instantCodec) SeriesColumns() []Column { return nil }

func (c *instantCodec) Encode(rec *datatypes.Record) (RowValues, []RowValues, error) {
	if err := domain.ValidateRecord(rec); err != nil {
		return nil, nil, err
	}
	row := make(RowValues, len(c.MainColumns()))
	encodeEnvelope(rec, row)
	encodeInstantAnchor(rec, row)
	c.encodePayload(rec.Payload, row)
	return row, nil, nil
}

func (c *instantCodec) Decode(main RowValues, _ *RowIter) (*datatypes.Record, error) {
	rec := &datatypes.Record{Type: c.typ}
	if err := decodeEnvelope(main, rec); err != nil {
		return nil, err
	}
	decodeInstantAnchor(main, rec)
	rec.Payload = c.decodePayload(main)
	return rec, nil
}

// intervalCodec handles interval-shaped record types.
type intervalCodec struct {
	typ           datatypes.RecordType
	payloadCols   []Column
	encodePayload func(datatypes.Payload, RowValues)
	decodePayload func(RowValues) datatypes.Payload
}

func (c *intervalCodec) Type() datatypes.RecordType { return c.typ }

func (c *intervalCodec) MainColumns() []Column {
	cols := append(envelopeColumns(), intervalAnchorColumns()...)
	return append(cols, c.payloadCols...)
}

func (c *intervalCodec) SeriesColumns() []Column { return nil }

func (c *intervalCodec) Encode(rec *datatypes.Record) (RowValues, []RowValues, error) {
	if err := domain.ValidateRecord(rec); err != nil {
		return nil, nil, err
	}
	row := make(RowValues, len(c.MainColumns()))
	encodeEnvelope(rec, row)
	encodeIntervalAnchor(rec, row)
	c.encodePayload(rec.Payload, row)
	return row, nil, nil
}

func (c *intervalCodec) Decode(main RowValues, _ *RowIter) (*datatypes.Record, error) {
	rec := &datatypes.Record{Type: c.typ}
	if err := decodeEnvelope(main, rec); err != nil {
		return nil, err
	}
	decodeIntervalAnchor(main, rec)
	rec.Payload = c.decodePayload(main)
	return rec, nil
}

// seriesCodec handles series-shaped record types: one main row plus one
// series row per sample, joined by the parent UUID.
type seriesCodec struct {
	typ           datatypes.RecordType
	sampleCols    []Column
	encodeSamples func(datatypes.Payload) []RowValues
	decodeSamples func([]RowValues) datatypes.Payload
}

func (c *seriesCodec) Type() datatypes.RecordType { return c.typ }

func (c *seriesCodec) MainColumns() []Column {
	return append(envelopeColumns(), intervalAnchorColumns()...)
}

func (c *seriesCodec) SeriesColumns() []Column {
	cols := []Column{
		{ColUUID, KindText},
		{ColSampleIndex, KindInteger},
		{ColEpochMillis, KindInteger},
	}
	return append(cols, c.sampleCols...)
}

func (c *seriesCodec) Encode(rec *datatypes.Record) (RowValues, []RowValues, error) {
	if err := domain.ValidateRecord(rec); err != nil {
		return nil, nil, err
	}
	main := make(RowValues, len(c.MainColumns()))
	encodeEnvelope(rec, main)
	encodeIntervalAnchor(rec, main)

	samples := c.encodeSamples(rec.Payload)
	id := rec.Metadata.UUID.String()
	for i, row := range samples {
		row[ColUUID] = id
		row[ColSampleIndex] = int64(i)
	}
	return main, samples, nil
}

// Decode consumes every contiguous series row carrying the main row's UUID.
// An empty group means the store lost the record's samples and is reported as
// an internal consistency fault, never as an empty record.
func (c *seriesCodec) Decode(main RowValues, series *RowIter) (*datatypes.Record, error) {
	rec := &datatypes.Record{Type: c.typ}
	if err := decodeEnvelope(main, rec); err != nil {
		return nil, err
	}
	decodeIntervalAnchor(main, rec)

	id := main.String(ColUUID)
	var group []RowValues
	for {
		row, ok := series.Peek()
		if !ok || row.String(ColUUID) != id {
			break
		}
		series.Next()
		group = append(group, row)
	}
	if len(group) == 0 {
		return nil, fmt.Errorf("%w: series record %s has no sample rows", domain.ErrInternalConsistency, id)
	}
	rec.Payload = c.decodeSamples(group)
	return rec, nil
}
