// Package schema is the single source of truth mapping record types to their
// tables, column sets and codecs. The registry is populated once at package
// init and immutable afterwards.
package schema

import (
	"fmt"

	"example.com/healthstore/internal/datatypes"
	"example.com/healthstore/internal/storage/codec"
)

// TableSpec names a table and its columns in storage order.
type TableSpec struct {
	Name    string
	Columns []codec.Column
}

// Entry wires one record type to its tables and codec.
type Entry struct {
	Type   datatypes.RecordType
	Main   TableSpec
	Series *TableSpec
	Codec  codec.Codec
}

// StartColumn is the main-table column holding the record's lower time bound;
// it is also the leading sort key for filtered reads.
func (e Entry) StartColumn() string {
	if e.Type.Shape() == datatypes.ShapeInstant {
		return codec.ColTimeMillis
	}
	return codec.ColStartMillis
}

// EndColumn is the main-table column holding the record's upper time bound.
// Instant records use their single timestamp as both bounds.
func (e Entry) EndColumn() string {
	if e.Type.Shape() == datatypes.ShapeInstant {
		return codec.ColTimeMillis
	}
	return codec.ColEndMillis
}

var registry map[datatypes.RecordType]Entry

func init() {
	codecs := []codec.Codec{
		codec.NewStepsCodec(),
		codec.NewTotalCaloriesBurnedCodec(),
		codec.NewBasalMetabolicRateCodec(),
		codec.NewHeightCodec(),
		codec.NewHeartRateCodec(),
		codec.NewPowerCodec(),
		codec.NewCyclingPedalingCadenceCodec(),
	}

	registry = make(map[datatypes.RecordType]Entry, len(codecs))
	for _, c := range codecs {
		t := c.Type()
		entry := Entry{
			Type:  t,
			Main:  TableSpec{Name: t.String() + "_record_table", Columns: c.MainColumns()},
			Codec: c,
		}
		if cols := c.SeriesColumns(); cols != nil {
			entry.Series = &TableSpec{Name: t.String() + "_series_table", Columns: cols}
		}
		registry[t] = entry
	}
}

// Lookup resolves the entry for a record type. An unknown type means a record
// type was added to the model without a registry entry; that is a defect, not
// recoverable input, so Lookup panics.
func Lookup(t datatypes.RecordType) Entry {
	entry, ok := registry[t]
	if !ok {
		panic(fmt.Sprintf("schema: no registry entry for record type %d (%s)", t, t))
	}
	return entry
}

// Entries returns every registered entry in record-type order.
func Entries() []Entry {
	out := make([]Entry, 0, len(registry))
	for _, t := range datatypes.AllRecordTypes() {
		out = append(out, registry[t])
	}
	return out
}
