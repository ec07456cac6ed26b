// Package schema holds the canonical column types of every dataset the
// pipeline reads or writes, and the warehouse tables they land in.
//
// Declarations are fixed at compile time. Ingestion coerces raw chunks to
// them and the inference logger coerces each request to the inference
// declaration before it is persisted.
package schema

import (
	"fmt"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
)

// Field is one declared column.
type Field struct {
	Name string              `json:"name"`
	Type columnar.ColumnType `json:"type"`
}

// Declaration is an ordered, immutable list of fields.
type Declaration struct {
	kind   DatasetKind
	fields []Field
	index  map[string]int
}

func newDeclaration(kind DatasetKind, fields ...Field) *Declaration {
	d := &Declaration{kind: kind, fields: fields, index: make(map[string]int, len(fields))}
	for i, f := range fields {
		d.index[f.Name] = i
	}
	return d
}

// Kind returns the dataset the declaration belongs to.
func (d *Declaration) Kind() DatasetKind { return d.kind }

// Fields returns a copy of the declared fields in order.
func (d *Declaration) Fields() []Field { return append([]Field(nil), d.fields...) }

// Names returns the declared column names in order.
func (d *Declaration) Names() []string {
	names := make([]string, len(d.fields))
	for i, f := range d.fields {
		names[i] = f.Name
	}
	return names
}

// TypeOf returns the canonical type of a column.
func (d *Declaration) TypeOf(name string) (columnar.ColumnType, bool) {
	i, ok := d.index[name]
	if !ok {
		return columnar.ColumnTypeInvalid, false
	}
	return d.fields[i].Type, true
}

// Len returns the number of declared fields.
func (d *Declaration) Len() int { return len(d.fields) }

func field(name string, t columnar.ColumnType) Field { return Field{Name: name, Type: t} }

// WeatherMeasures are the seven hourly weather readings.
var WeatherMeasures = []string{
	"air_temperature",
	"cloud_coverage",
	"dew_temperature",
	"precip_depth_1_hr",
	"sea_level_pressure",
	"wind_direction",
	"wind_speed",
}

func weatherFields() []Field {
	fields := make([]Field, len(WeatherMeasures))
	for i, name := range WeatherMeasures {
		fields[i] = field(name, columnar.ColumnTypeFloat32)
	}
	return fields
}

var declarations = func() map[DatasetKind]*Declaration {
	weather := append([]Field{
		field("site_id", columnar.ColumnTypeInt8),
		field("timestamp", columnar.ColumnTypeTimestamp),
	}, weatherFields()...)

	inference := []Field{
		field("building_id", columnar.ColumnTypeInt32),
		field("meter", columnar.ColumnTypeInt8),
		field("site_id", columnar.ColumnTypeInt8),
		field("primary_use", columnar.ColumnTypeCategory),
		field("square_feet", columnar.ColumnTypeInt32),
	}
	inference = append(inference, weatherFields()...)
	inference = append(inference,
		field("day", columnar.ColumnTypeInt8),
		field("month", columnar.ColumnTypeInt8),
		field("week", columnar.ColumnTypeInt8),
		field("hour", columnar.ColumnTypeInt8),
		field("is_weekend", columnar.ColumnTypeInt8),
		field("meter_reading", columnar.ColumnTypeFloat32),
		field("model_version", columnar.ColumnTypeCategory),
	)

	return map[DatasetKind]*Declaration{
		KindTrain: newDeclaration(KindTrain,
			field("building_id", columnar.ColumnTypeInt32),
			field("meter", columnar.ColumnTypeInt8),
			field("timestamp", columnar.ColumnTypeTimestamp),
			field("meter_reading", columnar.ColumnTypeFloat32),
		),
		KindBuilding: newDeclaration(KindBuilding,
			field("site_id", columnar.ColumnTypeInt8),
			field("building_id", columnar.ColumnTypeInt32),
			field("primary_use", columnar.ColumnTypeCategory),
			field("square_feet", columnar.ColumnTypeInt32),
			field("year_built", columnar.ColumnTypeFloat32),
			field("floor_count", columnar.ColumnTypeFloat32),
		),
		KindWeather:   newDeclaration(KindWeather, weather...),
		KindInference: newDeclaration(KindInference, inference...),
	}
}()

// For returns the declaration of a dataset kind.
func For(kind DatasetKind) (*Declaration, error) {
	d, ok := declarations[kind]
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeConfig, "no schema declared for %s", kind)
	}
	return d, nil
}

// MustFor is For for kinds known to be valid.
func MustFor(kind DatasetKind) *Declaration {
	d, err := For(kind)
	if err != nil {
		panic(err)
	}
	return d
}

// Coerce casts every declared column present in f to its canonical type.
// Undeclared columns are left alone. The frame is returned for chaining.
func Coerce(f *columnar.Frame, kind DatasetKind) (*columnar.Frame, error) {
	d, err := For(kind)
	if err != nil {
		return nil, err
	}
	for _, fld := range d.fields {
		if !f.Has(fld.Name) {
			continue
		}
		if err := f.Cast(fld.Name, fld.Type); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, fmt.Sprintf("coerce %s.%s", kind, fld.Name))
		}
	}
	return f, nil
}

// Mismatch describes how a frame deviates from a declaration.
type Mismatch struct {
	Missing []string
	Retyped map[string]columnar.ColumnType
}

// OK reports whether nothing deviates.
func (m Mismatch) OK() bool { return len(m.Missing) == 0 && len(m.Retyped) == 0 }

// Check compares the columns of f with the declaration of kind.
func Check(f *columnar.Frame, kind DatasetKind) (Mismatch, error) {
	d, err := For(kind)
	if err != nil {
		return Mismatch{}, err
	}
	m := Mismatch{Retyped: map[string]columnar.ColumnType{}}
	for _, fld := range d.fields {
		col, ok := f.Column(fld.Name)
		if !ok {
			m.Missing = append(m.Missing, fld.Name)
			continue
		}
		if col.Type() != fld.Type {
			m.Retyped[fld.Name] = col.Type()
		}
	}
	return m, nil
}
