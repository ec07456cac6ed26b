package schema

import (
	"math"
	"strings"
	"testing"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDatasetKind(t *testing.T) {
	tests := []struct {
		in   string
		want DatasetKind
	}{
		{"train", KindTrain},
		{"Building", KindBuilding},
		{"building_metadata", KindBuilding},
		{"weather_train", KindWeather},
		{" inference ", KindInference},
	}
	for _, tt := range tests {
		got, err := ParseDatasetKind(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseDatasetKind("weather_test")
	assert.Error(t, err)

	var k DatasetKind
	require.NoError(t, k.UnmarshalText([]byte("weather")))
	assert.Equal(t, KindWeather, k)
	b, err := k.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "weather", string(b))
}

func TestDeclarations(t *testing.T) {
	train := MustFor(KindTrain)
	assert.Equal(t, []string{"building_id", "meter", "timestamp", "meter_reading"}, train.Names())

	typ, ok := train.TypeOf("meter")
	assert.True(t, ok)
	assert.Equal(t, columnar.ColumnTypeInt8, typ)

	weather := MustFor(KindWeather)
	assert.Equal(t, 9, weather.Len())
	for _, m := range WeatherMeasures {
		typ, ok := weather.TypeOf(m)
		assert.True(t, ok, m)
		assert.Equal(t, columnar.ColumnTypeFloat32, typ, m)
	}

	inf := MustFor(KindInference)
	typ, _ = inf.TypeOf("primary_use")
	assert.Equal(t, columnar.ColumnTypeCategory, typ)
	assert.Contains(t, inf.Names(), "model_version")

	fields := train.Fields()
	fields[0].Name = "mutated"
	assert.Equal(t, "building_id", train.Names()[0], "accessors return copies")

	_, err := For(KindInvalid)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestCoerce(t *testing.T) {
	f, err := columnar.NewFrameFrom(
		[]string{"building_id", "meter", "primary_use", "air_temperature", "extra"},
		[]columnar.Column{
			columnar.NewNumericColumn([]int64{10, 11}),
			columnar.NewNumericColumn([]float64{0, 1}),
			columnar.NewStringColumn([]string{"Education", "Office"}, nil),
			columnar.NewNumericColumn([]float64{22.5, math.NaN()}),
			columnar.NewNumericColumn([]int64{1, 2}),
		},
	)
	require.NoError(t, err)

	out, err := Coerce(f, KindInference)
	require.NoError(t, err)

	types := out.Types()
	assert.Equal(t, columnar.ColumnTypeInt32, types["building_id"])
	assert.Equal(t, columnar.ColumnTypeInt8, types["meter"])
	assert.Equal(t, columnar.ColumnTypeCategory, types["primary_use"])
	assert.Equal(t, columnar.ColumnTypeFloat32, types["air_temperature"])
	assert.Equal(t, columnar.ColumnTypeInt64, types["extra"], "undeclared columns are untouched")

	m, err := Check(out, KindInference)
	require.NoError(t, err)
	assert.False(t, m.OK())
	assert.Contains(t, m.Missing, "model_version")
	assert.Empty(t, m.Retyped)
}

func TestCoerceRejectsNullIntoInteger(t *testing.T) {
	f, err := columnar.NewFrameFrom(
		[]string{"building_id"},
		[]columnar.Column{columnar.NewNumericColumn([]float64{1, math.NaN()})},
	)
	require.NoError(t, err)

	_, err = Coerce(f, KindTrain)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestTables(t *testing.T) {
	weather, err := TableFor(KindWeather)
	require.NoError(t, err)
	assert.Equal(t, TableWeather, weather.Name)
	assert.Equal(t, []string{"datetime", "day", "month", "week", "hour"}, weather.ColumnNames()[9:])

	stmt := weather.CreateStatement()
	assert.True(t, strings.HasPrefix(stmt, "CREATE TABLE IF NOT EXISTS `dim_weather`"))
	assert.Contains(t, stmt, "`timestamp` DATETIME")
	assert.Contains(t, stmt, "ENGINE=ColumnStore")
	assert.Contains(t, stmt, "`ingested_at` DATETIME\n")

	logs, err := TableFor(KindInference)
	require.NoError(t, err)
	stmt = logs.CreateStatement()
	assert.Contains(t, stmt, "`id` INT AUTO_INCREMENT PRIMARY KEY")
	assert.Contains(t, stmt, "`primary_use` VARCHAR(255)")
	assert.Contains(t, stmt, "`logged_at` DATETIME DEFAULT CURRENT_TIMESTAMP")
	assert.Contains(t, stmt, "ENGINE=InnoDB")

	names := make([]string, 0)
	for _, tbl := range ProductionTables() {
		names = append(names, tbl.Name)
	}
	assert.Equal(t, []string{TableEnergy, TableBuilding, TableWeather}, names)
}

func TestSQLType(t *testing.T) {
	assert.Equal(t, "TINYINT", SQLType(columnar.ColumnTypeInt8))
	assert.Equal(t, "INT", SQLType(columnar.ColumnTypeInt32))
	assert.Equal(t, "FLOAT", SQLType(columnar.ColumnTypeFloat16))
	assert.Equal(t, "DOUBLE", SQLType(columnar.ColumnTypeFloat64))
	assert.Equal(t, "DATETIME", SQLType(columnar.ColumnTypeTimestamp))
	assert.Equal(t, "VARCHAR(255)", SQLType(columnar.ColumnTypeCategory))
}

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "air_temperature", SnakeCase(" Air Temperature "))
	assert.Equal(t, "precip_depth_1_hr", SnakeCase("precip-depth - 1  hr"))
	assert.Equal(t, "building_id", SnakeCase("building_id"))
}
