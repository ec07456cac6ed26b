package warehouse

import (
	"context"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"go.uber.org/zap"
)

// InferenceRecord is one served prediction with the features it was made
// from.
type InferenceRecord struct {
	BuildingID       int32   `json:"building_id"`
	Meter            int8    `json:"meter"`
	SiteID           int8    `json:"site_id"`
	PrimaryUse       string  `json:"primary_use"`
	SquareFeet       int32   `json:"square_feet"`
	AirTemperature   float32 `json:"air_temperature"`
	CloudCoverage    float32 `json:"cloud_coverage"`
	DewTemperature   float32 `json:"dew_temperature"`
	PrecipDepth1Hr   float32 `json:"precip_depth_1_hr"`
	SeaLevelPressure float32 `json:"sea_level_pressure"`
	WindDirection    float32 `json:"wind_direction"`
	WindSpeed        float32 `json:"wind_speed"`
	Day              int8    `json:"day"`
	Month            int8    `json:"month"`
	Week             int8    `json:"week"`
	Hour             int8    `json:"hour"`
	IsWeekend        int8    `json:"is_weekend"`
	MeterReading     float32 `json:"meter_reading"`
	ModelVersion     string  `json:"model_version"`
}

func f32(v float32) columnar.Column { return columnar.NewNumericColumn([]float32{v}) }
func i8(v int8) columnar.Column     { return columnar.NewNumericColumn([]int8{v}) }
func i32(v int32) columnar.Column   { return columnar.NewNumericColumn([]int32{v}) }

// Frame returns the record as a one-row frame typed by the inference
// declaration.
func (r InferenceRecord) Frame() (*columnar.Frame, error) {
	names := []string{
		"building_id", "meter", "site_id", "primary_use", "square_feet",
		"air_temperature", "cloud_coverage", "dew_temperature", "precip_depth_1_hr",
		"sea_level_pressure", "wind_direction", "wind_speed",
		"day", "month", "week", "hour", "is_weekend",
		"meter_reading", "model_version",
	}
	cols := []columnar.Column{
		i32(r.BuildingID), i8(r.Meter), i8(r.SiteID),
		columnar.CategoryColumnFromStrings([]string{r.PrimaryUse}, nil),
		i32(r.SquareFeet),
		f32(r.AirTemperature), f32(r.CloudCoverage), f32(r.DewTemperature), f32(r.PrecipDepth1Hr),
		f32(r.SeaLevelPressure), f32(r.WindDirection), f32(r.WindSpeed),
		i8(r.Day), i8(r.Month), i8(r.Week), i8(r.Hour), i8(r.IsWeekend),
		f32(r.MeterReading),
		columnar.CategoryColumnFromStrings([]string{r.ModelVersion}, nil),
	}
	f, err := columnar.NewFrameFrom(names, cols)
	if err != nil {
		return nil, err
	}
	return schema.Coerce(f, schema.KindInference)
}

// InferenceLogger appends records to inference_logs.
type InferenceLogger struct {
	client *Client
	table  schema.Table
}

// NewInferenceLogger creates a logger on c.
func NewInferenceLogger(c *Client) *InferenceLogger {
	t, _ := schema.TableFor(schema.KindInference)
	return &InferenceLogger{client: c, table: t}
}

// Table returns the table records are written to.
func (l *InferenceLogger) Table() schema.Table { return l.table }

// LogInference writes one record.
func (l *InferenceLogger) LogInference(ctx context.Context, rec InferenceRecord) error {
	f, err := rec.Frame()
	if err != nil {
		return err
	}
	cols, err := InsertColumns(l.table, f)
	if err != nil {
		return err
	}
	start := time.Now()
	if err := l.client.insertFrame(ctx, l.table.Name, cols, f, 1); err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "log inference")
	}
	l.client.logger.Debug("inference logged",
		zap.String("model_version", rec.ModelVersion),
		zap.Duration("duration", time.Since(start)))
	return nil
}
