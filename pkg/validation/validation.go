// Package validation checks the warehouse tables before preprocessing with
// small expectation suites, one per dataset.
package validation

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"go.uber.org/zap"
)

// Expectation is one rule about a column. Check returns how many non-null
// values break it; NotNull counts nulls instead.
type Expectation interface {
	Column() string
	Type() string
	Check(col columnar.Column) (unexpected int)
}

// NotNull expects no null values.
type NotNull struct{ Col string }

func (e NotNull) Column() string { return e.Col }
func (e NotNull) Type() string   { return "expect_column_values_to_not_be_null" }

func (e NotNull) Check(col columnar.Column) int {
	n := 0
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			n++
		}
	}
	return n
}

// Between expects values within [Min, Max]. An infinite bound is open.
type Between struct {
	Col      string
	Min, Max float64
}

// AtLeast builds a Between with no upper bound.
func AtLeast(col string, min float64) Between {
	return Between{Col: col, Min: min, Max: math.Inf(1)}
}

func (e Between) Column() string { return e.Col }
func (e Between) Type() string   { return "expect_column_values_to_be_between" }

func (e Between) Check(col columnar.Column) int {
	n := 0
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		v := col.Float64(i)
		if math.IsNaN(v) || v < e.Min || v > e.Max {
			n++
		}
	}
	return n
}

// InSet expects every value to be one of Values.
type InSet struct {
	Col    string
	Values []string
}

func (e InSet) Column() string { return e.Col }
func (e InSet) Type() string   { return "expect_column_values_to_be_in_set" }

func (e InSet) Check(col columnar.Column) int {
	allowed := make(map[string]struct{}, len(e.Values))
	for _, v := range e.Values {
		allowed[v] = struct{}{}
	}
	n := 0
	for i := 0; i < col.Len(); i++ {
		v, ok := col.Text(i)
		if !ok {
			continue
		}
		if _, ok := allowed[v]; !ok {
			n++
		}
	}
	return n
}

// Suite is a named list of expectations.
type Suite struct {
	Name         string
	Expectations []Expectation
}

// Result is the outcome of one expectation.
type Result struct {
	Column          string `json:"column"`
	Expectation     string `json:"expectation"`
	Success         bool   `json:"success"`
	UnexpectedCount int    `json:"unexpected_count"`
	ElementCount    int    `json:"element_count"`
	MissingColumn   bool   `json:"missing_column,omitempty"`
}

// Report summarizes a suite run.
type Report struct {
	Suite          string    `json:"suite"`
	Success        bool      `json:"success"`
	SuccessPercent float64   `json:"success_percent"`
	Evaluated      int       `json:"evaluated_expectations"`
	Successful     int       `json:"successful_expectations"`
	Failed         int       `json:"unsuccessful_expectations"`
	Results        []Result  `json:"results"`
	ExecutedAt     time.Time `json:"executed_at"`
}

// Validate runs every expectation against f. A missing column fails its
// expectation with every row unexpected.
func (s Suite) Validate(f *columnar.Frame) Report {
	r := Report{Suite: s.Name, ExecutedAt: time.Now().UTC()}
	for _, e := range s.Expectations {
		res := Result{Column: e.Column(), Expectation: e.Type(), ElementCount: f.Len()}
		if col, ok := f.Column(e.Column()); ok {
			res.UnexpectedCount = e.Check(col)
		} else {
			res.MissingColumn = true
			res.UnexpectedCount = f.Len()
		}
		res.Success = res.UnexpectedCount == 0 && !res.MissingColumn
		if res.Success {
			r.Successful++
		} else {
			r.Failed++
		}
		r.Results = append(r.Results, res)
	}
	r.Evaluated = len(r.Results)
	r.Success = r.Failed == 0
	r.SuccessPercent = 100
	if r.Evaluated > 0 {
		r.SuccessPercent = 100 * float64(r.Successful) / float64(r.Evaluated)
	}
	return r
}

// PrimaryUses is the closed set of building uses in the source data.
var PrimaryUses = []string{
	"Education", "Office", "Entertainment/public assembly", "Public services",
	"Lodging/residential", "Other", "Healthcare", "Parking", "Warehouse/storage",
	"Manufacturing/industrial", "Retail", "Services", "Technology/science",
	"Food sales and service", "Utility", "Religious worship",
}

// EnergySuite validates fact_energy_usage.
func EnergySuite() Suite {
	return Suite{Name: "energy_suite", Expectations: []Expectation{
		NotNull{"building_id"},
		NotNull{"meter"},
		NotNull{"timestamp"},
		AtLeast("meter_reading", 0),
	}}
}

// BuildingSuite validates dim_building.
func BuildingSuite() Suite {
	return Suite{Name: "building_suite", Expectations: []Expectation{
		NotNull{"building_id"},
		NotNull{"site_id"},
		NotNull{"square_feet"},
		InSet{Col: "primary_use", Values: PrimaryUses},
	}}
}

// WeatherSuite validates dim_weather.
func WeatherSuite() Suite {
	return Suite{Name: "weather_suite", Expectations: []Expectation{
		NotNull{"site_id"},
		NotNull{"timestamp"},
		NotNull{"air_temperature"},
		Between{Col: "air_temperature", Min: -60, Max: 60},
	}}
}

// Validator runs the ingestion suites and logs their reports.
type Validator struct {
	logger *zap.Logger
}

// NewValidator creates a validator.
func NewValidator(logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{logger: logger.With(zap.String("component", "validator"))}
}

// ValidateIngested checks the three warehouse tables. It returns every
// report and a validation error naming the failed suites, if any.
func (v *Validator) ValidateIngested(energy, building, weather *columnar.Frame) ([]Report, error) {
	v.logger.Info("starting data validation")
	reports := []Report{
		EnergySuite().Validate(energy),
		BuildingSuite().Validate(building),
		WeatherSuite().Validate(weather),
	}

	var failed []string
	for _, r := range reports {
		v.log(r)
		if !r.Success {
			failed = append(failed, r.Suite)
		}
	}
	if len(failed) > 0 {
		return reports, errors.Newf(errors.ErrorTypeValidation, "data validation failed: %s", strings.Join(failed, ", ")).
			WithDetail("suites", failed)
	}
	return reports, nil
}

func (v *Validator) log(r Report) {
	status := "PASSED"
	if !r.Success {
		status = "FAILED"
	}
	v.logger.Info("validation report",
		zap.String("suite", r.Suite),
		zap.String("status", status),
		zap.String("success_rate", fmt.Sprintf("%.2f%%", r.SuccessPercent)),
		zap.Int("evaluated", r.Evaluated),
		zap.Int("passed", r.Successful),
		zap.Int("failed", r.Failed))
	for _, res := range r.Results {
		fields := []zap.Field{
			zap.String("suite", r.Suite),
			zap.String("column", res.Column),
			zap.String("expectation", res.Expectation),
			zap.Bool("success", res.Success),
		}
		if !res.Success {
			fields = append(fields,
				zap.Int("unexpected", res.UnexpectedCount),
				zap.Int("total", res.ElementCount),
				zap.Bool("missing_column", res.MissingColumn))
			v.logger.Warn("expectation failed", fields...)
			continue
		}
		v.logger.Debug("expectation passed", fields...)
	}
}
