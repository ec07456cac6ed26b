// Package monitoring compares recent inference traffic with the reference
// sample written at preprocessing time and renders a drift report.
package monitoring

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/formats/parquet"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"go.uber.org/zap"
)

// TargetColumn is compared as target drift.
const TargetColumn = "meter_reading"

var (
	// NumericFeatures are binned on reference quantiles.
	NumericFeatures = []string{
		"air_temperature", "cloud_coverage", "dew_temperature",
		"precip_depth_1_hr", "sea_level_pressure", "wind_direction",
		"wind_speed", "square_feet",
	}
	// CategoricalFeatures are compared by category share.
	CategoricalFeatures = []string{
		"primary_use", "is_weekend", "meter", "site_id", "week", "month", "day",
	}
	// ignoredColumns never take part in the comparison.
	ignoredColumns = []string{"id", "logged_at", "timestamp", "datetime", "ingested_at"}
)

// CurrentSource returns the most recent n inference records.
type CurrentSource interface {
	ReadLatestInferences(ctx context.Context, n int) (*columnar.Frame, error)
}

// FeatureDrift is the comparison of one column.
type FeatureDrift struct {
	Feature    string
	Kind       string
	PSI        float64
	Drifted    bool
	RefMissing float64
	CurMissing float64
	RefMean    float64
	CurMean    float64
	Compared   bool
}

// Report is the outcome of one monitoring run.
type Report struct {
	GeneratedAt   time.Time
	ReferenceRows int
	CurrentRows   int
	Threshold     float64
	Features      []FeatureDrift
	Target        *FeatureDrift
	DriftedCount  int
	DriftShare    float64
	DatasetDrift  bool
}

// Monitor builds drift reports.
type Monitor struct {
	cfg     config.MonitoringConfig
	current CurrentSource
	logger  *zap.Logger
}

// NewMonitor creates a monitor reading recent traffic from current.
func NewMonitor(cfg config.MonitoringConfig, current CurrentSource, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Bins < 2 {
		cfg.Bins = 10
	}
	if cfg.WindowRows <= 0 {
		cfg.WindowRows = 5000
	}
	if cfg.DriftThreshold <= 0 {
		cfg.DriftThreshold = 0.2
	}
	return &Monitor{cfg: cfg, current: current, logger: logger.With(zap.String("component", "monitor"))}
}

// LoadReference reads the reference sample.
func (m *Monitor) LoadReference(ctx context.Context) (*columnar.Frame, error) {
	path := m.cfg.ReferenceDataPath
	if path == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "monitoring.reference_data_path is not set")
	}
	if _, err := os.Stat(path); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "reference data not found").WithDetail("path", path)
	}
	f, err := parquet.ReadFile(ctx, path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "read reference data").WithDetail("path", path)
	}
	return f, nil
}

// Analyze compares the reference sample with the latest inference window.
// A nil report with a nil error means no traffic has been logged yet.
func (m *Monitor) Analyze(ctx context.Context) (*Report, error) {
	ref, err := m.LoadReference(ctx)
	if err != nil {
		return nil, err
	}
	if m.current == nil {
		return nil, errors.New(errors.ErrorTypeUnavailable, "no inference log source configured")
	}
	cur, err := m.current.ReadLatestInferences(ctx, m.cfg.WindowRows)
	if err != nil {
		return nil, err
	}
	if cur.Len() == 0 {
		return nil, nil
	}
	return Compare(ref.Drop(ignoredColumns...), cur.Drop(ignoredColumns...), m.cfg.Bins, m.cfg.DriftThreshold), nil
}

// Compare computes per-feature and target drift between two frames.
func Compare(ref, cur *columnar.Frame, bins int, threshold float64) *Report {
	r := &Report{
		GeneratedAt:   time.Now().UTC(),
		ReferenceRows: ref.Len(),
		CurrentRows:   cur.Len(),
		Threshold:     threshold,
	}
	compared := 0
	for _, name := range NumericFeatures {
		if d, ok := compareColumn(ref, cur, name, "numerical", bins, threshold); ok {
			r.Features = append(r.Features, d)
		}
	}
	for _, name := range CategoricalFeatures {
		if d, ok := compareColumn(ref, cur, name, "categorical", bins, threshold); ok {
			r.Features = append(r.Features, d)
		}
	}
	for _, d := range r.Features {
		if !d.Compared {
			continue
		}
		compared++
		if d.Drifted {
			r.DriftedCount++
		}
		metrics.DriftScore.WithLabelValues(d.Feature).Set(d.PSI)
	}
	if compared > 0 {
		r.DriftShare = float64(r.DriftedCount) / float64(compared)
	}
	r.DatasetDrift = r.DriftShare >= 0.5

	if d, ok := compareColumn(ref, cur, TargetColumn, "numerical", bins, threshold); ok {
		r.Target = &d
		if d.Compared {
			metrics.DriftScore.WithLabelValues(TargetColumn).Set(d.PSI)
		}
	}
	sort.SliceStable(r.Features, func(i, j int) bool { return r.Features[i].PSI > r.Features[j].PSI })
	return r
}

func compareColumn(ref, cur *columnar.Frame, name, kind string, bins int, threshold float64) (FeatureDrift, bool) {
	rc, ok1 := ref.Column(name)
	cc, ok2 := cur.Column(name)
	if !ok1 || !ok2 {
		return FeatureDrift{}, false
	}
	d := FeatureDrift{
		Feature:    name,
		Kind:       kind,
		RefMissing: missingShare(rc),
		CurMissing: missingShare(cc),
		RefMean:    mean(rc),
		CurMean:    mean(cc),
	}
	if kind == "categorical" {
		d.PSI, d.Compared = CategoricalPSI(rc, cc)
	} else {
		d.PSI, d.Compared = NumericPSI(rc, cc, bins)
	}
	d.Drifted = d.Compared && d.PSI >= threshold
	return d, true
}

func missingShare(col columnar.Column) float64 {
	if col.Len() == 0 {
		return 0
	}
	n := 0
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			n++
		}
	}
	return float64(n) / float64(col.Len())
}

func mean(col columnar.Column) float64 {
	if !col.Type().IsNumeric() {
		return math.NaN()
	}
	v := finite(col)
	if len(v) == 0 {
		return math.NaN()
	}
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// Generate analyzes, renders and saves the report. It always returns a page:
// a "No data collected yet." page when no traffic is logged and an error page
// when the analysis fails.
func (m *Monitor) Generate(ctx context.Context) []byte {
	_, page, _ := m.Run(ctx)
	return page
}

// Run is Generate for callers that need the outcome: the report is nil when
// no traffic is logged, and the error is set whenever the page is an error
// page.
func (m *Monitor) Run(ctx context.Context) (*Report, []byte, error) {
	m.logger.Info("generating monitoring report")
	report, err := m.Analyze(ctx)
	if err != nil {
		m.logger.Error("failed to generate monitoring report", zap.Error(err))
		return nil, renderError(err), err
	}
	if report == nil {
		return nil, renderNoData(), nil
	}

	page, err := renderReport(report)
	if err != nil {
		m.logger.Error("failed to render monitoring report", zap.Error(err))
		return report, renderError(err), err
	}
	if m.cfg.ReportPath != "" {
		if err := writeFile(m.cfg.ReportPath, page); err != nil {
			m.logger.Warn("failed to save monitoring report", zap.String("path", m.cfg.ReportPath), zap.Error(err))
		}
	}
	m.logger.Info("monitoring report generated",
		zap.Int("reference_rows", report.ReferenceRows),
		zap.Int("current_rows", report.CurrentRows),
		zap.Int("drifted", report.DriftedCount),
		zap.Bool("dataset_drift", report.DatasetDrift))
	return report, page, nil
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644) //nolint:gosec // report is served publicly
}
