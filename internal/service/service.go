// Package service implements the inference path: a request is turned into
// a one-row frame, engineered and aligned with the fitted preprocessing
// artifact, scored by the model version the cache resolves, and logged to
// the warehouse on a best-effort basis.
package service

import (
	"context"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/features"
	"github.com/ajitpratap0/gridcast/pkg/logger"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"github.com/ajitpratap0/gridcast/pkg/modelcache"
	"github.com/ajitpratap0/gridcast/pkg/observability"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"github.com/ajitpratap0/gridcast/pkg/warehouse"
	"go.uber.org/zap"
)

// PredictionRequest carries the raw feature values of one prediction.
type PredictionRequest struct {
	BuildingID       int32
	Meter            int8
	SiteID           int8
	PrimaryUse       string
	SquareFeet       int32
	AirTemperature   float32
	CloudCoverage    float32
	DewTemperature   float32
	PrecipDepth1Hr   float32
	SeaLevelPressure float32
	WindDirection    float32
	WindSpeed        float32
	Day              int8
	Month            int8
	Week             int8
	Hour             int8
	IsWeekend        int8
	// ModelVersion defaults to the configured default version
	ModelVersion string
	// Timestamp, when set, overrides IsWeekend
	Timestamp *time.Time
}

// PredictionResult is a served prediction.
type PredictionResult struct {
	MeterReading float64
	ModelVersion string
}

// InferenceSink persists served predictions.
type InferenceSink interface {
	LogInference(ctx context.Context, rec warehouse.InferenceRecord) error
}

// Deps are the collaborators of a Service.
type Deps struct {
	Serving config.ServingConfig
	// ArtifactPath is read when Artifact is nil
	ArtifactPath string
	Artifact     *features.Artifact
	ModelName    string
	// Remote may be nil when no registry is configured
	Remote modelcache.RemoteSource
	// Sink may be nil to disable inference logging
	Sink   InferenceSink
	Logger *zap.Logger
}

// Service serves predictions. Safe for concurrent use.
type Service struct {
	cfg      config.ServingConfig
	engineer *features.Engineer
	aligner  *features.Aligner
	cache    *modelcache.Cache
	sink     InferenceSink
	tracer   *observability.ComponentTracer
	logger   *zap.Logger
}

// New loads the alignment artifact, builds the model cache, attaches the
// sink and, when configured, warms the default model version. A missing
// artifact is fatal; a failed warm-up is only logged.
func New(ctx context.Context, deps Deps) (*Service, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	log = log.With(zap.String("component", "inference_service"))

	art := deps.Artifact
	if art == nil {
		var err error
		if art, err = features.LoadArtifact(deps.ArtifactPath); err != nil {
			return nil, errors.Wrap(err, errors.TypeOf(err), "load preprocessing artifact").
				WithDetail("path", deps.ArtifactPath)
		}
	}
	if !art.Fitted() {
		return nil, errors.New(errors.ErrorTypePrecondition, "preprocessing artifact is not fitted")
	}

	cfg := deps.Serving
	if cfg.DefaultVersion == "" {
		cfg.DefaultVersion = "latest"
	}
	s := &Service{
		cfg:      cfg,
		engineer: features.NewEngineer(log),
		aligner:  features.NewAlignerFromArtifact(log, art),
		cache: modelcache.New(modelcache.Options{
			ModelName:     deps.ModelName,
			Remote:        deps.Remote,
			Local:         modelcache.NewLocalSource(cfg.LocalModelDir, cfg.ModelFile, cfg.DefaultModelPath()),
			RemoteTimeout: cfg.RemoteTimeout,
			Logger:        log,
		}),
		sink:   deps.Sink,
		tracer: observability.NewComponentTracer("inference"),
		logger: log,
	}

	log.Info("inference service initialized",
		zap.Int("features", len(art.FeatureColumns)),
		zap.String("default_version", cfg.DefaultVersion),
		zap.Bool("inference_logging", s.sink != nil))

	if cfg.WarmDefault {
		if _, err := s.cache.Resolve(ctx, cfg.DefaultVersion); err != nil {
			log.Warn("default model warm-up failed", zap.String("version", cfg.DefaultVersion), zap.Error(err))
		}
	}
	return s, nil
}

// DefaultVersion is the version used when a request names none.
func (s *Service) DefaultVersion() string { return s.cfg.DefaultVersion }

// Cache exposes the model version cache.
func (s *Service) Cache() *modelcache.Cache { return s.cache }

// Predict scores one request.
func (s *Service) Predict(ctx context.Context, req PredictionRequest) (*PredictionResult, error) {
	start := time.Now()
	version := req.ModelVersion
	if version == "" {
		version = s.cfg.DefaultVersion
	}
	ctx = logger.WithModelVersion(ctx, version)
	ctx, span := s.tracer.StartSpan(ctx, "predict")
	defer span.End()
	span.SetAttribute("model_version", version)
	span.SetAttribute("building_id", int(req.BuildingID))

	result, err := s.predict(ctx, req, version)
	metrics.PredictionLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.PredictionsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		logger.FromContext(ctx, s.logger).Error("prediction failed", zap.Error(err))
		return nil, err
	}
	metrics.PredictionsTotal.WithLabelValues("success").Inc()

	if s.sink != nil {
		s.logInference(ctx, req, result)
	}
	return result, nil
}

func (s *Service) predict(ctx context.Context, req PredictionRequest, version string) (*PredictionResult, error) {
	f, err := requestFrame(req)
	if err != nil {
		return nil, err
	}
	if f, err = s.engineer.Engineer(f); err != nil {
		return nil, err
	}
	aligned, err := s.aligner.Transform(f)
	if err != nil {
		return nil, err
	}
	row, err := features.DesignMatrix(aligned, s.aligner.Artifact().FeatureColumns)
	if err != nil {
		return nil, err
	}

	entry, err := s.cache.Resolve(ctx, version)
	if err != nil {
		return nil, err
	}
	raw, err := entry.Predictor.Predict(row)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "model prediction failed").WithDetail("model_version", version)
	}
	return &PredictionResult{MeterReading: features.InverseTarget(raw), ModelVersion: version}, nil
}

func (s *Service) logInference(ctx context.Context, req PredictionRequest, res *PredictionResult) {
	timeout := s.cfg.LogTimeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := s.sink.LogInference(lctx, record(req, res)); err != nil {
		metrics.InferenceLogFailures.Inc()
		logger.FromContext(ctx, s.logger).Warn("failed to log inference", zap.Error(err))
	}
}

func record(req PredictionRequest, res *PredictionResult) warehouse.InferenceRecord {
	return warehouse.InferenceRecord{
		BuildingID:       req.BuildingID,
		Meter:            req.Meter,
		SiteID:           req.SiteID,
		PrimaryUse:       req.PrimaryUse,
		SquareFeet:       req.SquareFeet,
		AirTemperature:   req.AirTemperature,
		CloudCoverage:    req.CloudCoverage,
		DewTemperature:   req.DewTemperature,
		PrecipDepth1Hr:   req.PrecipDepth1Hr,
		SeaLevelPressure: req.SeaLevelPressure,
		WindDirection:    req.WindDirection,
		WindSpeed:        req.WindSpeed,
		Day:              req.Day,
		Month:            req.Month,
		Week:             req.Week,
		Hour:             req.Hour,
		IsWeekend:        req.IsWeekend,
		MeterReading:     float32(res.MeterReading),
		ModelVersion:     res.ModelVersion,
	}
}

// requestFrame builds the one-row frame typed by the inference declaration.
func requestFrame(req PredictionRequest) (*columnar.Frame, error) {
	names := []string{
		"building_id", "meter", "site_id", "primary_use", "square_feet",
		"air_temperature", "cloud_coverage", "dew_temperature", "precip_depth_1_hr",
		"sea_level_pressure", "wind_direction", "wind_speed",
		"day", "month", "week", "hour", "is_weekend",
	}
	cols := []columnar.Column{
		i32(req.BuildingID), i8(req.Meter), i8(req.SiteID),
		columnar.CategoryColumnFromStrings([]string{req.PrimaryUse}, nil),
		i32(req.SquareFeet),
		f32(req.AirTemperature), f32(req.CloudCoverage), f32(req.DewTemperature), f32(req.PrecipDepth1Hr),
		f32(req.SeaLevelPressure), f32(req.WindDirection), f32(req.WindSpeed),
		i8(req.Day), i8(req.Month), i8(req.Week), i8(req.Hour), i8(req.IsWeekend),
	}
	if req.Timestamp != nil {
		names = append(names, features.TimestampColumn)
		cols = append(cols, columnar.TimestampColumnFromTimes([]time.Time{req.Timestamp.UTC()}))
	}
	f, err := columnar.NewFrameFrom(names, cols)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeValidation, "build request frame")
	}
	return schema.Coerce(f, schema.KindInference)
}

func f32(v float32) columnar.Column { return columnar.NewNumericColumn([]float32{v}) }
func i8(v int8) columnar.Column     { return columnar.NewNumericColumn([]int8{v}) }
func i32(v int32) columnar.Column   { return columnar.NewNumericColumn([]int32{v}) }
