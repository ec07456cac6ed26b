// Package config defines the single PipelineConfig structure shared by every
// gridcast stage and the inference server.
//
// The configuration is organized into sections:
//   - DB: warehouse connection
//   - Ingestion: raw CSV sources and target tables
//   - Preprocessing: feature artifact, reference sample and matrix store
//   - Training: booster parameters and model output
//   - MLflow / Artifacts: remote model registry and S3 artifact store
//   - Serving: HTTP listener and model cache behavior
//   - Monitoring: drift report inputs
//   - Logging / Tracing: ambient observability
//
// Example usage:
//
//	cfg := config.Defaults()
//	if err := config.Load("configs/pipeline_config.yaml", cfg); err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/logger"
)

// PipelineConfig is the root of the YAML document.
type PipelineConfig struct {
	DB            DBConfig            `yaml:"db" json:"db"`
	Ingestion     IngestionConfig     `yaml:"ingestion" json:"ingestion"`
	Preprocessing PreprocessingConfig `yaml:"preprocessing" json:"preprocessing"`
	Training      TrainingConfig      `yaml:"training" json:"training"`
	MLflow        MLflowConfig        `yaml:"mlflow" json:"mlflow"`
	Artifacts     ArtifactsConfig     `yaml:"artifacts" json:"artifacts"`
	Serving       ServingConfig       `yaml:"serving" json:"serving"`
	Monitoring    MonitoringConfig    `yaml:"monitoring" json:"monitoring"`
	Logging       logger.Config       `yaml:"logging" json:"logging"`
	Tracing       TracingConfig       `yaml:"tracing" json:"tracing"`
}

// DBConfig describes the MariaDB ColumnStore warehouse.
type DBConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	User     string `yaml:"user" json:"user"`
	Password string `yaml:"password" json:"-"`
	Database string `yaml:"database" json:"database"`
	// Engine is the storage engine used for created tables
	Engine          string        `yaml:"engine" json:"engine"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	// InsertBatchRows bounds the rows carried by a single INSERT statement
	InsertBatchRows int `yaml:"insert_batch_rows" json:"insert_batch_rows"`
}

// SourceFile is one raw CSV source and the table it lands in.
type SourceFile struct {
	Name  string `yaml:"name" json:"name"`
	Path  string `yaml:"path" json:"path"`
	Table string `yaml:"table" json:"table"`
}

// IngestionConfig lists the raw sources.
type IngestionConfig struct {
	Files     []SourceFile `yaml:"files" json:"files"`
	BatchSize int          `yaml:"batch_size" json:"batch_size"`
	Workers   int          `yaml:"workers" json:"workers"`
}

// PreprocessingConfig controls feature preparation outputs.
type PreprocessingConfig struct {
	ArtifactPath      string `yaml:"artifact_path" json:"artifact_path"`
	MatrixStorePath   string `yaml:"matrix_store_path" json:"matrix_store_path"`
	// MatrixCodec is "parquet" or a compression algorithm for native blobs
	MatrixCodec       string `yaml:"matrix_codec" json:"matrix_codec"`
	UseFloat16        bool   `yaml:"use_float16" json:"use_float16"`
	JoinChunks        int    `yaml:"join_chunks" json:"join_chunks"`
	ReferenceSampleN  int    `yaml:"reference_sample_rows" json:"reference_sample_rows"`
	ReferenceDataPath string `yaml:"reference_data_path" json:"reference_data_path"`
}

// TrainingConfig holds the booster parameters.
type TrainingConfig struct {
	UseSample           bool    `yaml:"use_sample" json:"use_sample"`
	SampleSize          int     `yaml:"sample_size" json:"sample_size"`
	TestSize            float64 `yaml:"test_size" json:"test_size"`
	Seed                int64   `yaml:"seed" json:"seed"`
	NumRounds           int     `yaml:"num_boost_round" json:"num_boost_round"`
	EarlyStoppingRounds int     `yaml:"early_stopping_rounds" json:"early_stopping_rounds"`
	LearningRate        float64 `yaml:"learning_rate" json:"learning_rate"`
	MaxDepth            int     `yaml:"max_depth" json:"max_depth"`
	MinSamplesLeaf      int     `yaml:"min_samples_leaf" json:"min_samples_leaf"`
	Lambda              float64 `yaml:"lambda_l2" json:"lambda_l2"`
	MaxBins             int     `yaml:"max_bins" json:"max_bins"`
	ModelSavePath       string  `yaml:"model_save_path" json:"model_save_path"`
}

// MLflowConfig points at the tracking server and registry.
type MLflowConfig struct {
	TrackingURI    string        `yaml:"tracking_uri" json:"tracking_uri"`
	ExperimentName string        `yaml:"experiment_name" json:"experiment_name"`
	ModelName      string        `yaml:"model_name" json:"model_name"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout"`
	Enabled        bool          `yaml:"enabled" json:"enabled"`
}

// ArtifactsConfig describes the optional S3 artifact store.
type ArtifactsConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Bucket   string `yaml:"bucket" json:"bucket"`
	Prefix   string `yaml:"prefix" json:"prefix"`
	Region   string `yaml:"region" json:"region"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
}

// ServingConfig controls the inference server.
type ServingConfig struct {
	Addr            string        `yaml:"addr" json:"addr"`
	DefaultVersion  string        `yaml:"default_version" json:"default_version"`
	LocalModelDir   string        `yaml:"local_model_dir" json:"local_model_dir"`
	ModelFile       string        `yaml:"model_file" json:"model_file"`
	RemoteTimeout   time.Duration `yaml:"remote_timeout" json:"remote_timeout"`
	WarmDefault     bool          `yaml:"warm_default" json:"warm_default"`
	LogInferences   bool          `yaml:"log_inferences" json:"log_inferences"`
	LogTimeout      time.Duration `yaml:"log_timeout" json:"log_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" json:"shutdown_timeout"`
	ReadTimeout     time.Duration `yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout" json:"write_timeout"`
}

// MonitoringConfig controls the drift report.
type MonitoringConfig struct {
	ReferenceDataPath string  `yaml:"reference_data_path" json:"reference_data_path"`
	ReportPath        string  `yaml:"report_path" json:"report_path"`
	WindowRows        int     `yaml:"window_rows" json:"window_rows"`
	DriftThreshold    float64 `yaml:"drift_threshold" json:"drift_threshold"`
	Bins              int     `yaml:"bins" json:"bins"`
}

// TracingConfig toggles the stdout span exporter.
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled" json:"enabled"`
	ServiceName string  `yaml:"service_name" json:"service_name"`
	Environment string  `yaml:"environment" json:"environment"`
	SampleRate  float64 `yaml:"sample_rate" json:"sample_rate"`
}

// Defaults returns a PipelineConfig with working values for a local setup.
// Loading a YAML file on top of it overrides only the keys present.
func Defaults() *PipelineConfig {
	return &PipelineConfig{
		DB: DBConfig{
			Host:            "localhost",
			Port:            3306,
			User:            "root",
			Database:        "ashrae",
			Engine:          "Columnstore",
			MaxOpenConns:    8,
			ConnMaxLifetime: 5 * time.Minute,
			InsertBatchRows: 5000,
		},
		Ingestion: IngestionConfig{
			BatchSize: 200000,
			Workers:   3,
		},
		Preprocessing: PreprocessingConfig{
			ArtifactPath:      "saved_models/preprocessor.json.zst",
			MatrixStorePath:   "data/matrix_store",
			MatrixCodec:       "lz4",
			JoinChunks:        500,
			ReferenceSampleN:  50000,
			ReferenceDataPath: "data/reference/reference_data.parquet",
		},
		Training: TrainingConfig{
			SampleSize:          100000,
			TestSize:            0.2,
			Seed:                42,
			NumRounds:           1000,
			EarlyStoppingRounds: 50,
			LearningRate:        0.3,
			MaxDepth:            8,
			MinSamplesLeaf:      20,
			Lambda:              1.0,
			MaxBins:             255,
			ModelSavePath:       "saved_models/model.json",
		},
		MLflow: MLflowConfig{
			TrackingURI:    "http://localhost:5000",
			ExperimentName: "ashrae_energy_prediction",
			ModelName:      "energy_predictor",
			Timeout:        10 * time.Second,
		},
		Serving: ServingConfig{
			Addr:            ":8000",
			DefaultVersion:  "latest",
			LocalModelDir:   "saved_models",
			ModelFile:       "model.json",
			RemoteTimeout:   2 * time.Second,
			LogInferences:   true,
			LogTimeout:      time.Second,
			ShutdownTimeout: 10 * time.Second,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
		},
		Monitoring: MonitoringConfig{
			ReferenceDataPath: "data/reference/reference_data.parquet",
			ReportPath:        "latest_monitoring_report.html",
			WindowRows:        5000,
			DriftThreshold:    0.2,
			Bins:              10,
		},
		Logging: logger.Config{
			Level:    "info",
			Encoding: "json",
		},
		Tracing: TracingConfig{
			ServiceName: "gridcast",
			Environment: "development",
			SampleRate:  1.0,
		},
	}
}

// Validate checks required fields and value ranges. It is called by every
// CLI command after loading.
func (c *PipelineConfig) Validate() error {
	if c.DB.Host == "" {
		return fmt.Errorf("db.host is required")
	}
	if c.DB.Port <= 0 {
		return fmt.Errorf("db.port must be positive")
	}
	if c.DB.Database == "" {
		return fmt.Errorf("db.database is required")
	}
	if c.Ingestion.BatchSize <= 0 {
		return fmt.Errorf("ingestion.batch_size must be positive")
	}
	for i, f := range c.Ingestion.Files {
		if f.Name == "" || f.Path == "" || f.Table == "" {
			return fmt.Errorf("ingestion.files[%d] needs name, path and table", i)
		}
	}
	if c.Preprocessing.ArtifactPath == "" {
		return fmt.Errorf("preprocessing.artifact_path is required")
	}
	if c.Training.TestSize <= 0 || c.Training.TestSize >= 1 {
		return fmt.Errorf("training.test_size must be in (0, 1)")
	}
	if c.Training.NumRounds <= 0 {
		return fmt.Errorf("training.num_boost_round must be positive")
	}
	if c.Training.LearningRate <= 0 {
		return fmt.Errorf("training.learning_rate must be positive")
	}
	if c.Training.MaxBins < 2 || c.Training.MaxBins > 255 {
		return fmt.Errorf("training.max_bins must be in [2, 255]")
	}
	if c.MLflow.Enabled && c.MLflow.ModelName == "" {
		return fmt.Errorf("mlflow.model_name is required when mlflow is enabled")
	}
	if c.Artifacts.Enabled && c.Artifacts.Bucket == "" {
		return fmt.Errorf("artifacts.bucket is required when artifacts are enabled")
	}
	if c.Serving.RemoteTimeout <= 0 {
		return fmt.Errorf("serving.remote_timeout must be positive")
	}
	if c.Monitoring.WindowRows <= 0 {
		return fmt.Errorf("monitoring.window_rows must be positive")
	}
	return nil
}

// DSN returns the go-sql-driver/mysql data source name.
func (d DBConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=false",
		d.User, d.Password, d.Host, d.Port, d.Database)
}

// DefaultModelPath is the local model file used when no versioned copy exists.
func (s ServingConfig) DefaultModelPath() string {
	return filepath.Join(s.LocalModelDir, s.ModelFile)
}
