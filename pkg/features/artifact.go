package features

import (
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/compression"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/goccy/go-json"
)

// Scaler holds the fitted standardization of one numeric column.
type Scaler struct {
	Mean float64 `json:"mean"`
	Std  float64 `json:"std"`
}

// Artifact is the fitted state of an Aligner. It is produced once per
// training run and must not be modified after Fit returns.
type Artifact struct {
	TargetColumn         string                         `json:"target_column"`
	CategoricalColumns   []string                       `json:"categorical_columns"`
	CategoryMaps         map[string]map[string]int16    `json:"category_maps"`
	NumericScaledColumns []string                       `json:"numeric_scaled_columns"`
	ScalerMap            map[string]Scaler              `json:"scaler_map"`
	FeatureColumns       []string                       `json:"feature_columns_"`
	FeatureTypes         map[string]columnar.ColumnType `json:"feature_types"`
	FittedAt             time.Time                      `json:"fitted_at"`
}

// Fitted reports whether the feature column order has been frozen.
func (a *Artifact) Fitted() bool {
	return a != nil && a.FeatureColumns != nil
}

// MarshalArtifact encodes a as zstd compressed JSON.
func MarshalArtifact(a *Artifact) ([]byte, error) {
	if !a.Fitted() {
		return nil, errors.New(errors.ErrorTypePrecondition, "artifact is not fitted")
	}
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode artifact")
	}
	return compression.Seal(compression.Zstd, compression.Default, raw)
}

// UnmarshalArtifact decodes a blob written by MarshalArtifact.
func UnmarshalArtifact(blob []byte) (*Artifact, error) {
	raw, err := compression.Open(blob)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decompress artifact")
	}
	var a Artifact
	if err := json.Unmarshal(raw, &a); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decode artifact")
	}
	if !a.Fitted() {
		return nil, errors.New(errors.ErrorTypePrecondition, "artifact has no feature columns")
	}
	return &a, nil
}

// SaveArtifact writes a to path atomically.
func SaveArtifact(path string, a *Artifact) error {
	blob, err := MarshalArtifact(a)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "create artifact directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o644); err != nil { //nolint:gosec // artifact is not secret
		return errors.Wrap(err, errors.ErrorTypeFile, "write artifact")
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "replace artifact")
	}
	return nil
}

// LoadArtifact reads an artifact written by SaveArtifact. A missing file is
// a precondition error: nothing can be served before training ran.
func LoadArtifact(path string) (*Artifact, error) {
	blob, err := os.ReadFile(path) //nolint:gosec // path comes from configuration
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypePrecondition, "alignment artifact not found").
				WithDetail("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "read artifact").WithDetail("path", path)
	}
	return UnmarshalArtifact(blob)
}
