// Package model holds the regressors served by gridcast: a native gradient
// boosted tree ensemble trained in-process and LightGBM text models loaded
// from the registry. Both satisfy Predictor.
package model

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/ajitpratap0/gridcast/pkg/errors"
)

// Predictor scores one aligned feature row.
type Predictor interface {
	Predict(features []float64) (float64, error)
	NumFeatures() int
}

// Format identifies a serialized model.
type Format string

const (
	// FormatNative is the JSON ensemble written by Train.
	FormatNative Format = "json"
	// FormatLightGBM is LightGBM's text model dump.
	FormatLightGBM Format = "txt"
)

// FormatFromPath infers the format from a file extension.
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatNative, nil
	case ".txt", ".lgb":
		return FormatLightGBM, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unknown model format for %q", path)
	}
}

// Load reads a model file.
func Load(path string) (Predictor, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "model file not found").WithDetail("path", path)
		}
		return nil, errors.Wrap(err, errors.ErrorTypeFile, "read model").WithDetail("path", path)
	}
	p, err := Decode(data, format)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "load model").WithDetail("path", path)
	}
	return p, nil
}

// Decode parses a serialized model.
func Decode(data []byte, format Format) (Predictor, error) {
	switch format {
	case FormatNative:
		return UnmarshalGBDT(data)
	case FormatLightGBM:
		return NewLightGBM(bufio.NewReader(bytes.NewReader(data)))
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "unsupported model format %q", format)
	}
}

// PredictRows scores a row-major matrix of width p.NumFeatures().
func PredictRows(p Predictor, x []float64) ([]float64, error) {
	width := p.NumFeatures()
	if width == 0 || len(x)%width != 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation, "matrix of %d values does not split into rows of %d", len(x), width)
	}
	out := make([]float64, len(x)/width)
	for i := range out {
		v, err := p.Predict(x[i*width : (i+1)*width])
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func checkWidth(features []float64, want int) error {
	if len(features) != want {
		return errors.Newf(errors.ErrorTypeValidation, "model expects %d features, got %d", want, len(features))
	}
	return nil
}
