package model

import (
	"bufio"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/dmitryikh/leaves"
)

// LightGBM serves a LightGBM text model.
type LightGBM struct {
	ensemble *leaves.Ensemble
}

// NewLightGBM parses a LightGBM text model.
func NewLightGBM(r *bufio.Reader) (*LightGBM, error) {
	e, err := leaves.LGEnsembleFromReader(r, true)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "parse lightgbm model")
	}
	return &LightGBM{ensemble: e}, nil
}

// Predict scores one row with every tree of the ensemble.
func (m *LightGBM) Predict(features []float64) (float64, error) {
	if err := checkWidth(features, m.NumFeatures()); err != nil {
		return 0, err
	}
	return m.ensemble.PredictSingle(features, 0), nil
}

// NumFeatures returns the width the model was trained on.
func (m *LightGBM) NumFeatures() int { return m.ensemble.NFeatures() }

// NumTrees returns the number of estimators.
func (m *LightGBM) NumTrees() int { return m.ensemble.NEstimators() }
