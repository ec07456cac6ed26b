package model

import (
	"math"
	"sort"
)

// Metrics are the regression scores reported for a trained model, rounded
// to four decimals.
type Metrics struct {
	RMSE     float64 `json:"RMSE"`
	MSE      float64 `json:"MSE"`
	MAE      float64 `json:"MAE"`
	R2       float64 `json:"R2"`
	MedianAE float64 `json:"Median_AE"`
}

// Map returns the metrics keyed by their reported names.
func (m Metrics) Map() map[string]float64 {
	return map[string]float64{
		"RMSE":      m.RMSE,
		"MSE":       m.MSE,
		"MAE":       m.MAE,
		"R2":        m.R2,
		"Median_AE": m.MedianAE,
	}
}

// Evaluate scores predictions against the truth.
func Evaluate(yTrue, yPred []float64) Metrics {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return Metrics{}
	}
	mse := MSE(yTrue, yPred)
	return Metrics{
		RMSE:     round4(math.Sqrt(mse)),
		MSE:      round4(mse),
		MAE:      round4(MAE(yTrue, yPred)),
		R2:       round4(R2(yTrue, yPred)),
		MedianAE: round4(MedianAE(yTrue, yPred)),
	}
}

func MSE(yTrue, yPred []float64) float64 {
	s := 0.0
	for i := range yTrue {
		d := yPred[i] - yTrue[i]
		s += d * d
	}
	return s / float64(len(yTrue))
}

func MAE(yTrue, yPred []float64) float64 {
	s := 0.0
	for i := range yTrue {
		s += math.Abs(yPred[i] - yTrue[i])
	}
	return s / float64(len(yTrue))
}

func rmse(yTrue, yPred []float64) float64 { return math.Sqrt(MSE(yTrue, yPred)) }

// R2 is the coefficient of determination; a constant truth scores 0.
func R2(yTrue, yPred []float64) float64 {
	m := mean(yTrue)
	ssTot, ssRes := 0.0, 0.0
	for i := range yTrue {
		d := yTrue[i] - m
		ssTot += d * d
		r := yTrue[i] - yPred[i]
		ssRes += r * r
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

func MedianAE(yTrue, yPred []float64) float64 {
	errs := make([]float64, len(yTrue))
	for i := range yTrue {
		errs[i] = math.Abs(yPred[i] - yTrue[i])
	}
	sort.Float64s(errs)
	n := len(errs)
	if n%2 == 1 {
		return errs[n/2]
	}
	return (errs[n/2-1] + errs[n/2]) / 2
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
