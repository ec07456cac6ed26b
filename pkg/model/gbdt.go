package model

import (
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/goccy/go-json"
)

// gbdtFormat tags native model files.
const gbdtFormat = "gridcast-gbdt/v1"

// Node is one node of a regression tree stored in a flat slice. A node with
// Left < 0 is a leaf and carries Value. Missing values go left.
type Node struct {
	Feature   int     `json:"f,omitempty"`
	Threshold float64 `json:"t,omitempty"`
	Left      int     `json:"l"`
	Right     int     `json:"r,omitempty"`
	Value     float64 `json:"v,omitempty"`
}

// Leaf reports whether n is terminal.
func (n Node) Leaf() bool { return n.Left < 0 }

// Tree is a regression tree; Nodes[0] is the root.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

// Predict walks the tree for one row.
func (t Tree) Predict(x []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Leaf() {
			return n.Value
		}
		v := x[n.Feature]
		if math.IsNaN(v) || v <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// GBDT is an additive ensemble of regression trees with leaf values already
// scaled by the learning rate.
type GBDT struct {
	Format        string    `json:"format"`
	Features      int       `json:"num_features"`
	FeatureNames  []string  `json:"feature_names,omitempty"`
	BaseScore     float64   `json:"base_score"`
	Trees         []Tree    `json:"trees"`
	BestIteration int       `json:"best_iteration"`
	Params        Params    `json:"params"`
	TrainedAt     time.Time `json:"trained_at"`
}

// Predict scores one row.
func (g *GBDT) Predict(features []float64) (float64, error) {
	if err := checkWidth(features, g.Features); err != nil {
		return 0, err
	}
	return g.predict(features), nil
}

func (g *GBDT) predict(x []float64) float64 {
	s := g.BaseScore
	for _, t := range g.Trees {
		s += t.Predict(x)
	}
	return s
}

// NumFeatures returns the width the model was trained on.
func (g *GBDT) NumFeatures() int { return g.Features }

// MarshalGBDT encodes g as JSON.
func MarshalGBDT(g *GBDT) ([]byte, error) {
	data, err := json.Marshal(g)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "encode model")
	}
	return data, nil
}

// UnmarshalGBDT decodes and checks a native model.
func UnmarshalGBDT(data []byte) (*GBDT, error) {
	var g GBDT
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "decode model")
	}
	if g.Format != gbdtFormat {
		return nil, errors.Newf(errors.ErrorTypeData, "unexpected model format %q", g.Format)
	}
	if g.Features <= 0 {
		return nil, errors.New(errors.ErrorTypeData, "model declares no features")
	}
	for ti, t := range g.Trees {
		if len(t.Nodes) == 0 {
			return nil, errors.Newf(errors.ErrorTypeData, "tree %d is empty", ti)
		}
		// Children always follow their parent, so every walk terminates.
		for i, n := range t.Nodes {
			if n.Leaf() {
				continue
			}
			if n.Feature < 0 || n.Feature >= g.Features ||
				n.Left <= i || n.Left >= len(t.Nodes) || n.Right <= i || n.Right >= len(t.Nodes) {
				return nil, errors.Newf(errors.ErrorTypeData, "tree %d has a malformed node", ti)
			}
		}
	}
	return &g, nil
}

// Save writes g to path atomically.
func (g *GBDT) Save(path string) error {
	data, err := MarshalGBDT(g)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "create model directory")
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "write model").WithDetail("path", path)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "rename model").WithDetail("path", path)
	}
	return nil
}
