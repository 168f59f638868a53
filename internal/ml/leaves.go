package ml

import (
	"context"
	"fmt"
	"os"

	"github.com/dmitryikh/leaves"
)

// treeModel serves LightGBM and XGBoost ensembles through leaves.
// leaves.Ensemble is immutable after load and its Predict is safe for concurrent use.
type treeModel struct {
	ens    *leaves.Ensemble
	name   string
	groups int
	// positive is the output group holding P(malicious).
	positive int
}

// loadTreeModel reads a boosted-tree artifact. The sigmoid/softmax transformation
// stored in the model is applied so Predict yields probabilities, not raw margins.
func loadTreeModel(path string, format Format) (m *treeModel, err error) {
	// The model parsers index into untrusted text.
	defer func() {
		if r := recover(); r != nil {
			m, err = nil, fmt.Errorf("malformed %s model: %v", format, r)
		}
	}()

	var ens *leaves.Ensemble
	switch format {
	case FormatLightGBM:
		ens, err = leaves.LGEnsembleFromFile(path, true)
	case FormatLightGBMJSON:
		var f *os.File
		f, err = os.Open(path)
		if err != nil {
			break
		}
		defer f.Close()
		ens, err = leaves.LGEnsembleFromJSON(f, true)
	case FormatXGBoost:
		ens, err = leaves.XGEnsembleFromFile(path, true)
	default:
		return nil, fmt.Errorf("format %q is not a tree ensemble", format)
	}
	if err != nil {
		return nil, err
	}

	m = &treeModel{ens: ens, name: ens.Name(), groups: ens.NOutputGroups()}
	switch m.groups {
	case 1:
		m.positive = 0
	case 2:
		// Two-class softmax: column 1 is the malicious class.
		m.positive = 1
	default:
		return nil, fmt.Errorf("model has %d output groups, want a binary classifier", m.groups)
	}
	if ens.NFeatures() <= 0 {
		return nil, fmt.Errorf("model does not declare its feature count")
	}
	return m, nil
}

func (m *treeModel) Predict(ctx context.Context, vec []float64) (float64, error) {
	preds := make([]float64, m.groups)
	if err := m.ens.Predict(vec, 0, preds); err != nil {
		return 0, err
	}
	return preds[m.positive], nil
}

func (m *treeModel) Dimension() int {
	return m.ens.NFeatures()
}

func (m *treeModel) Name() string {
	return m.name
}

// Estimators returns the number of boosting rounds.
func (m *treeModel) Estimators() int {
	return m.ens.NEstimators()
}

func (m *treeModel) Close() error {
	return nil
}
