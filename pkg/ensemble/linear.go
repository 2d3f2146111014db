package ensemble

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"gisegment/internal/models"
)

// LinearModel is a per-pixel linear classifier (a 1x1 convolution) stored as
// a YAML checkpoint. It lets the pipeline run end to end without a deep
// learning runtime.
type LinearModel struct {
	// Weights is indexed [class][input channel]
	Weights [][]float64 `yaml:"weights"`
	Bias    []float64   `yaml:"bias"`

	w *mat.Dense
}

// NewLinearModel validates weights and bias and prepares the weight matrix.
func NewLinearModel(weights [][]float64, bias []float64) (*LinearModel, error) {
	m := &LinearModel{Weights: weights, Bias: bias}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *LinearModel) init() error {
	classes := len(m.Weights)
	if classes == 0 {
		return fmt.Errorf("linear model: no classes")
	}
	if len(m.Bias) != classes {
		return fmt.Errorf("linear model: %d bias values for %d classes", len(m.Bias), classes)
	}
	channels := len(m.Weights[0])
	if channels == 0 {
		return fmt.Errorf("linear model: no input channels")
	}
	flat := make([]float64, 0, classes*channels)
	for c, row := range m.Weights {
		if len(row) != channels {
			return fmt.Errorf("linear model: class %d has %d weights, expected %d", c, len(row), channels)
		}
		flat = append(flat, row...)
	}
	m.w = mat.NewDense(classes, channels, flat)
	return nil
}

// LoadLinearModel reads a YAML checkpoint.
func LoadLinearModel(path string) (Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	m := &LinearModel{}
	if err := yaml.Unmarshal(data, m); err != nil {
		return nil, fmt.Errorf("parse checkpoint: %w", err)
	}
	if err := m.init(); err != nil {
		return nil, err
	}
	return m, nil
}

// Save writes the checkpoint as YAML.
func (m *LinearModel) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// Forward computes logits = W·x + b for every pixel.
func (m *LinearModel) Forward(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	classes, channels := m.w.Dims()
	if batch.C != channels {
		return nil, fmt.Errorf("linear model: input has %d channels, expected %d", batch.C, channels)
	}

	pixels := batch.H * batch.W
	out := models.NewBatch(batch.N, classes, batch.H, batch.W)
	if pixels == 0 {
		return out, nil
	}
	for n := 0; n < batch.N; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		in := batch.Data[n*channels*pixels : (n+1)*channels*pixels]
		x := mat.NewDense(channels, pixels, in)
		y := mat.NewDense(classes, pixels, out.Data[n*classes*pixels:(n+1)*classes*pixels])
		y.Mul(m.w, x)
		for c := 0; c < classes; c++ {
			row := y.RawRowView(c)
			for i := range row {
				row[i] += m.Bias[c]
			}
		}
	}
	return out, nil
}
