// Package metrics scores predicted masks against ground truth.
package metrics

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"gisegment/internal/models"
)

// DefaultEpsilon smooths scores of empty masks.
const DefaultEpsilon = 0.001

// Overlap holds the spatial sums shared by Dice and IoU.
type Overlap struct {
	Intersection float64
	Union        float64
	True         float64
	Pred         float64
}

// ComputeOverlap binarizes pred with pred > thr and sums intersection,
// union and both areas over one plane. truth is expected to be binary.
func ComputeOverlap(truth, pred []float64, thr float64) (Overlap, error) {
	if len(truth) != len(pred) {
		return Overlap{}, fmt.Errorf("overlap: truth has %d pixels, prediction %d", len(truth), len(pred))
	}
	var o Overlap
	for i, t := range truth {
		p := 0.0
		if pred[i] > thr {
			p = 1
		}
		o.Intersection += t * p
		o.Union += t + p - t*p
	}
	o.True = floats.Sum(truth)
	o.Pred = o.Union - o.True + o.Intersection
	return o, nil
}

// Dice returns (2|T∩P| + eps) / (|T| + |P| + eps).
func (o Overlap) Dice(eps float64) float64 {
	return (2*o.Intersection + eps) / (o.True + o.Pred + eps)
}

// IoU returns (|T∩P| + eps) / (|T∪P| + eps).
func (o Overlap) IoU(eps float64) float64 {
	return (o.Intersection + eps) / (o.Union + eps)
}

// Accumulator collects per-sample, per-class scores.
type Accumulator struct {
	thr, eps float64
	dice     [][]float64
	iou      [][]float64
}

// NewAccumulator creates an accumulator for the given number of classes.
func NewAccumulator(classes int, thr, eps float64) *Accumulator {
	return &Accumulator{
		thr:  thr,
		eps:  eps,
		dice: make([][]float64, classes),
		iou:  make([][]float64, classes),
	}
}

// Add scores one (sample, class) plane.
func (a *Accumulator) Add(class int, truth, pred []float64) error {
	if class < 0 || class >= len(a.dice) {
		return fmt.Errorf("class %d out of range [0, %d)", class, len(a.dice))
	}
	o, err := ComputeOverlap(truth, pred, a.thr)
	if err != nil {
		return err
	}
	a.dice[class] = append(a.dice[class], o.Dice(a.eps))
	a.iou[class] = append(a.iou[class], o.IoU(a.eps))
	return nil
}

// Count is the number of planes scored for class.
func (a *Accumulator) Count(class int) int { return len(a.dice[class]) }

// ClassDice is the mean Dice of one class.
func (a *Accumulator) ClassDice(class int) float64 { return stat.Mean(a.dice[class], nil) }

// ClassIoU is the mean IoU of one class.
func (a *Accumulator) ClassIoU(class int) float64 { return stat.Mean(a.iou[class], nil) }

// Dice is the mean over every scored (sample, class) pair.
func (a *Accumulator) Dice() float64 { return stat.Mean(flatten(a.dice), nil) }

// IoU is the mean over every scored (sample, class) pair.
func (a *Accumulator) IoU() float64 { return stat.Mean(flatten(a.iou), nil) }

func flatten(v [][]float64) []float64 {
	var out []float64
	for _, row := range v {
		out = append(out, row...)
	}
	return out
}

func accumulate(truth, pred *models.Batch, thr, eps float64) (*Accumulator, error) {
	if !truth.SameShape(pred) {
		return nil, fmt.Errorf("truth %dx%dx%dx%d and prediction %dx%dx%dx%d differ",
			truth.N, truth.C, truth.H, truth.W, pred.N, pred.C, pred.H, pred.W)
	}
	acc := NewAccumulator(truth.C, thr, eps)
	for n := 0; n < truth.N; n++ {
		for c := 0; c < truth.C; c++ {
			if err := acc.Add(c, truth.Plane(n, c), pred.Plane(n, c)); err != nil {
				return nil, err
			}
		}
	}
	return acc, nil
}

// Dice scores a (N, C, H, W) batch of probabilities against binary truth,
// averaged over classes and then the batch.
func Dice(truth, pred *models.Batch, thr, eps float64) (float64, error) {
	acc, err := accumulate(truth, pred, thr, eps)
	if err != nil {
		return 0, err
	}
	return acc.Dice(), nil
}

// IoU scores a batch like Dice.
func IoU(truth, pred *models.Batch, thr, eps float64) (float64, error) {
	acc, err := accumulate(truth, pred, thr, eps)
	if err != nil {
		return 0, err
	}
	return acc.IoU(), nil
}
