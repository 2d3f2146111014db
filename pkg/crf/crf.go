// Package crf refines segmentation masks with a fully connected conditional
// random field solved by mean-field inference.
//
// The mask is turned into a unary potential with a fixed confidence in the
// observed label, a single spatial Gaussian pairwise term with Potts
// compatibility pulls neighbouring pixels towards agreeing labels, and the
// most probable label of the final marginals is returned per pixel.
package crf

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"

	"gisegment/internal/logging"
	"gisegment/internal/models"
)

// Params configures the refiner.
type Params struct {
	// NumLabels is the number of CRF labels. Discovered labels at or above
	// it are folded into the last label.
	NumLabels int

	// GTProb is the confidence placed in the observed label
	GTProb float64

	// ZeroUnsure treats label 0 as "unknown" with a uniform unary
	ZeroUnsure bool

	// SXY is the spatial standard deviation (x, y) of the pairwise kernel
	SXY [2]float64

	// Compat is the Potts compatibility weight of the pairwise term
	Compat float64

	// Iterations of mean-field message passing
	Iterations int

	// Truncate bounds the kernel radius in standard deviations
	Truncate float64
}

// DefaultParams returns the two-label spatial-only configuration.
func DefaultParams() Params {
	return Params{
		NumLabels:  2,
		GTProb:     0.7,
		ZeroUnsure: false,
		SXY:        [2]float64{3, 3},
		Compat:     3,
		Iterations: 10,
		Truncate:   4,
	}
}

// DegenerateMaskWarning marks a mask with at most one distinct label. It is
// reported on the Refinement, never returned as an error.
type DegenerateMaskWarning struct {
	Labels int
}

func (w *DegenerateMaskWarning) Error() string {
	return fmt.Sprintf("degenerate mask: %d distinct label(s)", w.Labels)
}

// Refinement is the refined label map plus diagnostics.
type Refinement struct {
	models.LabelMap

	// Discovered is the number of distinct packed mask values
	Discovered int

	// Warning is a *DegenerateMaskWarning for single-label masks
	Warning error
}

// Refiner runs dense CRF refinement.
type Refiner struct {
	params Params
	logger *slog.Logger
}

// New validates params and creates a refiner.
func New(params Params, logger *slog.Logger) (*Refiner, error) {
	switch {
	case params.NumLabels < 2 || params.NumLabels > 256:
		return nil, fmt.Errorf("crf: numLabels must be in [2, 256], got %d", params.NumLabels)
	case params.GTProb <= 0 || params.GTProb >= 1:
		return nil, fmt.Errorf("crf: gtProb must be in (0, 1), got %g", params.GTProb)
	case params.SXY[0] <= 0 || params.SXY[1] <= 0:
		return nil, fmt.Errorf("crf: sxy must be positive, got %v", params.SXY)
	case params.Iterations < 0:
		return nil, fmt.Errorf("crf: iterations must be >= 0, got %d", params.Iterations)
	case params.Truncate <= 0:
		return nil, fmt.Errorf("crf: truncate must be positive, got %g", params.Truncate)
	}
	return &Refiner{params: params, logger: logging.OrNop(logger)}, nil
}

// Refine refines mask, a (H, W, C) integer mask at the resolution of img.
// img only fixes the output geometry since the pairwise term is spatial; it
// may be nil.
func (r *Refiner) Refine(img image.Image, mask *models.Mask) (*Refinement, error) {
	if mask == nil || mask.Width <= 0 || mask.Height <= 0 {
		return nil, fmt.Errorf("crf: empty mask")
	}
	if img != nil {
		b := img.Bounds()
		if b.Dx() != mask.Width || b.Dy() != mask.Height {
			return nil, fmt.Errorf("crf: image is %dx%d but mask is %dx%d",
				b.Dx(), b.Dy(), mask.Width, mask.Height)
		}
	}

	labels, discovered := Discretize(mask)
	out := &Refinement{
		LabelMap: models.LabelMap{
			Labels: make([]uint8, len(labels)),
			Width:  mask.Width,
			Height: mask.Height,
		},
		Discovered: discovered,
	}
	if discovered <= 1 {
		out.Warning = &DegenerateMaskWarning{Labels: discovered}
	}
	if discovered > r.params.NumLabels {
		r.logger.Debug("folding surplus mask labels",
			"discovered", discovered, "num_labels", r.params.NumLabels)
	}

	q := r.inference(labels, mask.Width, mask.Height)

	n := r.params.NumLabels
	probs := make([]float64, n)
	for i := range out.Labels {
		for l := 0; l < n; l++ {
			probs[l] = q[l][i]
		}
		out.Labels[i] = uint8(floats.MaxIdx(probs))
	}
	return out, nil
}

// Discretize packs up to three mask channels into R + G<<8 + B<<16 and
// relabels the packed values densely in ascending order. It returns the
// per-pixel labels and the number of distinct values.
func Discretize(mask *models.Mask) ([]int, int) {
	size := mask.Width * mask.Height
	packed := make([]uint32, size)
	for i := 0; i < size; i++ {
		var v uint32
		for c := 0; c < mask.Channels && c < 3; c++ {
			v += uint32(mask.Data[i*mask.Channels+c]) << (8 * c)
		}
		packed[i] = v
	}

	seen := make(map[uint32]struct{})
	for _, v := range packed {
		seen[v] = struct{}{}
	}
	colors := make([]uint32, 0, len(seen))
	for v := range seen {
		colors = append(colors, v)
	}
	sort.Slice(colors, func(i, j int) bool { return colors[i] < colors[j] })

	index := make(map[uint32]int, len(colors))
	for i, v := range colors {
		index[v] = i
	}
	labels := make([]int, size)
	for i, v := range packed {
		labels[i] = index[v]
	}
	return labels, len(colors)
}

// unary builds the negative log-probability potential for each label plane.
func (r *Refiner) unary(labels []int) [][]float64 {
	n := r.params.NumLabels
	gt := r.params.GTProb
	nEnergy := -math.Log((1 - gt) / float64(n-1))
	pEnergy := -math.Log(gt)
	uEnergy := -math.Log(1 / float64(n))

	u := make([][]float64, n)
	for l := range u {
		u[l] = make([]float64, len(labels))
	}
	for i, label := range labels {
		if r.params.ZeroUnsure {
			if label == 0 {
				for l := range u {
					u[l][i] = uEnergy
				}
				continue
			}
			label--
		}
		label = min(label, n-1)
		for l := range u {
			u[l][i] = nEnergy
		}
		u[label][i] = pEnergy
	}
	return u
}

// inference runs mean-field and returns the marginals, one plane per label.
func (r *Refiner) inference(labels []int, width, height int) [][]float64 {
	n := r.params.NumLabels
	u := r.unary(labels)
	kernel := newGaussianKernel(width, height, r.params.SXY[0], r.params.SXY[1], r.params.Truncate)

	q := make([][]float64, n)
	energy := make([][]float64, n)
	for l := 0; l < n; l++ {
		q[l] = make([]float64, len(labels))
		energy[l] = make([]float64, len(labels))
		floats.ScaleTo(energy[l], -1, u[l])
	}
	expAndNormalize(q, energy)

	filtered := make([]float64, len(labels))
	for it := 0; it < r.params.Iterations; it++ {
		for l := 0; l < n; l++ {
			kernel.filter(filtered, q[l])
			floats.ScaleTo(energy[l], -1, u[l])
			floats.AddScaled(energy[l], r.params.Compat, filtered)
		}
		expAndNormalize(q, energy)
	}
	return q
}

// expAndNormalize writes the per-pixel softmax of energy over labels into q.
func expAndNormalize(q, energy [][]float64) {
	n := len(q)
	for i := range q[0] {
		m := math.Inf(-1)
		for l := 0; l < n; l++ {
			m = math.Max(m, energy[l][i])
		}
		sum := 0.0
		for l := 0; l < n; l++ {
			e := math.Exp(energy[l][i] - m)
			q[l][i] = e
			sum += e
		}
		for l := 0; l < n; l++ {
			q[l][i] /= sum
		}
	}
}
