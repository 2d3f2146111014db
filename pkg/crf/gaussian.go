package crf

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// gaussianKernel is the spatial pairwise kernel exp(-|p_i-p_j|²/2) over
// positions scaled by (sx, sy). The kernel factorizes over x and y, so it is
// applied as two 1-D passes. Weights beyond truncate standard deviations are
// dropped; everything outside the image contributes zero.
type gaussianKernel struct {
	width, height int
	rx, ry        int
	wx, wy        []float64

	// norm holds 1/sqrt(K·1) for symmetric normalization
	norm []float64
	tmp  []float64
	buf  []float64
}

func newGaussianKernel(width, height int, sx, sy, truncate float64) *gaussianKernel {
	k := &gaussianKernel{
		width:  width,
		height: height,
		tmp:    make([]float64, width*height),
		buf:    make([]float64, width*height),
		norm:   make([]float64, width*height),
	}
	k.rx, k.wx = weights1D(sx, truncate)
	k.ry, k.wy = weights1D(sy, truncate)

	ones := make([]float64, width*height)
	for i := range ones {
		ones[i] = 1
	}
	k.blur(k.norm, ones)
	for i, v := range k.norm {
		k.norm[i] = 1 / math.Sqrt(v+1e-20)
	}
	return k
}

// weights1D returns the radius and the taps exp(-d²/(2σ²)) for d in [-r, r].
func weights1D(sigma, truncate float64) (int, []float64) {
	r := int(math.Ceil(truncate * sigma))
	w := make([]float64, 2*r+1)
	for d := -r; d <= r; d++ {
		w[d+r] = math.Exp(-float64(d*d) / (2 * sigma * sigma))
	}
	return r, w
}

// blur applies the unnormalized kernel: dst = K src.
func (k *gaussianKernel) blur(dst, src []float64) {
	w, h := k.width, k.height

	for y := 0; y < h; y++ {
		row := src[y*w : (y+1)*w]
		out := k.tmp[y*w : (y+1)*w]
		for x := 0; x < w; x++ {
			lo := max(x-k.rx, 0)
			hi := min(x+k.rx, w-1)
			sum := 0.0
			for sx := lo; sx <= hi; sx++ {
				sum += k.wx[sx-x+k.rx] * row[sx]
			}
			out[x] = sum
		}
	}

	for y := 0; y < h; y++ {
		lo := max(y-k.ry, 0)
		hi := min(y+k.ry, h-1)
		out := dst[y*w : (y+1)*w]
		for x := range out {
			out[x] = 0
		}
		for sy := lo; sy <= hi; sy++ {
			floats.AddScaled(out, k.wy[sy-y+k.ry], k.tmp[sy*w:(sy+1)*w])
		}
	}
}

// filter applies the symmetrically normalized kernel:
// dst = norm ⊙ K(norm ⊙ src).
func (k *gaussianKernel) filter(dst, src []float64) {
	floats.MulTo(k.buf, k.norm, src)
	k.blur(dst, k.buf)
	floats.Mul(dst, k.norm)
}
