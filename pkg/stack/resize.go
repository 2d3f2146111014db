package stack

import (
	"image"

	"golang.org/x/image/draw"

	"gisegment/internal/models"
)

// nearest maps destination index d of n onto a source of size m using
// pixel-centre sampling, the same rule as draw.NearestNeighbor.
func nearest(d, n, m int) int {
	return (2*d + 1) * m / (2 * n)
}

// ResizeStack resamples every channel to width x height with nearest-neighbour
// sampling.
func ResizeStack(st *models.Stack, width, height int) *models.Stack {
	if st.Width == width && st.Height == height {
		return st
	}
	out := &models.Stack{
		ID:       st.ID,
		Data:     make([]float64, width*height*st.Channels),
		Width:    width,
		Height:   height,
		Channels: st.Channels,
	}
	for y := 0; y < height; y++ {
		sy := nearest(y, height, st.Height)
		for x := 0; x < width; x++ {
			sx := nearest(x, width, st.Width)
			src := (sy*st.Width + sx) * st.Channels
			dst := (y*width + x) * st.Channels
			copy(out.Data[dst:dst+st.Channels], st.Data[src:src+st.Channels])
		}
	}
	return out
}

// ResizeMask resamples each mask channel to width x height.
func ResizeMask(m *models.Mask, width, height int) *models.Mask {
	if m.Width == width && m.Height == height {
		return m
	}
	out := models.NewMask(width, height, m.Channels)
	src := image.NewGray(image.Rect(0, 0, m.Width, m.Height))
	dst := image.NewGray(image.Rect(0, 0, width, height))
	for c := 0; c < m.Channels; c++ {
		copy(src.Pix, m.Channel(c))
		draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		for i, v := range dst.Pix {
			out.Data[i*m.Channels+c] = v
		}
	}
	return out
}
