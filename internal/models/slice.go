package models

import (
	"fmt"
)

// ClassNames lists the segmented organs in output order.
var ClassNames = []string{"large_bowel", "small_bowel", "stomach"}

// SliceID identifies a single CT slice by case, day and slice index
type SliceID struct {
	Case  int
	Day   int
	Slice int
}

// String renders the identifier in submission form, e.g. case123_day20_slice_0065
func (id SliceID) String() string {
	return fmt.Sprintf("case%d_day%d_slice_%04d", id.Case, id.Day, id.Slice)
}

// Slice represents a single greyscale CT slice with metadata
type Slice struct {
	// ID is the case/day/slice triple parsed from the path
	ID SliceID

	// Path is the file the slice was read from
	Path string

	// Data holds raw intensities in row-major order
	Data []float64

	// Width and Height are the original pixel dimensions
	Width  int
	Height int
}

// Stack is a 2.5D volume built from 2*shift+1 neighbouring slices.
// Data is channel-last: index (y*Width+x)*Channels + c.
type Stack struct {
	ID       SliceID
	Data     []float64
	Width    int
	Height   int
	Channels int
}

// Channel copies one channel out as a row-major plane
func (s *Stack) Channel(c int) []float64 {
	plane := make([]float64, s.Width*s.Height)
	for i := range plane {
		plane[i] = s.Data[i*s.Channels+c]
	}
	return plane
}

// Batch is a dense (N, C, H, W) tensor, the layout models consume and produce.
type Batch struct {
	N, C, H, W int
	Data       []float64
}

// NewBatch allocates a zeroed batch
func NewBatch(n, c, h, w int) *Batch {
	return &Batch{N: n, C: c, H: h, W: w, Data: make([]float64, n*c*h*w)}
}

// Plane returns the (H, W) plane of sample n, channel c. The slice aliases Data.
func (b *Batch) Plane(n, c int) []float64 {
	size := b.H * b.W
	off := (n*b.C + c) * size
	return b.Data[off : off+size]
}

// SameShape reports whether two batches have identical dimensions
func (b *Batch) SameShape(o *Batch) bool {
	return b.N == o.N && b.C == o.C && b.H == o.H && b.W == o.W
}

// Mask is a channel-last integer mask of shape (H, W, C)
type Mask struct {
	Data     []uint8
	Width    int
	Height   int
	Channels int
}

// NewMask allocates a zeroed mask
func NewMask(width, height, channels int) *Mask {
	return &Mask{
		Data:     make([]uint8, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}
}

// Channel copies one channel out as a row-major plane
func (m *Mask) Channel(c int) []uint8 {
	plane := make([]uint8, m.Width*m.Height)
	for i := range plane {
		plane[i] = m.Data[i*m.Channels+c]
	}
	return plane
}

// LabelMap is a single-channel label image produced by refinement
type LabelMap struct {
	Labels []uint8
	Width  int
	Height int
}

// Prediction is one (image, class, rle) submission row
type Prediction struct {
	ID    string
	Class string
	RLE   string
}
