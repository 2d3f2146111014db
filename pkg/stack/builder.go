// Package stack builds 2.5D slice stacks: the requested CT slice plus its
// neighbours on either side, stacked as channels and normalized to [0, 1].
package stack

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"gonum.org/v1/gonum/floats"

	"gisegment/internal/logging"
	"gisegment/internal/models"
)

// Builder assembles stacks of 2*Shift+1 channels.
type Builder struct {
	shift  int
	logger *slog.Logger
}

// NewBuilder creates a builder for the given half-window.
func NewBuilder(shift int, logger *slog.Logger) (*Builder, error) {
	if shift < 0 {
		return nil, fmt.Errorf("stack shift must be >= 0, got %d", shift)
	}
	return &Builder{shift: shift, logger: logging.OrNop(logger)}, nil
}

// Channels is the number of channels every stack has.
func (b *Builder) Channels() int { return 2*b.shift + 1 }

// Build loads the middle slice at middlePath and its neighbours, fills
// absent neighbours and returns the normalized channel-last stack.
func (b *Builder) Build(middlePath string) (*models.Stack, error) {
	middleNum, err := ParseSliceNumber(middlePath)
	if err != nil {
		return nil, &MissingInputError{Path: middlePath, Err: err}
	}

	slices := make([]*models.Slice, b.Channels())
	for i := -b.shift; i <= b.shift; i++ {
		pos := i + b.shift
		if i == 0 {
			middle, err := LoadSlice(middlePath)
			if err != nil {
				return nil, &MissingInputError{Path: middlePath, Err: err}
			}
			slices[pos] = middle
			continue
		}
		if middleNum+i < 0 {
			continue
		}

		path, err := ShiftedPath(middlePath, i)
		if err != nil {
			return nil, err
		}
		neighbour, err := LoadSlice(path)
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				b.logger.Warn("neighbour slice unreadable, filling from nearest slice",
					"path", path, "error", err)
			}
			continue
		}
		slices[pos] = neighbour
	}

	if err := FillGaps(slices, b.shift); err != nil {
		return nil, err
	}

	st, err := Stack(slices)
	if err != nil {
		return nil, err
	}
	st.ID = slices[b.shift].ID
	Normalize(st.Data)
	return st, nil
}

// FillGaps replaces absent entries by walking from the centre outwards: a
// missing left entry copies its right neighbour, a missing right entry
// copies its left neighbour. The centre entry must be present.
func FillGaps(slices []*models.Slice, shift int) error {
	if len(slices) != 2*shift+1 {
		return fmt.Errorf("stack of %d slices does not match shift %d", len(slices), shift)
	}
	if slices[shift] == nil {
		return &MissingInputError{Path: fmt.Sprintf("stack centre (position %d)", shift)}
	}

	for k := 0; k < shift; k++ {
		left := shift - 1 - k
		right := shift + 1 + k
		if slices[left] == nil {
			slices[left] = slices[left+1]
		}
		if slices[right] == nil {
			slices[right] = slices[right-1]
		}
	}
	return nil
}

// Stack interleaves equally sized slices into a channel-last volume.
func Stack(slices []*models.Slice) (*models.Stack, error) {
	if len(slices) == 0 {
		return nil, errors.New("stack: no slices")
	}
	width, height := slices[0].Width, slices[0].Height
	channels := len(slices)

	st := &models.Stack{
		Data:     make([]float64, width*height*channels),
		Width:    width,
		Height:   height,
		Channels: channels,
	}
	for c, s := range slices {
		if s == nil {
			return nil, fmt.Errorf("stack: channel %d is empty", c)
		}
		if s.Width != width || s.Height != height {
			return nil, fmt.Errorf("stack: slice %s is %dx%d, expected %dx%d",
				s.Path, s.Width, s.Height, width, height)
		}
		for i, v := range s.Data {
			st.Data[i*channels+c] = v
		}
	}
	return st, nil
}

// Normalize divides every value by the maximum; an all-zero (or empty)
// input is left untouched.
func Normalize(data []float64) {
	if len(data) == 0 {
		return
	}
	maxPixel := floats.Max(data)
	if maxPixel == 0 {
		return
	}
	for i := range data {
		data[i] /= maxPixel
	}
}
