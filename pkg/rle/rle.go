// Package rle converts binary masks to and from run-length strings.
//
// A string is a space separated list of "start length" pairs. Starts are
// 0-indexed positions into the row-major flattening of the mask; the empty
// string is an all-zero mask.
package rle

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"gisegment/internal/models"
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("malformed run-length string")

// Encode run-length encodes a row-major mask. The mask is padded with a zero
// on both ends; every change between consecutive padded values is a
// transition and transitions pair up into (start, length).
func Encode[T ~uint8 | ~int | ~int32 | ~int64](mask []T) string {
	runs := make([]int, 0, 16)
	var prev T
	for i, v := range mask {
		if v != prev {
			runs = append(runs, i)
		}
		prev = v
	}
	if prev != 0 {
		runs = append(runs, len(mask))
	}

	var b strings.Builder
	for i := 0; i+1 < len(runs); i += 2 {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(strconv.Itoa(runs[i]))
		b.WriteByte(' ')
		b.WriteString(strconv.Itoa(runs[i+1] - runs[i]))
	}
	return b.String()
}

// Decode expands a run-length string into a height x width row-major mask.
func Decode(s string, height, width int) ([]uint8, error) {
	return DecodeBase(s, height, width, 0)
}

// DecodeBase is Decode for strings whose starts count from base. Kaggle
// ground-truth files use base 1.
func DecodeBase(s string, height, width, base int) ([]uint8, error) {
	if height < 0 || width < 0 {
		return nil, fmt.Errorf("%w: negative shape %dx%d", ErrMalformed, height, width)
	}
	size := height * width
	mask := make([]uint8, size)

	fields := strings.Fields(s)
	if len(fields)%2 != 0 {
		return nil, fmt.Errorf("%w: odd number of values (%d)", ErrMalformed, len(fields))
	}
	for i := 0; i < len(fields); i += 2 {
		start, err := strconv.Atoi(fields[i])
		if err != nil {
			return nil, fmt.Errorf("%w: start %q: %v", ErrMalformed, fields[i], err)
		}
		start -= base
		length, err := strconv.Atoi(fields[i+1])
		if err != nil {
			return nil, fmt.Errorf("%w: length %q: %v", ErrMalformed, fields[i+1], err)
		}
		if start < 0 || length < 0 || start > size || length > size-start {
			return nil, fmt.Errorf("%w: run %d+%d outside mask of %d pixels", ErrMalformed, start, length, size)
		}
		for j := start; j < start+length; j++ {
			mask[j] = 1
		}
	}
	return mask, nil
}

// EncodeClasses encodes every class channel of a (H, W, 3) mask, in
// models.ClassNames order.
func EncodeClasses(id string, mask *models.Mask) ([]models.Prediction, error) {
	if mask.Channels != len(models.ClassNames) {
		return nil, fmt.Errorf("mask has %d channels, expected %d", mask.Channels, len(models.ClassNames))
	}
	preds := make([]models.Prediction, len(models.ClassNames))
	for c, class := range models.ClassNames {
		preds[c] = models.Prediction{ID: id, Class: class, RLE: Encode(mask.Channel(c))}
	}
	return preds, nil
}

// EncodeLabels writes the same label map for every class.
func EncodeLabels(id string, labels *models.LabelMap) []models.Prediction {
	encoded := Encode(labels.Labels)
	preds := make([]models.Prediction, len(models.ClassNames))
	for c, class := range models.ClassNames {
		preds[c] = models.Prediction{ID: id, Class: class, RLE: encoded}
	}
	return preds
}
