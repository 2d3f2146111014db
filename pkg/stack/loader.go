package stack

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"gisegment/internal/models"
)

// ErrMissingInput is matched by every MissingInputError.
var ErrMissingInput = errors.New("missing input slice")

// MissingInputError reports that the middle slice of a stack could not be
// read. It is fatal for that image only.
type MissingInputError struct {
	Path string
	Err  error
}

func (e *MissingInputError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("missing input slice %s: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("missing input slice %s", e.Path)
}

func (e *MissingInputError) Unwrap() error { return e.Err }

// Is lets errors.Is match ErrMissingInput.
func (e *MissingInputError) Is(target error) bool { return target == ErrMissingInput }

// LoadSlice decodes a slice image and returns its raw intensities.
func LoadSlice(path string) (*models.Slice, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	bounds := img.Bounds()
	s := &models.Slice{
		Path:   path,
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Data:   imageToFloat(img),
	}
	if info, err := ParseSlicePath(path); err == nil {
		s.ID = info.ID
	} else if n, err := ParseSliceNumber(path); err == nil {
		s.ID.Slice = n
	}
	return s, nil
}

// imageToFloat converts an image to raw intensity values without rescaling
// 8- and 16-bit greyscale sources.
func imageToFloat(img image.Image) []float64 {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	result := make([]float64, width*height)

	switch src := img.(type) {
	case *image.Gray16:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = float64(src.Gray16At(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	case *image.Gray:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				result[y*width+x] = float64(src.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
				result[y*width+x] = float64(g.Y)
			}
		}
	}

	return result
}
