// Package visualization renders stacks, probabilities and masks as images
// and saves them as intermediary results.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	"gisegment/internal/models"
)

// classColors are the overlay colours of large bowel, small bowel and stomach.
var classColors = []color.RGBA{
	{R: 255, G: 64, B: 64, A: 255},
	{R: 64, G: 255, B: 64, A: 255},
	{R: 64, G: 128, B: 255, A: 255},
}

// overlayAlpha is the weight of the class colour over the slice.
const overlayAlpha = 0.45

// Plane renders a row-major plane of values in [0, 1] as a 16-bit greyscale image.
func Plane(data []float64, width, height int) (*image.Gray16, error) {
	if len(data) != width*height {
		return nil, fmt.Errorf("plane has %d values, expected %dx%d", len(data), width, height)
	}
	img := image.NewGray16(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			value := uint16(math.Max(0, math.Min(65535, data[y*width+x]*65535)))
			img.SetGray16(x, y, color.Gray16{Y: value})
		}
	}
	return img, nil
}

// StackChannel renders one channel of a normalized stack.
func StackChannel(st *models.Stack, c int) (*image.Gray16, error) {
	if c < 0 || c >= st.Channels {
		return nil, fmt.Errorf("channel %d exceeds %d channels", c, st.Channels)
	}
	return Plane(st.Channel(c), st.Width, st.Height)
}

// Labels renders a label map, label 0 black and the highest label white.
func Labels(lm *models.LabelMap) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, lm.Width, lm.Height))
	var top uint8
	for _, l := range lm.Labels {
		top = max(top, l)
	}
	for i, l := range lm.Labels {
		if top > 0 {
			img.Pix[i] = uint8(int(l) * 255 / int(top))
		}
	}
	return img
}

// Overlay blends class colours of mask over base. base is resampled to the
// mask resolution when the sizes differ.
func Overlay(base image.Image, mask *models.Mask) *image.RGBA {
	bounds := image.Rect(0, 0, mask.Width, mask.Height)
	out := image.NewRGBA(bounds)
	draw.BiLinear.Scale(out, bounds, base, base.Bounds(), draw.Src, nil)

	for y := 0; y < mask.Height; y++ {
		for x := 0; x < mask.Width; x++ {
			px := out.RGBAAt(x, y)
			i := (y*mask.Width + x) * mask.Channels
			for c := 0; c < mask.Channels && c < len(classColors); c++ {
				if mask.Data[i+c] == 0 {
					continue
				}
				px = blend(px, classColors[c])
			}
			out.SetRGBA(x, y, px)
		}
	}
	return out
}

func blend(a, b color.RGBA) color.RGBA {
	mix := func(u, v uint8) uint8 {
		return uint8(math.Round(float64(u)*(1-overlayAlpha) + float64(v)*overlayAlpha))
	}
	return color.RGBA{R: mix(a.R, b.R), G: mix(a.G, b.G), B: mix(a.B, b.B), A: 255}
}

// Save writes img as PNG, or JPEG when filename ends in .jpg/.jpeg.
func Save(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
	default:
		return png.Encode(file, img)
	}
}

// Recorder stores intermediary images under dir/<stage>/<name>.png. A nil
// Recorder records nothing.
type Recorder struct {
	dir string
}

// NewRecorder returns a recorder rooted at dir, or nil when disabled.
func NewRecorder(dir string, enabled bool) *Recorder {
	if !enabled {
		return nil
	}
	return &Recorder{dir: dir}
}

// Record saves img for one stage.
func (r *Recorder) Record(stage, name string, img image.Image) error {
	if r == nil {
		return nil
	}
	stageDir := filepath.Join(r.dir, stage)
	if err := os.MkdirAll(stageDir, 0755); err != nil {
		return fmt.Errorf("failed to create intermediary directory: %w", err)
	}
	return Save(img, filepath.Join(stageDir, name+".png"))
}
