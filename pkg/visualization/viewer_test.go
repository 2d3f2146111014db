package visualization

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"gisegment/internal/models"
)

func TestPlane(t *testing.T) {
	img, err := Plane([]float64{0, 0.5, 1, 2}, 2, 2)
	if err != nil {
		t.Fatalf("Plane failed: %v", err)
	}
	if img.Gray16At(0, 0).Y != 0 {
		t.Errorf("Expected black at (0,0)")
	}
	if img.Gray16At(0, 1).Y != 65535 || img.Gray16At(1, 1).Y != 65535 {
		t.Errorf("Expected clamped white on the second row")
	}
	if _, err := Plane([]float64{1}, 2, 2); err == nil {
		t.Error("Expected size error")
	}
}

func TestStackChannel(t *testing.T) {
	st := &models.Stack{Width: 2, Height: 1, Channels: 2, Data: []float64{0, 1, 1, 0}}
	img, err := StackChannel(st, 1)
	if err != nil {
		t.Fatalf("StackChannel failed: %v", err)
	}
	if img.Gray16At(0, 0).Y != 65535 || img.Gray16At(1, 0).Y != 0 {
		t.Errorf("Unexpected channel rendering")
	}
	if _, err := StackChannel(st, 2); err == nil {
		t.Error("Expected channel range error")
	}
}

func TestLabels(t *testing.T) {
	img := Labels(&models.LabelMap{Labels: []uint8{0, 1, 1, 0}, Width: 2, Height: 2})
	if img.GrayAt(0, 0).Y != 0 || img.GrayAt(1, 0).Y != 255 {
		t.Errorf("Unexpected label rendering %v", img.Pix)
	}

	empty := Labels(&models.LabelMap{Labels: []uint8{0, 0}, Width: 2, Height: 1})
	for _, v := range empty.Pix {
		if v != 0 {
			t.Fatal("Expected all-black image for an all-zero label map")
		}
	}
}

func TestOverlayTintsMaskedPixels(t *testing.T) {
	base := image.NewGray(image.Rect(0, 0, 2, 2))
	for i := range base.Pix {
		base.Pix[i] = 100
	}
	mask := models.NewMask(2, 2, 3)
	mask.Data[0] = 1 // large bowel at (0,0)

	out := Overlay(base, mask)
	tinted := out.RGBAAt(0, 0)
	plain := out.RGBAAt(1, 1)
	if plain != (color.RGBA{R: 100, G: 100, B: 100, A: 255}) {
		t.Errorf("Unmasked pixel changed: %v", plain)
	}
	if tinted.R <= plain.R || tinted.G >= plain.G {
		t.Errorf("Masked pixel not tinted red: %v", tinted)
	}
}

func TestRecorder(t *testing.T) {
	var disabled *Recorder = NewRecorder(t.TempDir(), false)
	if err := disabled.Record("stage", "x", image.NewGray(image.Rect(0, 0, 1, 1))); err != nil {
		t.Fatalf("Disabled recorder returned error: %v", err)
	}

	dir := t.TempDir()
	rec := NewRecorder(dir, true)
	if err := rec.Record("01_stack", "case1_day1_slice_0001_c0", image.NewGray(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "01_stack", "case1_day1_slice_0001_c0.png")); err != nil {
		t.Fatalf("Recorded file missing: %v", err)
	}
}

func TestSaveJPEG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slice.jpg")
	if err := Save(image.NewGray(image.Rect(0, 0, 4, 4)), path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("JPEG not written: %v", err)
	}
}
