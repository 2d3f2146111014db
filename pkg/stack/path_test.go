package stack

import (
	"os"
	"path/filepath"
	"testing"

	"gisegment/internal/models"
)

func TestParseSliceNumber(t *testing.T) {
	tests := []struct {
		path   string
		number int
		ok     bool
	}{
		{"scans/slice_0005_266_266_1.50_1.50.png", 5, true},
		{"slice_0123.png", 123, true},
		{"slice_12_10_10.png", 12, true},
		{"image_0005.png", 0, false},
		{"slice_ab12_1_1.png", 0, false},
		{"slice_.png", 0, false},
	}
	for _, tt := range tests {
		n, err := ParseSliceNumber(tt.path)
		if tt.ok != (err == nil) {
			t.Errorf("%s: unexpected error state: %v", tt.path, err)
			continue
		}
		if tt.ok && n != tt.number {
			t.Errorf("%s: got %d, want %d", tt.path, n, tt.number)
		}
	}
}

func TestShiftedPath(t *testing.T) {
	dir := filepath.Join("case1_day2", "scans")
	middle := filepath.Join(dir, "slice_0009_266_266_1.50_1.50.png")

	got, err := ShiftedPath(middle, 1)
	if err != nil {
		t.Fatalf("ShiftedPath failed: %v", err)
	}
	want := filepath.Join(dir, "slice_0010_266_266_1.50_1.50.png")
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}

	got, _ = ShiftedPath(middle, -2)
	want = filepath.Join(dir, "slice_0007_266_266_1.50_1.50.png")
	if got != want {
		t.Errorf("Expected %s, got %s", want, got)
	}
}

func TestParseSlicePath(t *testing.T) {
	path := filepath.Join("train", "case123", "case123_day20", "scans", "slice_0065_266_310_1.50_1.50.png")
	info, err := ParseSlicePath(path)
	if err != nil {
		t.Fatalf("ParseSlicePath failed: %v", err)
	}
	want := models.SliceID{Case: 123, Day: 20, Slice: 65}
	if info.ID != want {
		t.Errorf("Expected %v, got %v", want, info.ID)
	}
	if info.Width != 266 || info.Height != 310 {
		t.Errorf("Expected 266x310, got %dx%d", info.Width, info.Height)
	}
	if info.ID.String() != "case123_day20_slice_0065" {
		t.Errorf("Unexpected id string %s", info.ID.String())
	}

	if _, err := ParseSlicePath(filepath.Join("x", "scans", "slice_0001_1_1.png")); err == nil {
		t.Error("Expected error for missing case/day directory")
	}
}

func TestDiscoverSortsSlices(t *testing.T) {
	root := t.TempDir()
	files := []string{
		filepath.Join("case2", "case2_day1", "scans", "slice_0002_4_4_1.50_1.50.png"),
		filepath.Join("case1", "case1_day5", "scans", "slice_0010_4_4_1.50_1.50.png"),
		filepath.Join("case1", "case1_day5", "scans", "slice_0002_4_4_1.50_1.50.png"),
		filepath.Join("case1", "case1_day5", "scans", "notes.txt"),
	}
	for _, f := range files {
		path := filepath.Join(root, f)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, nil, 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	infos, err := Discover(root)
	if err != nil {
		t.Fatalf("Discover failed: %v", err)
	}
	if len(infos) != 3 {
		t.Fatalf("Expected 3 slices, got %d", len(infos))
	}
	want := []string{"case1_day5_slice_0002", "case1_day5_slice_0010", "case2_day1_slice_0002"}
	for i, w := range want {
		if infos[i].ID.String() != w {
			t.Errorf("Position %d: expected %s, got %s", i, w, infos[i].ID.String())
		}
	}
}
