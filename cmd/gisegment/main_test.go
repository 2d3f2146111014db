package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gisegment/pkg/config"
	"gisegment/pkg/ensemble"
	"gisegment/pkg/submission"
)

const squareRLE = "68 8 84 8 100 8 116 8 132 8 148 8 164 8 180 8"

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// writeDataset writes 16x16 slices with a bright 8x8 square under
// root/case1_day1/scans.
func writeDataset(t *testing.T, slices ...int) string {
	t.Helper()
	root := t.TempDir()
	dir := filepath.Join(root, "case1_day1", "scans")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir scans: %v", err)
	}
	img := image.NewGray16(image.Rect(0, 0, 16, 16))
	for y := 4; y < 12; y++ {
		for x := 4; x < 12; x++ {
			img.SetGray16(x, y, color.Gray16{Y: 800})
		}
	}
	for _, n := range slices {
		path := filepath.Join(dir, fmt.Sprintf("slice_%04d_16_16_1.50_1.50.png", n))
		file, err := os.Create(path)
		if err != nil {
			t.Fatalf("create slice: %v", err)
		}
		if err := png.Encode(file, img); err != nil {
			t.Fatalf("encode slice: %v", err)
		}
		file.Close()
	}
	return root
}

func writeCheckpoints(t *testing.T, n int) string {
	t.Helper()
	dir := t.TempDir()
	for i := 0; i < n; i++ {
		m, err := ensemble.NewLinearModel(
			[][]float64{{0, 20, 0}, {0, 0, 0}, {0, 0, 0}},
			[]float64{-10, -10, -10})
		if err != nil {
			t.Fatalf("NewLinearModel: %v", err)
		}
		if err := m.Save(filepath.Join(dir, fmt.Sprintf("best_fold%d.yaml", i))); err != nil {
			t.Fatalf("save checkpoint: %v", err)
		}
	}
	return dir
}

func writeConfig(t *testing.T, folds int) string {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Data.ImageSize = []int{8, 8}
	cfg.Model.NumFolds = folds
	cfg.Inference.NumCores = 2
	cfg.CRF.Enabled = false
	cfg.Output.Verbose = false
	cfg.Logging.Level = "error"
	path := filepath.Join(t.TempDir(), "gisegment.yaml")
	if err := config.SaveConfig(cfg, path); err != nil {
		t.Fatalf("SaveConfig: %v", err)
	}
	return path
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "gisegment.yaml")
	out, err := runCLI(t, "init-config", path)
	if err != nil {
		t.Fatalf("init-config: %v", err)
	}
	if !strings.Contains(out, path) {
		t.Errorf("expected output to mention %s, got %q", path, out)
	}
	if _, err := config.LoadConfig(path); err != nil {
		t.Fatalf("written config does not load: %v", err)
	}

	if _, err := runCLI(t, "init-config", path); err == nil {
		t.Fatal("expected error when the file exists")
	}
	if _, err := runCLI(t, "init-config", "--overwrite", path); err != nil {
		t.Fatalf("init-config --overwrite: %v", err)
	}
}

func TestRLEDecodeThenEncode(t *testing.T) {
	maskPath := filepath.Join(t.TempDir(), "mask.png")
	if _, err := runCLI(t, "rle", "decode", "--width", "4", "--height", "2", "-o", maskPath, "1 2 6 1"); err != nil {
		t.Fatalf("rle decode: %v", err)
	}
	out, err := runCLI(t, "rle", "encode", maskPath)
	if err != nil {
		t.Fatalf("rle encode: %v", err)
	}
	if got := strings.TrimSpace(out); got != "1 2 6 1" {
		t.Errorf("expected %q, got %q", "1 2 6 1", got)
	}

	if _, err := runCLI(t, "rle", "decode", "1 2"); err == nil {
		t.Error("expected error without --width/--height")
	}
}

func TestPredictWritesSubmission(t *testing.T) {
	root := writeDataset(t, 1, 2)
	ckpt := writeCheckpoints(t, 2)
	cfgPath := writeConfig(t, 2)
	subPath := filepath.Join(t.TempDir(), "submission.csv")

	out, err := runCLI(t, "--config", cfgPath, "predict", "--input", root, "--checkpoints", ckpt, "--output", subPath)
	if err != nil {
		t.Fatalf("predict: %v", err)
	}
	if !strings.Contains(out, "Predicted 2 slices") {
		t.Errorf("unexpected output %q", out)
	}

	preds, err := submission.Read(subPath)
	if err != nil {
		t.Fatalf("read submission: %v", err)
	}
	if len(preds) != 6 {
		t.Fatalf("expected 6 rows, got %d", len(preds))
	}
	if preds[0].ID != "case1_day1_slice_0001" || preds[0].Class != "large_bowel" || preds[0].RLE != squareRLE {
		t.Errorf("unexpected first row %+v", preds[0])
	}

	// scoring the submission against itself is perfect
	out, err = runCLI(t, "--config", cfgPath, "evaluate", "--pred", subPath, "--truth", subPath, "--data", root)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !strings.Contains(out, "overall") || !strings.Contains(out, "1.0000") {
		t.Errorf("unexpected evaluate output:\n%s", out)
	}
}

func TestPredictRejectsCheckpointCountMismatch(t *testing.T) {
	root := writeDataset(t, 1)
	ckpt := writeCheckpoints(t, 1)
	cfgPath := writeConfig(t, 4)

	_, err := runCLI(t, "--config", cfgPath, "predict", "--input", root, "--checkpoints", ckpt,
		"--output", filepath.Join(t.TempDir(), "s.csv"))
	if !errors.Is(err, ensemble.ErrConfigurationMismatch) {
		t.Fatalf("expected ErrConfigurationMismatch, got %v", err)
	}
}

func TestEvaluateRejectsUnknownSlice(t *testing.T) {
	root := writeDataset(t, 1)
	truth := filepath.Join(t.TempDir(), "truth.csv")
	if err := os.WriteFile(truth, []byte("id,class,segmentation\ncase9_day9_slice_0001,stomach,0 4\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := runCLI(t, "evaluate", "--pred", truth, "--truth", truth, "--data", root); err == nil {
		t.Fatal("expected error for an id without a slice image")
	}
}

func TestEvaluateOneIndexedTruth(t *testing.T) {
	root := writeDataset(t, 1)
	dir := t.TempDir()
	pred := filepath.Join(dir, "pred.csv")
	truth := filepath.Join(dir, "truth.csv")
	if err := os.WriteFile(pred, []byte("id,class,predicted\ncase1_day1_slice_0001,large_bowel,"+squareRLE+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	oneIndexed := "69 8 85 8 101 8 117 8 133 8 149 8 165 8 181 8"
	if err := os.WriteFile(truth, []byte("id,class,segmentation\ncase1_day1_slice_0001,large_bowel,"+oneIndexed+"\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runCLI(t, "evaluate", "--pred", pred, "--truth", truth, "--data", root, "--one-indexed-truth")
	if err != nil {
		t.Fatalf("evaluate --one-indexed-truth: %v", err)
	}
	if !strings.Contains(out, "1.0000") {
		t.Errorf("expected a perfect score with --one-indexed-truth:\n%s", out)
	}

	// read as 0-indexed every run is shifted one pixel right: Dice 112/128
	out, err = runCLI(t, "evaluate", "--pred", pred, "--truth", truth, "--data", root)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !strings.Contains(out, "0.8750") {
		t.Errorf("expected a one-pixel shift to score 0.8750:\n%s", out)
	}
}
