// Package submission reads and writes (id, class, rle) CSV files.
package submission

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gisegment/internal/models"
)

// Header is the column layout written by Write.
var Header = []string{"id", "class", "predicted"}

// rleColumns are accepted names for the mask column when reading.
var rleColumns = []string{"predicted", "segmentation"}

// Write stores predictions as CSV at path.
func Write(path string, preds []models.Prediction) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create submission directory: %w", err)
		}
	}
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create submission: %w", err)
	}
	if err := Encode(file, preds); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// Encode writes predictions as CSV to w.
func Encode(w io.Writer, preds []models.Prediction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("write submission header: %w", err)
	}
	for _, p := range preds {
		if err := cw.Write([]string{p.ID, p.Class, p.RLE}); err != nil {
			return fmt.Errorf("write submission row %s/%s: %w", p.ID, p.Class, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// Read loads a submission or ground-truth CSV. The mask column may be named
// "predicted" or "segmentation".
func Read(path string) ([]models.Prediction, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	preds, err := Decode(file)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return preds, nil
}

// Decode parses CSV rows from r.
func Decode(r io.Reader) ([]models.Prediction, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty csv")
		}
		return nil, err
	}

	idCol, classCol, rleCol := -1, -1, -1
	for i, name := range header {
		switch name = strings.TrimSpace(strings.ToLower(name)); {
		case name == "id":
			idCol = i
		case name == "class":
			classCol = i
		case slices.Contains(rleColumns, name):
			rleCol = i
		}
	}
	if idCol < 0 || classCol < 0 || rleCol < 0 {
		return nil, fmt.Errorf("csv header %v: need id, class and one of %v", header, rleColumns)
	}

	var preds []models.Prediction
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		preds = append(preds, models.Prediction{
			ID:    rec[idCol],
			Class: rec[classCol],
			RLE:   rec[rleCol],
		})
	}
	return preds, nil
}
