// Package ensemble averages per-pixel class probabilities over the models of
// all cross-validation folds.
package ensemble

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"gisegment/internal/models"
)

// Model is the narrow capability the pipeline needs from a segmentation
// network: (N, C, H, W) input to (N, classes, H, W) raw logits.
// Implementations must be safe for concurrent Forward calls.
type Model interface {
	Forward(ctx context.Context, batch *models.Batch) (*models.Batch, error)
}

// Loader reads one checkpoint into a Model.
type Loader func(path string) (Model, error)

// ErrConfigurationMismatch is matched by every ConfigurationMismatchError.
var ErrConfigurationMismatch = errors.New("checkpoint configuration mismatch")

// ConfigurationMismatchError reports a checkpoint count that differs from
// the configured fold count.
type ConfigurationMismatchError struct {
	Dir      string
	Pattern  string
	Found    int
	Expected int
}

func (e *ConfigurationMismatchError) Error() string {
	return fmt.Sprintf("found %d checkpoints matching %q in %s, expected %d",
		e.Found, e.Pattern, e.Dir, e.Expected)
}

// Is lets errors.Is match ErrConfigurationMismatch.
func (e *ConfigurationMismatchError) Is(target error) bool {
	return target == ErrConfigurationMismatch
}

// Discover returns the sorted checkpoint files in dir matching pattern and
// fails unless exactly expected are found.
func Discover(dir, pattern string, expected int) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil {
		return nil, fmt.Errorf("checkpoint pattern %q: %w", pattern, err)
	}

	var paths []string
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			return nil, fmt.Errorf("stat checkpoint %s: %w", m, err)
		}
		if !info.IsDir() {
			paths = append(paths, m)
		}
	}
	sort.Strings(paths)

	if len(paths) != expected {
		return nil, &ConfigurationMismatchError{
			Dir:      dir,
			Pattern:  pattern,
			Found:    len(paths),
			Expected: expected,
		}
	}
	return paths, nil
}

// LoadAll loads every checkpoint once. The returned models are held for the
// lifetime of the run.
func LoadAll(paths []string, load Loader) ([]Model, error) {
	members := make([]Model, 0, len(paths))
	for _, p := range paths {
		m, err := load(p)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint %s: %w", p, err)
		}
		members = append(members, m)
	}
	return members, nil
}

// Aggregator runs all members on a batch and averages their probabilities.
type Aggregator struct {
	members []Model
}

// NewAggregator creates an aggregator over at least one member.
func NewAggregator(members []Model) (*Aggregator, error) {
	if len(members) == 0 {
		return nil, errors.New("ensemble: at least one model is required")
	}
	return &Aggregator{members: members}, nil
}

// Size is the number of ensemble members.
func (a *Aggregator) Size() int { return len(a.members) }

// Predict runs every member concurrently, applies a sigmoid to each set of
// logits and returns their elementwise mean. Members are summed in a fixed
// order, so the result does not depend on scheduling.
func (a *Aggregator) Predict(ctx context.Context, batch *models.Batch) (*models.Batch, error) {
	probs := make([]*models.Batch, len(a.members))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range a.members {
		g.Go(func() error {
			logits, err := m.Forward(gctx, batch)
			if err != nil {
				return fmt.Errorf("ensemble member %d: %w", i, err)
			}
			if logits.N != batch.N || logits.H != batch.H || logits.W != batch.W {
				return fmt.Errorf("ensemble member %d: output %dx%dx%dx%d does not match input %dx%dx%dx%d",
					i, logits.N, logits.C, logits.H, logits.W, batch.N, batch.C, batch.H, batch.W)
			}
			p := models.NewBatch(logits.N, logits.C, logits.H, logits.W)
			for j, v := range logits.Data {
				p.Data[j] = Sigmoid(v)
			}
			probs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := models.NewBatch(probs[0].N, probs[0].C, probs[0].H, probs[0].W)
	for i, p := range probs {
		if !p.SameShape(out) {
			return nil, fmt.Errorf("ensemble member %d: %d classes, member 0 has %d", i, p.C, out.C)
		}
		floats.Add(out.Data, p.Data)
	}
	floats.Scale(1/float64(len(probs)), out.Data)
	return out, nil
}

// Sigmoid is the logistic function.
func Sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

// Threshold binarizes probabilities p > thr into a channel-last mask per
// sample.
func Threshold(probs *models.Batch, thr float64) []*models.Mask {
	masks := make([]*models.Mask, probs.N)
	for n := 0; n < probs.N; n++ {
		m := models.NewMask(probs.W, probs.H, probs.C)
		for c := 0; c < probs.C; c++ {
			for i, v := range probs.Plane(n, c) {
				if v > thr {
					m.Data[i*probs.C+c] = 1
				}
			}
		}
		masks[n] = m
	}
	return masks
}
