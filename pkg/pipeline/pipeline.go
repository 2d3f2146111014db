// Package pipeline runs inference end to end: 2.5D stacks are built for every
// slice, resized to the model resolution, passed through the ensemble,
// thresholded, resized back, optionally refined with a dense CRF and finally
// run-length encoded per class.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"

	"gisegment/internal/logging"
	"gisegment/internal/models"
	"gisegment/pkg/config"
	"gisegment/pkg/crf"
	"gisegment/pkg/ensemble"
	"gisegment/pkg/rle"
	"gisegment/pkg/stack"
	"gisegment/pkg/visualization"
)

// retryDelay is the pause between attempts on the same image.
const retryDelay = 50 * time.Millisecond

// Options carries the optional collaborators of a Predictor.
type Options struct {
	Logger *slog.Logger

	// Progress receives a progress bar when non-nil
	Progress io.Writer
}

// Result is the outcome of a run.
type Result struct {
	RunID       string
	Predictions []models.Prediction

	// Processed counts slices that produced predictions
	Processed int

	// Failed counts slices skipped after exhausting their retries
	Failed int

	// Err joins the per-slice failures; nil when every slice succeeded
	Err error
}

// Predictor turns slice paths into per-class RLE predictions.
type Predictor struct {
	cfg      *config.Config
	builder  *stack.Builder
	agg      *ensemble.Aggregator
	refiner  *crf.Refiner
	recorder *visualization.Recorder
	logger   *slog.Logger
	progress io.Writer
}

// New wires a predictor from cfg and the loaded ensemble members.
func New(cfg *config.Config, members []ensemble.Model, opts Options) (*Predictor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := logging.OrNop(opts.Logger)

	builder, err := stack.NewBuilder(cfg.Data.SliceShift, logger)
	if err != nil {
		return nil, err
	}
	agg, err := ensemble.NewAggregator(members)
	if err != nil {
		return nil, err
	}

	p := &Predictor{
		cfg:      cfg,
		builder:  builder,
		agg:      agg,
		recorder: visualization.NewRecorder(cfg.Output.IntermediaryDir, cfg.Output.SaveIntermediaryResults),
		logger:   logger,
		progress: opts.Progress,
	}
	if cfg.CRF.Enabled {
		p.refiner, err = crf.New(CRFParams(cfg), logger)
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

// CRFParams derives refiner parameters from the crf section.
func CRFParams(cfg *config.Config) crf.Params {
	return crf.Params{
		NumLabels:  cfg.CRF.NumLabels,
		GTProb:     cfg.CRF.GTProb,
		ZeroUnsure: cfg.CRF.ZeroUnsure,
		SXY:        [2]float64{cfg.CRF.SXY[0], cfg.CRF.SXY[1]},
		Compat:     cfg.CRF.Compat,
		Iterations: cfg.CRF.Iterations,
		Truncate:   cfg.CRF.Truncate,
	}
}

// item is one slice travelling through a batch.
type item struct {
	info  stack.SliceInfo
	stack *models.Stack
	mask  *models.Mask
	preds []models.Prediction
	err   error
}

// Run predicts every slice in order. Slice failures are collected in
// Result.Err; ensemble failures and cancellation abort the run.
func (p *Predictor) Run(ctx context.Context, slices []stack.SliceInfo) (*Result, error) {
	runID := uuid.NewString()
	logger := p.logger.With("run_id", runID)
	logger.Info("prediction started",
		"slices", len(slices),
		"models", p.agg.Size(),
		"crf", p.refiner != nil,
		"crf_mode", p.cfg.CRF.Mode)

	var bar *progressbar.ProgressBar
	if p.progress != nil {
		bar = progressbar.NewOptions(len(slices),
			progressbar.OptionSetWriter(p.progress),
			progressbar.OptionSetDescription("predict"),
			progressbar.OptionShowCount(),
			progressbar.OptionClearOnFinish())
	}

	res := &Result{RunID: runID}
	var errs []error
	start := time.Now()
	for lo := 0; lo < len(slices); lo += p.cfg.Data.BatchSize {
		hi := min(lo+p.cfg.Data.BatchSize, len(slices))
		items := make([]*item, hi-lo)
		for i := range items {
			items[i] = &item{info: slices[lo+i]}
		}

		if err := p.runBatch(ctx, logger, items); err != nil {
			return nil, err
		}
		for _, it := range items {
			if it.err != nil {
				res.Failed++
				errs = append(errs, fmt.Errorf("%s: %w", it.info.ID, it.err))
				continue
			}
			res.Processed++
			res.Predictions = append(res.Predictions, it.preds...)
		}
		if bar != nil {
			_ = bar.Add(len(items))
		}
	}
	if bar != nil {
		_ = bar.Finish()
	}

	res.Err = errors.Join(errs...)
	logger.Info("prediction finished",
		"processed", res.Processed,
		"failed", res.Failed,
		"elapsed", time.Since(start).Round(time.Millisecond))
	return res, nil
}

func (p *Predictor) runBatch(ctx context.Context, logger *slog.Logger, items []*item) error {
	// Stage 1: stacks, one goroutine per slice
	p.forEach(ctx, items, p.retried(func(it *item) error {
		st, err := p.builder.Build(it.info.Path)
		if err != nil {
			return err
		}
		it.stack = st
		return nil
	}))

	var ready []*item
	for _, it := range items {
		if it.err != nil {
			logger.Warn("slice skipped", "id", it.info.ID.String(), "error", it.err)
			continue
		}
		ready = append(ready, it)
	}
	if len(ready) == 0 {
		return ctx.Err()
	}

	// Stage 2: ensemble forward pass on the whole batch
	batch := p.assemble(ready)
	probs, err := p.agg.Predict(ctx, batch)
	if err != nil {
		return fmt.Errorf("ensemble inference: %w", err)
	}
	masks := ensemble.Threshold(probs, p.cfg.Inference.Threshold)

	// Stage 3: resize back, refine, encode
	for i, it := range ready {
		it.mask = masks[i]
		p.recordProbabilities(logger, it, probs, i)
	}
	p.forEach(ctx, ready, func(_ context.Context, it *item) error {
		preds, err := p.finish(logger, it)
		if err != nil {
			return err
		}
		it.preds = preds
		return nil
	})
	return ctx.Err()
}

// forEach runs fn for each item with at most NumCores in flight. Failures
// land on item.err.
func (p *Predictor) forEach(ctx context.Context, items []*item, fn func(context.Context, *item) error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Inference.NumCores)
	for _, it := range items {
		g.Go(func() error {
			it.err = fn(gctx, it)
			return nil
		})
	}
	_ = g.Wait()
}

// retried wraps fn so each item is attempted up to Retries times. Missing
// input is never retried.
func (p *Predictor) retried(fn func(*item) error) func(context.Context, *item) error {
	return func(ctx context.Context, it *item) error {
		return retry.Do(
			func() error {
				err := fn(it)
				if errors.Is(err, stack.ErrMissingInput) {
					return retry.Unrecoverable(err)
				}
				return err
			},
			retry.Context(ctx),
			retry.Attempts(uint(p.cfg.Inference.Retries)),
			retry.Delay(retryDelay),
			retry.LastErrorOnly(true),
		)
	}
}

// assemble resizes stacks to the model resolution and lays them out as an
// (N, C, H, W) batch.
func (p *Predictor) assemble(items []*item) *models.Batch {
	h, w := p.cfg.Data.ImageSize[0], p.cfg.Data.ImageSize[1]
	batch := models.NewBatch(len(items), p.builder.Channels(), h, w)
	for n, it := range items {
		resized := stack.ResizeStack(it.stack, w, h)
		for c := 0; c < batch.C; c++ {
			copy(batch.Plane(n, c), resized.Channel(c))
		}
	}
	return batch
}

// finish resizes a model-resolution mask to the slice resolution, refines
// it when enabled and encodes the per-class predictions.
func (p *Predictor) finish(logger *slog.Logger, it *item) ([]models.Prediction, error) {
	id := it.info.ID.String()
	mask := stack.ResizeMask(it.mask, it.stack.Width, it.stack.Height)

	middle, err := visualization.StackChannel(it.stack, it.stack.Channels/2)
	if err != nil {
		return nil, err
	}
	if p.recorder != nil {
		p.record(logger, "03_threshold", id, visualization.Overlay(middle, mask))
	}

	if p.refiner == nil {
		return rle.EncodeClasses(id, mask)
	}

	if p.cfg.CRF.Mode == config.ModeJoint {
		ref, err := p.refiner.Refine(middle, mask)
		if err != nil {
			return nil, err
		}
		if ref.Warning != nil {
			logger.Warn("crf refinement degenerate", "id", id, "warning", ref.Warning)
		}
		if p.recorder != nil {
			p.record(logger, "04_refined", id, visualization.Labels(&ref.LabelMap))
		}
		return rle.EncodeLabels(id, &ref.LabelMap), nil
	}

	refined := models.NewMask(mask.Width, mask.Height, mask.Channels)
	for c := 0; c < mask.Channels; c++ {
		channel := &models.Mask{Data: mask.Channel(c), Width: mask.Width, Height: mask.Height, Channels: 1}
		ref, err := p.refiner.Refine(middle, channel)
		if err != nil {
			return nil, fmt.Errorf("refine class %d: %w", c, err)
		}
		labels := ref.Labels
		if ref.Warning != nil {
			// single-valued channels are kept as thresholded
			logger.Debug("crf refinement degenerate", "id", id, "class", c, "warning", ref.Warning)
			labels = channel.Data
		}
		for i, v := range labels {
			refined.Data[i*mask.Channels+c] = v
		}
	}
	if p.recorder != nil {
		p.record(logger, "04_refined", id, visualization.Overlay(middle, refined))
	}
	return rle.EncodeClasses(id, refined)
}

func (p *Predictor) recordProbabilities(logger *slog.Logger, it *item, probs *models.Batch, n int) {
	if p.recorder == nil {
		return
	}
	id := it.info.ID.String()
	for c := 0; c < it.stack.Channels; c++ {
		img, err := visualization.StackChannel(it.stack, c)
		if err == nil {
			p.record(logger, "01_stack", fmt.Sprintf("%s_c%d", id, c), img)
		}
	}
	for c := 0; c < probs.C; c++ {
		img, err := visualization.Plane(probs.Plane(n, c), probs.W, probs.H)
		if err == nil {
			p.record(logger, "02_probability", fmt.Sprintf("%s_%s", id, className(c)), img)
		}
	}
}

func (p *Predictor) record(logger *slog.Logger, stage, name string, img image.Image) {
	if err := p.recorder.Record(stage, name, img); err != nil {
		logger.Warn("failed to save intermediary result", "stage", stage, "name", name, "error", err)
	}
}

func className(c int) string {
	if c < len(models.ClassNames) {
		return models.ClassNames[c]
	}
	return fmt.Sprintf("class%d", c)
}
