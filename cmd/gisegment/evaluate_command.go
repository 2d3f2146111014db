package main

import (
	"fmt"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"gisegment/internal/models"
	"gisegment/pkg/metrics"
	"gisegment/pkg/rle"
	"gisegment/pkg/stack"
	"gisegment/pkg/submission"
)

func newEvaluateCommand(ctx *commandContext) *cobra.Command {
	var predPath string
	var truthPath string
	var dataDir string
	var oneIndexedTruth bool

	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Score a submission against ground truth with Dice and IoU",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			root := dataDir
			if root == "" {
				root = cfg.Data.Root
			}

			dims, err := sliceDims(root)
			if err != nil {
				return err
			}
			truth, err := submission.Read(truthPath)
			if err != nil {
				return err
			}
			preds, err := submission.Read(predPath)
			if err != nil {
				return err
			}

			truthBase := 0
			if oneIndexedTruth {
				truthBase = 1
			}
			acc, err := score(truth, preds, dims, truthBase, cfg.Inference.Threshold, cfg.Metrics.Epsilon)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderScores(acc))
			return nil
		},
	}

	cmd.Flags().StringVar(&predPath, "pred", "", "Submission CSV to score")
	cmd.Flags().StringVar(&truthPath, "truth", "", "Ground-truth CSV (id, class, segmentation); starts are 0-indexed unless --one-indexed-truth")
	cmd.Flags().StringVar(&dataDir, "data", "", "Slice directory used to look up image sizes (defaults to data.root)")
	cmd.Flags().BoolVar(&oneIndexedTruth, "one-indexed-truth", false, "Truth RLE starts count from 1, as in the competition train.csv")
	_ = cmd.MarkFlagRequired("pred")
	_ = cmd.MarkFlagRequired("truth")
	return cmd
}

type dims struct{ width, height int }

func sliceDims(root string) (map[string]dims, error) {
	infos, err := stack.Discover(root)
	if err != nil {
		return nil, err
	}
	out := make(map[string]dims, len(infos))
	for _, info := range infos {
		out[info.ID.String()] = dims{width: info.Width, height: info.Height}
	}
	return out, nil
}

// score compares every ground-truth row with the matching prediction; a
// missing prediction counts as an empty mask. Truth starts count from
// truthBase, predictions from 0.
func score(truth, preds []models.Prediction, sizes map[string]dims, truthBase int, thr, eps float64) (*metrics.Accumulator, error) {
	predicted := make(map[[2]string]string, len(preds))
	for _, p := range preds {
		predicted[[2]string{p.ID, p.Class}] = p.RLE
	}

	acc := metrics.NewAccumulator(len(models.ClassNames), thr, eps)
	for _, row := range truth {
		class := slices.Index(models.ClassNames, row.Class)
		if class < 0 {
			return nil, fmt.Errorf("%s: unknown class %q", row.ID, row.Class)
		}
		size, ok := sizes[row.ID]
		if !ok {
			return nil, fmt.Errorf("%s: no slice image found for this id", row.ID)
		}

		want, err := decodePlane(row.RLE, size, truthBase)
		if err != nil {
			return nil, fmt.Errorf("%s/%s truth: %w", row.ID, row.Class, err)
		}
		got, err := decodePlane(predicted[[2]string{row.ID, row.Class}], size, 0)
		if err != nil {
			return nil, fmt.Errorf("%s/%s prediction: %w", row.ID, row.Class, err)
		}
		if err := acc.Add(class, want, got); err != nil {
			return nil, err
		}
	}
	return acc, nil
}

func decodePlane(encoded string, size dims, base int) ([]float64, error) {
	mask, err := rle.DecodeBase(encoded, size.height, size.width, base)
	if err != nil {
		return nil, err
	}
	plane := make([]float64, len(mask))
	for i, v := range mask {
		plane[i] = float64(v)
	}
	return plane, nil
}

func renderScores(acc *metrics.Accumulator) string {
	headers := []string{"Class", "Slices", "Dice", "IoU"}
	rows := make([][]string, 0, len(models.ClassNames)+1)
	for c, name := range models.ClassNames {
		if acc.Count(c) == 0 {
			rows = append(rows, []string{name, "0", "-", "-"})
			continue
		}
		rows = append(rows, []string{
			name,
			strconv.Itoa(acc.Count(c)),
			formatScore(acc.ClassDice(c)),
			formatScore(acc.ClassIoU(c)),
		})
	}
	rows = append(rows, []string{"overall", "", formatScore(acc.Dice()), formatScore(acc.IoU())})
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignRight, alignRight, alignRight})
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
