package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"gisegment/pkg/ensemble"
	"gisegment/pkg/pipeline"
	"gisegment/pkg/stack"
	"gisegment/pkg/submission"
)

func newPredictCommand(ctx *commandContext) *cobra.Command {
	var inputDir string
	var outputPath string
	var checkpointDir string
	var noCRF bool

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run the ensemble over every slice and write a submission CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			cfg := *loaded
			if v := strings.TrimSpace(inputDir); v != "" {
				cfg.Data.Root = v
			}
			if v := strings.TrimSpace(outputPath); v != "" {
				cfg.Output.Submission = v
			}
			if v := strings.TrimSpace(checkpointDir); v != "" {
				cfg.Model.CheckpointDir = v
			}
			if noCRF {
				cfg.CRF.Enabled = false
			}

			logger, err := ctx.logger(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			paths, err := ensemble.Discover(cfg.Model.CheckpointDir, cfg.Model.CheckpointPattern, cfg.Model.NumFolds)
			if err != nil {
				return err
			}
			members, err := ensemble.LoadAll(paths, ensemble.LoadLinearModel)
			if err != nil {
				return err
			}
			logger.Info("ensemble loaded", "checkpoints", len(paths), "dir", cfg.Model.CheckpointDir)

			slices, err := stack.Discover(cfg.Data.Root)
			if err != nil {
				return err
			}
			if len(slices) == 0 {
				return fmt.Errorf("no slices found under %s", cfg.Data.Root)
			}

			var progress io.Writer
			if cfg.Output.Verbose {
				progress = cmd.ErrOrStderr()
			}
			predictor, err := pipeline.New(&cfg, members, pipeline.Options{Logger: logger, Progress: progress})
			if err != nil {
				return err
			}

			res, err := predictor.Run(cmd.Context(), slices)
			if err != nil {
				return err
			}
			if res.Err != nil {
				logger.Warn("some slices were skipped", "run_id", res.RunID, "failed", res.Failed, "error", res.Err)
			}
			if res.Processed == 0 {
				return errors.Join(errors.New("no slice could be predicted"), res.Err)
			}

			if err := submission.Write(cfg.Output.Submission, res.Predictions); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Predicted %d slices (%d skipped) with %d models\n", res.Processed, res.Failed, len(members))
			fmt.Fprintf(out, "Submission written to %s\n", cfg.Output.Submission)
			if cfg.Output.SaveIntermediaryResults {
				fmt.Fprintf(out, "Intermediary results saved to %s\n", cfg.Output.IntermediaryDir)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&inputDir, "input", "i", "", "Directory containing caseN_dayM/scans slices (overrides data.root)")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Submission CSV path (overrides output.submission)")
	cmd.Flags().StringVar(&checkpointDir, "checkpoints", "", "Checkpoint directory (overrides model.checkpointDir)")
	cmd.Flags().BoolVar(&noCRF, "no-crf", false, "Skip CRF refinement")
	return cmd
}
