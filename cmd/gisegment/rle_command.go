package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"gisegment/internal/models"
	"gisegment/pkg/rle"
	"gisegment/pkg/stack"
	"gisegment/pkg/visualization"
)

func newRLECommand() *cobra.Command {
	rleCmd := &cobra.Command{
		Use:         "rle",
		Short:       "Run-length encoding helpers for mask images",
		Annotations: map[string]string{"skipConfigLoad": "true"},
	}
	rleCmd.AddCommand(newRLEEncodeCommand())
	rleCmd.AddCommand(newRLEDecodeCommand())
	return rleCmd
}

func newRLEEncodeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "encode <mask.png>",
		Short: "Print the run-length string of a mask image (non-zero pixels are foreground)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := stack.LoadSlice(args[0])
			if err != nil {
				return err
			}
			mask := make([]uint8, len(img.Data))
			for i, v := range img.Data {
				if v != 0 {
					mask[i] = 1
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), rle.Encode(mask))
			return nil
		},
	}
}

func newRLEDecodeCommand() *cobra.Command {
	var width, height int
	var output string

	cmd := &cobra.Command{
		Use:   "decode <rle>",
		Short: "Render a run-length string as a black and white PNG",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if width <= 0 || height <= 0 {
				return fmt.Errorf("--width and --height must be positive")
			}
			mask, err := rle.Decode(args[0], height, width)
			if err != nil {
				return err
			}
			img := visualization.Labels(&models.LabelMap{Labels: mask, Width: width, Height: height})
			if err := visualization.Save(img, output); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %dx%d mask to %s\n", width, height, output)
			return nil
		},
	}

	cmd.Flags().IntVar(&width, "width", 0, "Mask width in pixels")
	cmd.Flags().IntVar(&height, "height", 0, "Mask height in pixels")
	cmd.Flags().StringVarP(&output, "output", "o", "mask.png", "Output PNG path")
	return cmd
}
