package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/example/faceshape/internal/features"
	"github.com/example/faceshape/internal/imageio"
	"github.com/example/faceshape/internal/pipeline"
)

const cliRequestID = "cli"

func (a *app) predictCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "predict <image>",
		Short: "Print the predicted face shape of one photograph as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upload, err := readUpload(args[0])
			if err != nil {
				return err
			}
			result, err := a.pipeline.Run(cmd.Context(), cliRequestID, upload)
			if err != nil {
				return describe(args[0], err)
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(result)
		},
	}
}

func (a *app) featuresCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "features <image>",
		Short: "Print the geometric feature vector of one photograph",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			upload, err := readUpload(args[0])
			if err != nil {
				return err
			}
			ex, err := a.pipeline.Extract(cmd.Context(), cliRequestID, upload)
			if err != nil {
				return describe(args[0], err)
			}

			if asJSON {
				named := make(map[string]float64, features.Size)
				for i, name := range features.Names {
					named[name] = ex.Features[i]
				}
				return json.NewEncoder(cmd.OutOrStdout()).Encode(named)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			for i, name := range features.Names {
				fmt.Fprintf(w, "%d\t%s\t%.6f\n", i, name, ex.Features[i])
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print a JSON object keyed by feature name")
	return cmd
}

type batchLine struct {
	File       string   `json:"file"`
	Label      string   `json:"label,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
	Error      string   `json:"error,omitempty"`
	Code       string   `json:"code,omitempty"`
}

func (a *app) batchCmd() *cobra.Command {
	var quiet bool
	cmd := &cobra.Command{
		Use:   "batch <dir>",
		Short: "Predict every image in a directory, one JSON line per file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			files, err := imageFiles(args[0])
			if err != nil {
				return err
			}
			if len(files) == 0 {
				return fmt.Errorf("no images found in %s", args[0])
			}

			bar := progressbar.NewOptions(len(files),
				progressbar.OptionSetDescription("predicting"),
				progressbar.OptionSetWriter(cmd.ErrOrStderr()),
				progressbar.OptionShowCount(),
				progressbar.OptionSetVisibility(!quiet),
			)

			enc := json.NewEncoder(cmd.OutOrStdout())
			var failed int
			for _, path := range files {
				if err := cmd.Context().Err(); err != nil {
					return err
				}
				line := a.predictFile(cmd, path)
				if line.Error != "" {
					failed++
				}
				if err := enc.Encode(line); err != nil {
					return err
				}
				_ = bar.Add(1)
			}
			_ = bar.Finish()

			if failed == len(files) {
				return fmt.Errorf("all %d images failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Hide the progress bar")
	return cmd
}

func (a *app) predictFile(cmd *cobra.Command, path string) batchLine {
	line := batchLine{File: path}
	upload, err := readUpload(path)
	if err != nil {
		line.Error, line.Code = err.Error(), string(pipeline.KindUnreadableImage)
		return line
	}
	result, err := a.pipeline.Run(cmd.Context(), cliRequestID, upload)
	if err != nil {
		kind := pipeline.KindOf(err)
		line.Error, line.Code = kind.Message(), string(kind)
		return line
	}
	line.Label, line.Confidence = result.Label, result.Confidence
	return line
}

// imageFiles lists image files directly inside dir, sorted by name.
func imageFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !imageio.HasImageExtension(e.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}
