package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/example/faceshape/internal/artifact"
	"github.com/example/faceshape/internal/config"
	"github.com/example/faceshape/internal/logging"
	"github.com/example/faceshape/internal/pipeline"
)

// Version is the application version.
const Version = "0.3.0"

// pipelineFactory builds the pipeline for a command run. The returned func releases
// anything the pipeline holds open.
type pipelineFactory func(ctx context.Context) (*pipeline.Pipeline, func() error, error)

// loadPipeline reads the environment configuration and loads every artifact.
func loadPipeline(ctx context.Context) (*pipeline.Pipeline, func() error, error) {
	cfg, err := config.LoadCLI()
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}

	loader := artifact.NewFiles(cfg.Artifacts, logger)
	set, err := artifact.Load(ctx, loader)
	if err != nil {
		loader.Close()
		return nil, nil, err
	}

	root := cfg.WorkspaceDir
	if root == "" {
		root = filepath.Join(os.TempDir(), "faceshapectl")
	}
	p := pipeline.New(set.Detector, set.Scaler, set.Classifier, logger, pipeline.WithWorkspaceRoot(root))
	release := func() error {
		defer logger.Sync() //nolint:errcheck
		return loader.Close()
	}
	return p, release, nil
}

type app struct {
	newPipeline pipelineFactory
	pipeline    *pipeline.Pipeline
	release     func() error
}

func newRootCmd(factory pipelineFactory) *cobra.Command {
	a := &app{newPipeline: factory}

	root := &cobra.Command{
		Use:           "faceshapectl",
		Short:         "Predict face shapes from photographs",
		Long:          "Runs the face-shape pipeline locally. Artifacts are located with the same environment variables as the server.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			p, release, err := a.newPipeline(cmd.Context())
			if err != nil {
				return fmt.Errorf("load pipeline: %w", err)
			}
			a.pipeline, a.release = p, release
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.release == nil {
				return nil
			}
			return a.release()
		},
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(a.predictCmd(), a.featuresCmd(), a.batchCmd())
	return root
}

func readUpload(path string) (*pipeline.Upload, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &pipeline.Upload{Filename: filepath.Base(path), Data: data}, nil
}

// describe turns a pipeline failure into a single line for the terminal.
func describe(path string, err error) error {
	kind := pipeline.KindOf(err)
	if kind == pipeline.KindInternal {
		return fmt.Errorf("%s: %w", path, err)
	}
	return fmt.Errorf("%s: %s (%s)", path, kind.Message(), kind)
}
