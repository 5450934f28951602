// Package main provides the img2zarr CLI entrypoint.
//
// Usage:
//
//	img2zarr convert [options] <image>
//	img2zarr version
//
// Exit codes for convert:
//   - 0: success
//   - 1: conversion or usage error
//   - 2: no compatible artifacts, nothing written
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/qri-io/zarr-image/config"
	"github.com/qri-io/zarr-image/convert"
	"github.com/qri-io/zarr-image/log"
)

// version and commit are set via ldflags at build time.
var (
	version = "0.1.0"
	commit  = "unknown"
)

const (
	exitFailure      = 1
	exitNoArtifacts  = 2
	defaultConfigEnv = "IMG2ZARR_CONFIG"
)

func main() {
	app := &cli.App{
		Name:           "img2zarr",
		Usage:          "Convert legacy radio images and their artifacts to zarr",
		Version:        fmt.Sprintf("%s (commit: %s)", version, commit),
		ExitErrHandler: exitErrHandler,
		Commands: []*cli.Command{
			convertCommand(),
			versionCommand(),
		},
	}

	if err := app.Run(os.Args); err != nil {
		os.Exit(exitFailure)
	}
}

// exitErrHandler preserves exit codes from cli.Exit.
func exitErrHandler(_ *cli.Context, err error) {
	if err == nil {
		return
	}
	var exitCoder cli.ExitCoder
	if errors.As(err, &exitCoder) {
		code := exitCoder.ExitCode()
		if msg := exitCoder.Error(); msg != "" && msg != fmt.Sprintf("exit status %d", code) {
			fmt.Fprintln(os.Stderr, msg)
		}
		os.Exit(code)
	}
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitFailure)
}

func convertCommand() *cli.Command {
	return &cli.Command{
		Name:      "convert",
		Usage:     "Convert an image and the artifacts next to it into one zarr store",
		ArgsUsage: "<image>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a YAML config file",
				EnvVars: []string{defaultConfigEnv},
			},
			&cli.StringSliceFlag{
				Name:  "env-file",
				Usage: "Load environment variables from these files (default .env)",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output path (default: input prefix + .img.zarr)",
			},
			&cli.StringSliceFlag{
				Name:  "artifacts",
				Usage: "Artifact types to look for after the input's own type",
			},
			&cli.IntSliceFlag{
				Name:  "chunk-shape",
				Usage: "Chunk extent per image axis, <= 0 keeps the whole axis (e.g. --chunk-shape=-1,-1,1,1)",
			},
			&cli.IntFlag{
				Name:  "batch-size",
				Usage: "Channels read per batch (default: the channel chunk extent)",
			},
			&cli.StringFlag{
				Name:  "compressor",
				Usage: "Data variable codec: zstd, gzip or zlib",
			},
			&cli.IntFlag{
				Name:  "level",
				Usage: "Compression level",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "Convert in memory and report without writing",
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Log per-batch progress",
			},
		},
		Action: convertAction,
	}
}

func convertAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("convert takes exactly one image path", exitFailure)
	}
	if err := config.LoadEnv(c.StringSlice("env-file")...); err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}

	cfg := &config.Config{}
	if path := c.String("config"); path != "" {
		var err error
		if cfg, err = config.Load(path); err != nil {
			return cli.Exit(err.Error(), exitFailure)
		}
	}
	applyFlags(c, cfg)

	opts, err := cfg.Options()
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	logger := log.New(log.Options{
		Output: os.Stderr,
		Debug:  cfg.Log.Debug,
		Fields: map[string]string{"cmd": "convert"},
	})
	defer logger.Sync()
	opts.Logger = logger

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := convert.Convert(ctx, c.Args().First(), opts)
	if errors.Is(err, convert.ErrNoCompatibleArtifacts) {
		return cli.Exit(err.Error(), exitNoArtifacts)
	}
	if err != nil {
		return cli.Exit(err.Error(), exitFailure)
	}
	for _, w := range res.Warnings {
		logger.Sugar().Warnf("%v", w)
	}
	return printSummary(res)
}

// applyFlags overrides config values with the flags set on the command line.
func applyFlags(c *cli.Context, cfg *config.Config) {
	if c.IsSet("output") {
		cfg.Output = c.String("output")
	}
	if c.IsSet("artifacts") {
		cfg.Artifacts = c.StringSlice("artifacts")
	}
	if c.IsSet("chunk-shape") {
		cfg.ChunkShape = c.IntSlice("chunk-shape")
	}
	if c.IsSet("batch-size") {
		cfg.BatchSize = c.Int("batch-size")
	}
	if c.IsSet("compressor") || c.IsSet("level") {
		if cfg.Compressor == nil {
			cfg.Compressor = &config.CompressorConfig{ID: "zstd", Level: 2}
		}
		if c.IsSet("compressor") {
			cfg.Compressor.ID = c.String("compressor")
		}
		if c.IsSet("level") {
			cfg.Compressor.Level = c.Int("level")
		}
	}
	if c.IsSet("dry-run") {
		cfg.InMemory = c.Bool("dry-run")
	}
	if c.IsSet("debug") {
		cfg.Log.Debug = c.Bool("debug")
	}
}

type summary struct {
	Output       string         `json:"output,omitempty"`
	Compatible   []string       `json:"compatible"`
	Incompatible []string       `json:"incompatible,omitempty"`
	Skipped      []string       `json:"skipped,omitempty"`
	Variables    []string       `json:"variables"`
	Dims         map[string]int `json:"dims"`
	Batches      int            `json:"batches"`
	Seconds      float64        `json:"seconds"`
}

func printSummary(res *convert.Result) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary{
		Output:       res.Output,
		Compatible:   res.Compatible,
		Incompatible: res.Incompatible,
		Skipped:      res.Skipped,
		Variables:    res.Dataset.VarNames(),
		Dims:         res.Dataset.Dims(),
		Batches:      len(res.Writes),
		Seconds:      res.Elapsed.Seconds(),
	})
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			enc := json.NewEncoder(os.Stdout)
			return enc.Encode(map[string]string{"version": version, "commit": commit})
		},
	}
}
