package main

import (
	"testing"

	"github.com/urfave/cli/v2"

	"github.com/qri-io/zarr-image/config"
)

// runFlags parses args with the convert flags and applies them to cfg.
func runFlags(t *testing.T, cfg *config.Config, args ...string) {
	t.Helper()
	cmd := convertCommand()
	cmd.Action = func(c *cli.Context) error {
		applyFlags(c, cfg)
		return nil
	}
	app := &cli.App{Name: "img2zarr", Commands: []*cli.Command{cmd}}
	if err := app.Run(append([]string{"img2zarr", "convert"}, args...)); err != nil {
		t.Fatalf("running convert: %v", err)
	}
}

func TestApplyFlagsOverrideConfig(t *testing.T) {
	cfg := &config.Config{
		Output:     "from-config.zarr",
		BatchSize:  4,
		Compressor: &config.CompressorConfig{ID: "gzip", Level: 3},
	}
	runFlags(t, cfg, "--output", "from-flag.zarr", "--chunk-shape=-1,-1,2,1", "--level", "7", "cube.image")

	if cfg.Output != "from-flag.zarr" {
		t.Errorf("output = %q, want from-flag.zarr", cfg.Output)
	}
	if cfg.BatchSize != 4 {
		t.Errorf("batch size = %d, unset flags must keep config values", cfg.BatchSize)
	}
	if got := cfg.ChunkShape; len(got) != 4 || got[0] != -1 || got[2] != 2 {
		t.Errorf("chunk shape = %v", got)
	}
	if cfg.Compressor.ID != "gzip" || cfg.Compressor.Level != 7 {
		t.Errorf("compressor = %+v, want gzip level 7", cfg.Compressor)
	}
}

func TestApplyFlagsDefaults(t *testing.T) {
	cfg := &config.Config{}
	runFlags(t, cfg, "--compressor", "zlib", "--dry-run", "--artifacts", "model", "--artifacts", "psf", "cube.image")

	if cfg.Compressor == nil || cfg.Compressor.ID != "zlib" || cfg.Compressor.Level != 2 {
		t.Errorf("compressor = %+v, want zlib at the default level", cfg.Compressor)
	}
	if !cfg.InMemory {
		t.Error("dry run converts in memory")
	}
	if len(cfg.Artifacts) != 2 || cfg.Artifacts[1] != "psf" {
		t.Errorf("artifacts = %v", cfg.Artifacts)
	}
	if cfg.Output != "" {
		t.Errorf("output = %q, want empty", cfg.Output)
	}
}
