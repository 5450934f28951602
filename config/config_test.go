package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zarr "github.com/qri-io/zarr-image"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "img2zarr.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFullConfig(t *testing.T) {
	t.Setenv("IMG2ZARR_SECRET", "s3cr3t")
	path := writeTemp(t, `output: runs/cube.img.zarr
artifacts: [model, psf]
chunk_shape: [-1, -1, 4, 1]
batch_size: 8
compressor:
  id: ZSTD
  level: 5
storage:
  backend: s3
  endpoint: ${IMG2ZARR_ENDPOINT:-localhost:9000}
  bucket: images
  access_key: minio
  secret_key: ${IMG2ZARR_SECRET}
  timeout: 30s
log:
  debug: true
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "runs/cube.img.zarr", cfg.Output)
	assert.Equal(t, []string{"model", "psf"}, cfg.Artifacts)
	assert.Equal(t, []int{-1, -1, 4, 1}, cfg.ChunkShape)
	assert.Equal(t, "localhost:9000", cfg.Storage.Endpoint)
	assert.Equal(t, "s3cr3t", cfg.Storage.SecretKey)
	assert.Equal(t, 30*time.Second, cfg.Storage.Timeout.Duration)
	assert.True(t, cfg.Log.Debug)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Equal(t, 8, opts.BatchSize)
	assert.Equal(t, &zarr.CompressionMeta{ID: zarr.CodecZstd, Level: 5}, opts.Compressor)
	require.NotNil(t, opts.OpenStore)

	store, err := opts.OpenStore(cfg.Output)
	require.NoError(t, err)
	assert.Equal(t, zarr.S3StoreType, store.Type())
}

func TestLoadEmpty(t *testing.T) {
	cfg, err := Load(writeTemp(t, ""))
	require.NoError(t, err)

	opts, err := cfg.Options()
	require.NoError(t, err)
	assert.Nil(t, opts.OpenStore, "local output uses the default store")
	assert.Nil(t, opts.Compressor)
	assert.False(t, opts.InMemory)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "config file not found")

	cases := map[string]string{
		"yaml":       "output: [unclosed",
		"backend":    "storage:\n  backend: ftp\n",
		"s3 bucket":  "storage:\n  backend: s3\n  endpoint: localhost:9000\n",
		"batch":      "batch_size: -2\n",
		"compressor": "compressor:\n  id: blosc\n",
		"duration":   "storage:\n  timeout: soon\n",
	}
	for name, content := range cases {
		_, err := Load(writeTemp(t, content))
		assert.Error(t, err, name)
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("IMG2ZARR_SET", "value")
	t.Setenv("IMG2ZARR_EMPTY", "")

	cases := map[string]string{
		"${IMG2ZARR_SET}":             "value",
		"${IMG2ZARR_SET:-other}":      "value",
		"${IMG2ZARR_EMPTY:-fallback}": "fallback",
		"${IMG2ZARR_UNSET}":           "",
		"a/${IMG2ZARR_UNSET:-b}/c":    "a/b/c",
		"$IMG2ZARR_SET":               "$IMG2ZARR_SET",
	}
	for in, want := range cases {
		assert.Equal(t, want, ExpandEnv(in), in)
	}
}

func TestLoadEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("IMG2ZARR_FROM_FILE=loaded\nIMG2ZARR_KEPT=file\n"), 0o644))

	t.Setenv("IMG2ZARR_FROM_FILE", "")
	os.Unsetenv("IMG2ZARR_FROM_FILE")
	t.Setenv("IMG2ZARR_KEPT", "env")

	require.NoError(t, LoadEnv(path, filepath.Join(dir, "missing.env")))
	assert.Equal(t, "loaded", os.Getenv("IMG2ZARR_FROM_FILE"))
	assert.Equal(t, "env", os.Getenv("IMG2ZARR_KEPT"))
}
