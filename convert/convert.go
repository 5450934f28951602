// Package convert turns a legacy radio image and the artifacts stored next
// to it into one chunked zarr dataset.
//
// Conversion runs in three steps. Candidate artifacts are discovered and
// partitioned by pixel shape against a reference (the input itself when it
// can be read). The compatible artifacts are then read one channel batch at
// a time, shaped into named variables sharing the reference coordinates, and
// written: the first batch creates the store, later batches append along
// the chan dimension. Finally the written store is reopened and returned.
//
// A failed conversion leaves a store that must be treated as incomplete.
package convert

import (
	"context"
	"time"

	zarr "github.com/qri-io/zarr-image"
	"github.com/qri-io/zarr-image/dataset"
	"github.com/qri-io/zarr-image/legacy"
	"github.com/qri-io/zarr-image/log"
)

// DefaultChunkShape keeps the whole sky plane in one chunk with one channel
// and one polarization per chunk.
var DefaultChunkShape = []int{-1, -1, 1, 1}

// Options configure a conversion. The zero value converts to a local store
// next to the input.
type Options struct {
	// Output is the destination path. Defaults to the input prefix with
	// OutputSuffix appended.
	Output string
	// Artifacts overrides DefaultArtifacts. The input's own type is always
	// considered first.
	Artifacts []string
	// Compressor encodes data variables. Defaults to zarr.DefaultCompressor.
	Compressor *zarr.CompressionMeta
	// ChunkShape gives a chunk extent per reference axis, in reference axis
	// order. Entries <= 0 keep the whole axis in one chunk. Defaults to
	// DefaultChunkShape.
	ChunkShape []int
	// BatchSize is the number of channels read per batch. When unset, batches
	// follow the channel chunk extent, or span the whole axis in memory.
	BatchSize int
	// InMemory skips writing and returns the dataset held in memory.
	InMemory bool
	// OpenStore returns the destination store for Output. Defaults to a
	// zarr.LocalStore rooted at Output.
	OpenStore func(output string) (zarr.Store, error)
	// Opener reads the artifacts. Defaults to legacy.FileOpener.
	Opener legacy.Opener
	Logger *log.Logger
}

// Result describes a finished conversion.
type Result struct {
	Dataset *dataset.Dataset
	// Output is the destination path, empty when held in memory.
	Output string
	// Present lists artifact types found next to the input.
	Present []string
	// Compatible lists the artifact types in the output.
	Compatible []string
	// Incompatible lists artifact types excluded for their shape.
	Incompatible []string
	// IncompatibleMeta holds the metadata of each incompatible artifact.
	IncompatibleMeta []*Metadata
	// Skipped lists present artifacts that could not be opened, or whose
	// output variable was taken by an earlier artifact.
	Skipped []string
	// Warnings holds the non-fatal problems behind Incompatible, Skipped and
	// missing candidates.
	Warnings []error
	Writes   []Write
	Elapsed  time.Duration
}

// Convert converts the legacy image at infile. When persisting, anything
// stored at the output is destroyed first, but only after a reference
// artifact has been found. A sum of weights artifact never establishes the
// reference, so a run where only sumwt opens fails with
// ErrNoCompatibleArtifacts.
//
// A persisted result is backed by the written store: coordinates are in
// memory and data variables are read with Variable.Load or Variable.Read.
func Convert(ctx context.Context, infile string, opts Options) (*Result, error) {
	begin := time.Now()
	infile, err := expandHome(infile)
	if err != nil {
		return nil, err
	}
	prefix, suffix, err := splitInput(infile)
	if err != nil {
		return nil, err
	}

	output := opts.Output
	if output == "" {
		output = prefix + OutputSuffix
	} else if output, err = expandHome(output); err != nil {
		return nil, err
	}
	if opts.InMemory {
		output = ""
	}

	opener := opts.Opener
	if opener == nil {
		opener = legacy.FileOpener{}
	}
	compressor := opts.Compressor
	if compressor == nil {
		compressor = zarr.DefaultCompressor()
	}
	if err := compressor.Validate(); err != nil {
		return nil, err
	}
	chunks := opts.ChunkShape
	if chunks == nil {
		chunks = DefaultChunkShape
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.With(map[string]string{"input": infile, "output": output})
	logger.Info("converting image", nil)

	part, err := PartitionArtifacts(opener, prefix, suffix, opts.Artifacts, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("partitioned artifacts", map[string]any{
		"compatible":   part.Compatible,
		"incompatible": part.Incompatible,
	})

	res := &Result{
		Output:           output,
		Present:          part.Present,
		Compatible:       part.Compatible,
		Incompatible:     part.Incompatible,
		IncompatibleMeta: part.IncompatibleMeta,
		Warnings:         part.Warnings(),
	}
	for _, s := range part.Skipped {
		res.Skipped = append(res.Skipped, s.Type)
	}

	w := &BatchWriter{
		opener:    opener,
		prefix:    prefix,
		part:      part,
		chunks:    chunks,
		batchSize: batchSize(opts, part.Reference, chunks),
		log:       logger,
	}
	if opts.InMemory {
		w.sink = &memorySink{}
	} else {
		openStore := opts.OpenStore
		if openStore == nil {
			openStore = openLocalStore
		}
		store, err := openStore(output)
		if err != nil {
			return nil, newError(ErrStoreWrite, "open store", "", err)
		}
		w.sink = &storeSink{store: store, compressor: compressor}
	}

	res.Dataset, res.Writes, err = w.Run(ctx)
	if err != nil {
		logger.Error("conversion failed", map[string]any{"error": err.Error(), "batches": len(res.Writes)})
		return nil, err
	}

	res.Elapsed = time.Since(begin)
	logger.Info("converted image", map[string]any{
		"shape":   part.Reference.Shape,
		"batches": len(res.Writes),
		"seconds": res.Elapsed.Seconds(),
	})
	return res, nil
}

// batchSize picks the number of channels per batch.
func batchSize(opts Options, ref *Metadata, chunks []int) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	if opts.InMemory {
		return 0
	}
	if ax := indexOf(ref.Dims, chanDim); ax >= 0 && ax < len(chunks) && chunks[ax] > 0 {
		return chunks[ax]
	}
	return 0
}

func openLocalStore(output string) (zarr.Store, error) {
	return zarr.NewLocalStore(output)
}
