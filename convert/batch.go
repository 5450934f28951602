package convert

import (
	"context"
	"fmt"
	"sort"

	zarr "github.com/qri-io/zarr-image"
	"github.com/qri-io/zarr-image/dataset"
	"github.com/qri-io/zarr-image/legacy"
	"github.com/qri-io/zarr-image/log"
	"github.com/qri-io/zarr-image/ndarray"
)

// Batch is the half-open channel range [Start, Start+Size).
type Batch struct {
	Start int
	Size  int
}

// channelBatches splits n channels into ascending batches of at most size
// channels. A size <= 0 gives a single batch.
func channelBatches(n, size int) []Batch {
	if size <= 0 || size > n {
		size = n
	}
	if n == 0 {
		return []Batch{{}}
	}
	batches := make([]Batch, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		sz := size
		if start+sz > n {
			sz = n - start
		}
		batches = append(batches, Batch{Start: start, Size: sz})
	}
	return batches
}

// Write records one persisted batch.
type Write struct {
	// Mode is "create", "append" or "memory".
	Mode  string
	Start int
	Size  int
}

// sink receives assembled batches in channel order.
type sink interface {
	write(ds *dataset.Dataset, b Batch, first bool) (Write, error)
	result() (*dataset.Dataset, error)
}

// storeSink persists the first batch as a new dataset and appends the rest
// along the channel dimension.
type storeSink struct {
	store      zarr.Store
	compressor *zarr.CompressionMeta
}

func (s *storeSink) write(ds *dataset.Dataset, b Batch, first bool) (Write, error) {
	if first {
		enc := map[string]dataset.Encoding{}
		for name := range ds.Vars {
			enc[name] = dataset.Encoding{Compressor: s.compressor}
		}
		if err := dataset.Create(s.store, ds, enc); err != nil {
			return Write{}, newError(ErrStoreWrite, "create", "", err)
		}
		return Write{Mode: "create", Start: b.Start, Size: b.Size}, nil
	}
	if err := dataset.Append(s.store, ds, chanDim); err != nil {
		return Write{}, newError(ErrStoreWrite, "append", "", err)
	}
	return Write{Mode: "append", Start: b.Start, Size: b.Size}, nil
}

func (s *storeSink) result() (*dataset.Dataset, error) {
	ds, err := dataset.Open(s.store)
	if err != nil {
		return nil, newError(ErrStoreWrite, "reopen", "", err)
	}
	return ds, nil
}

// memorySink keeps every batch and joins them at the end.
type memorySink struct {
	parts []*dataset.Dataset
}

func (s *memorySink) write(ds *dataset.Dataset, b Batch, first bool) (Write, error) {
	s.parts = append(s.parts, ds)
	return Write{Mode: "memory", Start: b.Start, Size: b.Size}, nil
}

func (s *memorySink) result() (*dataset.Dataset, error) {
	if len(s.parts) == 1 {
		return s.parts[0], nil
	}
	return dataset.Concat(chanDim, s.parts...)
}

// BatchWriter reads the compatible artifacts one channel batch at a time
// and hands each assembled batch to its sink.
type BatchWriter struct {
	opener    legacy.Opener
	prefix    string
	part      *Partition
	chunks    []int
	batchSize int
	sink      sink
	log       *log.Logger
}

// Run processes every batch in ascending channel order. It stops at the
// first failure, and between batches when ctx is done.
func (w *BatchWriter) Run(ctx context.Context) (*dataset.Dataset, []Write, error) {
	ref := w.part.Reference
	chanAxis := indexOf(ref.Dims, chanDim)
	nchan := 0
	if chanAxis >= 0 {
		nchan = ref.Shape[chanAxis]
	}

	var writes []Write
	for i, b := range channelBatches(nchan, w.batchSize) {
		if err := ctx.Err(); err != nil {
			return nil, writes, fmt.Errorf("interrupted after %d batches: %w", i, err)
		}
		w.log.Debug("processing channels", map[string]any{"start": b.Start, "size": b.Size, "channels": nchan})

		ds, err := w.assemble(b, chanAxis)
		if err != nil {
			return nil, writes, err
		}
		wr, err := w.sink.write(ds, b, i == 0)
		if err != nil {
			return nil, writes, err
		}
		writes = append(writes, wr)
	}

	ds, err := w.sink.result()
	return ds, writes, err
}

// assemble reads batch b from every compatible artifact and builds the
// chunked, reordered record for it.
func (w *BatchWriter) assemble(b Batch, chanAxis int) (*dataset.Dataset, error) {
	ref := w.part.Reference
	vars := map[string]*dataset.Variable{}
	maskFrom := ""
	for _, typ := range w.part.Compatible {
		if err := w.readArtifact(typ, b, vars, &maskFrom); err != nil {
			return nil, err
		}
	}

	coords := map[string]*dataset.Variable{}
	for name, c := range ref.Coords {
		ax := indexOf(c.Dims, chanDim)
		if ax < 0 || chanAxis < 0 {
			coords[name] = c
			continue
		}
		sliced, err := sliceAxis(c.Data, ax, b)
		if err != nil {
			return nil, fmt.Errorf("slicing coordinate %s: %w", name, err)
		}
		coords[name] = &dataset.Variable{Dims: c.Dims, Data: sliced, Attrs: c.Attrs}
	}

	ds, err := dataset.New(vars, coords, ref.Attrs)
	if err != nil {
		return nil, newError(ErrShapeIncompatible, "assemble", "", err)
	}

	chunking := map[string]int{}
	for i, d := range ref.Dims {
		if i < len(w.chunks) && w.chunks[i] > 0 {
			chunking[d] = w.chunks[i]
		}
	}
	ds = ds.Chunk(chunking)

	dims := ds.Dims()
	if _, ok := dims[polDim]; !ok {
		return ds, nil
	}
	return ds.Transpose(dimOrder(ref.Dims, dims)...)
}

// readArtifact reads batch b of artifact typ into vars. The artifact is
// open only for the duration of the call.
func (w *BatchWriter) readArtifact(typ string, b Batch, vars map[string]*dataset.Variable, maskFrom *string) error {
	meta := w.part.Metas[typ]
	start, stop := batchBox(meta, b)

	h, err := w.opener.Open(artifactPath(w.prefix, typ))
	if err != nil {
		return newError(ErrReadFailure, "open", typ, err)
	}
	defer h.Close()

	data, err := h.GetChunk(start, stop, false)
	if err != nil {
		return newError(ErrReadFailure, "read", typ, err)
	}

	ref := w.part.Reference
	switch typ {
	case maskArtifact:
		vars[deconvolveVar] = &dataset.Variable{Dims: ref.Dims, Data: data.NotZero()}
	case sumwtArtifact:
		v, err := squeezeSumwt(meta.Dims, data)
		if err != nil {
			return newError(ErrReadFailure, "reshape", typ, err)
		}
		vars[sumwtArtifact] = v
		// the validity mask of sumwt does not share the image dimensions
		return nil
	default:
		vars[variableName(typ)] = &dataset.Variable{Dims: ref.Dims, Data: data}
	}

	if !meta.HasMask {
		return nil
	}
	mask, err := h.GetChunk(start, stop, true)
	if err != nil {
		return newError(ErrReadFailure, "read mask", typ, err)
	}
	if mask.Kind() != ndarray.Bool {
		mask = mask.NotZero()
	}
	if prev, ok := vars[maskVar]; ok {
		if !prev.Data.Equal(mask) {
			w.log.Warn("discarding validity mask", map[string]any{"artifact": typ, "kept": *maskFrom})
		}
		return nil
	}
	vars[maskVar] = &dataset.Variable{Dims: ref.Dims, Data: mask}
	*maskFrom = typ
	return nil
}

// batchBox selects batch b along the artifact's channel axis and the whole
// extent of every other axis.
func batchBox(meta *Metadata, b Batch) (start, stop []int) {
	start = make([]int, len(meta.Shape))
	stop = make([]int, len(meta.Shape))
	for i := range start {
		start[i], stop[i] = -1, -1
	}
	if ax := indexOf(meta.Dims, chanDim); ax >= 0 {
		start[ax], stop[ax] = b.Start, b.Start+b.Size
	}
	return start, stop
}

// squeezeSumwt drops the degenerate axes of a sum of weights artifact and
// lays the rest out as (pol, chan).
func squeezeSumwt(dims []string, data *ndarray.Array) (*dataset.Variable, error) {
	shape := data.Shape()
	var drop []int
	var kept []string
	for i, d := range dims {
		if d != chanDim && d != polDim && shape[i] == 1 {
			drop = append(drop, i)
			continue
		}
		kept = append(kept, d)
	}
	if len(drop) > 0 {
		var err error
		if data, err = data.Squeeze(drop...); err != nil {
			return nil, err
		}
	}
	v := &dataset.Variable{Dims: kept, Data: data}
	return v.Transpose([]string{polDim, chanDim})
}

// dimOrder orders dimensions as the reference does, with chan and pol
// moved last.
func dimOrder(refDims []string, dims map[string]int) []string {
	order := make([]string, 0, len(dims))
	listed := map[string]bool{chanDim: true, polDim: true}
	for _, d := range refDims {
		if !listed[d] {
			order = append(order, d)
			listed[d] = true
		}
	}
	var rest []string
	for d := range dims {
		if !listed[d] {
			rest = append(rest, d)
		}
	}
	sort.Strings(rest)
	order = append(order, rest...)
	if _, ok := dims[chanDim]; ok {
		order = append(order, chanDim)
	}
	return append(order, polDim)
}

func sliceAxis(a *ndarray.Array, axis int, b Batch) (*ndarray.Array, error) {
	shape := a.Shape()
	start := make([]int, len(shape))
	stop := append([]int{}, shape...)
	start[axis], stop[axis] = b.Start, b.Start+b.Size
	return a.Slice(start, stop)
}

func indexOf(list []string, s string) int {
	for i, v := range list {
		if v == s {
			return i
		}
	}
	return -1
}
