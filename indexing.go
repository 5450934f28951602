package zarr

import "fmt"

// A mapping of items from chunk to output array. Can be used to extract items
// from the chunk array for loading into an output array. Can also be used to
// extract items from a value array for setting/updating in a chunk array.
type chunkProjection struct {
	// Indices of chunk
	ChunkCoords []int
	// Start of the selection within the chunk, per axis.
	ChunkSelection []int
	// Start of the selection within the region (output) array, per axis.
	OutSelection []int
	// Number of items selected on each axis.
	Count []int
}

// covers reports whether the projection selects the whole chunk.
func (p chunkProjection) covers(chunks []int) bool {
	for i, c := range chunks {
		if p.ChunkSelection[i] != 0 || p.Count[i] != c {
			return false
		}
	}
	return true
}

// projectRegion lists every chunk overlapped by the box [start, start+count)
// of an array with the given shape and chunk extents, in C order of chunk
// coordinates.
func projectRegion(shape, chunks, start, count []int) ([]chunkProjection, error) {
	n := len(shape)
	if len(chunks) != n || len(start) != n || len(count) != n {
		return nil, fmt.Errorf("region rank mismatch: shape %v, chunks %v, start %v, count %v", shape, chunks, start, count)
	}
	lo := make([]int, n)
	hi := make([]int, n)
	for i := 0; i < n; i++ {
		if start[i] < 0 || count[i] < 0 || start[i]+count[i] > shape[i] {
			return nil, fmt.Errorf("region out of bounds on axis %d: start=%d count=%d size=%d", i, start[i], count[i], shape[i])
		}
		if count[i] == 0 {
			return nil, nil
		}
		lo[i] = start[i] / chunks[i]
		hi[i] = (start[i] + count[i] - 1) / chunks[i]
	}

	var projs []chunkProjection
	forEachIndex(lo, hi, func(ix []int) {
		p := chunkProjection{
			ChunkCoords:    append([]int(nil), ix...),
			ChunkSelection: make([]int, n),
			OutSelection:   make([]int, n),
			Count:          make([]int, n),
		}
		for i := 0; i < n; i++ {
			cStart := ix[i] * chunks[i]
			from := max(start[i], cStart)
			to := min(start[i]+count[i], cStart+chunks[i])
			p.ChunkSelection[i] = from - cStart
			p.OutSelection[i] = from - start[i]
			p.Count[i] = to - from
		}
		projs = append(projs, p)
	})
	return projs, nil
}

// forEachIndex calls fn for every index vector between lo and hi inclusive,
// last axis fastest. fn must not retain ix.
func forEachIndex(lo, hi []int, fn func(ix []int)) {
	n := len(lo)
	ix := append([]int(nil), lo...)
	if n == 0 {
		fn(ix)
		return
	}
	for {
		fn(ix)
		i := n - 1
		for ; i >= 0; i-- {
			ix[i]++
			if ix[i] <= hi[i] {
				break
			}
			ix[i] = lo[i]
		}
		if i < 0 {
			return
		}
	}
}

// copyBox copies a count-shaped box of itemsize-byte elements from src
// (shape srcShape, box origin srcStart) to dst (shape dstShape, origin
// dstStart). Both buffers are C ordered.
func copyBox(dst []byte, dstShape, dstStart []int, src []byte, srcShape, srcStart []int, count []int, itemsize int) {
	n := len(count)
	if n == 0 {
		copy(dst[:itemsize], src[:itemsize])
		return
	}
	for _, c := range count {
		if c == 0 {
			return
		}
	}
	dstStrides := strides(dstShape)
	srcStrides := strides(srcShape)
	run := count[n-1] * itemsize

	lo := make([]int, n-1)
	hi := make([]int, n-1)
	for i := range hi {
		hi[i] = count[i] - 1
	}
	forEachIndex(lo, hi, func(ix []int) {
		d, s := dstStart[n-1], srcStart[n-1]
		for i, v := range ix {
			d += (dstStart[i] + v) * dstStrides[i]
			s += (srcStart[i] + v) * srcStrides[i]
		}
		copy(dst[d*itemsize:d*itemsize+run], src[s*itemsize:s*itemsize+run])
	})
}

func strides(shape []int) []int {
	st := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		st[i] = acc
		acc *= shape[i]
	}
	return st
}

func product(shape []int) int {
	p := 1
	for _, s := range shape {
		p *= s
	}
	return p
}
