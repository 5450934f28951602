// Package dataset holds named, dimension-labelled arrays with coordinates
// and attributes, and persists them to zarr stores using the layout xarray
// reads and writes.
package dataset

import (
	"fmt"
	"sort"

	zarr "github.com/qri-io/zarr-image"
	"github.com/qri-io/zarr-image/ndarray"
)

// Variable is an array with named dimensions. Variables read by Open are
// backed by their stored array and have a nil Data until loaded.
type Variable struct {
	Dims  []string
	Data  *ndarray.Array
	Attrs Attrs

	src  *zarr.Array
	kind ndarray.Kind
}

// NewVariable checks that dims names every axis of data.
func NewVariable(data *ndarray.Array, dims ...string) (*Variable, error) {
	if len(dims) != data.Ndim() {
		return nil, fmt.Errorf("%d dimension names for %d-d data", len(dims), data.Ndim())
	}
	seen := map[string]bool{}
	for _, d := range dims {
		if seen[d] {
			return nil, fmt.Errorf("dimension %q repeated", d)
		}
		seen[d] = true
	}
	return &Variable{Dims: append([]string{}, dims...), Data: data}, nil
}

// Transpose reorders the variable's axes to follow order. Dimensions of the
// variable missing from order keep their relative position ahead of the
// listed ones.
func (v *Variable) Transpose(order []string) (*Variable, error) {
	rank := make(map[string]int, len(order))
	for i, d := range order {
		rank[d] = i
	}
	perm := make([]int, len(v.Dims))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		ri, iok := rank[v.Dims[perm[i]]]
		rj, jok := rank[v.Dims[perm[j]]]
		if iok != jok {
			return !iok
		}
		return ri < rj
	})
	data, err := v.Load()
	if err != nil {
		return nil, err
	}
	if data, err = data.Transpose(perm...); err != nil {
		return nil, err
	}
	dims := make([]string, len(perm))
	for i, p := range perm {
		dims[i] = v.Dims[p]
	}
	return &Variable{Dims: dims, Data: data, Attrs: v.Attrs}, nil
}

// Shape returns the length of every axis without reading stored data.
func (v *Variable) Shape() []int {
	if v.Data == nil && v.src != nil {
		return v.src.Shape()
	}
	return v.Data.Shape()
}

// Kind returns the element kind without reading stored data.
func (v *Variable) Kind() ndarray.Kind {
	if v.Data == nil && v.src != nil {
		return v.kind
	}
	return v.Data.Kind()
}

// Stored reports whether v reads its data from a store on demand.
func (v *Variable) Stored() bool { return v.Data == nil && v.src != nil }

// Load returns the whole array, reading it from the store when v is
// stored. The result is not retained by v.
func (v *Variable) Load() (*ndarray.Array, error) {
	if !v.Stored() {
		return v.Data, nil
	}
	raw, err := v.src.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", v.src.Path(), err)
	}
	return ndarray.FromBytes(v.kind, v.src.Shape(), raw)
}

// Read returns the box [start, stop) of v, reading only the chunks it
// touches when v is stored.
func (v *Variable) Read(start, stop []int) (*ndarray.Array, error) {
	if !v.Stored() {
		return v.Data.Slice(start, stop)
	}
	shape := v.src.Shape()
	if len(start) != len(shape) || len(stop) != len(shape) {
		return nil, fmt.Errorf("box %v:%v does not match %d axes", start, stop, len(shape))
	}
	count := make([]int, len(shape))
	for i := range shape {
		if start[i] < 0 || stop[i] < start[i] || stop[i] > shape[i] {
			return nil, fmt.Errorf("box %d:%d out of range on axis %d of length %d", start[i], stop[i], i, shape[i])
		}
		count[i] = stop[i] - start[i]
	}
	raw, err := v.src.ReadRegion(start, count)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", v.src.Path(), err)
	}
	return ndarray.FromBytes(v.kind, count, raw)
}

func (v *Variable) axis(dim string) int {
	for i, d := range v.Dims {
		if d == dim {
			return i
		}
	}
	return -1
}

// Dataset is a set of data variables sharing dimensions with a set of
// coordinate variables.
type Dataset struct {
	Vars   map[string]*Variable
	Coords map[string]*Variable
	Attrs  Attrs
	// Chunks maps dimension names to chunk extents used when persisting.
	// Dimensions not listed are stored as a single chunk.
	Chunks map[string]int
}

// New validates that every dimension has one length across all variables.
func New(vars, coords map[string]*Variable, attrs Attrs) (*Dataset, error) {
	ds := &Dataset{
		Vars:   map[string]*Variable{},
		Coords: map[string]*Variable{},
		Attrs:  attrs,
		Chunks: map[string]int{},
	}
	for name, v := range vars {
		ds.Vars[name] = v
	}
	for name, c := range coords {
		if _, ok := ds.Vars[name]; ok {
			return nil, fmt.Errorf("%q is both a variable and a coordinate", name)
		}
		ds.Coords[name] = c
	}
	if _, err := ds.dims(); err != nil {
		return nil, err
	}
	return ds, nil
}

// Dims returns the length of every dimension.
func (ds *Dataset) Dims() map[string]int {
	dims, _ := ds.dims()
	return dims
}

func (ds *Dataset) dims() (map[string]int, error) {
	dims := map[string]int{}
	check := func(name string, v *Variable) error {
		shape := v.Shape()
		if len(v.Dims) != len(shape) {
			return fmt.Errorf("%s: %d dimension names for %d-d data", name, len(v.Dims), len(shape))
		}
		for i, d := range v.Dims {
			if n, ok := dims[d]; ok && n != shape[i] {
				return fmt.Errorf("%s: dimension %q has length %d, elsewhere %d", name, d, shape[i], n)
			}
			dims[d] = shape[i]
		}
		return nil
	}
	for _, name := range sortedNames(ds.Vars) {
		if err := check(name, ds.Vars[name]); err != nil {
			return nil, err
		}
	}
	for _, name := range sortedNames(ds.Coords) {
		if err := check(name, ds.Coords[name]); err != nil {
			return nil, err
		}
	}
	return dims, nil
}

// VarNames lists data variable names in sorted order.
func (ds *Dataset) VarNames() []string { return sortedNames(ds.Vars) }

// CoordNames lists coordinate names in sorted order.
func (ds *Dataset) CoordNames() []string { return sortedNames(ds.Coords) }

// Chunk returns a shallow copy of ds with chunk extents set. Extents <= 0
// mean the whole dimension; unknown dimensions are ignored.
func (ds *Dataset) Chunk(chunks map[string]int) *Dataset {
	out := ds.shallow()
	dims := ds.Dims()
	for d, n := range chunks {
		if _, ok := dims[d]; !ok {
			continue
		}
		if n <= 0 {
			delete(out.Chunks, d)
			continue
		}
		out.Chunks[d] = n
	}
	return out
}

// Transpose reorders the axes of every variable and coordinate to follow
// order, which must name every dimension of ds.
func (ds *Dataset) Transpose(order ...string) (*Dataset, error) {
	listed := map[string]bool{}
	for _, d := range order {
		listed[d] = true
	}
	for d := range ds.Dims() {
		if !listed[d] {
			return nil, fmt.Errorf("transpose order %v is missing dimension %q", order, d)
		}
	}

	out := ds.shallow()
	for name, v := range ds.Vars {
		t, err := v.Transpose(order)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out.Vars[name] = t
	}
	for name, c := range ds.Coords {
		t, err := c.Transpose(order)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		out.Coords[name] = t
	}
	return out, nil
}

// Concat joins datasets along dim. Variables and coordinates without dim
// are taken from the first dataset.
func Concat(dim string, parts ...*Dataset) (*Dataset, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	first := parts[0]
	join := func(name string, get func(*Dataset) map[string]*Variable) (*Variable, error) {
		v := get(first)[name]
		ax := v.axis(dim)
		if ax < 0 {
			return v, nil
		}
		arrs := make([]*ndarray.Array, len(parts))
		for i, p := range parts {
			pv, ok := get(p)[name]
			if !ok {
				return nil, fmt.Errorf("%s missing from part %d", name, i)
			}
			if pv.axis(dim) != ax {
				return nil, fmt.Errorf("%s has dimensions %v in part %d, want %v", name, pv.Dims, i, v.Dims)
			}
			a, err := pv.Load()
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			arrs[i] = a
		}
		data, err := ndarray.Concat(ax, arrs...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return &Variable{Dims: v.Dims, Data: data, Attrs: v.Attrs}, nil
	}

	vars := map[string]*Variable{}
	for name := range first.Vars {
		v, err := join(name, func(d *Dataset) map[string]*Variable { return d.Vars })
		if err != nil {
			return nil, err
		}
		vars[name] = v
	}
	coords := map[string]*Variable{}
	for name := range first.Coords {
		c, err := join(name, func(d *Dataset) map[string]*Variable { return d.Coords })
		if err != nil {
			return nil, err
		}
		coords[name] = c
	}
	out, err := New(vars, coords, first.Attrs)
	if err != nil {
		return nil, err
	}
	for d, n := range first.Chunks {
		out.Chunks[d] = n
	}
	return out, nil
}

func (ds *Dataset) shallow() *Dataset {
	out := &Dataset{
		Vars:   make(map[string]*Variable, len(ds.Vars)),
		Coords: make(map[string]*Variable, len(ds.Coords)),
		Attrs:  ds.Attrs,
		Chunks: make(map[string]int, len(ds.Chunks)),
	}
	for k, v := range ds.Vars {
		out.Vars[k] = v
	}
	for k, v := range ds.Coords {
		out.Coords[k] = v
	}
	for k, v := range ds.Chunks {
		out.Chunks[k] = v
	}
	return out
}

func sortedNames(m map[string]*Variable) []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
