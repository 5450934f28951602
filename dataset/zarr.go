package dataset

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	zarr "github.com/qri-io/zarr-image"
	"github.com/qri-io/zarr-image/ndarray"
)

const (
	// DimensionsKey is the array attribute xarray reads dimension names from.
	DimensionsKey = "_ARRAY_DIMENSIONS"
	// CoordinatesKey lists the non-dimension coordinates of a data variable.
	CoordinatesKey = "coordinates"
)

// Encoding holds per-variable storage settings.
type Encoding struct {
	Compressor *zarr.CompressionMeta
}

// Create replaces everything in store with ds. Variables with no entry in
// enc are stored with the default compressor.
func Create(store zarr.Store, ds *Dataset, enc map[string]Encoding) error {
	if err := store.Delete(""); err != nil {
		return fmt.Errorf("clearing store: %w", err)
	}
	if err := zarr.CreateGroup(store, ""); err != nil {
		return err
	}
	if err := zarr.SetGroupAttrs(store, "", ds.groupAttrs()); err != nil {
		return err
	}

	for _, name := range ds.CoordNames() {
		if err := ds.createArray(store, name, ds.Coords[name], zarr.DefaultCompressor(), nil); err != nil {
			return err
		}
	}
	for _, name := range ds.VarNames() {
		comp := zarr.DefaultCompressor()
		if e, ok := enc[name]; ok {
			comp = e.Compressor
		}
		v := ds.Vars[name]
		if err := ds.createArray(store, name, v, comp, ds.coordinatesOf(v)); err != nil {
			return err
		}
	}

	_, err := zarr.Consolidate(store)
	return err
}

// Append extends the arrays in store along dim with the contents of ds.
// Every variable of ds must already be stored with the same dimensions;
// variables without dim are left untouched. Stored metadata is taken from
// the consolidated document, which is updated in place, so appending never
// lists the store.
func Append(store zarr.Store, ds *Dataset, dim string) error {
	cm, metas, attrs, err := readMetadata(store)
	if err != nil {
		return err
	}

	appendOne := func(name string, v *Variable) error {
		ax := v.axis(dim)
		if ax < 0 {
			return nil
		}
		meta, ok := metas[name]
		if !ok {
			return fmt.Errorf("opening %s: %w", name, zarr.ErrNotfound)
		}
		va, err := decodeAttrs(name, attrs[name])
		if err != nil {
			return err
		}
		dims, err := dimsAttr(name, va, len(meta.Shape))
		if err != nil {
			return err
		}
		if strings.Join(dims, ",") != strings.Join(v.Dims, ",") {
			return fmt.Errorf("%s is stored with dimensions %v, got %v", name, dims, v.Dims)
		}
		data, err := v.Load()
		if err != nil {
			return err
		}
		dt, err := dtypeOf(data.Kind())
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		if stored := meta.Dtype.Dtype; stored != dt {
			return fmt.Errorf("%s is stored as %s, got %s", name, stored, dt)
		}

		arr, err := zarr.OpenMeta(store, name, meta, zarr.ModeReadWrite)
		if err != nil {
			return fmt.Errorf("opening %s: %w", name, err)
		}
		shape := arr.Shape()
		count := data.Shape()
		start := make([]int, len(shape))
		for i := range shape {
			if i != ax && shape[i] != count[i] {
				return fmt.Errorf("%s: dimension %q has length %d in the store, got %d", name, v.Dims[i], shape[i], count[i])
			}
		}
		start[ax] = shape[ax]
		shape[ax] += count[ax]
		if err := arr.Resize(shape); err != nil {
			return err
		}
		if err := arr.WriteRegion(start, count, data.Bytes()); err != nil {
			return err
		}
		cm.Metadata[name+"/"+string(zarr.MTArray)] = arr.Meta()
		return nil
	}

	for _, name := range ds.CoordNames() {
		if err := appendOne(name, ds.Coords[name]); err != nil {
			return err
		}
	}
	for _, name := range ds.VarNames() {
		if err := appendOne(name, ds.Vars[name]); err != nil {
			return err
		}
	}
	return zarr.WriteConsolidated(store, cm)
}

// Open reads a dataset written by Create, using consolidated metadata when
// the store has it. Coordinates are read into memory; data variables stay
// in the store and are read with Variable.Load or Variable.Read.
func Open(store zarr.Store) (*Dataset, error) {
	_, metas, attrs, err := readMetadata(store)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(metas))
	for name := range metas {
		names = append(names, name)
	}
	sort.Strings(names)

	type entry struct {
		dims  []string
		attrs Attrs
	}
	entries := map[string]entry{}
	isCoord := map[string]bool{}
	chunks := map[string]int{}
	for _, name := range names {
		meta := metas[name]
		va, err := decodeAttrs(name, attrs[name])
		if err != nil {
			return nil, err
		}
		dims, err := dimsAttr(name, va, len(meta.Shape))
		if err != nil {
			return nil, err
		}
		if c, ok := va.Get(CoordinatesKey); ok {
			if s, ok := c.(string); ok {
				for _, cn := range strings.Fields(s) {
					isCoord[cn] = true
				}
			}
		}
		if len(dims) == 1 && dims[0] == name {
			isCoord[name] = true
		}
		va.Delete(DimensionsKey)
		va.Delete(CoordinatesKey)
		for i, d := range dims {
			if _, ok := chunks[d]; !ok && meta.Chunks[i] < meta.Shape[i] {
				chunks[d] = meta.Chunks[i]
			}
		}
		entries[name] = entry{dims: dims, attrs: va}
	}

	dataVars := map[string]*Variable{}
	coords := map[string]*Variable{}
	for _, name := range names {
		meta, e := metas[name], entries[name]
		kind, err := kindOf(meta.Dtype.Dtype)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		arr, err := zarr.OpenMeta(store, name, meta, zarr.ModeRead)
		if err != nil {
			return nil, err
		}
		v := &Variable{Dims: e.dims, Attrs: e.attrs, src: arr, kind: kind}
		if !isCoord[name] {
			dataVars[name] = v
			continue
		}
		if v.Data, err = v.Load(); err != nil {
			return nil, err
		}
		v.src = nil
		coords[name] = v
	}

	ga, err := decodeAttrs("group", attrs[""])
	if err != nil {
		return nil, err
	}
	ds, err := New(dataVars, coords, ga)
	if err != nil {
		return nil, err
	}
	ds.Chunks = chunks
	return ds, nil
}

func decodeAttrs(name string, raw json.RawMessage) (Attrs, error) {
	va := Attrs{}
	if len(raw) == 0 {
		return va, nil
	}
	if err := json.Unmarshal(raw, &va); err != nil {
		return nil, fmt.Errorf("reading %s attributes: %w", name, err)
	}
	return va, nil
}

func (ds *Dataset) createArray(store zarr.Store, name string, v *Variable, comp *zarr.CompressionMeta, coords []string) error {
	data, err := v.Load()
	if err != nil {
		return err
	}
	dt, err := dtypeOf(data.Kind())
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	shape := data.Shape()
	chunks := make([]int, len(shape))
	for i, d := range v.Dims {
		chunks[i] = shape[i]
		if n, ok := ds.Chunks[d]; ok && n > 0 && n < shape[i] {
			chunks[i] = n
		}
		if chunks[i] < 1 {
			chunks[i] = 1
		}
	}

	arr, err := zarr.Create(store, name, &zarr.ArrayMeta{
		Shape:      shape,
		Chunks:     chunks,
		Dtype:      zarr.BasicStructuredType(dt),
		Compressor: comp,
		FillValue:  fillValue(data.Kind()),
	}, zarr.ModeWrite)
	if err != nil {
		return fmt.Errorf("creating %s: %w", name, err)
	}

	attrs := Attrs{{Key: DimensionsKey, Value: v.Dims}}
	attrs = append(attrs, v.Attrs...)
	if len(coords) > 0 {
		attrs.Set(CoordinatesKey, strings.Join(coords, " "))
	}
	if err := arr.SetAttrs(attrs); err != nil {
		return err
	}
	return arr.WriteRegion(make([]int, len(shape)), shape, data.Bytes())
}

// coordinatesOf lists the non-dimension coordinates whose dimensions are all
// dimensions of v.
func (ds *Dataset) coordinatesOf(v *Variable) []string {
	var names []string
	for _, name := range ds.CoordNames() {
		c := ds.Coords[name]
		if len(c.Dims) == 1 && c.Dims[0] == name {
			continue
		}
		inside := true
		for _, d := range c.Dims {
			if v.axis(d) < 0 {
				inside = false
				break
			}
		}
		if inside {
			names = append(names, name)
		}
	}
	return names
}

func (ds *Dataset) groupAttrs() Attrs {
	if ds.Attrs == nil {
		return Attrs{}
	}
	return ds.Attrs
}

// readMetadata returns array metadata and raw attribute documents keyed by
// array path. Group attributes are keyed by "".
func readMetadata(store zarr.Store) (*zarr.ConsolidatedMetadata, map[string]*zarr.ArrayMeta, map[string]json.RawMessage, error) {
	metas := map[string]*zarr.ArrayMeta{}
	attrs := map[string]json.RawMessage{}

	cm, err := zarr.ReadConsolidated(store)
	if errors.Is(err, zarr.ErrNotfound) {
		if cm, err = scanMetadata(store); err != nil {
			return nil, nil, nil, err
		}
	} else if err != nil {
		return nil, nil, nil, err
	}

	for key, m := range cm.Metadata {
		dir, base := splitKey(key)
		switch mt := m.(type) {
		case *zarr.ArrayMeta:
			metas[dir] = mt
		case zarr.RawAttributes:
			if base == string(zarr.MTAttributes) {
				attrs[dir] = json.RawMessage(mt)
			}
		}
	}
	if len(metas) == 0 {
		return nil, nil, nil, fmt.Errorf("no arrays in store: %w", zarr.ErrNotfound)
	}
	return cm, metas, attrs, nil
}

// scanMetadata builds consolidated metadata in memory by listing the store.
func scanMetadata(store zarr.Store) (*zarr.ConsolidatedMetadata, error) {
	keys, err := store.List("")
	if err != nil {
		return nil, err
	}
	cm := &zarr.ConsolidatedMetadata{ConsolidatedFormat: 1, Metadata: map[string]zarr.MetaTyper{}}
	for _, key := range keys {
		dir, base := splitKey(key)
		switch zarr.MetaType(base) {
		case zarr.MTArray:
			arr, err := zarr.Open(store, dir, zarr.ModeRead)
			if err != nil {
				return nil, err
			}
			cm.Metadata[key] = arr.Meta()
		case zarr.MTAttributes:
			raw, err := zarr.GroupAttrs(store, dir)
			if err != nil {
				return nil, err
			}
			cm.Metadata[key] = zarr.RawAttributes(raw)
		}
	}
	return cm, nil
}

func splitKey(key string) (dir, base string) {
	i := strings.LastIndex(key, "/")
	if i < 0 {
		return "", key
	}
	return key[:i], key[i+1:]
}

func dimsAttr(name string, va Attrs, ndim int) ([]string, error) {
	raw, ok := va.Get(DimensionsKey)
	if !ok {
		return nil, fmt.Errorf("%s has no %s attribute", name, DimensionsKey)
	}
	list, ok := raw.([]interface{})
	if !ok || len(list) != ndim {
		return nil, fmt.Errorf("%s: %s must list %d names, got %v", name, DimensionsKey, ndim, raw)
	}
	dims := make([]string, len(list))
	for i, d := range list {
		s, ok := d.(string)
		if !ok {
			return nil, fmt.Errorf("%s: dimension name %v is not a string", name, d)
		}
		dims[i] = s
	}
	return dims, nil
}

func dtypeOf(k ndarray.Kind) (zarr.Dtype, error) {
	switch k {
	case ndarray.Bool:
		return zarr.DtypeBool, nil
	case ndarray.Int32:
		return zarr.DtypeInt32, nil
	case ndarray.Int64:
		return zarr.DtypeInt64, nil
	case ndarray.Float32:
		return zarr.DtypeFloat32, nil
	case ndarray.Float64:
		return zarr.DtypeFloat64, nil
	}
	return zarr.Dtype{}, fmt.Errorf("no zarr dtype for %s data", k)
}

func kindOf(dt zarr.Dtype) (ndarray.Kind, error) {
	if dt.ByteSize > 1 && dt.ByteOrder != zarr.BOLittleEndian {
		return ndarray.Invalid, fmt.Errorf("dtype %s is not little-endian", dt)
	}
	switch {
	case dt.BasicType == zarr.BTBoolean:
		return ndarray.Bool, nil
	case dt.BasicType == zarr.BTInteger && dt.ByteSize == 4:
		return ndarray.Int32, nil
	case dt.BasicType == zarr.BTInteger && dt.ByteSize == 8:
		return ndarray.Int64, nil
	case dt.BasicType == zarr.BTFloatingPoint && dt.ByteSize == 4:
		return ndarray.Float32, nil
	case dt.BasicType == zarr.BTFloatingPoint && dt.ByteSize == 8:
		return ndarray.Float64, nil
	}
	return ndarray.Invalid, fmt.Errorf("unsupported dtype %s", dt)
}

func fillValue(k ndarray.Kind) interface{} {
	switch k {
	case ndarray.Float32, ndarray.Float64:
		return zarr.FillValueNaN
	case ndarray.Bool:
		return false
	}
	return 0
}
