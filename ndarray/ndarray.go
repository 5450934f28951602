// Package ndarray implements dense, C-ordered N-dimensional arrays of the
// handful of element types zarr-image reads from legacy images and writes to
// zarr stores.
package ndarray

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Kind identifies the element type of an Array.
type Kind int

const (
	Invalid Kind = iota
	Bool
	Int32
	Int64
	Float32
	Float64
)

func (k Kind) String() string {
	switch k {
	case Bool:
		return "bool"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	}
	return "invalid"
}

// ItemSize is the encoded size of one element in bytes.
func (k Kind) ItemSize() int {
	switch k {
	case Bool:
		return 1
	case Int32, Float32:
		return 4
	case Int64, Float64:
		return 8
	}
	return 0
}

// Element is the set of Go types an Array can hold.
type Element interface {
	bool | int32 | int64 | float32 | float64
}

// Array is an N-dimensional array stored in row-major order. Arrays are
// treated as immutable: every operation returns a new Array, though Reshape
// and Squeeze share the underlying buffer.
type Array struct {
	shape []int
	data  interface{}
}

// New wraps data as an array of the given shape. The length of data must
// equal the product of shape.
func New[T Element](data []T, shape ...int) (*Array, error) {
	for _, s := range shape {
		if s < 0 {
			return nil, fmt.Errorf("negative dimension in shape %v", shape)
		}
	}
	if product(shape) != len(data) {
		return nil, fmt.Errorf("cannot shape %d elements as %v", len(data), shape)
	}
	return &Array{shape: append([]int{}, shape...), data: data}, nil
}

// Must panics if err is non-nil. It is intended for literals in tests and
// package-level variables.
func Must(a *Array, err error) *Array {
	if err != nil {
		panic(err)
	}
	return a
}

// Zeros returns a zero-valued array of kind k.
func Zeros(k Kind, shape ...int) (*Array, error) {
	n := product(shape)
	switch k {
	case Bool:
		return New(make([]bool, n), shape...)
	case Int32:
		return New(make([]int32, n), shape...)
	case Int64:
		return New(make([]int64, n), shape...)
	case Float32:
		return New(make([]float32, n), shape...)
	case Float64:
		return New(make([]float64, n), shape...)
	}
	return nil, fmt.Errorf("unsupported kind %s", k)
}

// Values returns the backing slice of a when its element type is T.
func Values[T Element](a *Array) ([]T, bool) {
	v, ok := a.data.([]T)
	return v, ok
}

func (a *Array) Kind() Kind {
	switch a.data.(type) {
	case []bool:
		return Bool
	case []int32:
		return Int32
	case []int64:
		return Int64
	case []float32:
		return Float32
	case []float64:
		return Float64
	}
	return Invalid
}

func (a *Array) Shape() []int { return append([]int{}, a.shape...) }

func (a *Array) Ndim() int { return len(a.shape) }

// Size is the number of elements.
func (a *Array) Size() int { return product(a.shape) }

func (a *Array) String() string {
	return fmt.Sprintf("ndarray<%s %v>", a.Kind(), a.shape)
}

// Float64s returns a copy of the elements converted to float64. Booleans
// convert to 0 and 1.
func (a *Array) Float64s() []float64 {
	out := make([]float64, a.Size())
	switch d := a.data.(type) {
	case []bool:
		for i, v := range d {
			if v {
				out[i] = 1
			}
		}
	case []int32:
		for i, v := range d {
			out[i] = float64(v)
		}
	case []int64:
		for i, v := range d {
			out[i] = float64(v)
		}
	case []float32:
		for i, v := range d {
			out[i] = float64(v)
		}
	case []float64:
		copy(out, d)
	}
	return out
}

// NotZero returns a boolean array that is true wherever a is non-zero. NaN
// counts as non-zero.
func (a *Array) NotZero() *Array {
	out := make([]bool, a.Size())
	switch d := a.data.(type) {
	case []bool:
		copy(out, d)
	case []int32:
		for i, v := range d {
			out[i] = v != 0
		}
	case []int64:
		for i, v := range d {
			out[i] = v != 0
		}
	case []float32:
		for i, v := range d {
			out[i] = v != 0
		}
	case []float64:
		for i, v := range d {
			out[i] = v != 0
		}
	}
	return &Array{shape: a.Shape(), data: out}
}

// Reshape returns a view of a with a new shape. At most one dimension may be
// -1, in which case it is inferred.
func (a *Array) Reshape(shape ...int) (*Array, error) {
	shape = append([]int{}, shape...)
	infer := -1
	known := 1
	for i, s := range shape {
		switch {
		case s == -1 && infer < 0:
			infer = i
		case s < 0:
			return nil, fmt.Errorf("invalid shape %v", shape)
		default:
			known *= s
		}
	}
	if infer >= 0 {
		if known == 0 || a.Size()%known != 0 {
			return nil, fmt.Errorf("cannot reshape %v into %v", a.shape, shape)
		}
		shape[infer] = a.Size() / known
	}
	if product(shape) != a.Size() {
		return nil, fmt.Errorf("cannot reshape %v into %v", a.shape, shape)
	}
	return &Array{shape: shape, data: a.data}, nil
}

// Squeeze drops the given axes, which must have length one. With no
// arguments every length-one axis is dropped.
func (a *Array) Squeeze(axes ...int) (*Array, error) {
	drop := make(map[int]bool, len(axes))
	if len(axes) == 0 {
		for i, s := range a.shape {
			if s == 1 {
				drop[i] = true
			}
		}
	}
	for _, ax := range axes {
		if ax < 0 || ax >= len(a.shape) {
			return nil, fmt.Errorf("axis %d out of range for shape %v", ax, a.shape)
		}
		if a.shape[ax] != 1 {
			return nil, fmt.Errorf("cannot squeeze axis %d of length %d", ax, a.shape[ax])
		}
		drop[ax] = true
	}
	shape := make([]int, 0, len(a.shape))
	for i, s := range a.shape {
		if !drop[i] {
			shape = append(shape, s)
		}
	}
	return &Array{shape: shape, data: a.data}, nil
}

// Transpose permutes the axes of a: axis i of the result is axis perm[i] of
// a.
func (a *Array) Transpose(perm ...int) (*Array, error) {
	n := len(a.shape)
	if len(perm) != n {
		return nil, fmt.Errorf("permutation %v does not match %d axes", perm, n)
	}
	seen := make([]bool, n)
	src := strides(a.shape)
	shape := make([]int, n)
	st := make([]int, n)
	for i, p := range perm {
		if p < 0 || p >= n || seen[p] {
			return nil, fmt.Errorf("invalid permutation %v", perm)
		}
		seen[p] = true
		shape[i] = a.shape[p]
		st[i] = src[p]
	}
	return a.gather(shape, offsets(shape, st, 0)), nil
}

// Slice returns a copy of the box [start, stop) of a.
func (a *Array) Slice(start, stop []int) (*Array, error) {
	n := len(a.shape)
	if len(start) != n || len(stop) != n {
		return nil, fmt.Errorf("slice bounds %v:%v do not match %d axes", start, stop, n)
	}
	st := strides(a.shape)
	shape := make([]int, n)
	base := 0
	for i := range a.shape {
		if start[i] < 0 || start[i] > stop[i] || stop[i] > a.shape[i] {
			return nil, fmt.Errorf("slice %d:%d out of range on axis %d of length %d", start[i], stop[i], i, a.shape[i])
		}
		shape[i] = stop[i] - start[i]
		base += start[i] * st[i]
	}
	return a.gather(shape, offsets(shape, st, base)), nil
}

// Concat joins arrays along axis. All arrays must share kind and every
// dimension except axis.
func Concat(axis int, arrs ...*Array) (*Array, error) {
	if len(arrs) == 0 {
		return nil, fmt.Errorf("nothing to concatenate")
	}
	first := arrs[0]
	if axis < 0 || axis >= first.Ndim() {
		return nil, fmt.Errorf("axis %d out of range for shape %v", axis, first.shape)
	}
	shape := first.Shape()
	shape[axis] = 0
	for _, a := range arrs {
		if a.Kind() != first.Kind() {
			return nil, fmt.Errorf("cannot concatenate %s with %s", a.Kind(), first.Kind())
		}
		if a.Ndim() != first.Ndim() {
			return nil, fmt.Errorf("cannot concatenate shapes %v and %v", first.shape, a.shape)
		}
		for i, s := range a.shape {
			if i != axis && s != first.shape[i] {
				return nil, fmt.Errorf("cannot concatenate shapes %v and %v along axis %d", first.shape, a.shape, axis)
			}
		}
		shape[axis] += a.shape[axis]
	}

	out, err := Zeros(first.Kind(), shape...)
	if err != nil {
		return nil, err
	}
	st := strides(shape)
	at := 0
	for _, a := range arrs {
		out.scatter(offsets(a.shape, st, at*st[axis]), a)
		at += a.shape[axis]
	}
	return out, nil
}

// Equal reports whether a and b have the same kind, shape and element bits.
// NaNs with identical bits compare equal.
func (a *Array) Equal(b *Array) bool {
	if a.Kind() != b.Kind() || a.Ndim() != b.Ndim() {
		return false
	}
	for i := range a.shape {
		if a.shape[i] != b.shape[i] {
			return false
		}
	}
	ab, bb := a.Bytes(), b.Bytes()
	if len(ab) != len(bb) {
		return false
	}
	for i := range ab {
		if ab[i] != bb[i] {
			return false
		}
	}
	return true
}

// Bytes encodes the elements little-endian in C order.
func (a *Array) Bytes() []byte {
	out := make([]byte, a.Size()*a.Kind().ItemSize())
	le := binary.LittleEndian
	switch d := a.data.(type) {
	case []bool:
		for i, v := range d {
			if v {
				out[i] = 1
			}
		}
	case []int32:
		for i, v := range d {
			le.PutUint32(out[i*4:], uint32(v))
		}
	case []int64:
		for i, v := range d {
			le.PutUint64(out[i*8:], uint64(v))
		}
	case []float32:
		for i, v := range d {
			le.PutUint32(out[i*4:], math.Float32bits(v))
		}
	case []float64:
		for i, v := range d {
			le.PutUint64(out[i*8:], math.Float64bits(v))
		}
	}
	return out
}

// FromBytes decodes little-endian C-ordered elements of kind k.
func FromBytes(k Kind, shape []int, b []byte) (*Array, error) {
	n := product(shape)
	if size := k.ItemSize(); size == 0 || len(b) != n*size {
		return nil, fmt.Errorf("cannot decode %d bytes as %s%v", len(b), k, shape)
	}
	le := binary.LittleEndian
	switch k {
	case Bool:
		d := make([]bool, n)
		for i := range d {
			d[i] = b[i] != 0
		}
		return New(d, shape...)
	case Int32:
		d := make([]int32, n)
		for i := range d {
			d[i] = int32(le.Uint32(b[i*4:]))
		}
		return New(d, shape...)
	case Int64:
		d := make([]int64, n)
		for i := range d {
			d[i] = int64(le.Uint64(b[i*8:]))
		}
		return New(d, shape...)
	case Float32:
		d := make([]float32, n)
		for i := range d {
			d[i] = math.Float32frombits(le.Uint32(b[i*4:]))
		}
		return New(d, shape...)
	default:
		d := make([]float64, n)
		for i := range d {
			d[i] = math.Float64frombits(le.Uint64(b[i*8:]))
		}
		return New(d, shape...)
	}
}

func (a *Array) gather(shape, idx []int) *Array {
	out := &Array{shape: shape}
	switch d := a.data.(type) {
	case []bool:
		out.data = take(d, idx)
	case []int32:
		out.data = take(d, idx)
	case []int64:
		out.data = take(d, idx)
	case []float32:
		out.data = take(d, idx)
	case []float64:
		out.data = take(d, idx)
	}
	return out
}

// scatter writes the elements of src to the flat positions idx of a. The
// kinds must match.
func (a *Array) scatter(idx []int, src *Array) {
	switch d := a.data.(type) {
	case []bool:
		put(d, idx, src.data.([]bool))
	case []int32:
		put(d, idx, src.data.([]int32))
	case []int64:
		put(d, idx, src.data.([]int64))
	case []float32:
		put(d, idx, src.data.([]float32))
	case []float64:
		put(d, idx, src.data.([]float64))
	}
}

func take[T Element](src []T, idx []int) []T {
	out := make([]T, len(idx))
	for i, j := range idx {
		out[i] = src[j]
	}
	return out
}

func put[T Element](dst []T, idx []int, src []T) {
	for i, j := range idx {
		dst[j] = src[i]
	}
}

// offsets lists, in C order over shape, the flat offsets base + sum(ix*st).
func offsets(shape, st []int, base int) []int {
	n := product(shape)
	out := make([]int, 0, n)
	if n == 0 {
		return out
	}
	ix := make([]int, len(shape))
	off := base
	for {
		out = append(out, off)
		i := len(shape) - 1
		for ; i >= 0; i-- {
			ix[i]++
			off += st[i]
			if ix[i] < shape[i] {
				break
			}
			off -= st[i] * ix[i]
			ix[i] = 0
		}
		if i < 0 {
			return out
		}
	}
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
