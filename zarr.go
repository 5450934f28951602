// Package zarr reads and writes zarr v2 hierarchies: groups, N-dimensional
// chunked arrays and their metadata, over pluggable key/value stores.
package zarr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// Version is the current version of this library.
	Version = "0.1.0"

	// chunkCacheSize bounds the number of decoded chunks kept per array.
	chunkCacheSize = 64
)

type Array struct {
	path  Path
	store Store
	mode  PersistenceMode
	meta  *ArrayMeta
	cache *lru.Cache[string, []byte]
}

// Create writes array metadata at path and returns the array. Existing data
// at path is removed first when mode is ModeWrite; ModeWriteFail refuses to
// replace an existing array.
func Create(store Store, path string, m *ArrayMeta, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if m.ZarrFormat == 0 {
		m.ZarrFormat = FormatVersion
	}
	if m.Order == "" {
		m.Order = "C"
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	mp := p.Join(string(MTArray)).String()
	switch mode {
	case ModeWrite:
		if err := store.Delete(p.String()); err != nil {
			return nil, err
		}
	case ModeWriteFail:
		exists, err := Exists(store, mp)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, fmt.Errorf("array already exists at %q", p)
		}
	default:
		return nil, fmt.Errorf("cannot create array in mode %q", mode)
	}

	a, err := newArray(store, p, mode, m)
	if err != nil {
		return nil, err
	}
	if err := writeJSON(store, mp, m); err != nil {
		return nil, err
	}
	return a, nil
}

// Open loads the array at path, which must exist. mode only controls
// whether the returned array accepts writes.
func Open(store Store, path string, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	data, err := readKey(store, p.Join(string(MTArray)).String())
	if err != nil {
		return nil, err
	}
	meta := &ArrayMeta{}
	if err := json.Unmarshal(data, meta); err != nil {
		return nil, fmt.Errorf("reading %s metadata: %w", p, err)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("array %s: %w", p, err)
	}
	return newArray(store, p, mode, meta)
}

// OpenMeta wraps already-loaded metadata, e.g. from consolidated metadata,
// without reading the .zarray key.
func OpenMeta(store Store, path string, meta *ArrayMeta, mode PersistenceMode) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("array %s: %w", p, err)
	}
	return newArray(store, p, mode, meta)
}

func newArray(store Store, p Path, mode PersistenceMode, meta *ArrayMeta) (*Array, error) {
	cache, err := lru.New[string, []byte](chunkCacheSize)
	if err != nil {
		return nil, err
	}
	return &Array{
		path:  p,
		store: store,
		mode:  mode,
		meta:  meta,
		cache: cache,
	}, nil
}

func (a *Array) Info() string {
	return fmt.Sprintf("<zarr.Array %q shape=%v chunks=%v dtype=%s>", a.Path(), a.meta.Shape, a.meta.Chunks, a.meta.Dtype.Dtype)
}

func (a *Array) Path() string {
	return a.path.String()
}

func (a *Array) Meta() *ArrayMeta { return a.meta }

func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

func (a *Array) itemsize() int { return a.meta.Dtype.Dtype.ByteSize }

func (a *Array) writable() error {
	if a.mode == ModeRead {
		return fmt.Errorf("array %q is read only", a.Path())
	}
	return nil
}

// Resize changes the array shape. Chunks that fall outside the new shape are
// not removed; shrinking is only used to roll back appends.
func (a *Array) Resize(shape []int) error {
	if err := a.writable(); err != nil {
		return err
	}
	if len(shape) != len(a.meta.Shape) {
		return fmt.Errorf("cannot resize %v to %v: rank differs", a.meta.Shape, shape)
	}
	a.meta.Shape = append([]int(nil), shape...)
	return writeJSON(a.store, a.path.Join(string(MTArray)).String(), a.meta)
}

// Attrs reads the array's .zattrs document. A missing document is empty.
func (a *Array) Attrs() (json.RawMessage, error) {
	data, err := readKey(a.store, a.path.Join(string(MTAttributes)).String())
	if errors.Is(err, ErrNotfound) {
		return json.RawMessage("{}"), nil
	}
	return data, err
}

// SetAttrs replaces the array's .zattrs document.
func (a *Array) SetAttrs(v interface{}) error {
	if err := a.writable(); err != nil {
		return err
	}
	return writeJSON(a.store, a.path.Join(string(MTAttributes)).String(), v)
}

// WriteRegion writes data, a C-ordered buffer of shape count encoded with
// the array dtype, into the box starting at start. Chunks only partly covered
// by the box are merged with their stored content.
func (a *Array) WriteRegion(start, count []int, data []byte) error {
	if err := a.writable(); err != nil {
		return err
	}
	if want := product(count) * a.itemsize(); len(data) != want {
		return fmt.Errorf("region %v needs %d bytes, got %d", count, want, len(data))
	}
	projs, err := projectRegion(a.meta.Shape, a.meta.Chunks, start, count)
	if err != nil {
		return err
	}

	for _, p := range projs {
		var chunk []byte
		if p.covers(a.meta.Chunks) {
			chunk = make([]byte, product(a.meta.Chunks)*a.itemsize())
		} else if chunk, err = a.loadChunk(p.ChunkCoords); err != nil {
			return err
		}
		copyBox(chunk, a.meta.Chunks, p.ChunkSelection, data, count, p.OutSelection, p.Count, a.itemsize())
		if err := a.storeChunk(p.ChunkCoords, chunk); err != nil {
			return err
		}
	}
	return nil
}

// ReadRegion returns the C-ordered bytes of the box [start, start+count).
func (a *Array) ReadRegion(start, count []int) ([]byte, error) {
	projs, err := projectRegion(a.meta.Shape, a.meta.Chunks, start, count)
	if err != nil {
		return nil, err
	}
	out := make([]byte, product(count)*a.itemsize())
	for _, p := range projs {
		chunk, err := a.loadChunk(p.ChunkCoords)
		if err != nil {
			return nil, err
		}
		copyBox(out, count, p.OutSelection, chunk, a.meta.Chunks, p.ChunkSelection, p.Count, a.itemsize())
	}
	return out, nil
}

// ReadAll returns the whole array as C-ordered bytes.
func (a *Array) ReadAll() ([]byte, error) {
	return a.ReadRegion(make([]int, len(a.meta.Shape)), a.meta.Shape)
}

// loadChunk returns a private copy of the decoded chunk, or a fill-valued
// chunk when the key does not exist.
func (a *Array) loadChunk(ix []int) ([]byte, error) {
	key := a.chunkPath(ix).String()
	if cached, ok := a.cache.Get(key); ok {
		return append([]byte(nil), cached...), nil
	}

	size := product(a.meta.Chunks) * a.itemsize()
	r, err := a.store.Get(key)
	if errors.Is(err, ErrNotfound) {
		return a.fillChunk(size)
	}
	if err != nil {
		return nil, err
	}
	chunk, err := a.meta.Compressor.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %s: %w", key, err)
	}
	if len(chunk) != size {
		return nil, fmt.Errorf("chunk %s has %d bytes, want %d", key, len(chunk), size)
	}
	a.cache.Add(key, chunk)
	return append([]byte(nil), chunk...), nil
}

func (a *Array) storeChunk(ix []int, chunk []byte) error {
	key := a.chunkPath(ix).String()
	enc, err := a.meta.Compressor.Encode(chunk)
	if err != nil {
		return fmt.Errorf("encoding chunk %s: %w", key, err)
	}
	if err := a.store.Put(key, bytes.NewReader(enc)); err != nil {
		a.cache.Remove(key)
		return err
	}
	a.cache.Add(key, chunk)
	return nil
}

func (a *Array) fillChunk(size int) ([]byte, error) {
	fill, err := a.meta.Dtype.Dtype.FillBytes(a.meta.FillValue)
	if err != nil {
		return nil, err
	}
	return bytes.Repeat(fill, size/len(fill)), nil
}

func (a *Array) chunkPath(ix []int) Path {
	if len(ix) == 0 {
		return a.path.Join("0")
	}
	sep := a.meta.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(ix))
	for i, v := range ix {
		parts[i] = strconv.Itoa(v)
	}
	return a.path.Join(strings.Join(parts, sep))
}

type PersistenceMode string

const (
	// Persistence mode:
	// ‘r’ means read only (must exist);
	ModeRead PersistenceMode = "r"
	//‘r+’ means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
	// ‘a’ means read/write (create if doesn’t exist)
	ModeReadWriteCreate PersistenceMode = "a"
	// ‘w’ means create (overwrite if exists)
	ModeWrite PersistenceMode = "w"
	// ‘w-’ means create (fail if exists).
	ModeWriteFail PersistenceMode = "w-"
)

// Arrays can be organized into groups which can also contain other groups.
// A group is created by storing group ArrayMeta under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func (Group) MetaType() MetaType { return MTGroup }

// CreateGroup writes a .zgroup key at path.
func CreateGroup(store Store, path string) error {
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	return writeJSON(store, p.Join(string(MTGroup)).String(), Group{ZarrFormat: FormatVersion})
}

// GroupAttrs reads the .zattrs document of the group at path. A missing
// document is empty.
func GroupAttrs(store Store, path string) (json.RawMessage, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	data, err := readKey(store, p.Join(string(MTAttributes)).String())
	if errors.Is(err, ErrNotfound) {
		return json.RawMessage("{}"), nil
	}
	return data, err
}

// SetGroupAttrs replaces the .zattrs document of the group at path.
func SetGroupAttrs(store Store, path string, v interface{}) error {
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	return writeJSON(store, p.Join(string(MTAttributes)).String(), v)
}

type Path []string

// NewPath normalizes a logical path: backslashes become forward slashes,
// leading and trailing slashes are stripped and repeated slashes collapse.
// The root path is empty.
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, `\`, "/")
	var p Path
	for _, el := range strings.Split(posix, "/") {
		switch el {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("invalid path segment %q in %q", el, posix)
		}
		p = append(p, el)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, "/")
}

func (p Path) Join(elems ...string) Path {
	out := make(Path, 0, len(p)+len(elems))
	out = append(out, p...)
	return append(out, elems...)
}
