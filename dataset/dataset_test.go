package dataset

import (
	"encoding/json"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zarr "github.com/qri-io/zarr-image"
	"github.com/qri-io/zarr-image/ndarray"
)

func seq(n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(i)
	}
	return out
}

// cube builds an image over (x, y, chan, pol) with a chan coordinate and a
// two dimensional non-index coordinate over (x, y).
func cube(t *testing.T, nchan, offset int) *Dataset {
	t.Helper()
	n := 2 * 3 * nchan * 1
	d := seq(n)
	for i := range d {
		d[i] += float32(offset * 100)
	}
	img, err := NewVariable(ndarray.Must(ndarray.New(d, 2, 3, nchan, 1)), "x", "y", "chan", "pol")
	require.NoError(t, err)
	img.Attrs = Attrs{{Key: "units", Value: "Jy/beam"}}

	freqs := make([]float64, nchan)
	for i := range freqs {
		freqs[i] = 1e9 + float64(offset+i)*1e6
	}
	chanCoord, err := NewVariable(ndarray.Must(ndarray.New(freqs, nchan)), "chan")
	require.NoError(t, err)
	polCoord, err := NewVariable(ndarray.Must(ndarray.New([]float64{1}, 1)), "pol")
	require.NoError(t, err)
	ra, err := NewVariable(ndarray.Must(ndarray.New([]float64{1, 2, 3, 4, 5, 6}, 2, 3)), "x", "y")
	require.NoError(t, err)

	ds, err := New(
		map[string]*Variable{"image": img},
		map[string]*Variable{"chan": chanCoord, "pol": polCoord, "right_ascension": ra},
		Attrs{{Key: "telescope", Value: "ALMA"}, {Key: "beam", Value: []Pair{{"major", 1.5}}}},
	)
	require.NoError(t, err)
	return ds
}

func TestAttrsOrder(t *testing.T) {
	a := Attrs{}
	a.Set("zeta", 1)
	a.Set("alpha", "x")
	a.Set("zeta", 2)
	a.Set("mid", []Pair{{Key: "k", Value: "v"}})

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":2,"alpha":"x","mid":[["k","v"]]}`, string(data))

	back := Attrs{}
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, []string{"zeta", "alpha", "mid"}, back.Keys())

	back.Delete("alpha")
	assert.Equal(t, []string{"zeta", "mid"}, back.Keys())
	_, ok := back.Get("alpha")
	assert.False(t, ok)

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &back))
}

func TestNewValidatesDims(t *testing.T) {
	a, err := NewVariable(ndarray.Must(ndarray.New(seq(6), 2, 3)), "x", "y")
	require.NoError(t, err)
	b, err := NewVariable(ndarray.Must(ndarray.New(seq(4), 4)), "x")
	require.NoError(t, err)

	_, err = New(map[string]*Variable{"a": a, "b": b}, nil, nil)
	assert.Error(t, err)

	_, err = NewVariable(ndarray.Must(ndarray.New(seq(6), 2, 3)), "x")
	assert.Error(t, err)
	_, err = NewVariable(ndarray.Must(ndarray.New(seq(6), 2, 3)), "x", "x")
	assert.Error(t, err)
}

func TestTranspose(t *testing.T) {
	ds := cube(t, 4, 0)
	out, err := ds.Transpose("pol", "chan", "y", "x")
	require.NoError(t, err)

	img := out.Vars["image"]
	assert.Equal(t, []string{"pol", "chan", "y", "x"}, img.Dims)
	assert.Equal(t, []int{1, 4, 3, 2}, img.Data.Shape())
	assert.Equal(t, []string{"y", "x"}, out.Coords["right_ascension"].Dims)
	// the source is untouched
	assert.Equal(t, []string{"x", "y", "chan", "pol"}, ds.Vars["image"].Dims)

	_, err = ds.Transpose("chan", "pol")
	assert.Error(t, err, "every dimension must be named")
}

func TestChunk(t *testing.T) {
	ds := cube(t, 4, 0)
	c := ds.Chunk(map[string]int{"chan": 2, "x": -1, "nope": 7})
	assert.Equal(t, map[string]int{"chan": 2}, c.Chunks)
	assert.Empty(t, ds.Chunks)
}

func TestConcat(t *testing.T) {
	whole := cube(t, 5, 0)
	a, err := whole.Vars["image"].Data.Slice([]int{0, 0, 0, 0}, []int{2, 3, 2, 1})
	require.NoError(t, err)
	b, err := whole.Vars["image"].Data.Slice([]int{0, 0, 2, 0}, []int{2, 3, 5, 1})
	require.NoError(t, err)

	part := func(data *ndarray.Array, freqs []float64) *Dataset {
		img := &Variable{Dims: []string{"x", "y", "chan", "pol"}, Data: data}
		ch := &Variable{Dims: []string{"chan"}, Data: ndarray.Must(ndarray.New(freqs, len(freqs)))}
		ds, err := New(map[string]*Variable{"image": img}, map[string]*Variable{"chan": ch, "right_ascension": whole.Coords["right_ascension"]}, nil)
		require.NoError(t, err)
		return ds
	}
	chans, _ := ndarray.Values[float64](whole.Coords["chan"].Data)
	joined, err := Concat("chan", part(a, chans[:2]), part(b, chans[2:]))
	require.NoError(t, err)
	assert.True(t, joined.Vars["image"].Data.Equal(whole.Vars["image"].Data))
	assert.True(t, joined.Coords["chan"].Data.Equal(whole.Coords["chan"].Data))
	assert.Equal(t, 5, joined.Dims()["chan"])

	_, err = Concat("chan")
	assert.Error(t, err)
}

func TestCreateOpen(t *testing.T) {
	store := zarr.NewMemoryStore()
	require.NoError(t, store.Put("stale/.zarray", strings.NewReader("{}")))

	ds := cube(t, 4, 0).Chunk(map[string]int{"chan": 1})
	require.NoError(t, Create(store, ds, map[string]Encoding{
		"image": {Compressor: &zarr.CompressionMeta{ID: zarr.CodecGzip, Level: 5}},
	}))

	exists, err := zarr.Exists(store, "stale/.zarray")
	require.NoError(t, err)
	assert.False(t, exists, "create clears the store")

	for _, key := range []string{".zgroup", ".zattrs", ".zmetadata", "image/.zarray", "image/.zattrs", "chan/.zarray", "right_ascension/.zarray"} {
		exists, err := zarr.Exists(store, key)
		require.NoError(t, err)
		assert.True(t, exists, key)
	}

	arr, err := zarr.Open(store, "image", zarr.ModeRead)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 1, 1}, arr.Meta().Chunks)
	assert.Equal(t, zarr.CodecGzip, arr.Meta().Compressor.ID)
	assert.Equal(t, zarr.FillValueNaN, arr.Meta().FillValue)
	raw, err := arr.Attrs()
	require.NoError(t, err)
	assert.JSONEq(t, `{"_ARRAY_DIMENSIONS":["x","y","chan","pol"],"units":"Jy/beam","coordinates":"right_ascension"}`, string(raw))

	got, err := Open(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"image"}, got.VarNames())
	assert.Equal(t, []string{"chan", "pol", "right_ascension"}, got.CoordNames())
	img := got.Vars["image"]
	assert.True(t, img.Stored())
	assert.Nil(t, img.Data)
	assert.Equal(t, []int{2, 3, 4, 1}, img.Shape())
	assert.Equal(t, ndarray.Float32, img.Kind())
	data, err := img.Load()
	require.NoError(t, err)
	assert.True(t, data.Equal(ds.Vars["image"].Data))
	assert.Nil(t, img.Data, "load does not retain data")
	assert.Equal(t, Attrs{{Key: "units", Value: "Jy/beam"}}, img.Attrs)
	assert.False(t, got.Coords["chan"].Stored())
	assert.Equal(t, map[string]int{"chan": 1}, got.Chunks)

	tel, ok := got.Attrs.Get("telescope")
	assert.True(t, ok)
	assert.Equal(t, "ALMA", tel)
	beam, _ := got.Attrs.Get("beam")
	assert.Equal(t, []interface{}{[]interface{}{"major", 1.5}}, beam)
}

func TestAppend(t *testing.T) {
	store := zarr.NewMemoryStore()
	first := cube(t, 2, 0).Chunk(map[string]int{"chan": 2})
	require.NoError(t, Create(store, first, nil))
	require.NoError(t, Append(store, cube(t, 2, 2), "chan"))
	require.NoError(t, Append(store, cube(t, 1, 4), "chan"))

	got, err := Open(store)
	require.NoError(t, err)
	assert.Equal(t, 5, got.Dims()["chan"])
	freqs, ok := ndarray.Values[float64](got.Coords["chan"].Data)
	require.True(t, ok)
	assert.Equal(t, []float64{1e9, 1e9 + 1e6, 1e9 + 2e6, 1e9 + 3e6, 1e9 + 4e6}, freqs)

	// coordinates without the append dimension are written once
	assert.Equal(t, []int{2, 3}, got.Coords["right_ascension"].Data.Shape())

	data, err := got.Vars["image"].Load()
	require.NoError(t, err)
	img, _ := ndarray.Values[float32](data)
	// element (0, 0, c, 0) of each batch carries the batch offset
	assert.Equal(t, float32(0), img[0])
	assert.Equal(t, float32(200), img[2])
	assert.Equal(t, float32(400), img[4])

	cm, err := zarr.ReadConsolidated(store)
	require.NoError(t, err)
	meta := cm.Metadata["image/.zarray"].(*zarr.ArrayMeta)
	assert.Equal(t, []int{2, 3, 5, 1}, meta.Shape)

	bad := cube(t, 1, 0)
	bad.Vars["image"].Dims = []string{"y", "x", "chan", "pol"}
	assert.Error(t, Append(store, bad, "chan"))
}

// countingStore counts chunk reads and listings of the store it wraps.
type countingStore struct {
	*zarr.MemoryStore
	chunkGets int
	lists     int
}

func (s *countingStore) Get(key string) (io.ReadCloser, error) {
	if _, ok := zarr.KeyMetaType(key); !ok && key != string(zarr.MTMetadata) {
		s.chunkGets++
	}
	return s.MemoryStore.Get(key)
}

func (s *countingStore) List(prefix string) ([]string, error) {
	s.lists++
	return s.MemoryStore.List(prefix)
}

func TestOpenReadsChunksOnDemand(t *testing.T) {
	store := &countingStore{MemoryStore: zarr.NewMemoryStore()}
	ds := cube(t, 4, 0).Chunk(map[string]int{"chan": 1})
	require.NoError(t, Create(store, ds, nil))

	store.chunkGets = 0
	got, err := Open(store)
	require.NoError(t, err)
	// four chan chunks, one each for pol and right_ascension, none for the image
	assert.Equal(t, 6, store.chunkGets)

	part, err := got.Vars["image"].Read([]int{0, 0, 2, 0}, []int{2, 3, 3, 1})
	require.NoError(t, err)
	assert.Equal(t, 7, store.chunkGets, "reads only the chunk of channel 2")
	want, err := ds.Vars["image"].Data.Slice([]int{0, 0, 2, 0}, []int{2, 3, 3, 1})
	require.NoError(t, err)
	assert.True(t, part.Equal(want))

	_, err = got.Vars["image"].Read([]int{0, 0, 3, 0}, []int{2, 3, 5, 1})
	assert.Error(t, err)
	_, err = got.Vars["image"].Read([]int{0, 0}, []int{2, 3})
	assert.Error(t, err)
}

func TestAppendDoesNotList(t *testing.T) {
	store := &countingStore{MemoryStore: zarr.NewMemoryStore()}
	require.NoError(t, Create(store, cube(t, 1, 0), nil))
	assert.Equal(t, 1, store.lists, "create consolidates once")
	for i := 1; i < 4; i++ {
		require.NoError(t, Append(store, cube(t, 1, i), "chan"))
	}
	assert.Equal(t, 1, store.lists)

	cm, err := zarr.ReadConsolidated(store)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3, 4, 1}, cm.Metadata["image/.zarray"].(*zarr.ArrayMeta).Shape)
	assert.Equal(t, []int{4}, cm.Metadata["chan/.zarray"].(*zarr.ArrayMeta).Shape)
	assert.Equal(t, []int{2, 3}, cm.Metadata["right_ascension/.zarray"].(*zarr.ArrayMeta).Shape)
}

func TestOpenWithoutConsolidated(t *testing.T) {
	store := zarr.NewMemoryStore()
	require.NoError(t, Create(store, cube(t, 3, 0), nil))
	require.NoError(t, store.Delete(".zmetadata"))

	got, err := Open(store)
	require.NoError(t, err)
	assert.Equal(t, []string{"image"}, got.VarNames())
	assert.Equal(t, 3, got.Dims()["chan"])

	_, err = Open(zarr.NewMemoryStore())
	assert.ErrorIs(t, err, zarr.ErrNotfound)
}

func TestFillValues(t *testing.T) {
	mask, err := NewVariable(ndarray.Must(ndarray.New([]bool{true, false}, 2)), "chan")
	require.NoError(t, err)
	count, err := NewVariable(ndarray.Must(ndarray.New([]int32{3, 4}, 2)), "chan")
	require.NoError(t, err)
	ds, err := New(map[string]*Variable{"mask": mask, "count": count}, nil, nil)
	require.NoError(t, err)

	store := zarr.NewMemoryStore()
	require.NoError(t, Create(store, ds, nil))
	m, err := zarr.Open(store, "mask", zarr.ModeRead)
	require.NoError(t, err)
	assert.Equal(t, false, m.Meta().FillValue)
	assert.Equal(t, "|b1", m.Meta().Dtype.Dtype.String())

	got, err := Open(store)
	require.NoError(t, err)
	gotMask, err := got.Vars["mask"].Load()
	require.NoError(t, err)
	assert.True(t, gotMask.Equal(mask.Data))
	gotCount, err := got.Vars["count"].Load()
	require.NoError(t, err)
	vals, _ := ndarray.Values[int32](gotCount)
	assert.Equal(t, []int32{3, 4}, vals)
}
