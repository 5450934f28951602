package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qri-io/zarr-image/legacy"
	"github.com/qri-io/zarr-image/ndarray"
)

// identity returns pixel positions unchanged and records every call.
type identity struct {
	calls [][][]float64
}

func (t *identity) ToWorld(pixels [][]float64) ([][]float64, error) {
	t.calls = append(t.calls, pixels)
	out := make([][]float64, len(pixels))
	for i, p := range pixels {
		out[i] = append([]float64{}, p...)
	}
	return out, nil
}

var (
	cubeNames = []string{"Right Ascension", "Declination", "Frequency", "Stokes"}
	cubeUnits = []string{"rad", "rad", "Hz", ""}
)

func TestNormalizeAxisName(t *testing.T) {
	cases := map[string]string{
		"Right Ascension": "right_ascension",
		"Frequency":       "chan",
		"Stokes":          "pol",
		"Linear":          "linear",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeAxisName(in), in)
	}
}

func TestResolveCoordsGrid(t *testing.T) {
	tr := &identity{}
	res, err := ResolveCoords(tr, cubeNames, cubeUnits, []int{4, 3, 5, 2})
	require.NoError(t, err)

	assert.Equal(t, []string{"d0", "d1", "chan", "pol"}, res.Dims)
	require.Len(t, res.Coords, 4)

	ra := res.Coords["right_ascension"]
	dec := res.Coords["declination"]
	assert.Equal(t, []string{"d0", "d1"}, ra.Dims)
	assert.Equal(t, []int{4, 3}, ra.Data.Shape())
	assert.Equal(t, []int{4, 3}, dec.Data.Shape())

	// with an identity transform the joint grid gives back pixel indices
	raVals, _ := ndarray.Values[float64](ra.Data)
	decVals, _ := ndarray.Values[float64](dec.Data)
	for i := 0; i < 4; i++ {
		for j := 0; j < 3; j++ {
			assert.Equal(t, float64(i), raVals[i*3+j])
			assert.Equal(t, float64(j), decVals[i*3+j])
		}
	}

	chans, _ := ndarray.Values[float64](res.Coords["chan"].Data)
	assert.Equal(t, []float64{0, 1, 2, 3, 4}, chans)
	assert.Equal(t, []string{"pol"}, res.Coords["pol"].Dims)

	// one joint call for the sky plane, then one sweep per other axis
	require.Len(t, tr.calls, 3)
	assert.Len(t, tr.calls[0][0], 12)
	for _, p := range tr.calls[0][2] {
		assert.Zero(t, p, "non-angular axes stay at pixel 0 in the sky grid")
	}
	assert.Len(t, tr.calls[1][2], 5)
	assert.Len(t, tr.calls[2][3], 2)
}

func TestResolveCoordsMissingUnits(t *testing.T) {
	res, err := ResolveCoords(&identity{}, cubeNames, nil, []int{4, 3, 5, 2})
	require.NoError(t, err)
	assert.Equal(t, []string{"right_ascension", "declination", "chan", "pol"}, res.Dims)
	assert.Equal(t, []string{"right_ascension"}, res.Coords["right_ascension"].Dims)

	_, err = ResolveCoords(&identity{}, cubeNames[:2], cubeUnits, []int{4, 3, 5, 2})
	assert.Error(t, err)
}

func TestResolveCoordsDeterministic(t *testing.T) {
	wcs, err := legacy.NewWCS(testAxes()...)
	require.NoError(t, err)
	other, err := legacy.NewWCS(
		legacy.Axis{CType: "RA---TAN", Unit: "deg", RefVal: 10, RefPix: 1, Delta: 0.1},
		legacy.Axis{CType: "DEC--TAN", Unit: "deg", RefVal: 20, RefPix: 1, Delta: 0.1},
		legacy.Axis{CType: "FREQ", Unit: "Hz", RefVal: 2e9, RefPix: 1, Delta: 1e3},
		legacy.Axis{CType: "STOKES", RefVal: 1, RefPix: 1, Delta: 1},
	)
	require.NoError(t, err)
	shape := []int{4, 3, 5, 2}

	first, err := ResolveCoords(wcs, cubeNames, cubeUnits, shape)
	require.NoError(t, err)
	_, err = ResolveCoords(other, cubeNames, cubeUnits, shape)
	require.NoError(t, err)
	second, err := ResolveCoords(wcs, cubeNames, cubeUnits, shape)
	require.NoError(t, err)

	for name, c := range first.Coords {
		assert.Equal(t, c.Data.Bytes(), second.Coords[name].Data.Bytes(), name)
	}

	chans, _ := ndarray.Values[float64](first.Coords["chan"].Data)
	assert.Equal(t, []float64{1e9, 1e9 + 1e6, 1e9 + 2e6, 1e9 + 3e6, 1e9 + 4e6}, chans)
}
