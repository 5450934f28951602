package legacy

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/qri-io/zarr-image/ndarray"
)

func testAxes() []Axis {
	return []Axis{
		{CType: "RA---SIN", Unit: "deg", RefVal: 180, RefPix: 3, Delta: -1.0 / 3600},
		{CType: "DEC--SIN", Unit: "deg", RefVal: -30, RefPix: 2, Delta: 1.0 / 3600},
		{CType: "FREQ", Unit: "Hz", RefVal: 1e9, RefPix: 1, Delta: 1e6},
		{CType: "STOKES", RefVal: 1, RefPix: 1, Delta: 1},
	}
}

func testCube(t *testing.T, shape ...int) *ndarray.Array {
	t.Helper()
	n := 1
	for _, s := range shape {
		n *= s
	}
	d := make([]float32, n)
	for i := range d {
		d[i] = float32(i)
	}
	a, err := ndarray.New(d, shape...)
	if err != nil {
		t.Fatal(err)
	}
	return a
}

func TestWCSReferencePixel(t *testing.T) {
	w, err := NewWCS(testAxes()...)
	if err != nil {
		t.Fatal(err)
	}
	world, err := w.ToWorld([][]float64{{2, 3}, {1, 1}, {0, 4}, {0, 1}})
	if err != nil {
		t.Fatal(err)
	}

	near := func(got, want float64) bool { return math.Abs(got-want) < 1e-12 }
	if !near(world[0][0], math.Pi) || !near(world[1][0], -math.Pi/6) {
		t.Errorf("reference pixel: got (%v, %v)", world[0][0], world[1][0])
	}
	// one pixel east at the same latitude moves RA down by about 1"/cos(dec)
	wantDRA := -(1.0 / 3600) * math.Pi / 180 / math.Cos(math.Pi/6)
	if d := world[0][1] - world[0][0]; math.Abs(d-wantDRA) > 1e-10 {
		t.Errorf("ra step: got %v, want %v", d, wantDRA)
	}
	if world[2][1] != 1e9+4e6 {
		t.Errorf("frequency: got %v", world[2][1])
	}
	if world[3][1] != 2 {
		t.Errorf("stokes: got %v", world[3][1])
	}
}

func TestWCSValidation(t *testing.T) {
	if _, err := NewWCS(Axis{CType: "RA---SIN"}, Axis{CType: "FREQ"}); err == nil {
		t.Error("expected unpaired celestial axis error")
	}
	if _, err := NewWCS(Axis{CType: "RA---AIT"}, Axis{CType: "DEC--AIT"}); err == nil {
		t.Error("expected unsupported projection error")
	}
	w, err := NewWCS(Axis{CType: "RA---TAN"}, Axis{CType: "DEC--TAN"})
	if err != nil {
		t.Fatal(err)
	}
	if w.Axes[0].Name != "Right Ascension" || w.Axes[1].WorldUnit() != AngularUnit {
		t.Errorf("unexpected axes %+v", w.Axes)
	}
}

func TestRecord(t *testing.T) {
	r := Record{
		{Key: "b", Value: Number(1)},
		{Key: "beam", Value: Beam(0.25, 0.125, 10)},
	}
	r.Set("a", String("x"))
	r.Set("b", Bool(true))

	data, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	want := `{"b":true,"beam":{"major":{"unit":"arcsec","value":900},"minor":{"unit":"arcsec","value":450},"positionangle":{"unit":"deg","value":10}},"a":"x"}`
	if string(data) != want {
		t.Errorf("got %s\nwant %s", data, want)
	}

	flat := r.Flatten(".")
	var keys []string
	for _, f := range flat {
		keys = append(keys, f.Key)
	}
	wantKeys := []string{"b", "beam.major.unit", "beam.major.value", "beam.minor.unit", "beam.minor.value", "beam.positionangle.unit", "beam.positionangle.value", "a"}
	if !reflect.DeepEqual(keys, wantKeys) {
		t.Errorf("flatten: got %v", keys)
	}
}

func writeTestFITS(t *testing.T, data *ndarray.Array, extra ...Card) string {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := WriteFITS(buf, testAxes(), data, extra...); err != nil {
		t.Fatal(err)
	}
	if buf.Len()%fitsBlock != 0 {
		t.Fatalf("file is not block aligned: %d bytes", buf.Len())
	}
	path := filepath.Join(t.TempDir(), "cube.fits")
	if err := os.WriteFile(path, buf.Bytes(), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFITSRoundTrip(t *testing.T) {
	cube := testCube(t, 5, 4, 3, 2)
	path := writeTestFITS(t, cube,
		Card{Key: "BUNIT", Value: "Jy/beam"},
		Card{Key: "BMAJ", Value: 2.0 / 3600},
		Card{Key: "BMIN", Value: 1.0 / 3600},
		Card{Key: "BPA", Value: 45.0},
		Card{Key: "OBJECT", Value: "M87", Comment: "target"},
		Card{Key: "TELESCOP", Value: "ALMA"},
		Card{Key: "HISTORY", Comment: "written by tests"},
	)

	op := FileOpener{}
	if !op.Exists(path) || op.Exists(path+".missing") {
		t.Fatal("Exists disagrees with the filesystem")
	}
	if _, err := op.Open(path + ".missing"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}

	h, err := op.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	if got := h.Shape(); !reflect.DeepEqual(got, []int{5, 4, 3, 2}) {
		t.Fatalf("shape: got %v", got)
	}

	all, err := h.GetChunk([]int{-1, -1, -1, -1}, []int{-1, -1, -1, -1}, false)
	if err != nil {
		t.Fatal(err)
	}
	if !all.Equal(cube) {
		t.Error("full read differs from written data")
	}

	part, err := h.GetChunk([]int{1, -1, 1, 0}, []int{4, -1, 3, 2}, false)
	if err != nil {
		t.Fatal(err)
	}
	want, err := cube.Slice([]int{1, 0, 1, 0}, []int{4, 4, 3, 2})
	if err != nil {
		t.Fatal(err)
	}
	if !part.Equal(want) {
		t.Error("region read differs from slice of written data")
	}

	mask, err := h.GetChunk([]int{0, 0, 0, 0}, []int{1, 1, 1, 1}, true)
	if err != nil {
		t.Fatal(err)
	}
	if v, _ := ndarray.Values[bool](mask); len(v) != 1 || !v[0] {
		t.Errorf("mask: got %v", v)
	}

	s, err := h.Summary()
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(s.AxisNames, []string{"Right Ascension", "Declination", "Frequency", "Stokes"}) {
		t.Errorf("axis names: got %v", s.AxisNames)
	}
	if !reflect.DeepEqual(s.AxisUnits, []string{"rad", "rad", "Hz", ""}) {
		t.Errorf("axis units: got %v", s.AxisUnits)
	}
	if !reflect.DeepEqual(s.Masks, []string{"mask0"}) {
		t.Errorf("float images carry a NaN mask, got %v", s.Masks)
	}
	if len(s.Messages) != 1 || !strings.Contains(s.Messages[0], "Object name         : M87") {
		t.Errorf("messages: got %q", s.Messages)
	}
	beam, ok := s.Fields.Get("restoringbeam")
	if !ok || beam.Kind() != RecordValue {
		t.Fatalf("restoring beam: got %v", beam)
	}
	if unit, _ := s.Fields.Get("unit"); unit.Str() != "Jy/beam" {
		t.Errorf("unit: got %v", unit)
	}

	if err := h.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := h.GetChunk([]int{0, 0, 0, 0}, []int{1, 1, 1, 1}, false); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestFITSBlankMask(t *testing.T) {
	d := []int32{1, -99, 3, 4, -99, 6}
	cube := ndarray.Must(ndarray.New(d, 3, 2, 1, 1))
	path := writeTestFITS(t, cube, Card{Key: "BLANK", Value: -99})

	h, err := FileOpener{}.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer h.Close()

	mask, err := h.GetChunk([]int{-1, -1, -1, -1}, []int{-1, -1, -1, -1}, true)
	if err != nil {
		t.Fatal(err)
	}
	got, _ := ndarray.Values[bool](mask)
	if want := []bool{true, false, true, true, false, true}; !reflect.DeepEqual(got, want) {
		t.Errorf("mask: got %v, want %v", got, want)
	}

	pix, err := h.GetChunk([]int{-1, -1, -1, -1}, []int{-1, -1, -1, -1}, false)
	if err != nil {
		t.Fatal(err)
	}
	if pix.Kind() != ndarray.Int32 || !pix.Equal(cube) {
		t.Errorf("pixels: got %s %v", pix, pix.Float64s())
	}
}

func TestMemoryOpener(t *testing.T) {
	im, err := NewMemoryImage(testCube(t, 2, 2, 3, 1), testAxes()...)
	if err != nil {
		t.Fatal(err)
	}
	op := NewMemoryOpener()
	op.Add("img.image", im)

	h1, err := op.Open("img.image")
	if err != nil {
		t.Fatal(err)
	}
	h2, err := op.Open("img.image")
	if err != nil {
		t.Fatal(err)
	}
	h1.Close()
	h2.Close()
	if open, maxOpen, opens := op.Stats(); open != 0 || maxOpen != 2 || opens != 2 {
		t.Errorf("stats: got open=%d max=%d opens=%d", open, maxOpen, opens)
	}

	if _, err := op.Open("img.psf"); !errors.Is(err, ErrNotExist) {
		t.Errorf("expected ErrNotExist, got %v", err)
	}
}
