package ndarray

import (
	"math"
	"reflect"
	"testing"
)

func arange(shape ...int) *Array {
	d := make([]float64, product(shape))
	for i := range d {
		d[i] = float64(i)
	}
	return Must(New(d, shape...))
}

func TestNew(t *testing.T) {
	if _, err := New([]int32{1, 2, 3}, 2, 2); err == nil {
		t.Error("expected element count mismatch error")
	}
	a, err := New([]float32{1, 2, 3, 4, 5, 6}, 2, 3)
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind() != Float32 || a.Size() != 6 || a.Ndim() != 2 {
		t.Errorf("unexpected array %s", a)
	}
	if _, ok := Values[float64](a); ok {
		t.Error("float32 array reported float64 values")
	}

	scalar := Must(New([]int64{7}))
	if scalar.Ndim() != 0 || scalar.Size() != 1 {
		t.Errorf("scalar: got %s", scalar)
	}
}

func TestTranspose(t *testing.T) {
	a := arange(2, 3, 4)
	b, err := a.Transpose(2, 0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Shape(); !reflect.DeepEqual(got, []int{4, 2, 3}) {
		t.Fatalf("shape: got %v", got)
	}
	av := a.Float64s()
	bv := b.Float64s()
	for i := 0; i < 2; i++ {
		for j := 0; j < 3; j++ {
			for k := 0; k < 4; k++ {
				if bv[k*6+i*3+j] != av[i*12+j*4+k] {
					t.Fatalf("element (%d,%d,%d) mismatch", i, j, k)
				}
			}
		}
	}

	if _, err := a.Transpose(0, 0, 1); err == nil {
		t.Error("expected invalid permutation error")
	}
}

func TestSlice(t *testing.T) {
	a := arange(3, 4)
	b, err := a.Slice([]int{1, 1}, []int{3, 3})
	if err != nil {
		t.Fatal(err)
	}
	if got, want := b.Float64s(), []float64{5, 6, 9, 10}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}

	empty, err := a.Slice([]int{0, 2}, []int{3, 2})
	if err != nil {
		t.Fatal(err)
	}
	if empty.Size() != 0 {
		t.Errorf("expected empty slice, got %s", empty)
	}

	if _, err := a.Slice([]int{0, 0}, []int{4, 1}); err == nil {
		t.Error("expected out of range error")
	}
}

func TestReshapeSqueeze(t *testing.T) {
	a := arange(1, 1, 5, 2)
	b, err := a.Squeeze(0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := b.Shape(); !reflect.DeepEqual(got, []int{5, 2}) {
		t.Errorf("squeeze: got %v", got)
	}
	if _, err := a.Squeeze(2); err == nil {
		t.Error("expected error squeezing a long axis")
	}

	c, err := b.Reshape(-1, 5)
	if err != nil {
		t.Fatal(err)
	}
	if got := c.Shape(); !reflect.DeepEqual(got, []int{2, 5}) {
		t.Errorf("reshape: got %v", got)
	}
	if _, err := b.Reshape(3, -1); err == nil {
		t.Error("expected error reshaping 10 elements into 3 rows")
	}
}

func TestConcat(t *testing.T) {
	a := arange(2, 5)
	parts := []*Array{}
	for _, r := range [][2]int{{0, 2}, {2, 4}, {4, 5}} {
		p, err := a.Slice([]int{0, r[0]}, []int{2, r[1]})
		if err != nil {
			t.Fatal(err)
		}
		parts = append(parts, p)
	}
	joined, err := Concat(1, parts...)
	if err != nil {
		t.Fatal(err)
	}
	if !joined.Equal(a) {
		t.Errorf("got %v, want %v", joined.Float64s(), a.Float64s())
	}

	if _, err := Concat(0, a, a.NotZero()); err == nil {
		t.Error("expected kind mismatch error")
	}
}

func TestNotZero(t *testing.T) {
	a := Must(New([]float32{0, 1.5, float32(math.NaN()), -2, 0}, 5))
	got, _ := Values[bool](a.NotZero())
	if want := []bool{false, true, true, true, false}; !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBytes(t *testing.T) {
	for _, a := range []*Array{
		Must(New([]bool{true, false, true}, 3)),
		Must(New([]int32{-1, 0, 1 << 30}, 3)),
		Must(New([]int64{-1, 1 << 40}, 1, 2)),
		Must(New([]float32{float32(math.NaN()), 1.25}, 2)),
		arange(2, 2),
	} {
		b, err := FromBytes(a.Kind(), a.Shape(), a.Bytes())
		if err != nil {
			t.Fatal(err)
		}
		if !b.Equal(a) {
			t.Errorf("%s: bytes did not decode to the same array", a)
		}
	}

	if _, err := FromBytes(Float64, []int{2}, make([]byte, 4)); err == nil {
		t.Error("expected short buffer error")
	}
}
