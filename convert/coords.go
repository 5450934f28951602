package convert

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/qri-io/zarr-image/dataset"
	"github.com/qri-io/zarr-image/legacy"
	"github.com/qri-io/zarr-image/ndarray"
)

// WorldTransformer maps pixel coordinates to world coordinates. pixels holds
// one slice per axis, all of the same length; the result has the same
// layout.
type WorldTransformer interface {
	ToWorld(pixels [][]float64) ([][]float64, error)
}

// Resolved holds the dimension names and coordinates of an artifact.
type Resolved struct {
	// Dims names every pixel axis. Angular axes are named "d<axis>", others
	// by their normalized axis name.
	Dims   []string
	Coords map[string]*dataset.Variable
}

// NormalizeAxisName lower-cases name, replaces spaces with underscores and
// maps stokes and frequency axes to pol and chan.
func NormalizeAxisName(name string) string {
	n := strings.ToLower(strings.ReplaceAll(name, " ", "_"))
	n = strings.ReplaceAll(n, "stokes", "pol")
	return strings.ReplaceAll(n, "frequency", "chan")
}

// ResolveCoords computes world coordinates for every axis. Axes measured in
// the angular unit are coupled: their coordinates are evaluated jointly over
// the full grid of those axes, with every other axis at pixel 0, giving one
// array per angular axis over all of them. Every other axis is swept on its
// own. Axes without a unit are treated as independent.
func ResolveCoords(t WorldTransformer, names, units []string, shape []int) (*Resolved, error) {
	if len(names) != len(shape) {
		return nil, fmt.Errorf("%d axis names for %d axes", len(names), len(shape))
	}

	var sphr, cart []int
	for ax := range shape {
		if ax < len(units) && units[ax] == legacy.AngularUnit {
			sphr = append(sphr, ax)
		} else {
			cart = append(cart, ax)
		}
	}

	res := &Resolved{
		Dims:   make([]string, len(shape)),
		Coords: map[string]*dataset.Variable{},
	}
	for _, ax := range sphr {
		res.Dims[ax] = "d" + strconv.Itoa(ax)
	}
	for _, ax := range cart {
		res.Dims[ax] = NormalizeAxisName(names[ax])
	}

	if len(sphr) > 0 {
		gridShape := make([]int, len(sphr))
		dims := make([]string, len(sphr))
		for i, ax := range sphr {
			gridShape[i] = shape[ax]
			dims[i] = res.Dims[ax]
		}
		world, err := t.ToWorld(jointGrid(len(shape), sphr, gridShape))
		if err != nil {
			return nil, fmt.Errorf("resolving angular axes: %w", err)
		}
		for _, ax := range sphr {
			data, err := ndarray.New(world[ax], gridShape...)
			if err != nil {
				return nil, err
			}
			res.Coords[NormalizeAxisName(names[ax])] = &dataset.Variable{Dims: dims, Data: data}
		}
	}

	for _, ax := range cart {
		pixels := make([][]float64, len(shape))
		for i := range pixels {
			pixels[i] = make([]float64, shape[ax])
		}
		for p := range pixels[ax] {
			pixels[ax][p] = float64(p)
		}
		world, err := t.ToWorld(pixels)
		if err != nil {
			return nil, fmt.Errorf("resolving axis %q: %w", names[ax], err)
		}
		data, err := ndarray.New(world[ax], shape[ax])
		if err != nil {
			return nil, err
		}
		res.Coords[res.Dims[ax]] = &dataset.Variable{Dims: []string{res.Dims[ax]}, Data: data}
	}
	return res, nil
}

// jointGrid enumerates every pixel of the grid over axes in C order. Axes
// not listed stay at pixel 0.
func jointGrid(ndim int, axes, gridShape []int) [][]float64 {
	n := 1
	for _, s := range gridShape {
		n *= s
	}
	pixels := make([][]float64, ndim)
	for i := range pixels {
		pixels[i] = make([]float64, n)
	}
	ix := make([]int, len(axes))
	for p := 0; p < n; p++ {
		for i, ax := range axes {
			pixels[ax][p] = float64(ix[i])
		}
		for i := len(ix) - 1; i >= 0; i-- {
			ix[i]++
			if ix[i] < gridShape[i] {
				break
			}
			ix[i] = 0
		}
	}
	return pixels
}
