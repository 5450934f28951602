package legacy

import (
	"fmt"
	"math"
	"strings"
)

// Axis describes the pixel to world mapping of one image axis in FITS terms.
type Axis struct {
	// Name is the descriptive axis name, derived from CType when empty.
	Name  string
	CType string
	// Unit is the header unit of RefVal and Delta.
	Unit string
	// RefVal is the world value at the one-based pixel RefPix; Delta is the
	// world increment per pixel.
	RefVal, RefPix, Delta float64
}

func (a Axis) base() string {
	return strings.ToUpper(strings.TrimRight(strings.SplitN(a.CType, "-", 2)[0], " "))
}

func (a Axis) isLon() bool { b := a.base(); return b == "RA" || b == "GLON" }
func (a Axis) isLat() bool { b := a.base(); return b == "DEC" || b == "GLAT" }

// Celestial reports whether the axis is one of a sky position pair.
func (a Axis) Celestial() bool { return a.isLon() || a.isLat() }

func (a Axis) projection() string {
	if len(a.CType) < 8 {
		return ""
	}
	return strings.Trim(a.CType[5:8], "- ")
}

// degrees scales header values of a celestial axis to degrees.
func (a Axis) degrees() float64 {
	switch strings.ToLower(a.Unit) {
	case "arcsec":
		return 1.0 / 3600
	case "arcmin":
		return 1.0 / 60
	case "rad":
		return 180 / math.Pi
	}
	return 1
}

// WorldUnit is the unit of world values returned by ToWorld. Celestial axes
// are reported in radians.
func (a Axis) WorldUnit() string {
	if a.Celestial() {
		return AngularUnit
	}
	if a.Unit == "" && a.base() == "FREQ" {
		return "Hz"
	}
	return a.Unit
}

// WorldRef is RefVal in WorldUnit.
func (a Axis) WorldRef() float64 {
	if a.Celestial() {
		return a.RefVal * a.degrees() * math.Pi / 180
	}
	return a.RefVal
}

// WorldDelta is Delta in WorldUnit.
func (a Axis) WorldDelta() float64 {
	if a.Celestial() {
		return a.Delta * a.degrees() * math.Pi / 180
	}
	return a.Delta
}

// WCS maps pixel positions to world coordinates. A celestial pair is
// evaluated jointly through its projection; every other axis is linear.
// Rotation matrices (PC, CD, CROTA) are not supported.
type WCS struct {
	Axes []Axis
	lon  int
	lat  int
	proj string
}

// NewWCS validates axes and locates the celestial pair, if any.
func NewWCS(axes ...Axis) (*WCS, error) {
	w := &WCS{Axes: make([]Axis, len(axes)), lon: -1, lat: -1}
	for i, ax := range axes {
		if ax.Name == "" {
			ax.Name = axisName(ax.CType)
		}
		w.Axes[i] = ax
		switch {
		case ax.isLon() && w.lon < 0:
			w.lon = i
		case ax.isLat() && w.lat < 0:
			w.lat = i
		case ax.Celestial():
			return nil, fmt.Errorf("duplicate celestial axis %q", ax.CType)
		}
	}
	if (w.lon < 0) != (w.lat < 0) {
		return nil, fmt.Errorf("celestial axes must come in pairs")
	}
	if w.lon >= 0 {
		lp, bp := w.Axes[w.lon].projection(), w.Axes[w.lat].projection()
		if lp != bp {
			return nil, fmt.Errorf("celestial axes use different projections %q and %q", lp, bp)
		}
		switch lp {
		case "SIN", "TAN", "CAR", "":
			w.proj = lp
		default:
			return nil, fmt.Errorf("unsupported projection %q", lp)
		}
	}
	return w, nil
}

// ToWorld converts zero-based pixel positions, one slice per axis, to world
// coordinates in each axis's WorldUnit.
func (w *WCS) ToWorld(pixels [][]float64) ([][]float64, error) {
	if len(pixels) != len(w.Axes) {
		return nil, fmt.Errorf("got pixel positions for %d axes, image has %d", len(pixels), len(w.Axes))
	}
	n := 0
	if len(pixels) > 0 {
		n = len(pixels[0])
	}
	out := make([][]float64, len(pixels))
	for i, px := range pixels {
		if len(px) != n {
			return nil, fmt.Errorf("axis %d has %d positions, want %d", i, len(px), n)
		}
		ax := w.Axes[i]
		out[i] = make([]float64, n)
		if ax.Celestial() {
			continue
		}
		for k, p := range px {
			out[i][k] = ax.RefVal + (p+1-ax.RefPix)*ax.Delta
		}
	}

	if w.lon >= 0 {
		for k := 0; k < n; k++ {
			out[w.lon][k], out[w.lat][k] = w.celestial(pixels[w.lon][k], pixels[w.lat][k])
		}
	}
	return out, nil
}

// celestial converts one pixel position of the sky pair to (lon, lat) in
// radians. Positions outside the projection's domain give NaN.
func (w *WCS) celestial(plon, plat float64) (float64, float64) {
	lon, lat := w.Axes[w.lon], w.Axes[w.lat]
	// intermediate world coordinates in degrees
	x := (plon + 1 - lon.RefPix) * lon.Delta * lon.degrees()
	y := (plat + 1 - lat.RefPix) * lat.Delta * lat.degrees()
	a0 := lon.RefVal * lon.degrees() * math.Pi / 180
	d0 := lat.RefVal * lat.degrees() * math.Pi / 180

	var theta float64
	switch w.proj {
	case "", "CAR":
		return a0 + x*math.Pi/180, d0 + y*math.Pi/180
	case "SIN":
		r := math.Hypot(x, y) * math.Pi / 180
		if r > 1 {
			return math.NaN(), math.NaN()
		}
		theta = math.Acos(r)
	case "TAN":
		theta = math.Atan2(180/math.Pi, math.Hypot(x, y))
	}
	phi := math.Atan2(x, -y)

	// native to celestial rotation with the native pole at phi_p = 180 deg
	dphi := phi - math.Pi
	st, ct := math.Sincos(theta)
	sd, cd := math.Sincos(d0)
	sp, cp := math.Sincos(dphi)
	dec := math.Asin(st*sd + ct*cd*cp)
	ra := a0 + math.Atan2(-ct*sp, st*cd-ct*sd*cp)
	return ra, dec
}
