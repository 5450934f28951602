// Package legacy reads monolithic radio images: a pixel cube with a world
// coordinate system, a summary record of header metadata and an optional
// validity mask.
//
// Readers are opened per use and closed straight after; a Handle is never
// shared between goroutines.
package legacy

import (
	"errors"
	"fmt"
	"strings"

	"github.com/qri-io/zarr-image/ndarray"
)

// AngularUnit is the unit reported for axes whose world coordinates are
// angles on the sky.
const AngularUnit = "rad"

var (
	// ErrNotExist is returned by Open when no image exists at the path.
	ErrNotExist = errors.New("image does not exist")
	// ErrClosed is returned by Handle methods after Close.
	ErrClosed = errors.New("image handle is closed")
)

// Opener locates and opens images by path.
type Opener interface {
	Exists(path string) bool
	Open(path string) (Handle, error)
}

// Handle is an open image.
type Handle interface {
	Summary() (*Summary, error)
	// Shape is the pixel shape, one entry per axis in header order.
	Shape() []int
	// ToWorld converts pixel positions to world coordinates. pixels holds one
	// slice per axis, all of the same length; the result has the same layout.
	// Pixel positions are zero based.
	ToWorld(pixels [][]float64) ([][]float64, error)
	// GetChunk reads the box [start, stop) of pixel data, or of the validity
	// mask when mask is true. A negative start or stop entry selects the whole
	// axis. The result is C ordered with axes in header order.
	GetChunk(start, stop []int, mask bool) (*ndarray.Array, error)
	Close() error
}

// Summary is the metadata record of an image.
type Summary struct {
	AxisNames []string
	AxisUnits []string
	Shape     []int
	// Masks names the validity masks the image carries. Empty when the image
	// has no mask.
	Masks []string
	// Messages are free text header reports made of "label : value" lines.
	Messages []string
	// Fields is the complete summary record, including the keys above.
	Fields Record
}

// summaryInput collects what newSummary needs from a reader.
type summaryInput struct {
	wcs      *WCS
	shape    []int
	unit     string
	masks    []string
	messages []string
	beam     Value
	extra    Record
}

// newSummary builds a Summary with the standard field layout shared by all
// readers.
func newSummary(in summaryInput) *Summary {
	n := len(in.shape)
	names := make([]string, n)
	units := make([]string, n)
	refpix := make([]float64, n)
	refval := make([]float64, n)
	incr := make([]float64, n)
	for i, ax := range in.wcs.Axes {
		names[i] = ax.Name
		units[i] = ax.WorldUnit()
		refpix[i] = ax.RefPix - 1
		refval[i] = ax.WorldRef()
		incr[i] = ax.WorldDelta()
	}

	tile := make([]int, n)
	for i, s := range in.shape {
		tile[i] = s
		if i >= 2 {
			tile[i] = 1
		}
	}

	defaultMask := ""
	if len(in.masks) > 0 {
		defaultMask = in.masks[0]
	}

	fields := Record{
		{Key: "axisnames", Value: Strings(names)},
		{Key: "axisunits", Value: Strings(units)},
		{Key: "defaultmask", Value: String(defaultMask)},
		{Key: "hasmask", Value: Bool(len(in.masks) > 0)},
		{Key: "imagetype", Value: String("Intensity")},
		{Key: "incr", Value: Numbers(incr)},
		{Key: "masks", Value: Strings(in.masks)},
		{Key: "messages", Value: Strings(in.messages)},
		{Key: "ndim", Value: Number(float64(n))},
		{Key: "refpix", Value: Numbers(refpix)},
		{Key: "refval", Value: Numbers(refval)},
		{Key: "shape", Value: Ints(in.shape)},
		{Key: "tileshape", Value: Ints(tile)},
		{Key: "unit", Value: String(in.unit)},
	}
	if in.beam.Kind() == RecordValue {
		fields.Set("restoringbeam", in.beam)
	}
	for _, f := range in.extra {
		fields.Set(f.Key, f.Value)
	}

	return &Summary{
		AxisNames: names,
		AxisUnits: units,
		Shape:     append([]int{}, in.shape...),
		Masks:     append([]string{}, in.masks...),
		Messages:  append([]string{}, in.messages...),
		Fields:    fields,
	}
}

// Beam builds the restoring beam record from FWHM axes and a position angle,
// all in degrees. Sizes are reported in arcsec.
func Beam(major, minor, pa float64) Value {
	q := func(v float64, unit string) Value {
		return Nested(Field{Key: "unit", Value: String(unit)}, Field{Key: "value", Value: Number(v)})
	}
	return Nested(
		Field{Key: "major", Value: q(major*3600, "arcsec")},
		Field{Key: "minor", Value: q(minor*3600, "arcsec")},
		Field{Key: "positionangle", Value: q(pa, "deg")},
	)
}

// messageLine formats one "label : value" line of a summary message.
func messageLine(label string, value interface{}) string {
	return fmt.Sprintf("%-20s: %v", label, value)
}

// resolveBox expands negative entries of start and stop to the whole axis
// and checks the box against shape.
func resolveBox(shape, start, stop []int) ([]int, []int, error) {
	n := len(shape)
	if len(start) != n || len(stop) != n {
		return nil, nil, fmt.Errorf("box %v:%v does not match %d axes", start, stop, n)
	}
	lo := make([]int, n)
	hi := make([]int, n)
	for i := range shape {
		lo[i], hi[i] = start[i], stop[i]
		if lo[i] < 0 {
			lo[i] = 0
		}
		if hi[i] < 0 {
			hi[i] = shape[i]
		}
		if lo[i] > hi[i] || hi[i] > shape[i] {
			return nil, nil, fmt.Errorf("box %d:%d out of range on axis %d of length %d", lo[i], hi[i], i, shape[i])
		}
	}
	return lo, hi, nil
}

// axisName maps a FITS CTYPE to the descriptive axis name used in
// summaries.
func axisName(ctype string) string {
	base := strings.ToUpper(strings.TrimRight(strings.SplitN(ctype, "-", 2)[0], " "))
	switch base {
	case "RA":
		return "Right Ascension"
	case "DEC":
		return "Declination"
	case "GLON":
		return "Galactic Longitude"
	case "GLAT":
		return "Galactic Latitude"
	case "FREQ":
		return "Frequency"
	case "VRAD", "VOPT", "VELO":
		return "Velocity"
	case "STOKES":
		return "Stokes"
	case "":
		return "Linear"
	}
	return base
}
