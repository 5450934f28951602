package legacy

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/qri-io/zarr-image/ndarray"
)

const (
	fitsBlock = 2880
	fitsCard  = 80
)

// Card is one header keyword record.
type Card struct {
	Key     string
	Value   interface{}
	Comment string
}

// Header is the ordered keyword list of a FITS header data unit.
type Header []Card

// Get returns the value of the first card named key.
func (h Header) Get(key string) (interface{}, bool) {
	for _, c := range h {
		if c.Key == key {
			return c.Value, c.Value != nil
		}
	}
	return nil, false
}

func (h Header) Int(key string) (int, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), x == math.Trunc(x)
	}
	return 0, false
}

func (h Header) Float(key string, def float64) float64 {
	v, ok := h.Get(key)
	if !ok {
		return def
	}
	switch x := v.(type) {
	case int:
		return float64(x)
	case float64:
		return x
	}
	return def
}

func (h Header) Str(key string) string {
	v, _ := h.Get(key)
	s, _ := v.(string)
	return s
}

// ReadHeader reads header blocks from r up to and including the one holding
// the END card.
func ReadHeader(r io.Reader) (Header, int64, error) {
	var h Header
	buf := make([]byte, fitsBlock)
	var read int64
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, read, fmt.Errorf("reading header block: %w", err)
		}
		read += fitsBlock
		for i := 0; i < fitsBlock/fitsCard; i++ {
			line := string(buf[i*fitsCard : (i+1)*fitsCard])
			key := strings.TrimSpace(line[:8])
			if key == "END" {
				return h, read, nil
			}
			if key == "" {
				continue
			}
			h = append(h, parseCard(key, line))
		}
	}
}

func parseCard(key, line string) Card {
	c := Card{Key: key}
	if line[8:10] != "= " {
		c.Comment = strings.TrimSpace(line[8:])
		return c
	}
	s := strings.TrimSpace(line[10:])
	if s == "" {
		return c
	}

	if s[0] == '\'' {
		val, rest := parseQuoted(s)
		c.Value = val
		if j := strings.Index(rest, "/"); j >= 0 {
			c.Comment = strings.TrimSpace(rest[j+1:])
		}
		return c
	}

	if j := strings.Index(s, "/"); j >= 0 {
		c.Comment = strings.TrimSpace(s[j+1:])
		s = strings.TrimSpace(s[:j])
	}
	switch {
	case s == "":
	case s == "T":
		c.Value = true
	case s == "F":
		c.Value = false
	case strings.ContainsAny(s, ".DE"):
		if f, err := strconv.ParseFloat(strings.Replace(s, "D", "E", 1), 64); err == nil {
			c.Value = f
		}
	default:
		if n, err := strconv.Atoi(s); err == nil {
			c.Value = n
		}
	}
	return c
}

// parseQuoted reads a quoted string value where '' escapes a quote. It
// returns the value, right trimmed, and the remainder of the card.
func parseQuoted(s string) (string, string) {
	var sb strings.Builder
	for i := 1; i < len(s); i++ {
		if s[i] != '\'' {
			sb.WriteByte(s[i])
			continue
		}
		if i+1 < len(s) && s[i+1] == '\'' {
			sb.WriteByte('\'')
			i++
			continue
		}
		return strings.TrimRight(sb.String(), " "), s[i+1:]
	}
	return strings.TrimRight(sb.String(), " "), ""
}

// FileOpener opens FITS primary images from the local filesystem.
type FileOpener struct{}

var _ Opener = FileOpener{}

func (FileOpener) Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (FileOpener) Open(path string) (Handle, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	if err != nil {
		return nil, err
	}
	im, err := newFITSImage(path, f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	return im, nil
}

type fitsImage struct {
	path      string
	f         *os.File
	header    Header
	dataStart int64
	shape     []int
	bitpix    int
	bscale    float64
	bzero     float64
	blank     *int64
	wcs       *WCS
}

func newFITSImage(path string, f *os.File) (*fitsImage, error) {
	h, n, err := ReadHeader(f)
	if err != nil {
		return nil, err
	}
	if v, _ := h.Get("SIMPLE"); v != true {
		return nil, fmt.Errorf("not a FITS primary header")
	}
	bitpix, ok := h.Int("BITPIX")
	if !ok {
		return nil, fmt.Errorf("missing BITPIX")
	}
	switch bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return nil, fmt.Errorf("invalid BITPIX %d", bitpix)
	}
	naxis, ok := h.Int("NAXIS")
	if !ok || naxis < 1 {
		return nil, fmt.Errorf("image has no axes")
	}

	im := &fitsImage{
		path:      path,
		f:         f,
		header:    h,
		dataStart: n,
		shape:     make([]int, naxis),
		bitpix:    bitpix,
		bscale:    h.Float("BSCALE", 1),
		bzero:     h.Float("BZERO", 0),
	}
	axes := make([]Axis, naxis)
	for i := range im.shape {
		k := strconv.Itoa(i + 1)
		if im.shape[i], ok = h.Int("NAXIS" + k); !ok || im.shape[i] < 0 {
			return nil, fmt.Errorf("invalid NAXIS%s", k)
		}
		axes[i] = Axis{
			CType:  h.Str("CTYPE" + k),
			Unit:   h.Str("CUNIT" + k),
			RefVal: h.Float("CRVAL"+k, 0),
			RefPix: h.Float("CRPIX"+k, 0),
			Delta:  h.Float("CDELT"+k, 1),
		}
	}
	if blank, ok := h.Int("BLANK"); ok && bitpix > 0 {
		b := int64(blank)
		im.blank = &b
	}
	if im.wcs, err = NewWCS(axes...); err != nil {
		return nil, err
	}
	return im, nil
}

func (im *fitsImage) Shape() []int { return append([]int{}, im.shape...) }

func (im *fitsImage) Summary() (*Summary, error) {
	if im.f == nil {
		return nil, ErrClosed
	}
	var masks []string
	if im.bitpix < 0 || im.blank != nil {
		masks = []string{"mask0"}
	}
	unit := im.header.Str("BUNIT")

	lines := []string{
		messageLine("Image name", filepath.Base(im.path)),
	}
	if obj := im.header.Str("OBJECT"); obj != "" {
		lines = append(lines, messageLine("Object name", obj))
	}
	maskList := "None"
	if len(masks) > 0 {
		maskList = strings.Join(masks, ", ")
	}
	lines = append(lines,
		messageLine("Image type", "FITSImage"),
		messageLine("Image quantity", "Intensity"),
		messageLine("Pixel mask(s)", maskList),
		messageLine("Region(s)", "None"),
		messageLine("Image units", unit),
	)

	var beam Value
	if _, ok := im.header.Get("BMAJ"); ok {
		major := im.header.Float("BMAJ", 0)
		minor := im.header.Float("BMIN", major)
		pa := im.header.Float("BPA", 0)
		beam = Beam(major, minor, pa)
		lines = append(lines, messageLine("Restoring Beam", fmt.Sprintf("%g arcsec, %g arcsec, %g deg", major*3600, minor*3600, pa)))
	}
	for _, kv := range [][2]string{
		{"TELESCOP", "Telescope"},
		{"OBSERVER", "Observer"},
		{"DATE-OBS", "Date observation"},
	} {
		if v := im.header.Str(kv[0]); v != "" {
			lines = append(lines, messageLine(kv[1], v))
		}
	}
	if v, ok := im.header.Get("RESTFRQ"); ok {
		lines = append(lines, messageLine("Rest frequency", fmt.Sprintf("%v Hz", v)))
	}

	return newSummary(summaryInput{
		wcs:      im.wcs,
		shape:    im.shape,
		unit:     unit,
		masks:    masks,
		messages: []string{strings.Join(lines, "\n")},
		beam:     beam,
	}), nil
}

func (im *fitsImage) ToWorld(pixels [][]float64) ([][]float64, error) {
	if im.f == nil {
		return nil, ErrClosed
	}
	return im.wcs.ToWorld(pixels)
}

func (im *fitsImage) GetChunk(start, stop []int, mask bool) (*ndarray.Array, error) {
	if im.f == nil {
		return nil, ErrClosed
	}
	lo, hi, err := resolveBox(im.shape, start, stop)
	if err != nil {
		return nil, err
	}
	n := len(im.shape)
	box := make([]int, n)
	for i := range box {
		box[i] = hi[i] - lo[i]
	}
	raw, err := im.readBox(lo, box)
	if err != nil {
		return nil, err
	}

	// raw is in FITS order, which is C order over the reversed shape
	rev := make([]int, n)
	perm := make([]int, n)
	for i := range rev {
		rev[i] = box[n-1-i]
		perm[i] = n - 1 - i
	}
	var arr *ndarray.Array
	if mask {
		arr, err = ndarray.New(im.validity(raw), rev...)
	} else {
		arr, err = im.pixels(raw, rev)
	}
	if err != nil {
		return nil, err
	}
	return arr.Transpose(perm...)
}

func (im *fitsImage) Close() error {
	if im.f == nil {
		return ErrClosed
	}
	err := im.f.Close()
	im.f = nil
	return err
}

func (im *fitsImage) itemsize() int {
	if im.bitpix < 0 {
		return -im.bitpix / 8
	}
	return im.bitpix / 8
}

// readBox reads the raw bytes of the box starting at lo with extents box.
// Rows along the first axis are contiguous on disk, so each is one ReadAt.
func (im *fitsImage) readBox(lo, box []int) ([]byte, error) {
	size := im.itemsize()
	n := len(box)
	total := 1
	for _, b := range box {
		total *= b
	}
	raw := make([]byte, total*size)
	if total == 0 {
		return raw, nil
	}

	stride := make([]int, n)
	stride[0] = 1
	for i := 1; i < n; i++ {
		stride[i] = stride[i-1] * im.shape[i-1]
	}
	run := box[0] * size
	ix := make([]int, n)
	for pos := 0; ; pos += run {
		off := lo[0]
		for i := 1; i < n; i++ {
			off += (lo[i] + ix[i]) * stride[i]
		}
		if _, err := im.f.ReadAt(raw[pos:pos+run], im.dataStart+int64(off*size)); err != nil {
			return nil, fmt.Errorf("reading pixels of %s: %w", im.path, err)
		}

		i := 1
		for ; i < n; i++ {
			ix[i]++
			if ix[i] < box[i] {
				break
			}
			ix[i] = 0
		}
		if i >= n {
			return raw, nil
		}
	}
}

func (im *fitsImage) intAt(raw []byte, i int) int64 {
	be := binary.BigEndian
	switch im.bitpix {
	case 8:
		return int64(raw[i])
	case 16:
		return int64(int16(be.Uint16(raw[i*2:])))
	case 32:
		return int64(int32(be.Uint32(raw[i*4:])))
	}
	return int64(be.Uint64(raw[i*8:]))
}

func (im *fitsImage) floatAt(raw []byte, i int) float64 {
	be := binary.BigEndian
	switch im.bitpix {
	case -32:
		return float64(math.Float32frombits(be.Uint32(raw[i*4:])))
	case -64:
		return math.Float64frombits(be.Uint64(raw[i*8:]))
	}
	v := im.intAt(raw, i)
	if im.blank != nil && v == *im.blank {
		return math.NaN()
	}
	return float64(v)
}

// pixels decodes raw into the narrowest array kind that holds the physical
// values. Scaled integer data becomes float64 with blanks as NaN.
func (im *fitsImage) pixels(raw []byte, shape []int) (*ndarray.Array, error) {
	n := len(raw) / im.itemsize()
	scaled := im.bscale != 1 || im.bzero != 0
	switch {
	case im.bitpix == -32 && !scaled:
		d := make([]float32, n)
		for i := range d {
			d[i] = float32(im.floatAt(raw, i))
		}
		return ndarray.New(d, shape...)
	case im.bitpix == 64 && !scaled:
		d := make([]int64, n)
		for i := range d {
			d[i] = im.intAt(raw, i)
		}
		return ndarray.New(d, shape...)
	case im.bitpix > 0 && !scaled:
		d := make([]int32, n)
		for i := range d {
			d[i] = int32(im.intAt(raw, i))
		}
		return ndarray.New(d, shape...)
	}
	d := make([]float64, n)
	for i := range d {
		d[i] = im.floatAt(raw, i)*im.bscale + im.bzero
	}
	return ndarray.New(d, shape...)
}

// validity is true for every pixel holding data: not NaN for floating point
// images, not BLANK for integer ones.
func (im *fitsImage) validity(raw []byte) []bool {
	out := make([]bool, len(raw)/im.itemsize())
	for i := range out {
		switch {
		case im.bitpix < 0:
			out[i] = !math.IsNaN(im.floatAt(raw, i))
		case im.blank != nil:
			out[i] = im.intAt(raw, i) != *im.blank
		default:
			out[i] = true
		}
	}
	return out
}

// WriteFITS encodes data as a single primary image. data is C ordered with
// axes in header order, matching GetChunk. Extra cards are written after the
// axis keywords.
func WriteFITS(w io.Writer, axes []Axis, data *ndarray.Array, extra ...Card) error {
	shape := data.Shape()
	n := len(shape)
	if len(axes) != n {
		return fmt.Errorf("got %d axes for %d-d data", len(axes), n)
	}

	var bitpix int
	switch data.Kind() {
	case ndarray.Bool:
		bitpix = 8
	case ndarray.Int32:
		bitpix = 32
	case ndarray.Int64:
		bitpix = 64
	case ndarray.Float32:
		bitpix = -32
	case ndarray.Float64:
		bitpix = -64
	default:
		return fmt.Errorf("cannot encode %s data", data.Kind())
	}

	h := Header{
		{Key: "SIMPLE", Value: true},
		{Key: "BITPIX", Value: bitpix},
		{Key: "NAXIS", Value: n},
	}
	for i, s := range shape {
		h = append(h, Card{Key: "NAXIS" + strconv.Itoa(i+1), Value: s})
	}
	for i, ax := range axes {
		k := strconv.Itoa(i + 1)
		h = append(h,
			Card{Key: "CTYPE" + k, Value: ax.CType},
			Card{Key: "CRVAL" + k, Value: ax.RefVal},
			Card{Key: "CRPIX" + k, Value: ax.RefPix},
			Card{Key: "CDELT" + k, Value: ax.Delta},
			Card{Key: "CUNIT" + k, Value: ax.Unit},
		)
	}
	h = append(h, extra...)

	buf := &bytes.Buffer{}
	for _, c := range h {
		card, err := formatCard(c)
		if err != nil {
			return err
		}
		buf.WriteString(card)
	}
	buf.WriteString(fmt.Sprintf("%-80s", "END"))
	pad(buf, ' ')

	perm := make([]int, n)
	for i := range perm {
		perm[i] = n - 1 - i
	}
	fortran, err := data.Transpose(perm...)
	if err != nil {
		return err
	}
	le := fortran.Bytes()
	size := data.Kind().ItemSize()
	// swap little-endian element bytes to big-endian
	for i := 0; i < len(le); i += size {
		for a, b := i, i+size-1; a < b; a, b = a+1, b-1 {
			le[a], le[b] = le[b], le[a]
		}
	}
	buf.Write(le)
	pad(buf, 0)

	_, err = w.Write(buf.Bytes())
	return err
}

func formatCard(c Card) (string, error) {
	if len(c.Key) > 8 {
		return "", fmt.Errorf("keyword %q is longer than 8 characters", c.Key)
	}
	var val string
	switch v := c.Value.(type) {
	case nil:
		return fmt.Sprintf("%-8s%-72s", c.Key, c.Comment)[:fitsCard], nil
	case bool:
		val = "F"
		if v {
			val = "T"
		}
		val = fmt.Sprintf("%20s", val)
	case int:
		val = fmt.Sprintf("%20d", v)
	case float64:
		val = fmt.Sprintf("%20s", strconv.FormatFloat(v, 'E', -1, 64))
	case string:
		val = fmt.Sprintf("'%-8s'", strings.ReplaceAll(v, "'", "''"))
	default:
		return "", fmt.Errorf("unsupported value %T for keyword %s", c.Value, c.Key)
	}
	if c.Comment != "" {
		val += " / " + c.Comment
	}
	card := fmt.Sprintf("%-8s= %-70s", c.Key, val)
	if len(card) > fitsCard {
		return "", fmt.Errorf("keyword %s does not fit in one card", c.Key)
	}
	return card, nil
}

func pad(buf *bytes.Buffer, b byte) {
	if rem := buf.Len() % fitsBlock; rem != 0 {
		buf.Write(bytes.Repeat([]byte{b}, fitsBlock-rem))
	}
}
