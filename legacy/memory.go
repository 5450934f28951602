package legacy

import (
	"fmt"
	"sync"

	"github.com/qri-io/zarr-image/ndarray"
)

// MemoryImage is an image held in memory, used to feed conversions from
// synthetic data.
type MemoryImage struct {
	WCS  *WCS
	Data *ndarray.Array
	// Mask is the validity mask, or nil when the image has none.
	Mask *ndarray.Array
	Unit string
	// Extra fields are appended to the summary record.
	Extra    Record
	Messages []string
	// OpenErr and ReadErr make Open and GetChunk fail.
	OpenErr error
	ReadErr error
}

// NewMemoryImage builds an image over data described by axes.
func NewMemoryImage(data *ndarray.Array, axes ...Axis) (*MemoryImage, error) {
	if len(axes) != data.Ndim() {
		return nil, fmt.Errorf("got %d axes for %d-d data", len(axes), data.Ndim())
	}
	w, err := NewWCS(axes...)
	if err != nil {
		return nil, err
	}
	return &MemoryImage{WCS: w, Data: data}, nil
}

// MemoryOpener serves MemoryImages by path and counts open handles.
type MemoryOpener struct {
	lk      sync.Mutex
	images  map[string]*MemoryImage
	open    int
	maxOpen int
	opens   int
}

var _ Opener = (*MemoryOpener)(nil)

func NewMemoryOpener() *MemoryOpener {
	return &MemoryOpener{images: map[string]*MemoryImage{}}
}

// Add registers im under path.
func (o *MemoryOpener) Add(path string, im *MemoryImage) {
	o.lk.Lock()
	defer o.lk.Unlock()
	o.images[path] = im
}

func (o *MemoryOpener) Exists(path string) bool {
	o.lk.Lock()
	defer o.lk.Unlock()
	_, ok := o.images[path]
	return ok
}

func (o *MemoryOpener) Open(path string) (Handle, error) {
	o.lk.Lock()
	defer o.lk.Unlock()
	im, ok := o.images[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
	}
	if im.OpenErr != nil {
		return nil, im.OpenErr
	}
	o.open++
	o.opens++
	if o.open > o.maxOpen {
		o.maxOpen = o.open
	}
	return &memoryHandle{opener: o, path: path, im: im}, nil
}

// Stats reports the handles open now, the most ever open at once, and the
// total number of Open calls that succeeded.
func (o *MemoryOpener) Stats() (open, maxOpen, opens int) {
	o.lk.Lock()
	defer o.lk.Unlock()
	return o.open, o.maxOpen, o.opens
}

func (o *MemoryOpener) release() {
	o.lk.Lock()
	defer o.lk.Unlock()
	o.open--
}

type memoryHandle struct {
	opener *MemoryOpener
	path   string
	im     *MemoryImage
	closed bool
}

func (h *memoryHandle) Summary() (*Summary, error) {
	if h.closed {
		return nil, ErrClosed
	}
	var masks []string
	if h.im.Mask != nil {
		masks = []string{"mask0"}
	}
	return newSummary(summaryInput{
		wcs:      h.im.WCS,
		shape:    h.im.Data.Shape(),
		unit:     h.im.Unit,
		masks:    masks,
		messages: h.im.Messages,
		extra:    h.im.Extra,
	}), nil
}

func (h *memoryHandle) Shape() []int { return h.im.Data.Shape() }

func (h *memoryHandle) ToWorld(pixels [][]float64) ([][]float64, error) {
	if h.closed {
		return nil, ErrClosed
	}
	return h.im.WCS.ToWorld(pixels)
}

func (h *memoryHandle) GetChunk(start, stop []int, mask bool) (*ndarray.Array, error) {
	if h.closed {
		return nil, ErrClosed
	}
	if h.im.ReadErr != nil {
		return nil, h.im.ReadErr
	}
	src := h.im.Data
	if mask {
		if h.im.Mask == nil {
			return nil, fmt.Errorf("%s has no mask", h.path)
		}
		src = h.im.Mask
	}
	lo, hi, err := resolveBox(src.Shape(), start, stop)
	if err != nil {
		return nil, err
	}
	return src.Slice(lo, hi)
}

func (h *memoryHandle) Close() error {
	if h.closed {
		return ErrClosed
	}
	h.closed = true
	h.opener.release()
	return nil
}
