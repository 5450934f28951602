package zarr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for composite metadata
	MTMetadata MetaType = ".zmetadata"
)

// FormatVersion is the zarr storage specification version written by this
// package.
const FormatVersion = 2

type MetaTyper interface {
	MetaType() MetaType
}

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// relies on the fact that all keynames are 7 characters long
func KeyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

// Attributes is the decoded content of a .zattrs key.
type Attributes map[string]interface{}

func (Attributes) MetaType() MetaType { return MTAttributes }

// RawAttributes is an already-encoded .zattrs document.
type RawAttributes json.RawMessage

func (RawAttributes) MetaType() MetaType { return MTAttributes }

func (r RawAttributes) MarshalJSON() ([]byte, error) {
	if len(r) == 0 {
		return []byte("{}"), nil
	}
	return json.RawMessage(r).MarshalJSON()
}

// ConsolidatedMetadata gathers every metadata key of a hierarchy into a
// single .zmetadata document so readers need one request to open a group.
type ConsolidatedMetadata struct {
	ConsolidatedFormat int                  `json:"zarr_consolidated_format"`
	Metadata           map[string]MetaTyper `json:"metadata"`
}

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}

	for key, data := range cd.Metadata {
		kt, ok := KeyMetaType(key)
		if !ok {
			return fmt.Errorf("invalid consolidated metadata key: %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Metadata[key] = arr
		case MTAttributes:
			cm.Metadata[key] = RawAttributes(data)
		case MTGroup:
			grp := &Group{}
			if err := json.Unmarshal(data, grp); err != nil {
				return fmt.Errorf("reading %q group: %w", key, err)
			}
			cm.Metadata[key] = grp
		}
	}

	*m = cm
	return nil
}

// Consolidate reads every metadata key in s and writes them to a single
// .zmetadata key at the store root.
func Consolidate(s Store) (*ConsolidatedMetadata, error) {
	keys, err := s.List("")
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)

	cm := &ConsolidatedMetadata{ConsolidatedFormat: 1, Metadata: map[string]MetaTyper{}}
	for _, key := range keys {
		kt, ok := KeyMetaType(key)
		if !ok {
			continue
		}
		data, err := readKey(s, key)
		if err != nil {
			return nil, err
		}
		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return nil, fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Metadata[key] = arr
		case MTGroup:
			grp := &Group{}
			if err := json.Unmarshal(data, grp); err != nil {
				return nil, fmt.Errorf("reading %q group: %w", key, err)
			}
			cm.Metadata[key] = grp
		case MTAttributes:
			cm.Metadata[key] = RawAttributes(data)
		}
	}

	if err := WriteConsolidated(s, cm); err != nil {
		return nil, err
	}
	return cm, nil
}

// WriteConsolidated stores cm as the .zmetadata key at the store root.
// Writers that change a few metadata keys update the document they read
// instead of listing the store again with Consolidate.
func WriteConsolidated(s Store, cm *ConsolidatedMetadata) error {
	return writeJSON(s, string(MTMetadata), cm)
}

// ReadConsolidated loads the .zmetadata key at the store root.
func ReadConsolidated(s Store) (*ConsolidatedMetadata, error) {
	data, err := readKey(s, string(MTMetadata))
	if err != nil {
		return nil, err
	}
	cm := &ConsolidatedMetadata{}
	if err := json.Unmarshal(data, cm); err != nil {
		return nil, fmt.Errorf("reading %s: %w", MTMetadata, err)
	}
	return cm, nil
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// “.zarray” key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string or list defining a valid data type for the array.
	Dtype StructuredType `json:"dtype"`
	// Primary compression codec, or null if no compressor is to be used.
	Compressor *CompressionMeta `json:"compressor"`

	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array. “C” means row-major order, i.e., the last dimension varies fastest.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied.
	Filters []Filter `json:"filters"`

	// If present, either the string "." or "/"" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form “0.0”.
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// Validate checks the invariants this package relies on when reading and
// writing chunks.
func (a *ArrayMeta) Validate() error {
	if len(a.Shape) != len(a.Chunks) {
		return fmt.Errorf("shape %v and chunks %v differ in rank", a.Shape, a.Chunks)
	}
	for i, c := range a.Chunks {
		if c <= 0 {
			return fmt.Errorf("chunk extent %d on axis %d must be positive", c, i)
		}
		if a.Shape[i] < 0 {
			return fmt.Errorf("negative shape %v", a.Shape)
		}
	}
	if !a.Dtype.IsBasic() {
		return fmt.Errorf("structured dtypes are not supported")
	}
	if a.Dtype.Dtype.ByteSize <= 0 {
		return fmt.Errorf("dtype %s has no item size", a.Dtype.Dtype)
	}
	if a.Order != "" && a.Order != "C" {
		return fmt.Errorf("only C order arrays are supported, got %q", a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("filters are not supported")
	}
	if a.DimensionSeparator != "" && a.DimensionSeparator != "." && a.DimensionSeparator != "/" {
		return fmt.Errorf("invalid dimension separator %q", a.DimensionSeparator)
	}
	return a.Compressor.Validate()
}

type Filter struct {
	ID     string `json:"id"`
	Delta  string `json:"delta,omitempty"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

func readKey(s Store, key string) ([]byte, error) {
	r, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	buf := &bytes.Buffer{}
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeJSON(s Store, key string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "    ")
	if err != nil {
		return err
	}
	return s.Put(key, bytes.NewReader(data))
}
