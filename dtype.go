package zarr

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Dtype is a simple zarr data type, encoded following the NumPy array
// protocol type string (typestr) format. The format consists of 3 parts:
//   - One character describing the byteorder of the data:
//     "<": little-endian; ">": big-endian; "|": not-relevant
//   - One character code giving the basic type of the array:
//     "b": Boolean, "i": integer, "u": unsigned integer, "f": floating point,
//     "c": complex floating point, "m": timedelta, "M": datetime,
//     "S": string, "U": unicode, "V": other
//   - An integer specifying the number of bytes the type uses.
//
// Within the zarr format byte order MUST be specified.
type Dtype struct {
	ByteOrder ByteOrder
	BasicType BasicType
	ByteSize  int
	Units     string
}

var (
	_ json.Unmarshaler = (*Dtype)(nil)
	_ json.Marshaler   = (*Dtype)(nil)
)

// Data types written by this package. Multi-byte types are little-endian.
var (
	DtypeBool    = Dtype{ByteOrder: BONotRelevant, BasicType: BTBoolean, ByteSize: 1}
	DtypeInt32   = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 4}
	DtypeInt64   = Dtype{ByteOrder: BOLittleEndian, BasicType: BTInteger, ByteSize: 8}
	DtypeFloat32 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 4}
	DtypeFloat64 = Dtype{ByteOrder: BOLittleEndian, BasicType: BTFloatingPoint, ByteSize: 8}
)

func ParseDtype(s string) (dt Dtype, err error) {
	// python writers sometimes HTML-escape the byte order
	s = strings.Replace(s, "&lt;", "<", 1)
	s = strings.Replace(s, "&gt;", ">", 1)

	if len(s) < 3 {
		return dt, fmt.Errorf("invalid Dtype string. %q is too short", s)
	}

	boByte, s := s[0], s[1:]
	dt.ByteOrder, err = ParseByteOrder(rune(boByte))
	if err != nil {
		return dt, err
	}

	typeByte, s := s[0], s[1:]
	dt.BasicType, err = ParseBasicType(rune(typeByte))
	if err != nil {
		return dt, err
	}

	sizeStr, unitStr := s, ""
	if i := strings.IndexByte(s, '['); i >= 0 {
		sizeStr, unitStr = s[:i], s[i:]
	}

	size, err := strconv.ParseInt(sizeStr, 10, 0)
	if err != nil {
		return dt, fmt.Errorf("invalid Dtype size %q: %w", sizeStr, err)
	}
	dt.ByteSize = int(size)
	dt.Units = unitStr

	return dt, nil
}

func (dt Dtype) String() string {
	s := fmt.Sprintf("%s%s%d", string(dt.ByteOrder), string(dt.BasicType), dt.ByteSize)
	if dt.Units != "" {
		s += dt.Units
	}
	return s
}

// Order returns the binary byte order used to encode values of this type.
// Types where byte order is not relevant decode as little-endian.
func (dt Dtype) Order() binary.ByteOrder {
	if dt.ByteOrder == BOBigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// FillBytes encodes a single fill value as ByteSize bytes. A nil fill value
// encodes as zero.
func (dt Dtype) FillBytes(fill interface{}) ([]byte, error) {
	b := make([]byte, dt.ByteSize)
	if fill == nil {
		return b, nil
	}

	var f float64
	switch v := fill.(type) {
	case bool:
		if v {
			f = 1
		}
	case float64:
		f = v
	case int:
		f = float64(v)
	case string:
		switch v {
		case FillValueNaN:
			f = math.NaN()
		case FillValueInfinity:
			f = math.Inf(1)
		case FillValueNegativeInfinity:
			f = math.Inf(-1)
		default:
			return nil, fmt.Errorf("unsupported fill value %q", v)
		}
	default:
		return nil, fmt.Errorf("unsupported fill value type %T", fill)
	}

	order := dt.Order()
	switch dt.BasicType {
	case BTBoolean:
		if f != 0 {
			b[0] = 1
		}
	case BTInteger, BTUnsigned:
		switch dt.ByteSize {
		case 1:
			b[0] = byte(int64(f))
		case 2:
			order.PutUint16(b, uint16(int64(f)))
		case 4:
			order.PutUint32(b, uint32(int64(f)))
		case 8:
			order.PutUint64(b, uint64(int64(f)))
		}
	case BTFloatingPoint:
		switch dt.ByteSize {
		case 4:
			order.PutUint32(b, math.Float32bits(float32(f)))
		case 8:
			order.PutUint64(b, math.Float64bits(f))
		default:
			return nil, fmt.Errorf("unsupported float size %d", dt.ByteSize)
		}
	default:
		if f != 0 {
			return nil, fmt.Errorf("fill values for %s are not supported", dt.BasicType.Human())
		}
	}
	return b, nil
}

func (dt Dtype) MarshalJSON() ([]byte, error) {
	return []byte(`"` + dt.String() + `"`), nil
}

func (dt *Dtype) UnmarshalJSON(d []byte) error {
	var s string
	if err := json.Unmarshal(d, &s); err != nil {
		return err
	}
	t, err := ParseDtype(s)
	if err != nil {
		return err
	}

	*dt = t
	return nil
}

type ByteOrder rune

func ParseByteOrder(r rune) (ByteOrder, error) {
	o := ByteOrder(r)
	if _, ok := byteOrders[o]; !ok {
		return o, fmt.Errorf("unsupported byte order format: %q", r)
	}
	return o, nil
}

const (
	BONotRelevant  ByteOrder = '|'
	BOLittleEndian ByteOrder = '<'
	BOBigEndian    ByteOrder = '>'
)

var byteOrders = map[ByteOrder]struct{}{
	BONotRelevant:  {},
	BOLittleEndian: {},
	BOBigEndian:    {},
}

type BasicType rune

func ParseBasicType(r rune) (BasicType, error) {
	t := BasicType(r)
	if _, ok := supportedBasicTypes[t]; !ok {
		return t, fmt.Errorf("unsupported basic type: %q", r)
	}
	return t, nil
}

func (bt BasicType) Human() string {
	return supportedBasicTypes[bt]
}

const (
	BTBoolean       BasicType = 'b'
	BTInteger       BasicType = 'i'
	BTUnsigned      BasicType = 'u'
	BTFloatingPoint BasicType = 'f'
	BTComplex       BasicType = 'c'
	BTTimedelta     BasicType = 'm'
	BTDatetime      BasicType = 'M'
	BTString        BasicType = 'S'
	BTUnicode       BasicType = 'U'
	BTOther         BasicType = 'V'
)

var supportedBasicTypes = map[BasicType]string{
	BTBoolean:       "bool",
	BTInteger:       "int",
	BTUnsigned:      "uint",
	BTFloatingPoint: "float",
	BTComplex:       "complex",
	BTTimedelta:     "timeDelta",
	BTDatetime:      "dateTime",
	BTString:        "string",
	BTUnicode:       "unicode",
	BTOther:         "other",
}

// StructuredType is either a basic Dtype or a named, possibly nested, record
// of types. Arrays written by this package always use basic types; record
// types are decoded only so that arrays holding them can be rejected with a
// clear error.
type StructuredType struct {
	Fieldname string
	Dtype     Dtype
	Shape     interface{}
	Children  []StructuredType
}

var (
	_ json.Unmarshaler = (*StructuredType)(nil)
	_ json.Marshaler   = (*StructuredType)(nil)
)

// BasicStructuredType wraps a basic Dtype.
func BasicStructuredType(dt Dtype) StructuredType {
	return StructuredType{Dtype: dt}
}

// ParseStructuredType decodes a typestr or a record description as found in
// the "dtype" field of .zarray documents.
func ParseStructuredType(d interface{}) (StructuredType, error) {
	switch v := d.(type) {
	case string:
		dt, err := ParseDtype(v)
		return StructuredType{Dtype: dt}, err
	case []interface{}:
		return parseRecord(v)
	}
	return StructuredType{}, fmt.Errorf("unexpected dtype %T", d)
}

// parseRecord decodes either a list of fields, [[name, type, shape?], ...],
// or a single field.
func parseRecord(d []interface{}) (StructuredType, error) {
	if len(d) == 1 {
		fields, ok := d[0].([]interface{})
		if !ok {
			return StructuredType{}, fmt.Errorf("record dtype must hold a list of fields")
		}
		var rec StructuredType
		for i, f := range fields {
			ch, err := ParseStructuredType(f)
			if err != nil {
				return StructuredType{}, fmt.Errorf("field %d: %w", i, err)
			}
			rec.Children = append(rec.Children, ch)
		}
		return rec, nil
	}
	if len(d) < 2 {
		return StructuredType{}, fmt.Errorf("record field needs a name and a type, got %d elements", len(d))
	}

	name, ok := d[0].(string)
	if !ok {
		return StructuredType{}, fmt.Errorf("record field name must be a string, got %T", d[0])
	}
	field := StructuredType{Fieldname: name}
	ch, err := ParseStructuredType(d[1])
	if err != nil {
		return StructuredType{}, fmt.Errorf("field %q: %w", name, err)
	}
	if ch.IsBasic() {
		field.Dtype = ch.Dtype
	} else {
		field.Children = append(field.Children, ch)
	}
	if len(d) > 2 {
		field.Shape = d[2]
	}
	return field, nil
}

func (st StructuredType) IsBasic() bool {
	return st.Fieldname == "" && st.Shape == nil && len(st.Children) == 0
}

func (st StructuredType) Human() string {
	if st.IsBasic() {
		return st.Dtype.BasicType.Human()
	}
	return "struct"
}

func (st StructuredType) MarshalJSON() ([]byte, error) {
	if st.IsBasic() {
		return st.Dtype.MarshalJSON()
	}
	d := []interface{}{st.Fieldname, st.Dtype}
	if st.Shape != nil {
		d = append(d, st.Shape)
	}
	return json.Marshal(d)
}

func (st *StructuredType) UnmarshalJSON(d []byte) error {
	var v interface{}
	if err := json.Unmarshal(d, &v); err != nil {
		return err
	}
	t, err := ParseStructuredType(v)
	if err != nil {
		return err
	}
	*st = t
	return nil
}
