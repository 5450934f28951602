package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Attr is one named attribute.
type Attr struct {
	Key   string
	Value interface{}
}

// Attrs is an ordered attribute mapping. It encodes as a JSON object with
// keys in insertion order.
type Attrs []Attr

// Get returns the value stored under key.
func (a Attrs) Get(key string) (interface{}, bool) {
	for _, at := range a {
		if at.Key == key {
			return at.Value, true
		}
	}
	return nil, false
}

// Set replaces the value under key, keeping its position, or appends it.
func (a *Attrs) Set(key string, v interface{}) {
	for i, at := range *a {
		if at.Key == key {
			(*a)[i].Value = v
			return
		}
	}
	*a = append(*a, Attr{Key: key, Value: v})
}

// Delete removes key if present.
func (a *Attrs) Delete(key string) {
	for i, at := range *a {
		if at.Key == key {
			*a = append((*a)[:i:i], (*a)[i+1:]...)
			return
		}
	}
}

func (a Attrs) Keys() []string {
	keys := make([]string, len(a))
	for i, at := range a {
		keys[i] = at.Key
	}
	return keys
}

func (a Attrs) MarshalJSON() ([]byte, error) {
	buf := &bytes.Buffer{}
	buf.WriteByte('{')
	for i, at := range a {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(at.Key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(at.Value)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", at.Key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object keeping its key order. Nested values
// decode as encoding/json does into interface{}.
func (a *Attrs) UnmarshalJSON(d []byte) error {
	dec := json.NewDecoder(bytes.NewReader(d))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("attributes must be a JSON object")
	}
	out := Attrs{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected attribute key %v", tok)
		}
		var v interface{}
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("attribute %q: %w", key, err)
		}
		out = append(out, Attr{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*a = out
	return nil
}

// Pair is a (key, value) tuple, encoded as a two element JSON array. Nested
// metadata records are stored as lists of pairs.
type Pair struct {
	Key   string
	Value interface{}
}

func (p Pair) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{p.Key, p.Value})
}
