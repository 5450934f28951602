package convert

import (
	"strings"

	"github.com/qri-io/zarr-image/dataset"
	"github.com/qri-io/zarr-image/legacy"
)

// omittedFields are summary fields derivable from the stored arrays, or
// awkward to store as attributes.
var omittedFields = map[string]bool{
	"axisnames":   true,
	"incr":        true,
	"hasmask":     true,
	"masks":       true,
	"defaultmask": true,
	"ndim":        true,
	"refpix":      true,
	"refval":      true,
	"shape":       true,
	"tileshape":   true,
	"messages":    true,
}

// omittedLabels are message labels that repeat information stored
// elsewhere.
var omittedLabels = map[string]bool{
	"image_name":     true,
	"image_type":     true,
	"image_quantity": true,
	"pixel_mask(s)":  true,
	"region(s)":      true,
	"image_units":    true,
}

// NormalizeAttrs builds the attributes of an artifact from its summary.
// Plain fields come first in summary order, followed by record fields
// flattened into lists of (dotted key, value) pairs, then the labels parsed
// from the summary messages. A message label that repeats an earlier key
// replaces its value in place.
func NormalizeAttrs(s *legacy.Summary) dataset.Attrs {
	attrs := dataset.Attrs{}
	var nested []legacy.Field
	for _, f := range s.Fields {
		key := strings.ToLower(f.Key)
		if omittedFields[key] {
			continue
		}
		if f.Value.Kind() == legacy.RecordValue {
			nested = append(nested, f)
			continue
		}
		attrs.Set(key, f.Value.Interface())
	}

	for _, f := range nested {
		flat := f.Value.Fields().Flatten(".")
		pairs := make([]dataset.Pair, len(flat))
		for i, ff := range flat {
			pairs[i] = dataset.Pair{Key: ff.Key, Value: ff.Value.Interface()}
		}
		attrs.Set(strings.ToLower(f.Key), pairs)
	}

	for _, msg := range s.Messages {
		for _, line := range strings.Split(msg, "\n") {
			label, value, ok := parseMessageLine(line)
			if !ok || omittedLabels[label] {
				continue
			}
			attrs.Set(label, value)
		}
	}
	return attrs
}

// parseMessageLine splits a "label : value" report line on its first colon.
// Lines without a colon followed by a space carry no label.
func parseMessageLine(line string) (label, value string, ok bool) {
	if !strings.Contains(line, ": ") {
		return "", "", false
	}
	i := strings.Index(line, ":")
	label = strings.ReplaceAll(strings.TrimSpace(strings.ToLower(line[:i])), " ", "_")
	if label == "" {
		return "", "", false
	}
	return label, strings.TrimSpace(line[i+1:]), true
}
