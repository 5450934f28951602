package convert

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/qri-io/zarr-image/dataset"
	"github.com/qri-io/zarr-image/legacy"
)

// DefaultArtifacts are the artifact types looked for next to the input, in
// priority order. The input's own type is always considered first.
var DefaultArtifacts = []string{"image.pbcor", "mask", "model", "pb", "psf", "residual", "sumwt", "weight"}

// OutputSuffix is appended to the input prefix to name the default output.
const OutputSuffix = ".img.zarr"

const (
	maskArtifact  = "mask"
	sumwtArtifact = "sumwt"
	fitsArtifact  = "fits"

	// maskVar holds the validity mask read alongside artifact pixels.
	maskVar = "mask"
	// deconvolveVar holds the mask artifact's pixels cast to bool.
	deconvolveVar = "deconvolve"
	imageVar      = "image"

	chanDim = "chan"
	polDim  = "pol"
)

// Metadata describes one artifact as opened during partitioning.
type Metadata struct {
	Type   string
	Shape  []int
	Dims   []string
	Coords map[string]*dataset.Variable
	Attrs  dataset.Attrs
	// HasMask reports whether the artifact carries a validity mask.
	HasMask bool
}

// inspect opens the artifact of type typ and resolves its coordinates and
// attributes. The handle is closed before returning.
func inspect(opener legacy.Opener, prefix, typ string) (*Metadata, error) {
	h, err := opener.Open(artifactPath(prefix, typ))
	if err != nil {
		return nil, err
	}
	defer h.Close()

	s, err := h.Summary()
	if err != nil {
		return nil, fmt.Errorf("reading summary: %w", err)
	}
	shape := h.Shape()
	res, err := ResolveCoords(h, s.AxisNames, s.AxisUnits, shape)
	if err != nil {
		return nil, err
	}
	return &Metadata{
		Type:    typ,
		Shape:   shape,
		Dims:    res.Dims,
		Coords:  res.Coords,
		Attrs:   NormalizeAttrs(s),
		HasMask: len(s.Masks) > 0,
	}, nil
}

// candidates lists artifact types in the order they are considered: the
// input's own type, then override or the defaults. Repeats are dropped.
func candidates(suffix string, override []string) []string {
	list := append([]string{suffix}, DefaultArtifacts...)
	if override != nil {
		list = append([]string{suffix}, override...)
	}
	seen := map[string]bool{}
	out := make([]string, 0, len(list))
	for _, typ := range list {
		if typ == "" || seen[typ] {
			continue
		}
		seen[typ] = true
		out = append(out, typ)
	}
	return out
}

// splitInput separates an input path at its final "." into the prefix
// shared by all artifacts and the input's own artifact type.
// Legacy images are often directories, so trailing slashes are ignored.
func splitInput(infile string) (prefix, suffix string, err error) {
	trimmed := strings.TrimRight(infile, "/")
	i := strings.LastIndex(trimmed, ".")
	if i < 0 || i == len(trimmed)-1 || strings.Contains(trimmed[i:], "/") {
		return "", "", fmt.Errorf("input %q has no artifact suffix", infile)
	}
	return trimmed[:i], trimmed[i+1:], nil
}

func artifactPath(prefix, typ string) string {
	return prefix + "." + typ
}

// variableName is the output variable holding an artifact's pixels.
func variableName(typ string) string {
	switch typ {
	case fitsArtifact:
		return imageVar
	case maskArtifact:
		return deconvolveVar
	}
	return typ
}

// expandHome replaces a leading "~" with the user's home directory.
func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, path[1:]), nil
}
