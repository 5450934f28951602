package convert

import (
	"fmt"

	"github.com/qri-io/zarr-image/legacy"
	"github.com/qri-io/zarr-image/log"
)

// Verdict classifies an artifact against the running reference.
type Verdict int

const (
	// Reference marks the artifact that establishes the reference shape.
	Reference Verdict = iota
	// Match marks an artifact that joins the output.
	Match
	// Mismatch marks an artifact excluded for its shape.
	Mismatch
)

func (v Verdict) String() string {
	switch v {
	case Reference:
		return "reference"
	case Match:
		return "match"
	case Mismatch:
		return "mismatch"
	}
	return fmt.Sprintf("Verdict(%d)", int(v))
}

// Classify compares m to the reference ref, which is nil until the first
// artifact is accepted. Sum of weights artifacts have no sky axes, so they
// always match and never become the reference.
func Classify(ref, m *Metadata) Verdict {
	if m.Type == sumwtArtifact {
		return Match
	}
	if ref == nil {
		return Reference
	}
	if !equalShape(ref.Shape, m.Shape) {
		return Mismatch
	}
	return Match
}

// Skip records an artifact that exists but is left out of the output.
type Skip struct {
	Type string
	// Kind is ErrReadFailure or ErrDuplicateVariable.
	Kind error
	Err  error
}

// Partition is the outcome of partitioning the candidate artifacts.
type Partition struct {
	// Present lists artifact types found on disk, in priority order.
	Present []string
	// Missing lists candidate types with no file.
	Missing []string
	// Compatible lists the types that join the output, in priority order.
	Compatible []string
	// Incompatible lists the types excluded for their shape.
	Incompatible []string
	// IncompatibleMeta holds the metadata of each incompatible artifact.
	IncompatibleMeta []*Metadata
	Skipped          []Skip
	Reference        *Metadata
	// Metas holds the metadata of every compatible artifact by type.
	Metas map[string]*Metadata
}

// PartitionArtifacts opens every candidate artifact found next to prefix
// and splits them into those sharing the reference shape and the rest.
// candidates are the input's own type, suffix, followed by override, or by
// DefaultArtifacts when override is nil.
func PartitionArtifacts(opener legacy.Opener, prefix, suffix string, override []string, logger *log.Logger) (*Partition, error) {
	if logger == nil {
		logger = log.Nop()
	}
	p := &Partition{Metas: map[string]*Metadata{}}
	// output variable name -> compatible artifact holding it
	owners := map[string]string{}
	for _, typ := range candidates(suffix, override) {
		path := artifactPath(prefix, typ)
		if !opener.Exists(path) {
			p.Missing = append(p.Missing, typ)
			continue
		}
		p.Present = append(p.Present, typ)

		if owner, ok := owners[variableName(typ)]; ok {
			err := fmt.Errorf("variable %q holds the %s artifact", variableName(typ), owner)
			logger.Warn("skipping duplicate artifact", map[string]any{"artifact": typ, "variable": variableName(typ), "kept": owner})
			p.Skipped = append(p.Skipped, Skip{Type: typ, Kind: ErrDuplicateVariable, Err: err})
			continue
		}

		m, err := inspect(opener, prefix, typ)
		if err != nil {
			logger.Warn("skipping unreadable artifact", map[string]any{"artifact": typ, "error": err.Error()})
			p.Skipped = append(p.Skipped, Skip{Type: typ, Kind: ErrReadFailure, Err: err})
			continue
		}

		switch Classify(p.Reference, m) {
		case Reference:
			p.Reference = m
			fallthrough
		case Match:
			p.Compatible = append(p.Compatible, typ)
			p.Metas[typ] = m
			owners[variableName(typ)] = typ
		case Mismatch:
			p.Incompatible = append(p.Incompatible, typ)
			p.IncompatibleMeta = append(p.IncompatibleMeta, m)
		}
	}

	if p.Reference == nil {
		if len(p.Compatible) > 0 {
			// only sum of weights artifacts opened
			return p, newError(ErrNoCompatibleArtifacts, "partition", sumwtArtifact,
				fmt.Errorf("%s.%s has no sky axes and cannot establish a reference", prefix, sumwtArtifact))
		}
		return p, newError(ErrNoCompatibleArtifacts, "partition", "", fmt.Errorf("no readable artifact at %s.*", prefix))
	}
	return p, nil
}

// Warnings reports every non-fatal problem found while partitioning.
func (p *Partition) Warnings() []error {
	var errs []error
	for _, typ := range p.Missing {
		errs = append(errs, newError(ErrMissingArtifact, "discover", typ, nil))
	}
	for i, typ := range p.Incompatible {
		errs = append(errs, newError(ErrShapeIncompatible, "partition", typ,
			fmt.Errorf("shape %v, reference shape %v", p.IncompatibleMeta[i].Shape, p.Reference.Shape)))
	}
	for _, s := range p.Skipped {
		kind := s.Kind
		if kind == nil {
			kind = ErrReadFailure
		}
		errs = append(errs, newError(kind, "open", s.Type, s.Err))
	}
	return errs
}

func equalShape(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
