// Package whiteout classifies layer entry names against the AUFS/OCI
// whiteout convention and computes the destination paths a marker implies.
// Pure path computation — no filesystem access.
package whiteout

import (
	"path/filepath"
	"strings"
)

const (
	// Prefix marks a file in a layer as a deletion of the same-named
	// entry contributed by an earlier layer.
	Prefix = ".wh."

	// OpaqueMarker marks the directory containing it as opaque: everything
	// earlier layers placed at that directory is discarded.
	OpaqueMarker = ".wh..wh..opq"
)

// Kind is the classification of a single entry name.
type Kind int

const (
	// None means the name is not a whiteout marker.
	None Kind = iota
	// Remove means the name deletes a single sibling entry.
	Remove
	// Opaque means the containing directory is opaque.
	Opaque
)

// Classification is the result of classifying one entry name.
type Classification struct {
	Kind Kind

	// Original is the name of the entry being deleted. Set only for Remove.
	Original string
}

// Classify inspects a single path component. Names without the whiteout
// prefix (including the empty string) classify as None; the fixed opaque
// marker classifies as Opaque; anything else with the prefix is a Remove of
// the suffix. Classify is a pure function.
func Classify(name string) Classification {
	if name == OpaqueMarker {
		return Classification{Kind: Opaque}
	}
	if strings.HasPrefix(name, Prefix) {
		return Classification{Kind: Remove, Original: strings.TrimPrefix(name, Prefix)}
	}
	return Classification{Kind: None}
}

// RemovalTarget resolves the destination path a marker deletes, relative to
// the rootfs being composed. layerRel is the marker's path relative to its
// layer root. For Opaque the target is the directory containing the marker;
// for Remove it is the sibling named by the marker. Returns "" for None.
func RemovalTarget(destRoot, layerRel string, c Classification) string {
	switch c.Kind {
	case Opaque:
		return filepath.Join(destRoot, filepath.Dir(layerRel))
	case Remove:
		return filepath.Join(destRoot, filepath.Dir(layerRel), c.Original)
	default:
		return ""
	}
}
