package domain

import (
	"slices"

	"github.com/opencontainers/go-digest"
)

// ManifestFileName is the archive-level index written by the runtime's save.
const ManifestFileName = "manifest.json"

// ManifestEntry is one tagged image of an exported archive.
// Layers[i] holds the data of ConfigDescriptor.DiffIDs[i].
type ManifestEntry struct {
	Config   string   `json:"Config"`
	RepoTags []string `json:"RepoTags"`
	Layers   []string `json:"Layers"`
}

// HasAnyTag reports whether the entry is tagged with one of refs.
func (m ManifestEntry) HasAnyTag(refs ...ImageReference) bool {
	for _, ref := range refs {
		if ref.IsZero() {
			continue
		}
		if slices.Contains(m.RepoTags, ref.String()) {
			return true
		}
	}
	return false
}

// ConfigDescriptor holds the ordered layer diff ids of an image config.
type ConfigDescriptor struct {
	DiffIDs []digest.Digest
}

// LayerSet is an immutable set of layer diff ids.
type LayerSet struct {
	ids map[digest.Digest]struct{}
}

// NewLayerSet builds a set from ids. Duplicates collapse.
func NewLayerSet(ids ...digest.Digest) LayerSet {
	set := LayerSet{ids: make(map[digest.Digest]struct{}, len(ids))}
	for _, id := range ids {
		set.ids[id] = struct{}{}
	}
	return set
}

// Contains reports membership.
func (s LayerSet) Contains(id digest.Digest) bool {
	_, ok := s.ids[id]
	return ok
}

// Len returns the number of ids.
func (s LayerSet) Len() int {
	return len(s.ids)
}

// InventorySource names the strategy that produced an inventory.
type InventorySource string

const (
	InventoryFromStorage InventorySource = "storage"
	InventoryFromImage   InventorySource = "image"
)

// Inventory is either the destination's existing layers or the explicit
// "no inventory" value (Found == false).
type Inventory struct {
	Found  bool
	Layers LayerSet
	Source InventorySource
}

// NoInventory returns the value that disables pruning.
func NoInventory() Inventory {
	return Inventory{}
}
