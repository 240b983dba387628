package pipeline

import (
	"math/rand"
	"path"

	"github.com/google/uuid"

	"github.com/bnema/dockship/internal/domain"
)

// WorkDir derives a collision-resistant directory under base. The same
// seed always yields the same directory.
func WorkDir(base string, seed int64) string {
	id, err := uuid.NewRandomFromReader(rand.New(rand.NewSource(seed))) // #nosec G404
	if err != nil {
		// math/rand never fails to read.
		panic(err)
	}
	return path.Join(base, id.String())
}

// Layout names every path a run touches. The same paths are used on the
// source and the destination. The destination receives its copy at
// IncomingArchive, so a destination aliasing the source never writes over
// ShipArchive while it is being read.
type Layout struct {
	Root            string
	ExtractDir      string
	ExportArchive   string
	ShipArchive     string
	IncomingArchive string
}

// NewLayout places the archives of ref under root.
func NewLayout(root string, ref domain.ImageReference, compress bool) Layout {
	name := ref.FileName()
	ship := name + ".shrinked.tar"
	if compress {
		ship += ".gz"
	}
	return Layout{
		Root:            root,
		ExtractDir:      path.Join(root, name),
		ExportArchive:   path.Join(root, name+".tar"),
		ShipArchive:     path.Join(root, ship),
		IncomingArchive: path.Join(root, ship+".incoming"),
	}
}
