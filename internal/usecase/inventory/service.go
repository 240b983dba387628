// Package inventory implements the layer inventory use case: which layer
// contents does a host already hold.
package inventory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"
	"strings"

	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/system"
	"github.com/opencontainers/go-digest"
	"github.com/rs/zerolog"

	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/internal/logging"
	"github.com/bnema/dockship/pkg/shellcmd"
)

// overlayDriver is the only storage driver whose layer database is read.
const overlayDriver = "overlay2"

// maxDiffFileSize bounds a layerdb diff file ("sha256:" + 64 hex).
const maxDiffFileSize = 256

// ProbeKind classifies the outcome of one inventory strategy.
type ProbeKind int

const (
	Found ProbeKind = iota
	NotFound
	DriverUnsupported
	QueryFailed
)

func (k ProbeKind) String() string {
	switch k {
	case Found:
		return "found"
	case NotFound:
		return "not_found"
	case DriverUnsupported:
		return "driver_unsupported"
	case QueryFailed:
		return "query_failed"
	default:
		return fmt.Sprintf("ProbeKind(%d)", int(k))
	}
}

// ProbeResult is the typed outcome of a strategy. Layers is set only for
// Found, Err only for QueryFailed.
type ProbeResult struct {
	Kind   ProbeKind
	Layers domain.LayerSet
	Err    error
}

// Service implements the storage-introspection and image-inspection
// strategies.
type Service struct{}

// NewService creates a new inventory service.
func NewService() *Service {
	return &Service{}
}

// Query returns the layers present on the host behind ch. Storage
// introspection is tried first, then inspection of ref. When neither finds
// anything the result is the "no inventory" value. A failing inspection
// returns NoInventory together with ErrInventoryUnavailable.
func (s *Service) Query(ctx context.Context, ch out.Channel, runtime string, ref domain.ImageReference) (domain.Inventory, error) {
	ctx, log := logging.WithUseCase(ctx, "QueryInventory")

	storage := s.ProbeStorage(ctx, ch, runtime)
	if storage.Kind == Found {
		log.Info().Int("layers", storage.Layers.Len()).Str("source", string(domain.InventoryFromStorage)).Msg("layer inventory loaded")
		return domain.Inventory{Found: true, Layers: storage.Layers, Source: domain.InventoryFromStorage}, nil
	}

	ev := log.Debug()
	if storage.Kind == QueryFailed {
		ev = log.Warn().Err(storage.Err)
	}
	ev.Str("probe", storage.Kind.String()).Msg("storage introspection did not find layers, inspecting image")

	img := s.ProbeImage(ctx, ch, runtime, ref)
	switch img.Kind {
	case Found:
		log.Info().Int("layers", img.Layers.Len()).Str("source", string(domain.InventoryFromImage)).Msg("layer inventory loaded")
		return domain.Inventory{Found: true, Layers: img.Layers, Source: domain.InventoryFromImage}, nil
	case QueryFailed:
		return domain.NoInventory(), fmt.Errorf("%w: %w", domain.ErrInventoryUnavailable, img.Err)
	default:
		log.Info().Str("image", ref.String()).Msg("no layer inventory on destination")
		return domain.NoInventory(), nil
	}
}

// ProbeStorage reads the runtime's overlay2 layer database.
func (s *Service) ProbeStorage(ctx context.Context, ch out.Channel, runtime string) ProbeResult {
	log := zerolog.Ctx(ctx)

	stdout, _, err := ch.Run(ctx, shellcmd.Command(runtime, "info", "--format", "{{json .}}"), out.RunOptions{})
	if err != nil {
		return ProbeResult{Kind: QueryFailed, Err: fmt.Errorf("runtime info: %w", err)}
	}

	var info system.Info
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &info); err != nil {
		return ProbeResult{Kind: QueryFailed, Err: fmt.Errorf("decode runtime info: %w", err)}
	}
	if info.Driver != overlayDriver || info.DockerRootDir == "" {
		log.Debug().Str("driver", info.Driver).Msg("storage driver not supported for introspection")
		return ProbeResult{Kind: DriverUnsupported}
	}

	layerDB := path.Join(info.DockerRootDir, "image", info.Driver, "layerdb", "sha256")
	entries, err := ch.ListDir(ctx, layerDB)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ProbeResult{Kind: NotFound}
		}
		return ProbeResult{Kind: QueryFailed, Err: fmt.Errorf("list layer database: %w", err)}
	}

	ids := make([]digest.Digest, 0, len(entries))
	for _, entry := range entries {
		raw, err := readSmall(ctx, ch, path.Join(layerDB, entry, "diff"))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				log.Debug().Str("entry", entry).Msg("layer entry without diff file")
				continue
			}
			return ProbeResult{Kind: QueryFailed, Err: fmt.Errorf("read layer %s: %w", entry, err)}
		}
		id, ok := parseDiffID(log, raw)
		if !ok {
			continue
		}
		ids = append(ids, id)
	}

	return ProbeResult{Kind: Found, Layers: domain.NewLayerSet(ids...)}
}

// ProbeImage asks the runtime for the rootfs layers of ref. Absence is
// decided by the listing being empty, never by error wording.
func (s *Service) ProbeImage(ctx context.Context, ch out.Channel, runtime string, ref domain.ImageReference) ProbeResult {
	log := zerolog.Ctx(ctx)

	stdout, _, err := ch.Run(ctx, shellcmd.Command(runtime, "image", "ls", "-q", ref.String()), out.RunOptions{})
	if err != nil {
		return ProbeResult{Kind: QueryFailed, Err: fmt.Errorf("list image %s: %w", ref, err)}
	}
	if len(bytes.TrimSpace(stdout)) == 0 {
		return ProbeResult{Kind: NotFound}
	}

	stdout, _, err = ch.Run(ctx, shellcmd.Command(runtime, "image", "inspect", ref.String()), out.RunOptions{})
	if err != nil {
		return ProbeResult{Kind: QueryFailed, Err: fmt.Errorf("inspect image %s: %w", ref, err)}
	}

	var inspected []image.InspectResponse
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &inspected); err != nil {
		return ProbeResult{Kind: QueryFailed, Err: fmt.Errorf("decode inspect output: %w", err)}
	}
	if len(inspected) == 0 {
		return ProbeResult{Kind: NotFound}
	}

	ids := make([]digest.Digest, 0, len(inspected[0].RootFS.Layers))
	for _, layer := range inspected[0].RootFS.Layers {
		if id, ok := parseDiffID(log, []byte(layer)); ok {
			ids = append(ids, id)
		}
	}
	return ProbeResult{Kind: Found, Layers: domain.NewLayerSet(ids...)}
}

func parseDiffID(log *zerolog.Logger, raw []byte) (digest.Digest, bool) {
	id, err := digest.Parse(strings.TrimSpace(string(raw)))
	if err != nil {
		log.Debug().Err(err).Str("value", string(raw)).Msg("skipping invalid diff id")
		return "", false
	}
	return id, true
}

func readSmall(ctx context.Context, ch out.Channel, p string) ([]byte, error) {
	r, err := ch.OpenRead(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(io.LimitReader(r, maxDiffFileSize))
}
