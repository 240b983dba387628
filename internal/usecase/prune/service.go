// Package prune implements the dedup pruning use case: layers the
// destination already holds are deleted from the extracted export before
// it is repacked.
package prune

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"path"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/internal/logging"
	"github.com/bnema/dockship/pkg/validation"
)

// legacyLayerFile is the per-layer archive of the pre-OCI save layout.
const legacyLayerFile = "layer.tar"

// Report summarizes one pruning pass. Paths are relative to the
// extraction directory.
type Report struct {
	Removed []string `yaml:"removed"`
	Failed  []string `yaml:"failed,omitempty"`
	Kept    int      `yaml:"kept"`
}

// Service implements the pruning pass.
type Service struct{}

// NewService creates a new prune service.
func NewService() *Service {
	return &Service{}
}

type selected struct {
	entry   domain.ManifestEntry
	diffIDs domain.ConfigDescriptor
}

// Prune removes, from the archive extracted at dir, the data of every
// layer whose diff id is in existing. Only manifest entries tagged with
// one of refs are considered. Every selected entry is validated before the
// first deletion; deletion failures are logged and reported, not returned.
func (s *Service) Prune(ctx context.Context, ch out.Channel, dir string, refs []domain.ImageReference, existing domain.LayerSet) (Report, error) {
	ctx, log := logging.WithUseCase(ctx, "Prune")

	entries, err := loadManifest(ctx, ch, dir)
	if err != nil {
		return Report{}, err
	}

	var picked []selected
	for _, entry := range entries {
		if !entry.HasAnyTag(refs...) {
			continue
		}
		cfg, err := loadConfig(ctx, ch, dir, entry.Config)
		if err != nil {
			return Report{}, err
		}
		if len(entry.Layers) != len(cfg.DiffIDs) {
			return Report{}, fmt.Errorf("%w: %v has %d layers and %d diff ids",
				domain.ErrManifestMismatch, entry.RepoTags, len(entry.Layers), len(cfg.DiffIDs))
		}
		picked = append(picked, selected{entry: entry, diffIDs: cfg})
	}

	if len(picked) == 0 {
		log.Warn().Interface("refs", refs).Msg("no manifest entry matches the image, nothing pruned")
		return Report{}, nil
	}

	var report Report
	seen := make(map[string]struct{})
	for _, p := range picked {
		for i, id := range p.diffIDs.DiffIDs {
			if !existing.Contains(id) {
				report.Kept++
				continue
			}

			target, err := layerTarget(dir, p.entry.Layers[i])
			if err != nil {
				log.Warn().Err(err).Str("layer", p.entry.Layers[i]).Msg("refusing to remove layer")
				report.Failed = append(report.Failed, p.entry.Layers[i])
				continue
			}
			if _, dup := seen[target]; dup {
				continue
			}
			seen[target] = struct{}{}

			if err := removeLayer(ctx, ch, path.Join(dir, target)); err != nil {
				log.Warn().Err(err).Str("layer", target).Msg("failed to remove layer")
				report.Failed = append(report.Failed, target)
				continue
			}
			log.Debug().Str("layer", target).Str("diff_id", id.String()).Msg("removed")
			report.Removed = append(report.Removed, target)
		}
	}

	log.Info().
		Int("removed", len(report.Removed)).
		Int("kept", report.Kept).
		Int("failed", len(report.Failed)).
		Msg("pruned layers already present at destination")
	return report, nil
}

func loadManifest(ctx context.Context, ch out.Channel, dir string) ([]domain.ManifestEntry, error) {
	data, err := readAll(ctx, ch, path.Join(dir, domain.ManifestFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrManifestNotFound, dir)
		}
		return nil, err
	}

	var entries []domain.ManifestEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", domain.ErrIO, domain.ManifestFileName, err)
	}
	return entries, nil
}

func loadConfig(ctx context.Context, ch out.Channel, dir, name string) (domain.ConfigDescriptor, error) {
	rel, err := within(dir, name)
	if err != nil {
		return domain.ConfigDescriptor{}, err
	}
	data, err := readAll(ctx, ch, path.Join(dir, rel))
	if err != nil {
		return domain.ConfigDescriptor{}, err
	}

	var img ocispec.Image
	if err := json.Unmarshal(data, &img); err != nil {
		return domain.ConfigDescriptor{}, fmt.Errorf("%w: decode config %s: %w", domain.ErrIO, name, err)
	}
	return domain.ConfigDescriptor{DiffIDs: img.RootFS.DiffIDs}, nil
}

// layerTarget maps a manifest layer path to what must be deleted: the
// whole <id>/ directory for the legacy layout, the blob file otherwise.
func layerTarget(dir, layer string) (string, error) {
	rel, err := within(dir, layer)
	if err != nil {
		return "", err
	}
	if path.Base(rel) == legacyLayerFile && path.Dir(rel) != "." {
		return path.Dir(rel), nil
	}
	return rel, nil
}

// within cleans p, a path relative to dir, and rejects paths escaping dir.
func within(dir, p string) (string, error) {
	if p == "" || path.IsAbs(p) {
		return "", fmt.Errorf("%w: path %q escapes the archive", domain.ErrIO, p)
	}
	full := path.Join(dir, p)
	if err := validation.ValidatePathWithinRoot(dir, full); err != nil || full == path.Clean(dir) {
		return "", fmt.Errorf("%w: path %q escapes the archive", domain.ErrIO, p)
	}
	return path.Clean(p), nil
}

func removeLayer(ctx context.Context, ch out.Channel, p string) error {
	info, err := ch.Stat(ctx, p)
	if err != nil {
		return err
	}
	if info.IsDir {
		return ch.RemoveAll(ctx, p)
	}
	return ch.Remove(ctx, p)
}

func readAll(ctx context.Context, ch out.Channel, p string) ([]byte, error) {
	r, err := ch.OpenRead(ctx, p)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", domain.ErrIO, p, err)
	}
	return data, nil
}
