// Package pipeline implements the transfer orchestration use case: export
// at the source, prune what the destination already holds, ship, import.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/internal/logging"
	"github.com/bnema/dockship/internal/usecase/endpoint"
	"github.com/bnema/dockship/internal/usecase/prune"
	"github.com/bnema/dockship/internal/usecase/transfer"
	"github.com/bnema/dockship/pkg/bytesize"
	"github.com/bnema/dockship/pkg/shellcmd"
)

// Step names a state of the pipeline.
type Step string

const (
	StepPreHook     Step = "pre_hook"
	StepPrepareSrc  Step = "prepare_source_dir"
	StepExport      Step = "export"
	StepExtract     Step = "extract"
	StepInventory   Step = "inventory"
	StepPrune       Step = "prune"
	StepVerify      Step = "verify_non_empty"
	StepRepack      Step = "repack"
	StepPrepareDest Step = "prepare_dest_dir"
	StepTransfer    Step = "transfer"
	StepImport      Step = "import"
	StepRetag       Step = "retag"
	StepCleanup     Step = "cleanup"
	StepPostHook    Step = "post_hook"
)

type endpointResolver interface {
	Resolve(ctx context.Context, address string) (*endpoint.Resolved, error)
}

type inventoryQuerier interface {
	Query(ctx context.Context, ch out.Channel, runtime string, ref domain.ImageReference) (domain.Inventory, error)
}

type layerPruner interface {
	Prune(ctx context.Context, ch out.Channel, dir string, refs []domain.ImageReference, existing domain.LayerSet) (prune.Report, error)
}

type copier interface {
	Copy(ctx context.Context, req transfer.Request) (transfer.Result, error)
}

// Service runs the transfer state machine.
type Service struct {
	endpoints endpointResolver
	inventory inventoryQuerier
	pruner    layerPruner
	copier    copier
	metrics   out.MetricsRecorder
	progress  transfer.ProgressFunc
	seed      func() int64
	now       func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records step and transfer metrics.
func WithMetrics(m out.MetricsRecorder) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithProgress receives transfer progress updates.
func WithProgress(fn transfer.ProgressFunc) Option {
	return func(s *Service) {
		s.progress = fn
	}
}

// WithSeed fixes the seed of randomized workdirs.
func WithSeed(seed int64) Option {
	return func(s *Service) {
		s.seed = func() int64 { return seed }
	}
}

// NewService creates a new pipeline service.
func NewService(
	endpoints endpointResolver,
	inventory inventoryQuerier,
	pruner layerPruner,
	copier copier,
	opts ...Option,
) *Service {
	s := &Service{
		endpoints: endpoints,
		inventory: inventory,
		pruner:    pruner,
		copier:    copier,
		metrics:   out.NopMetrics{},
		seed:      rand.Int63, // #nosec G404
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// run carries the state of one execution.
type run struct {
	svc    *Service
	cfg    domain.RunConfig
	src    *endpoint.Resolved
	dst    *endpoint.Resolved
	layout Layout
	report *Report

	srcDirCreated bool
	dstDirCreated bool
}

// Run executes the pipeline described by cfg. The returned report is
// never nil; it is also written to cfg.ReportPath when set.
func (s *Service) Run(ctx context.Context, cfg domain.RunConfig) (*Report, error) {
	ctx, log := logging.WithUseCase(ctx, "Transfer")
	started := s.now()
	report := &Report{StartedAt: started}

	err := s.execute(ctx, cfg, report)

	report.Duration = s.now().Sub(started)
	report.Success = err == nil
	if err != nil {
		report.Error = err.Error()
	}
	s.metrics.RunFinished(err == nil, report.Duration)

	if cfg.ReportPath != "" {
		if werr := report.WriteFile(cfg.ReportPath); werr != nil {
			log.Warn().Err(werr).Str("path", cfg.ReportPath).Msg("failed to write run report")
		}
	}
	if ferr := s.metrics.Flush(); ferr != nil {
		log.Warn().Err(ferr).Msg("failed to write metrics")
	}

	if err != nil {
		return report, err
	}
	log.Info().Str("elapsed", report.Duration.Round(time.Millisecond).String()).Msg("image transferred")
	return report, nil
}

func (s *Service) execute(ctx context.Context, cfg domain.RunConfig, report *Report) (err error) {
	if err := cfg.Validate(); err != nil {
		return err
	}

	src, err := s.endpoints.Resolve(ctx, cfg.Source)
	if err != nil {
		return fmt.Errorf("resolve source: %w", err)
	}
	defer closeEndpoint(ctx, "source", src)

	dst, err := s.endpoints.Resolve(ctx, cfg.Target)
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	defer closeEndpoint(ctx, "target", dst)

	root := cfg.WorkDir
	if root == "" {
		root = WorkDir(cfg.WorkDirBase, s.seed())
	}

	r := &run{
		svc:    s,
		cfg:    cfg,
		src:    src,
		dst:    dst,
		layout: NewLayout(root, src.Image, cfg.Compress),
		report: report,
	}
	report.Source = describe(src)
	report.Target = describe(dst)
	report.WorkDir = root

	zerolog.Ctx(ctx).Info().
		Str("source", report.Source).
		Str("target", report.Target).
		Str("workdir", root).
		Msg("starting transfer")

	defer func() {
		if err != nil && !cfg.NoCleanup && (r.srcDirCreated || r.dstDirCreated) {
			r.cleanup(context.WithoutCancel(ctx))
		}
	}()

	return r.steps(ctx)
}

func (r *run) steps(ctx context.Context) error {
	if r.cfg.PreHook != "" {
		if err := r.step(ctx, StepPreHook, r.hook(r.cfg.PreHook)); err != nil {
			return err
		}
	}

	if err := r.step(ctx, StepPrepareSrc, r.prepareSource); err != nil {
		return err
	}
	if err := r.step(ctx, StepExport, r.export); err != nil {
		return err
	}
	if err := r.step(ctx, StepExtract, r.extract); err != nil {
		return err
	}

	var inv domain.Inventory
	if err := r.step(ctx, StepInventory, func(ctx context.Context) error {
		var err error
		inv, err = r.queryInventory(ctx)
		return err
	}); err != nil {
		return err
	}

	if inv.Found {
		if err := r.step(ctx, StepPrune, func(ctx context.Context) error {
			return r.prune(ctx, inv.Layers)
		}); err != nil {
			return err
		}
	}

	if err := r.step(ctx, StepVerify, r.verifyNonEmpty); err != nil {
		return err
	}
	if err := r.step(ctx, StepRepack, r.repack); err != nil {
		return err
	}
	if err := r.step(ctx, StepPrepareDest, r.prepareDest); err != nil {
		return err
	}
	if err := r.step(ctx, StepTransfer, r.transfer); err != nil {
		return err
	}
	if err := r.step(ctx, StepImport, r.importImage); err != nil {
		return err
	}

	if r.src.Image != r.dst.Image {
		if err := r.step(ctx, StepRetag, r.retag); err != nil {
			return err
		}
	}

	if !r.cfg.NoCleanup {
		if err := r.step(ctx, StepCleanup, func(ctx context.Context) error {
			r.cleanup(ctx)
			return nil
		}); err != nil {
			return err
		}
	}

	if r.cfg.PostHook != "" {
		if err := r.step(ctx, StepPostHook, r.hook(r.cfg.PostHook)); err != nil {
			return err
		}
	}
	return nil
}

// step runs fn under the step's logger and records its outcome.
func (r *run) step(ctx context.Context, name Step, fn func(context.Context) error) error {
	ctx, log := logging.WithStep(ctx, string(name))
	log.Debug().Msg("step started")

	start := r.svc.now()
	err := fn(ctx)
	elapsed := r.svc.now().Sub(start)

	rec := StepRecord{Name: name, Duration: elapsed}
	if err != nil {
		rec.Error = err.Error()
	}
	r.report.Steps = append(r.report.Steps, rec)
	r.svc.metrics.StepCompleted(string(name), elapsed, err != nil)

	if err != nil {
		log.Error().Err(err).Msg("step failed")
		return fmt.Errorf("step %s: %w", name, err)
	}
	log.Debug().Dur("elapsed", elapsed).Msg("step done")
	return nil
}

func (r *run) hook(command string) func(context.Context) error {
	return func(ctx context.Context) error {
		if _, _, err := r.dst.Channel.Run(ctx, command, out.RunOptions{Echo: true}); err != nil {
			return fmt.Errorf("%w: %q on %s: %w", domain.ErrHook, command, r.dst.Channel.Describe(), err)
		}
		return nil
	}
}

func (r *run) prepareSource(ctx context.Context) error {
	_, _, err := r.src.Channel.Run(ctx, shellcmd.Command("mkdir", "-p", r.layout.ExtractDir), out.RunOptions{})
	if err != nil {
		return err
	}
	r.srcDirCreated = true
	return nil
}

func (r *run) export(ctx context.Context) error {
	cmd := shellcmd.Command(r.cfg.SourceRuntime, "save", "-o", r.layout.ExportArchive, r.src.Image.String())
	_, stderr, err := r.src.Channel.Run(ctx, cmd, out.RunOptions{})
	if err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrExport, r.src.Image, err)
	}
	if hasErrorMarker(stderr) {
		return fmt.Errorf("%w: %s: %s", domain.ErrExport, r.src.Image, strings.TrimSpace(string(stderr)))
	}
	return nil
}

// hasErrorMarker reports whether the runtime wrote an error to stderr
// while still exiting zero.
func hasErrorMarker(stderr []byte) bool {
	return strings.Contains(strings.ToLower(string(stderr)), "error")
}

func (r *run) extract(ctx context.Context) error {
	cmd := shellcmd.Command("tar", "-x", "-f", r.layout.ExportArchive, "-C", r.layout.ExtractDir)
	_, _, err := r.src.Channel.Run(ctx, cmd, out.RunOptions{})
	return err
}

func (r *run) queryInventory(ctx context.Context) (domain.Inventory, error) {
	inv, err := r.svc.inventory.Query(ctx, r.dst.Channel, r.cfg.TargetRuntime, r.dst.Image)
	rec := &InventoryRecord{Found: inv.Found, Source: string(inv.Source), Layers: inv.Layers.Len()}
	r.report.Inventory = rec

	if err != nil {
		if errors.Is(err, domain.ErrInventoryUnavailable) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("destination inventory unavailable, transferring the full archive")
			rec.Error = err.Error()
			return domain.NoInventory(), nil
		}
		return domain.NoInventory(), err
	}
	return inv, nil
}

func (r *run) prune(ctx context.Context, existing domain.LayerSet) error {
	refs := []domain.ImageReference{r.dst.Image, r.src.Image}
	report, err := r.svc.pruner.Prune(ctx, r.src.Channel, r.layout.ExtractDir, refs, existing)
	if err != nil {
		// Skipping the prune is always correct; an empty tree is caught
		// by the next step.
		if errors.Is(err, domain.ErrManifestNotFound) {
			zerolog.Ctx(ctx).Warn().Err(err).Msg("archive has no manifest, skipping prune")
			return nil
		}
		return err
	}
	r.report.Prune = &report
	r.svc.metrics.LayersPruned(len(report.Removed), report.Kept, len(report.Failed))
	return nil
}

func (r *run) verifyNonEmpty(ctx context.Context) error {
	entries, err := r.src.Channel.ListDir(ctx, r.layout.ExtractDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrEmptyArchive, r.layout.ExtractDir)
	}
	return nil
}

func (r *run) repack(ctx context.Context) error {
	create := "-c"
	if r.cfg.Compress {
		create = "-cz"
	}
	cmd := shellcmd.Command("tar", create, "-f", r.layout.ShipArchive, "-C", r.layout.ExtractDir, ".")
	if _, _, err := r.src.Channel.Run(ctx, cmd, out.RunOptions{Echo: true}); err != nil {
		return err
	}

	info, err := r.src.Channel.Stat(ctx, r.layout.ShipArchive)
	if err != nil {
		return err
	}
	r.report.ArchiveBytes = info.Size
	r.svc.metrics.ArchiveSize(info.Size)
	zerolog.Ctx(ctx).Info().Str("size", bytesize.Format(info.Size)).Msg("archive ready")
	return nil
}

func (r *run) prepareDest(ctx context.Context) error {
	_, _, err := r.dst.Channel.Run(ctx, shellcmd.Command("mkdir", "-p", r.layout.Root), out.RunOptions{})
	if err != nil {
		return err
	}
	r.dstDirCreated = true
	return nil
}

func (r *run) transfer(ctx context.Context) error {
	if r.sameHost() {
		zerolog.Ctx(ctx).Info().Msg("source and destination share the workdir, nothing to copy")
		return nil
	}

	res, err := r.svc.copier.Copy(ctx, transfer.Request{
		Source:     r.src.Channel,
		SourcePath: r.layout.ShipArchive,
		Dest:       r.dst.Channel,
		DestPath:   r.layout.IncomingArchive,
		ChunkSize:  r.cfg.ChunkSize,
		Progress:   r.svc.progress,
	})
	if err != nil {
		return err
	}
	r.report.Transfer = &res
	r.svc.metrics.BytesTransferred(res.Transferred, res.Elapsed)
	return nil
}

func (r *run) importImage(ctx context.Context) error {
	cmd := shellcmd.Command(r.cfg.TargetRuntime, "load", "-i", r.destArchive())
	_, _, err := r.dst.Channel.Run(ctx, cmd, out.RunOptions{Echo: true})
	return err
}

func (r *run) retag(ctx context.Context) error {
	cmd := shellcmd.Command(r.cfg.TargetRuntime, "tag", r.src.Image.String(), r.dst.Image.String())
	_, _, err := r.dst.Channel.Run(ctx, cmd, out.RunOptions{Echo: true})
	return err
}

// cleanup removes the workdir on both hosts. Failures are logged only.
func (r *run) cleanup(ctx context.Context) {
	log := zerolog.Ctx(ctx)
	if r.srcDirCreated {
		if err := r.src.Channel.RemoveAll(ctx, r.layout.Root); err != nil {
			log.Warn().Err(err).Str("host", r.src.Channel.Describe()).Msg("cleanup failed")
		}
	}
	if r.dstDirCreated && !r.sameHost() {
		if err := r.dst.Channel.RemoveAll(ctx, r.layout.Root); err != nil {
			log.Warn().Err(err).Str("host", r.dst.Channel.Describe()).Msg("cleanup failed")
		}
	}
}

// destArchive is the archive the destination runtime loads.
func (r *run) destArchive() string {
	if r.sameHost() {
		return r.layout.ShipArchive
	}
	return r.layout.IncomingArchive
}

func (r *run) sameHost() bool {
	return r.src.Channel.Describe() == r.dst.Channel.Describe()
}

func closeEndpoint(ctx context.Context, role string, r *endpoint.Resolved) {
	if err := r.Close(); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Str("endpoint", role).Msg("session close failed")
	}
}

func describe(r *endpoint.Resolved) string {
	if !r.Endpoint.Remote {
		return r.Image.String()
	}
	return r.Endpoint.String() + "/" + r.Image.String()
}
