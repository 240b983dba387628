package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	// Adapters - Output
	"github.com/bnema/dockship/internal/adapters/out/localexec"
	"github.com/bnema/dockship/internal/adapters/out/metrics"
	"github.com/bnema/dockship/internal/adapters/out/sshsession"

	// Boundaries
	"github.com/bnema/dockship/internal/boundaries/out"

	"github.com/bnema/dockship/internal/logging"

	// Use cases
	"github.com/bnema/dockship/internal/usecase/endpoint"
	"github.com/bnema/dockship/internal/usecase/inventory"
	"github.com/bnema/dockship/internal/usecase/pipeline"
	"github.com/bnema/dockship/internal/usecase/prune"
	"github.com/bnema/dockship/internal/usecase/transfer"

	"github.com/bnema/dockship/pkg/version"
)

// Request is one CLI invocation.
type Request struct {
	ConfigPath string
	Source     string
	Target     string

	// LogOutput receives console or JSON logs, usually stderr.
	LogOutput io.Writer
	// Progress receives transfer progress; nil disables it.
	Progress transfer.ProgressFunc
}

// Run loads the configuration, wires the services and executes one
// transfer. The report is returned whenever the pipeline started.
func Run(ctx context.Context, v *viper.Viper, req Request) (*pipeline.Report, error) {
	cfg, err := LoadConfig(v, req.ConfigPath)
	if err != nil {
		return nil, err
	}

	log, closer, err := initLogger(cfg, req.LogOutput)
	if err != nil {
		return nil, err
	}
	defer closer.Close()

	build := version.Get()
	log.Debug().Str("version", build.Version).Str("commit", build.Commit).Msg("dockship starting")

	ctx = log.WithContext(ctx)
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	runCfg, err := cfg.RunConfig(req.Source, req.Target)
	if err != nil {
		return nil, err
	}

	svc := newPipeline(cfg, req.Progress)
	report, err := svc.Run(ctx, runCfg)
	if err != nil {
		if ctx.Err() != nil {
			log.Warn().Msg("transfer interrupted")
		}
		return report, err
	}

	if report.Transfer != nil {
		if verr := report.Transfer.Verify(); verr != nil {
			log.Warn().Err(verr).Msg("transfer completed with a size mismatch")
		}
	}
	return report, nil
}

// initLogger builds the process logger from the logging section.
func initLogger(cfg Config, output io.Writer) (zerolog.Logger, io.Closer, error) {
	if output == nil {
		output = os.Stderr
	}
	log, closer, err := logging.Setup(logging.Config{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   true,
	}, output)
	if err != nil {
		return zerolog.Nop(), nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return log, closer, nil
}

// newPipeline wires the adapters into the transfer pipeline.
func newPipeline(cfg Config, progress transfer.ProgressFunc) *pipeline.Service {
	dialer := sshsession.NewDialer(sshsession.Config{
		ConnectTimeout: cfg.SSH.ConnectTimeout,
		IdentityFiles:  cfg.SSH.Identity,
		StrictHostKeys: cfg.SSH.StrictHostKeys,
		KnownHostsFile: cfg.SSH.KnownHosts,
		AgentSocket:    os.Getenv("SSH_AUTH_SOCK"),
	})

	var recorder out.MetricsRecorder = out.NopMetrics{}
	if cfg.MetricsFile != "" {
		recorder = metrics.NewRecorder(cfg.MetricsFile)
	}

	opts := []pipeline.Option{pipeline.WithMetrics(recorder)}
	if progress != nil {
		opts = append(opts, pipeline.WithProgress(progress))
	}

	return pipeline.NewService(
		endpoint.NewService(dialer, localexec.New()),
		inventory.NewService(),
		prune.NewService(),
		transfer.NewService(),
		opts...,
	)
}
