package cli

import (
	"fmt"
	"os"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/bnema/dockship/internal/adapters/in/cli/ui/components"
	"github.com/bnema/dockship/internal/app"
	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/internal/usecase/transfer"
)

// transferOptions holds the flag state of one command. Each command gets
// its own viper instance so root and transfer can share flag names.
type transferOptions struct {
	v          *viper.Viper
	configPath string
}

// flagKeys maps flag names to config keys.
var flagKeys = map[string]string{
	"workdir":            "workdir",
	"workdir-base":       "workdir_base",
	"source-docker-path": "source_docker_path",
	"target-docker-path": "target_docker_path",
	"no-cleanup":         "no_cleanup",
	"pre-hook":           "pre_hook",
	"post-hook":          "post_hook",
	"chunk-size":         "chunk_size",
	"no-compress":        "no_compress",
	"report":             "report",
	"metrics-file":       "metrics_file",
	"connect-timeout":    "ssh.connect_timeout",
	"identity":           "ssh.identity",
	"strict-host-keys":   "ssh.strict_host_keys",
	"known-hosts":        "ssh.known_hosts",
	"loglevel":           "logging.level",
	"log-format":         "logging.format",
	"log-file":           "logging.file",
}

func newTransferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer <source_image> <target_image>",
		Short: "Transfer an image, shipping only the layers the target lacks",
		Example: `  dockship transfer app:1.0 deploy@prod/app:1.0
  dockship transfer ssh://ci@build/app:1.0 ssh://deploy@prod/app:1.0?proxy=bastion
  dockship transfer --no-compress --chunk-size 1MiB app:1.0 me@host/app:1.0`,
		Args: cobra.ExactArgs(2),
	}
	opts := bindTransferFlags(cmd)
	cmd.RunE = opts.run
	return cmd
}

// bindTransferFlags registers the transfer flags on cmd and binds them to
// a fresh viper instance.
func bindTransferFlags(cmd *cobra.Command) *transferOptions {
	opts := &transferOptions{v: viper.New()}
	f := cmd.Flags()

	f.StringVarP(&opts.configPath, "config", "c", "", "Path to config file")
	f.String("workdir", "", "Fixed temporary directory used on both hosts")
	f.String("workdir-base", domain.DefaultWorkDirBase, "Base directory for randomized workdirs")
	f.String("source-docker-path", domain.DefaultRuntimePath, "Runtime binary on the source host")
	f.String("target-docker-path", domain.DefaultRuntimePath, "Runtime binary on the target host")
	f.Bool("no-cleanup", false, "Keep the workdirs after the transfer")
	f.String("pre-hook", "", "Shell command run on the target before the transfer")
	f.String("post-hook", "", "Shell command run on the target after the transfer")
	f.String("chunk-size", "64", "Transfer chunk size in KiB, or a size with unit (e.g. 1MiB)")
	f.Bool("no-compress", false, "Repack the archive without gzip")
	f.String("report", "", "Write a YAML run report to this file")
	f.String("metrics-file", "", "Write Prometheus text-format metrics to this file")
	f.Duration("connect-timeout", domain.DefaultConnectTimeout, "SSH connection timeout")
	f.StringSlice("identity", nil, "Private key file (repeatable)")
	f.Bool("strict-host-keys", false, "Verify host keys against known_hosts")
	f.String("known-hosts", "", "known_hosts file (default ~/.ssh/known_hosts)")
	f.String("loglevel", "info", "Log level (trace, debug, info, warn, error)")
	f.String("log-format", "console", "Log format (console or json)")
	f.String("log-file", "", "Also log to this file, rotated")

	for name, key := range flagKeys {
		if err := opts.v.BindPFlag(key, f.Lookup(name)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", name, err))
		}
	}
	return opts
}

func (o *transferOptions) run(cmd *cobra.Command, args []string) error {
	stderr := cmd.ErrOrStderr()
	interactive := isTerminal(stderr)
	bar := components.NewTransferProgress(stderr, interactive)

	report, err := app.Run(cmd.Context(), o.v, app.Request{
		ConfigPath: o.configPath,
		Source:     args[0],
		Target:     args[1],
		LogOutput:  stderr,
		Progress: func(p transfer.Progress) {
			bar.Update(p.Transferred, p.Total, p.Elapsed, p.BytesPerSecond)
		},
	})
	bar.Done()

	if report != nil {
		out := cmd.OutOrStdout()
		if werr := renderReport(out, report, !isTerminal(out)); werr != nil {
			return werr
		}
	}
	return err
}

func isTerminal(w any) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
