package app

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/pkg/bytesize"
)

// Config holds the application configuration. Every field can come from a
// flag, the config file or a DOCKSHIP_* environment variable.
type Config struct {
	WorkDir          string `mapstructure:"workdir"`
	WorkDirBase      string `mapstructure:"workdir_base"`
	SourceDockerPath string `mapstructure:"source_docker_path"`
	TargetDockerPath string `mapstructure:"target_docker_path"`
	NoCleanup        bool   `mapstructure:"no_cleanup"`
	PreHook          string `mapstructure:"pre_hook"`
	PostHook         string `mapstructure:"post_hook"`
	ChunkSize        string `mapstructure:"chunk_size"` // KiB, or a size with unit
	NoCompress       bool   `mapstructure:"no_compress"`
	Report           string `mapstructure:"report"`
	MetricsFile      string `mapstructure:"metrics_file"`

	SSH struct {
		ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
		Identity       []string      `mapstructure:"identity"`
		StrictHostKeys bool          `mapstructure:"strict_host_keys"`
		KnownHosts     string        `mapstructure:"known_hosts"`
	} `mapstructure:"ssh"`

	Logging struct {
		Level      string `mapstructure:"level"`
		Format     string `mapstructure:"format"`
		File       string `mapstructure:"file"`
		MaxSize    int    `mapstructure:"max_size"`
		MaxBackups int    `mapstructure:"max_backups"`
		MaxAge     int    `mapstructure:"max_age"`
	} `mapstructure:"logging"`
}

// LoadConfig reads defaults, the config file and the environment into v
// and decodes the result. Flags must already be bound to v.
func LoadConfig(v *viper.Viper, configPath string) (Config, error) {
	v.SetDefault("workdir", "")
	v.SetDefault("workdir_base", domain.DefaultWorkDirBase)
	v.SetDefault("source_docker_path", domain.DefaultRuntimePath)
	v.SetDefault("target_docker_path", domain.DefaultRuntimePath)
	v.SetDefault("no_cleanup", false)
	v.SetDefault("pre_hook", "")
	v.SetDefault("post_hook", "")
	v.SetDefault("chunk_size", strconv.Itoa(domain.DefaultChunkSize/1024))
	v.SetDefault("no_compress", false)
	v.SetDefault("report", "")
	v.SetDefault("metrics_file", "")
	v.SetDefault("ssh.connect_timeout", domain.DefaultConnectTimeout)
	v.SetDefault("ssh.identity", []string{})
	v.SetDefault("ssh.strict_host_keys", false)
	v.SetDefault("ssh.known_hosts", "")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age", 28)

	ConfigureViper(v, configPath)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("%w: failed to read config file: %w", domain.ErrInvalidConfig, err)
		}
	}

	v.SetEnvPrefix("DOCKSHIP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: failed to unmarshal config: %w", domain.ErrInvalidConfig, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the fields the run config does not cover.
func (c Config) Validate() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("%w: logging.format must be one of: console, json", domain.ErrInvalidConfig)
	}
	if c.SSH.ConnectTimeout <= 0 {
		return fmt.Errorf("%w: ssh.connect_timeout must be > 0", domain.ErrInvalidConfig)
	}
	if _, err := parseChunkSize(c.ChunkSize); err != nil {
		return err
	}
	return nil
}

// RunConfig builds the pipeline configuration for one transfer.
func (c Config) RunConfig(source, target string) (domain.RunConfig, error) {
	chunk, err := parseChunkSize(c.ChunkSize)
	if err != nil {
		return domain.RunConfig{}, err
	}

	rc := domain.RunConfig{
		Source:        source,
		Target:        target,
		WorkDir:       c.WorkDir,
		WorkDirBase:   c.WorkDirBase,
		SourceRuntime: c.SourceDockerPath,
		TargetRuntime: c.TargetDockerPath,
		PreHook:       c.PreHook,
		PostHook:      c.PostHook,
		ChunkSize:     chunk,
		NoCleanup:     c.NoCleanup,
		Compress:      !c.NoCompress,
		ReportPath:    c.Report,
		MetricsPath:   c.MetricsFile,
	}
	return rc, rc.Validate()
}

// parseChunkSize reads a bare number as KiB and anything else as a byte
// size with unit.
func parseChunkSize(s string) (int64, error) {
	s = strings.TrimSpace(s)
	var size int64
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > domain.MaxChunkSize/1024 {
			return 0, fmt.Errorf("%w: chunk_size %q exceeds %s", domain.ErrInvalidConfig, s, bytesize.Format(domain.MaxChunkSize))
		}
		size = n * 1024
	} else {
		parsed, perr := bytesize.Parse(s)
		if perr != nil {
			return 0, fmt.Errorf("%w: chunk_size: %w", domain.ErrInvalidConfig, perr)
		}
		size = parsed
	}
	if size <= 0 {
		return 0, fmt.Errorf("%w: chunk_size must be > 0, got %q", domain.ErrInvalidConfig, s)
	}
	if size > domain.MaxChunkSize {
		return 0, fmt.Errorf("%w: chunk_size %q exceeds %s", domain.ErrInvalidConfig, s, bytesize.Format(domain.MaxChunkSize))
	}
	return size, nil
}
