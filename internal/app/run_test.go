package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/internal/usecase/pipeline"
	"github.com/bnema/dockship/pkg/shellcmd"
)

// fakeDocker writes a runtime stand-in whose save archives fixture and
// whose load copies the archive to loaded.
func fakeDocker(t *testing.T, fixture, loaded string) string {
	t.Helper()
	script := filepath.Join(t.TempDir(), "docker")
	body := `#!/bin/sh
case "$1" in
  save) tar -c -f "$3" -C ` + shellcmd.Quote(fixture) + ` . ;;
  info) echo '{"Driver":"vfs"}' ;;
  image) ;;
  load) cp "$3" ` + shellcmd.Quote(loaded) + ` ;;
  *) exit 1 ;;
esac
`
	require.NoError(t, os.WriteFile(script, []byte(body), 0o755))
	return script
}

func TestRun_LocalToLocal(t *testing.T) {
	fixture := t.TempDir()
	manifest, err := json.Marshal([]domain.ManifestEntry{{Config: "cfg.json", RepoTags: []string{"app:1.0"}, Layers: []string{"l1/layer.tar"}}})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(fixture, "manifest.json"), manifest, 0o644))

	loaded := filepath.Join(t.TempDir(), "loaded.tar.gz")
	report := filepath.Join(t.TempDir(), "report.yaml")
	metricsFile := filepath.Join(t.TempDir(), "dockship.prom")

	v := viper.New()
	v.Set("workdir_base", filepath.Join(t.TempDir(), "work"))
	v.Set("source_docker_path", fakeDocker(t, fixture, loaded))
	v.Set("target_docker_path", fakeDocker(t, fixture, loaded))
	v.Set("report", report)
	v.Set("metrics_file", metricsFile)

	var logs bytes.Buffer
	res, err := Run(context.Background(), v, Request{
		ConfigPath: writeConfig(t, "logging:\n  format: json\n"),
		Source:     "app:1.0",
		Target:     "app:1.0",
		LogOutput:  &logs,
	})
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.True(t, res.Success)
	assert.Contains(t, res.Executed(), pipeline.StepImport)
	// Both ends share the host, nothing is copied.
	assert.Nil(t, res.Transfer)

	assert.FileExists(t, loaded)
	assert.FileExists(t, report)
	assert.FileExists(t, metricsFile)
	assert.Contains(t, logs.String(), `"usecase":"Transfer"`)
}

func TestRun_InvalidAddress(t *testing.T) {
	v := viper.New()
	v.Set("workdir_base", filepath.Join(t.TempDir(), "work"))

	res, err := Run(context.Background(), v, Request{
		ConfigPath: writeConfig(t, "logging:\n  level: error\n"),
		Source:     "app:1.0",
		Target:     "ssh://me@host/app?bogus=1",
		LogOutput:  &bytes.Buffer{},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInvalidAddress)
	require.NotNil(t, res)
	assert.False(t, res.Success)
}
