package inventory

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/dockship/internal/adapters/out/localexec"
	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/pkg/shellcmd"
)

type cmdResult struct {
	stdout string
	err    error
}

// scriptedChannel answers Run from a table and serves files from disk.
type scriptedChannel struct {
	*localexec.Channel
	results map[string]cmdResult
	calls   []string
}

func newScripted() *scriptedChannel {
	return &scriptedChannel{Channel: localexec.New(), results: map[string]cmdResult{}}
}

func (c *scriptedChannel) on(stdout string, err error, program string, args ...string) {
	c.results[shellcmd.Command(program, args...)] = cmdResult{stdout: stdout, err: err}
}

func (c *scriptedChannel) Run(_ context.Context, command string, _ out.RunOptions) ([]byte, []byte, error) {
	c.calls = append(c.calls, command)
	res, ok := c.results[command]
	if !ok {
		return nil, nil, fmt.Errorf("unexpected command %q", command)
	}
	return []byte(res.stdout), nil, res.err
}

var ref = domain.ImageReference{Name: "app", Tag: "1.0"}

func writeLayerDB(t *testing.T, root string, diffs map[string]string) {
	t.Helper()
	base := filepath.Join(root, "image", "overlay2", "layerdb", "sha256")
	require.NoError(t, os.MkdirAll(base, 0o755))
	for chainID, diff := range diffs {
		dir := filepath.Join(base, chainID)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		if diff != "" {
			require.NoError(t, os.WriteFile(filepath.Join(dir, "diff"), []byte(diff), 0o644))
		}
	}
}

func infoJSON(t *testing.T, driver, root string) string {
	t.Helper()
	data, err := json.Marshal(map[string]string{"Driver": driver, "DockerRootDir": root})
	require.NoError(t, err)
	return string(data)
}

func inspectJSON(t *testing.T, layers ...digest.Digest) string {
	t.Helper()
	data, err := json.Marshal([]map[string]any{{
		"Id":     digest.FromString("config").String(),
		"RootFS": map[string]any{"Type": "layers", "Layers": layers},
	}})
	require.NoError(t, err)
	return string(data)
}

func TestService_Query_StorageIntrospection(t *testing.T) {
	root := t.TempDir()
	d1 := digest.FromString("d1")
	d3 := digest.FromString("d3")
	writeLayerDB(t, root, map[string]string{
		"chain1": d1.String() + "\n",
		"chain3": d3.String(),
		"broken": "not-a-digest",
		"nodiff": "",
	})

	ch := newScripted()
	ch.on(infoJSON(t, "overlay2", root), nil, "docker", "info", "--format", "{{json .}}")

	inv, err := NewService().Query(context.Background(), ch, "docker", ref)
	require.NoError(t, err)

	assert.True(t, inv.Found)
	assert.Equal(t, domain.InventoryFromStorage, inv.Source)
	assert.Equal(t, 2, inv.Layers.Len())
	assert.True(t, inv.Layers.Contains(d1))
	assert.True(t, inv.Layers.Contains(d3))
	assert.Len(t, ch.calls, 1, "image inspection must not run")
}

func TestService_Query_FallbackToImage(t *testing.T) {
	d1 := digest.FromString("d1")
	d2 := digest.FromString("d2")

	ch := newScripted()
	ch.on(infoJSON(t, "btrfs", "/var/lib/docker"), nil, "docker", "info", "--format", "{{json .}}")
	ch.on("0123456789ab\n", nil, "docker", "image", "ls", "-q", "app:1.0")
	ch.on(inspectJSON(t, d1, d2), nil, "docker", "image", "inspect", "app:1.0")

	inv, err := NewService().Query(context.Background(), ch, "docker", ref)
	require.NoError(t, err)

	assert.True(t, inv.Found)
	assert.Equal(t, domain.InventoryFromImage, inv.Source)
	assert.True(t, inv.Layers.Contains(d1))
	assert.True(t, inv.Layers.Contains(d2))
}

func TestService_Query_NoInventory(t *testing.T) {
	ch := newScripted()
	ch.on(infoJSON(t, "vfs", "/var/lib/docker"), nil, "docker", "info", "--format", "{{json .}}")
	ch.on("", nil, "docker", "image", "ls", "-q", "app:1.0")

	inv, err := NewService().Query(context.Background(), ch, "docker", ref)
	require.NoError(t, err)
	assert.False(t, inv.Found)
	assert.Equal(t, 0, inv.Layers.Len())
}

func TestService_Query_MissingLayerDBFallsBack(t *testing.T) {
	root := t.TempDir()

	ch := newScripted()
	ch.on(infoJSON(t, "overlay2", root), nil, "docker", "info", "--format", "{{json .}}")
	ch.on("", nil, "docker", "image", "ls", "-q", "app:1.0")

	svc := NewService()
	assert.Equal(t, NotFound, svc.ProbeStorage(context.Background(), ch, "docker").Kind)

	inv, err := svc.Query(context.Background(), ch, "docker", ref)
	require.NoError(t, err)
	assert.False(t, inv.Found)
}

func TestService_Query_InspectionFails(t *testing.T) {
	ch := newScripted()
	ch.on("", &out.ExecError{Command: "docker info", Status: 1}, "docker", "info", "--format", "{{json .}}")
	ch.on("", &out.ExecError{Command: "docker image ls", Status: 1}, "docker", "image", "ls", "-q", "app:1.0")

	inv, err := NewService().Query(context.Background(), ch, "docker", ref)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInventoryUnavailable)
	assert.ErrorIs(t, err, domain.ErrExecution)
	assert.False(t, inv.Found)
}

func TestService_ProbeStorage_Kinds(t *testing.T) {
	tests := []struct {
		name   string
		stdout string
		err    error
		want   ProbeKind
	}{
		{name: "command fails", err: &out.ExecError{Status: 127}, want: QueryFailed},
		{name: "garbage output", stdout: "Client: Docker Engine", want: QueryFailed},
		{name: "other driver", stdout: `{"Driver":"zfs","DockerRootDir":"/var/lib/docker"}`, want: DriverUnsupported},
		{name: "no root dir", stdout: `{"Driver":"overlay2"}`, want: DriverUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newScripted()
			ch.on(tt.stdout, tt.err, "docker", "info", "--format", "{{json .}}")

			got := NewService().ProbeStorage(context.Background(), ch, "docker")
			assert.Equal(t, tt.want, got.Kind)
			if tt.want == QueryFailed {
				assert.Error(t, got.Err)
			}
		})
	}
}

func TestService_ProbeImage_CustomRuntime(t *testing.T) {
	d1 := digest.FromString("d1")

	ch := newScripted()
	ch.on("abc\n", nil, "sudo docker", "image", "ls", "-q", "app:1.0")
	ch.on(inspectJSON(t, d1), nil, "sudo docker", "image", "inspect", "app:1.0")

	got := NewService().ProbeImage(context.Background(), ch, "sudo docker", ref)
	require.Equal(t, Found, got.Kind)
	assert.True(t, got.Layers.Contains(d1))
	assert.Equal(t, "sudo docker image ls -q app:1.0", ch.calls[0])
}

func TestService_ProbeImage_BadJSON(t *testing.T) {
	ch := newScripted()
	ch.on("abc\n", nil, "docker", "image", "ls", "-q", "app:1.0")
	ch.on("{not json", nil, "docker", "image", "inspect", "app:1.0")

	got := NewService().ProbeImage(context.Background(), ch, "docker", ref)
	assert.Equal(t, QueryFailed, got.Kind)
}

func TestProbeKind_String(t *testing.T) {
	assert.Equal(t, "found", Found.String())
	assert.Equal(t, "driver_unsupported", DriverUnsupported.String())
	assert.Equal(t, "ProbeKind(42)", ProbeKind(42).String())
}
