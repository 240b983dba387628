package localexec

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
)

func TestChannel_Run(t *testing.T) {
	ch := New()
	ctx := context.Background()

	stdout, stderr, err := ch.Run(ctx, "echo hello; echo oops >&2", out.RunOptions{Echo: true})
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(stdout))
	assert.Equal(t, "oops\n", string(stderr))
}

func TestChannel_Run_NonZeroExit(t *testing.T) {
	ch := New()

	_, stderr, err := ch.Run(context.Background(), "echo boom >&2; exit 3", out.RunOptions{})
	require.Error(t, err)

	var execErr *out.ExecError
	require.ErrorAs(t, err, &execErr)
	assert.Equal(t, 3, execErr.Status)
	assert.Equal(t, "boom\n", string(stderr))
	assert.ErrorIs(t, err, domain.ErrExecution)
}

func TestChannel_FileOperations(t *testing.T) {
	ch := New()
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "data.bin")

	w, err := ch.OpenWrite(ctx, path)
	require.NoError(t, err)
	_, err = w.Write([]byte("payload"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	info, err := ch.Stat(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, int64(7), info.Size)
	assert.False(t, info.IsDir)

	r, err := ch.OpenRead(ctx, path)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "payload", string(data))

	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sub", "f"), nil, 0o644))

	names, err := ch.ListDir(ctx, dir)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"data.bin", "sub"}, names)

	require.NoError(t, ch.Remove(ctx, path))
	require.NoError(t, ch.RemoveAll(ctx, filepath.Join(dir, "sub")))

	names, err = ch.ListDir(ctx, dir)
	require.NoError(t, err)
	assert.Empty(t, names)
}

func TestChannel_MissingPath(t *testing.T) {
	ch := New()
	ctx := context.Background()
	missing := filepath.Join(t.TempDir(), "nope")

	_, err := ch.Stat(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = ch.OpenRead(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrIO)

	_, err = ch.ListDir(ctx, missing)
	assert.ErrorIs(t, err, domain.ErrIO)
}

func TestChannel_Describe(t *testing.T) {
	assert.Equal(t, "local", New().Describe())
}
