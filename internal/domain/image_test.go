package domain

import (
	"testing"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImageReference(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ImageReference
		wantErr bool
	}{
		{name: "name and tag", input: "app:1.0", want: ImageReference{Name: "app", Tag: "1.0"}},
		{name: "default tag", input: "app", want: ImageReference{Name: "app", Tag: "latest"}},
		{name: "namespaced", input: "team/app:v2", want: ImageReference{Name: "team/app", Tag: "v2"}},
		{name: "library prefix is familiar", input: "docker.io/library/nginx:1.27", want: ImageReference{Name: "nginx", Tag: "1.27"}},
		{name: "registry with port", input: "registry:5000/app:1", want: ImageReference{Name: "registry:5000/app", Tag: "1"}},
		{name: "empty", input: "  ", wantErr: true},
		{name: "uppercase", input: "App:1.0", wantErr: true},
		{name: "digest", input: "app@sha256:" + string(make64('a')), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseImageReference(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidAddress)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestImageReference_FileName(t *testing.T) {
	ref := ImageReference{Name: "registry:5000/team/app", Tag: "1.0"}
	assert.Equal(t, "registry_5000_team_app_1.0", ref.FileName())
}

func TestManifestEntry_HasAnyTag(t *testing.T) {
	entry := ManifestEntry{RepoTags: []string{"app:1.0", "app:latest"}}

	assert.True(t, entry.HasAnyTag(ImageReference{Name: "app", Tag: "1.0"}))
	assert.True(t, entry.HasAnyTag(ImageReference{}, ImageReference{Name: "app", Tag: "latest"}))
	assert.False(t, entry.HasAnyTag(ImageReference{Name: "app", Tag: "2.0"}))
	assert.False(t, entry.HasAnyTag())
}

func TestLayerSet(t *testing.T) {
	a := digest.FromString("a")
	b := digest.FromString("b")

	set := NewLayerSet(b, a, a)

	assert.Equal(t, 2, set.Len())
	assert.True(t, set.Contains(a))
	assert.False(t, set.Contains(digest.FromString("c")))
}

func TestRunConfig_Validate(t *testing.T) {
	valid := RunConfig{
		Source:        "app:1.0",
		Target:        "me@host/app:1.0",
		WorkDirBase:   DefaultWorkDirBase,
		SourceRuntime: DefaultRuntimePath,
		TargetRuntime: DefaultRuntimePath,
		ChunkSize:     DefaultChunkSize,
	}
	require.NoError(t, valid.Validate())

	zeroChunk := valid
	zeroChunk.ChunkSize = 0
	assert.ErrorIs(t, zeroChunk.Validate(), ErrInvalidConfig)

	hugeChunk := valid
	hugeChunk.ChunkSize = MaxChunkSize + 1
	assert.ErrorIs(t, hugeChunk.Validate(), ErrInvalidConfig)

	noTarget := valid
	noTarget.Target = ""
	assert.ErrorIs(t, noTarget.Validate(), ErrInvalidConfig)

	noWorkDir := valid
	noWorkDir.WorkDirBase = ""
	assert.ErrorIs(t, noWorkDir.Validate(), ErrInvalidConfig)

	rootWorkDir := valid
	rootWorkDir.WorkDir = "/"
	assert.ErrorIs(t, rootWorkDir.Validate(), ErrInvalidConfig)

	badRuntime := valid
	badRuntime.TargetRuntime = "docker\nreboot"
	assert.ErrorIs(t, badRuntime.Validate(), ErrInvalidConfig)
}

func make64(c byte) []byte {
	b := make([]byte, 64)
	for i := range b {
		b[i] = c
	}
	return b
}

func TestEndpoint_String(t *testing.T) {
	assert.Equal(t, "local", Endpoint{}.String())

	ep := Endpoint{Remote: true, Host: "host", Port: 2222, Username: "alice", Password: "secret"}
	assert.Equal(t, "alice@host:2222", ep.String())
	assert.NotContains(t, ep.String(), "secret")
}
