package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSet(t *testing.T) {
	saved := current
	t.Cleanup(func() { current = saved })

	Set("1.4.0", "", "2026-10-01")

	info := Get()
	assert.Equal(t, "1.4.0", info.Version)
	assert.Equal(t, "unknown", info.Commit)
	assert.Equal(t, "2026-10-01", info.BuildDate)
	assert.Equal(t, "dockship 1.4.0\nCommit: unknown\nBuild Date: 2026-10-01\n", info.String())
}
