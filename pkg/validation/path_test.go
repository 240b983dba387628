package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidateWorkDir(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"default base", "/tmp/.dockship", false},
		{"nested", "/srv/transfers/run-1", false},
		{"trailing slash", "/opt/dockship/", false},
		{"empty", "", true},
		{"relative", "work/dir", true},
		{"root", "/", true},
		{"tmp", "/tmp", true},
		{"tmp with slash", "/tmp/", true},
		{"docker root", "/var/lib/docker", true},
		{"traversal", "/tmp/../etc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWorkDir(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateCommand(t *testing.T) {
	assert.NoError(t, ValidateCommand("docker"))
	assert.NoError(t, ValidateCommand("sudo /usr/bin/podman"))
	assert.Error(t, ValidateCommand(" "))
	assert.Error(t, ValidateCommand("docker\nrm -rf /"))
}

func TestValidatePathWithinRoot(t *testing.T) {
	tests := []struct {
		name     string
		rootDir  string
		fullPath string
		wantErr  bool
	}{
		{"within root", "/data", "/data/file.txt", false},
		{"nested within root", "/data", "/data/subdir/file.txt", false},
		{"exact root", "/data", "/data", false},
		{"filesystem root", "/", "/data", false},
		{"escapes root", "/data", "/etc/passwd", true},
		{"traversal escape", "/data", "/data/../etc/passwd", true},
		{"sibling dir", "/data/registry", "/data/registry-old/file", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinRoot(tt.rootDir, tt.fullPath)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
