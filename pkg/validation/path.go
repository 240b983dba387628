// Package validation checks user-supplied paths and commands before they
// reach a shell or a recursive delete.
package validation

import (
	"fmt"
	"path"
	"slices"
	"strings"
)

// protectedDirs are never accepted as a workdir: cleanup removes it
// recursively.
var protectedDirs = []string{
	"/", "/bin", "/boot", "/dev", "/etc", "/home", "/lib", "/lib64", "/opt",
	"/proc", "/root", "/run", "/sbin", "/srv", "/sys", "/tmp", "/usr", "/var",
	"/var/lib", "/var/lib/docker", "/var/tmp",
}

// ValidateWorkDir validates a directory the pipeline creates and later
// removes on both hosts. Paths are POSIX paths of the remote side too.
func ValidateWorkDir(p string) error {
	if p == "" {
		return fmt.Errorf("workdir cannot be empty")
	}
	if !path.IsAbs(p) {
		return fmt.Errorf("workdir %q must be absolute", p)
	}
	if slices.Contains(strings.Split(p, "/"), "..") {
		return fmt.Errorf("workdir %q contains path traversal sequence", p)
	}
	if slices.Contains(protectedDirs, path.Clean(p)) {
		return fmt.Errorf("workdir %q is a system directory", p)
	}
	return nil
}

// ValidateCommand rejects program paths that cannot be passed through a
// single shell command line.
func ValidateCommand(cmd string) error {
	if strings.TrimSpace(cmd) == "" {
		return fmt.Errorf("command cannot be empty")
	}
	if strings.ContainsAny(cmd, "\x00\n\r") {
		return fmt.Errorf("command %q contains control characters", cmd)
	}
	return nil
}

// ValidatePathWithinRoot validates that a constructed path stays within
// the root directory.
func ValidatePathWithinRoot(rootDir, fullPath string) error {
	cleanRoot := path.Clean(rootDir)
	cleanPath := path.Clean(fullPath)

	if !strings.HasPrefix(cleanPath, strings.TrimSuffix(cleanRoot, "/")+"/") && cleanPath != cleanRoot {
		return fmt.Errorf("path %q escapes %q", fullPath, rootDir)
	}
	return nil
}
