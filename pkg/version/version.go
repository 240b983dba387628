// Package version carries the build information stamped into the binary.
package version

import "fmt"

// Info describes one build.
type Info struct {
	Version   string
	Commit    string
	BuildDate string
}

var current = Info{Version: "dev", Commit: "unknown", BuildDate: "unknown"}

// Set records the build information. Empty fields keep their defaults.
func Set(v, commit, date string) {
	if v != "" {
		current.Version = v
	}
	if commit != "" {
		current.Commit = commit
	}
	if date != "" {
		current.BuildDate = date
	}
}

// Get returns the recorded build information.
func Get() Info { return current }

// String renders the multi-line form printed by the version command.
func (i Info) String() string {
	return fmt.Sprintf("dockship %s\nCommit: %s\nBuild Date: %s\n", i.Version, i.Commit, i.BuildDate)
}
