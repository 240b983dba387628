// Package shellcmd builds shell command lines from a program and
// arguments, quoting every argument for POSIX shells.
package shellcmd

import (
	"strings"

	"github.com/kballard/go-shellquote"
)

// Command joins program and args into one command line. program may hold
// several words ("sudo docker"); they are split with shell rules first so
// a configured wrapper keeps working.
func Command(program string, args ...string) string {
	words, err := shellquote.Split(program)
	if err != nil || len(words) == 0 {
		words = []string{strings.TrimSpace(program)}
	}
	return shellquote.Join(append(words, args...)...)
}

// Quote quotes a single word.
func Quote(s string) string {
	return shellquote.Join(s)
}
