package domain

import (
	"net"
	"strconv"
)

const (
	// DefaultSSHPort is used when an address or jump host omits the port.
	DefaultSSHPort = 22
	// DefaultJumpUser is used when a proxy parameter omits the user.
	DefaultJumpUser = "root"
)

// JumpHost is one hop of a tunneled connection.
type JumpHost struct {
	User string
	Host string
	Port int
}

// Addr returns host:port.
func (j JumpHost) Addr() string {
	return net.JoinHostPort(j.Host, strconv.Itoa(j.Port))
}

// Endpoint describes where commands run for one side of a transfer.
// A local endpoint has Remote == false and every other field empty.
type Endpoint struct {
	Remote    bool
	Host      string
	Port      int
	Username  string
	Password  string
	JumpChain []JumpHost
}

// Addr returns host:port for remote endpoints.
func (e Endpoint) Addr() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// String never includes the password.
func (e Endpoint) String() string {
	if !e.Remote {
		return "local"
	}
	return e.Username + "@" + e.Addr()
}
