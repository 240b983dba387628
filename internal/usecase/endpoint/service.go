// Package endpoint implements address parsing and endpoint resolution.
package endpoint

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/user"
	"strconv"
	"strings"

	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
	"github.com/bnema/dockship/internal/logging"
)

const (
	sshScheme  = "ssh://"
	proxyParam = "proxy"
)

// Service parses addresses and binds them to an execution channel.
type Service struct {
	dialer      out.SessionDialer
	local       out.Channel
	currentUser func() string
}

// NewService creates a new endpoint service. local serves every address
// without a remote part.
func NewService(dialer out.SessionDialer, local out.Channel) *Service {
	return &Service{
		dialer:      dialer,
		local:       local,
		currentUser: invokingUser,
	}
}

// Resolved is an address bound to a live channel. Close releases the
// remote session, if any; callers defer it as soon as Resolve returns.
type Resolved struct {
	Endpoint domain.Endpoint
	Image    domain.ImageReference
	Channel  out.Channel

	session out.Session
}

// NewResolved binds ep and ref to the channel of session.
func NewResolved(ep domain.Endpoint, ref domain.ImageReference, session out.Session) *Resolved {
	return &Resolved{Endpoint: ep, Image: ref, Channel: session.Channel(), session: session}
}

// Close releases the session. Safe on local endpoints and on repeated calls.
func (r *Resolved) Close() error {
	if r == nil || r.session == nil {
		return nil
	}
	s := r.session
	r.session = nil
	return s.Close()
}

// Resolve parses address and opens a session when it names a remote host.
func (s *Service) Resolve(ctx context.Context, address string) (*Resolved, error) {
	ctx, log := logging.WithUseCase(ctx, "ResolveEndpoint")

	ep, ref, err := s.Parse(address)
	if err != nil {
		return nil, err
	}

	if !ep.Remote {
		log.Debug().Str("image", ref.String()).Msg("local endpoint")
		return &Resolved{Endpoint: ep, Image: ref, Channel: s.local}, nil
	}

	log.Info().Str("endpoint", ep.String()).Int("jumps", len(ep.JumpChain)).Msg("connecting")
	session, err := s.dialer.Dial(ctx, ep)
	if err != nil {
		return nil, err
	}

	return NewResolved(ep, ref, session), nil
}

// Parse splits an address into its endpoint and image reference.
//
// An address is remote when it carries the ssh:// scheme, a user@ part
// before the first "/", or a query string; anything else is a local image
// reference, so registry-qualified names like registry:5000/app stay local.
func (s *Service) Parse(address string) (domain.Endpoint, domain.ImageReference, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return domain.Endpoint{}, domain.ImageReference{}, fmt.Errorf("%w: empty address", domain.ErrInvalidAddress)
	}

	if !isRemote(address) {
		ref, err := domain.ParseImageReference(address)
		if err != nil {
			return domain.Endpoint{}, domain.ImageReference{}, err
		}
		return domain.Endpoint{}, ref, nil
	}

	return s.parseRemote(address)
}

func isRemote(address string) bool {
	if strings.HasPrefix(address, sshScheme) || strings.Contains(address, "?") {
		return true
	}
	authority, _, _ := strings.Cut(address, "/")
	return strings.Contains(authority, "@")
}

func (s *Service) parseRemote(address string) (domain.Endpoint, domain.ImageReference, error) {
	raw := address
	if !strings.HasPrefix(raw, sshScheme) {
		raw = sshScheme + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return domain.Endpoint{}, domain.ImageReference{}, fmt.Errorf("%w: %s", domain.ErrInvalidAddress, redact(err))
	}

	ep := domain.Endpoint{Remote: true, Host: u.Hostname(), Port: domain.DefaultSSHPort}
	if ep.Host == "" {
		return domain.Endpoint{}, domain.ImageReference{}, fmt.Errorf("%w: missing ssh hostname", domain.ErrInvalidAddress)
	}

	if p := u.Port(); p != "" {
		ep.Port, err = parsePort(p)
		if err != nil {
			return domain.Endpoint{}, domain.ImageReference{}, err
		}
	}

	if u.User != nil {
		ep.Username = u.User.Username()
		ep.Password, _ = u.User.Password()
	}
	if ep.Username == "" {
		ep.Username = s.currentUser()
	}

	image := strings.TrimPrefix(u.Path, "/")
	if image == "" {
		return domain.Endpoint{}, domain.ImageReference{}, fmt.Errorf("%w: missing image name after host %s", domain.ErrInvalidAddress, ep.Host)
	}
	ref, err := domain.ParseImageReference(image)
	if err != nil {
		return domain.Endpoint{}, domain.ImageReference{}, err
	}

	query, err := url.ParseQuery(u.RawQuery)
	if err != nil {
		return domain.Endpoint{}, domain.ImageReference{}, fmt.Errorf("%w: query: %v", domain.ErrInvalidAddress, err)
	}
	for key, values := range query {
		if key != proxyParam {
			return domain.Endpoint{}, domain.ImageReference{}, fmt.Errorf("%w: unsupported parameter %q", domain.ErrInvalidAddress, key)
		}
		for _, value := range values {
			for _, hop := range strings.Split(value, ",") {
				jump, err := ParseJumpHost(hop)
				if err != nil {
					return domain.Endpoint{}, domain.ImageReference{}, err
				}
				ep.JumpChain = append(ep.JumpChain, jump)
			}
		}
	}

	return ep, ref, nil
}

// ParseJumpHost parses [user@]host[:port]. User defaults to root, port to 22.
func ParseJumpHost(s string) (domain.JumpHost, error) {
	s = strings.TrimSpace(s)
	jump := domain.JumpHost{User: domain.DefaultJumpUser, Port: domain.DefaultSSHPort}

	if i := strings.LastIndex(s, "@"); i >= 0 {
		if i > 0 {
			jump.User = s[:i]
		}
		s = s[i+1:]
	}

	host := s
	if strings.Contains(s, ":") {
		h, p, err := net.SplitHostPort(s)
		if err != nil {
			return domain.JumpHost{}, fmt.Errorf("%w: jump host %q: %v", domain.ErrInvalidAddress, s, err)
		}
		port, err := parsePort(p)
		if err != nil {
			return domain.JumpHost{}, err
		}
		host, jump.Port = h, port
	}

	if host == "" {
		return domain.JumpHost{}, fmt.Errorf("%w: missing jump hostname", domain.ErrInvalidAddress)
	}
	jump.Host = host
	return jump, nil
}

func parsePort(p string) (int, error) {
	port, err := strconv.Atoi(p)
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: invalid port %q", domain.ErrInvalidAddress, p)
	}
	return port, nil
}

// redact drops the URL from url.Error so passwords never reach logs.
func redact(err error) string {
	if ue, ok := err.(*url.Error); ok {
		return ue.Err.Error()
	}
	return err.Error()
}

func invokingUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}
