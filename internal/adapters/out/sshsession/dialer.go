// Package sshsession opens SSH sessions to remote endpoints, tunneling
// through an ordered chain of jump hosts when the endpoint asks for one.
package sshsession

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/bnema/dockship/internal/adapters/out/sshexec"
	"github.com/bnema/dockship/internal/boundaries/out"
	"github.com/bnema/dockship/internal/domain"
)

// defaultKeyFiles are tried, in order, under ~/.ssh.
var defaultKeyFiles = []string{"id_ed25519", "id_ecdsa", "id_rsa"}

// Config holds the dialer settings.
type Config struct {
	// ConnectTimeout bounds the whole establishment, every hop included.
	ConnectTimeout time.Duration
	// IdentityFiles are private keys tried before the default ones.
	IdentityFiles []string
	// StrictHostKeys verifies host keys against KnownHostsFile.
	StrictHostKeys bool
	KnownHostsFile string
	// AgentSocket is the ssh-agent socket (usually $SSH_AUTH_SOCK).
	AgentSocket string
	// HomeDir locates ~/.ssh defaults.
	HomeDir string
}

// Dialer implements out.SessionDialer on top of golang.org/x/crypto/ssh.
type Dialer struct {
	cfg Config
}

// NewDialer creates a dialer, filling unset fields with defaults.
func NewDialer(cfg Config) *Dialer {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = domain.DefaultConnectTimeout
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir, _ = os.UserHomeDir()
	}
	if cfg.KnownHostsFile == "" && cfg.HomeDir != "" {
		cfg.KnownHostsFile = filepath.Join(cfg.HomeDir, ".ssh", "known_hosts")
	}
	return &Dialer{cfg: cfg}
}

var _ out.SessionDialer = (*Dialer)(nil)

// Session is an established connection: the client chain (jump hosts
// first, target last) and the SFTP sub-channel of the target.
type Session struct {
	clients   []*ssh.Client
	files     *sftp.Client
	channel   *sshexec.Channel
	agentConn net.Conn
}

// Channel returns the execution channel bound to the target host.
func (s *Session) Channel() out.Channel {
	return s.channel
}

// Close tears down the SFTP channel, then every client from the target
// back to the first hop.
func (s *Session) Close() error {
	var errs []error
	if s.files != nil {
		if err := s.files.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	for i := len(s.clients) - 1; i >= 0; i-- {
		if err := s.clients[i].Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	if s.agentConn != nil {
		_ = s.agentConn.Close()
	}
	return errors.Join(errs...)
}

// Dial connects to ep, hopping through ep.JumpChain in order.
func (d *Dialer) Dial(ctx context.Context, ep domain.Endpoint) (out.Session, error) {
	if !ep.Remote {
		return nil, fmt.Errorf("%w: %s is not a remote endpoint", domain.ErrSessionEstablishment, ep)
	}

	log := zerolog.Ctx(ctx).With().Str("component", "sshsession").Str("endpoint", ep.String()).Logger()
	ctx, cancel := context.WithTimeout(ctx, d.cfg.ConnectTimeout)
	defer cancel()

	hostKeys, err := d.hostKeyCallback(&log)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrSessionEstablishment, err)
	}

	sess := &Session{}
	keyAuth := d.keyAuthMethods(&log, sess)

	var prev *ssh.Client
	for _, hop := range ep.JumpChain {
		log.Debug().Str("jump", hop.Addr()).Str("user", hop.User).Msg("connecting to jump host")
		client, err := d.connect(ctx, prev, hop.Addr(), &ssh.ClientConfig{
			User:            hop.User,
			Auth:            keyAuth,
			HostKeyCallback: hostKeys,
			Timeout:         d.cfg.ConnectTimeout,
		})
		if err != nil {
			_ = sess.Close()
			return nil, fmt.Errorf("%w: jump host %s@%s: %w", domain.ErrSessionEstablishment, hop.User, hop.Addr(), err)
		}
		sess.clients = append(sess.clients, client)
		prev = client
	}

	targetAuth := keyAuth
	if ep.Password != "" {
		targetAuth = append([]ssh.AuthMethod{ssh.Password(ep.Password)}, keyAuth...)
	}
	client, err := d.connect(ctx, prev, ep.Addr(), &ssh.ClientConfig{
		User:            ep.Username,
		Auth:            targetAuth,
		HostKeyCallback: hostKeys,
		Timeout:         d.cfg.ConnectTimeout,
	})
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrSessionEstablishment, ep, err)
	}
	sess.clients = append(sess.clients, client)

	files, err := sftp.NewClient(client)
	if err != nil {
		_ = sess.Close()
		return nil, fmt.Errorf("%w: sftp on %s: %w", domain.ErrSessionEstablishment, ep, err)
	}
	sess.files = files
	sess.channel = sshexec.New(client, files, ep.String())

	log.Info().Int("jumps", len(ep.JumpChain)).Msg("session established")
	return sess, nil
}

// connect opens a TCP connection to addr, directly or through via, and
// runs the SSH handshake on it. ctx bounds both steps.
func (d *Dialer) connect(ctx context.Context, via *ssh.Client, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	var (
		conn net.Conn
		err  error
	)
	if via == nil {
		var nd net.Dialer
		conn, err = nd.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = via.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, err
	}

	type result struct {
		conn  ssh.Conn
		chans <-chan ssh.NewChannel
		reqs  <-chan *ssh.Request
		err   error
	}
	done := make(chan result, 1)
	go func() {
		c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
		done <- result{c, chans, reqs, err}
	}()

	select {
	case <-ctx.Done():
		_ = conn.Close()
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			_ = conn.Close()
			return nil, r.err
		}
		return ssh.NewClient(r.conn, r.chans, r.reqs), nil
	}
}

func (d *Dialer) hostKeyCallback(log *zerolog.Logger) (ssh.HostKeyCallback, error) {
	if d.cfg.StrictHostKeys {
		cb, err := knownhosts.New(d.cfg.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("load known hosts %s: %w", d.cfg.KnownHostsFile, err)
		}
		return cb, nil
	}
	return func(hostname string, _ net.Addr, key ssh.PublicKey) error {
		log.Warn().
			Str("host", hostname).
			Str("key_type", key.Type()).
			Str("fingerprint", ssh.FingerprintSHA256(key)).
			Msg("accepting unverified host key")
		return nil
	}, nil
}

// keyAuthMethods returns the public-key method shared by every hop. Agent
// signers come first, then identity files, all under one method: the
// client never retries a method name after it fails. The agent connection
// is recorded on sess so Close releases it.
func (d *Dialer) keyAuthMethods(log *zerolog.Logger, sess *Session) []ssh.AuthMethod {
	var agentClient agent.ExtendedAgent
	if d.cfg.AgentSocket != "" {
		conn, err := net.Dial("unix", d.cfg.AgentSocket)
		if err != nil {
			log.Debug().Err(err).Msg("ssh-agent unavailable")
		} else {
			sess.agentConn = conn
			agentClient = agent.NewClient(conn)
		}
	}

	fileSigners := d.loadSigners(log)
	if agentClient == nil && len(fileSigners) == 0 {
		return nil
	}
	return []ssh.AuthMethod{ssh.PublicKeysCallback(combinedSigners(log, agentClient, fileSigners))}
}

func combinedSigners(log *zerolog.Logger, ag agent.Agent, files []ssh.Signer) func() ([]ssh.Signer, error) {
	return func() ([]ssh.Signer, error) {
		var signers []ssh.Signer
		if ag != nil {
			fromAgent, err := ag.Signers()
			if err != nil {
				log.Debug().Err(err).Msg("ssh-agent signers unavailable")
			}
			signers = append(signers, fromAgent...)
		}
		return append(signers, files...), nil
	}
}

func (d *Dialer) loadSigners(log *zerolog.Logger) []ssh.Signer {
	var signers []ssh.Signer

	for _, path := range d.cfg.IdentityFiles {
		signer, err := readSigner(path)
		if err != nil {
			log.Warn().Err(err).Str("identity", path).Msg("skipping identity file")
			continue
		}
		signers = append(signers, signer)
	}

	if d.cfg.HomeDir == "" {
		return signers
	}
	for _, name := range defaultKeyFiles {
		path := filepath.Join(d.cfg.HomeDir, ".ssh", name)
		signer, err := readSigner(path)
		if err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				log.Debug().Err(err).Str("identity", path).Msg("skipping default key")
			}
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

func readSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, err
	}
	return ssh.ParsePrivateKey(data)
}
