// Package sshtransport adapts an SSH session's channel into a
// peer.Transport, grounded on the teacher's client.NewSSHTransport /
// RealDialer (netconf/client/transport.go, rpcsessionfactory.go): same
// dial/session/subsystem-request shape, but requesting a "beep" subsystem
// instead of "netconf" and wrapping stdin/stdout instead of an ssh.Channel
// directly, since an ssh.Session exposes the transport as pipes rather
// than a raw Channel.
package sshtransport

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"
)

// Subsystem is the SSH subsystem name a BEEP-over-SSH server registers,
// mirroring how NETCONF-over-SSH registers "netconf" (RFC 4742 §4).
const Subsystem = "beep"

// Dialer abstracts obtaining and releasing an *ssh.Client, letting callers
// supply either a fresh dial per connection or an already-established
// client to share, exactly as client.SSHClientFactory does for NETCONF.
type Dialer interface {
	Dial(ctx context.Context) (*ssh.Client, error)
	Close(*ssh.Client) error
}

// RealDialer dials a fresh *ssh.Client to target for every Transport.
type RealDialer struct {
	Target string
	Config *ssh.ClientConfig
}

// NewRealDialer builds a RealDialer.
func NewRealDialer(target string, cfg *ssh.ClientConfig) *RealDialer {
	return &RealDialer{Target: target, Config: cfg}
}

func (d *RealDialer) Dial(ctx context.Context) (*ssh.Client, error) {
	return ssh.Dial("tcp", d.Target, d.Config)
}

func (d *RealDialer) Close(cli *ssh.Client) error {
	if cli == nil {
		return nil
	}
	return cli.Close()
}

// existingClientDialer wraps an already-connected *ssh.Client without
// taking ownership of its lifetime, mirroring the teacher's noOpDialer.
type existingClientDialer struct {
	client *ssh.Client
}

// NewExistingClientDialer reuses client without dialing or closing it.
func NewExistingClientDialer(client *ssh.Client) Dialer {
	return &existingClientDialer{client: client}
}

func (d *existingClientDialer) Dial(context.Context) (*ssh.Client, error) { return d.client, nil }
func (d *existingClientDialer) Close(*ssh.Client) error                   { return nil }

// Transport is a peer.Transport backed by an SSH session running the BEEP
// subsystem.
type Transport struct {
	session *ssh.Session
	client  *ssh.Client
	dialer  Dialer
	stdout  io.Reader
	stdin   io.WriteCloser
}

// Dial opens a new SSH client (or reuses one via dialer) and starts the
// BEEP subsystem over it, returning a ready-to-use Transport.
func Dial(ctx context.Context, dialer Dialer, target string) (t *Transport, err error) {
	impl := &Transport{dialer: dialer}

	defer func() {
		if err != nil {
			_ = dialer.Close(impl.client)
			if impl.session != nil {
				_ = impl.session.Close()
			}
		}
	}()

	if impl.client, err = dialer.Dial(ctx); err != nil {
		return nil, errors.Wrapf(err, "sshtransport: dial %s", target)
	}
	if impl.session, err = impl.client.NewSession(); err != nil {
		return nil, errors.Wrap(err, "sshtransport: new session")
	}
	if err = impl.session.RequestSubsystem(Subsystem); err != nil {
		return nil, errors.Wrapf(err, "sshtransport: request %s subsystem", Subsystem)
	}
	if impl.stdout, err = impl.session.StdoutPipe(); err != nil {
		return nil, errors.Wrap(err, "sshtransport: stdout pipe")
	}
	if impl.stdin, err = impl.session.StdinPipe(); err != nil {
		return nil, errors.Wrap(err, "sshtransport: stdin pipe")
	}
	return impl, nil
}

func (t *Transport) Read(p []byte) (int, error)  { return t.stdout.Read(p) }
func (t *Transport) Write(p []byte) (int, error) { return t.stdin.Write(p) }

// Close tears down the stdin pipe, the SSH session and (via the dialer,
// which may no-op for a shared client) the SSH client, returning the
// first error encountered.
func (t *Transport) Close() error {
	var stdinErr, sessionErr error
	if t.stdin != nil {
		stdinErr = t.stdin.Close()
	}
	if t.session != nil {
		sessionErr = t.session.Close()
	}
	err := t.dialer.Close(t.client)
	if err == nil {
		err = stdinErr
	}
	if err == nil {
		err = sessionErr
	}
	return err
}
