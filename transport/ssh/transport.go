package ssh

import (
	"context"
	"fmt"
	"net"

	"github.com/ruffel/relay"
	"golang.org/x/crypto/ssh"
)

var _ relay.Transport = (*Transport)(nil)

// Transport dials SSH connections for a relay.Client.
type Transport struct {
	config       Config
	clientConfig *ssh.ClientConfig
}

// New validates the configuration and prepares authentication. Key files are
// read here; nothing is dialed until Connect.
func New(opts ...Option) (*Transport, error) {
	var c Config
	for _, o := range opts {
		o(&c)
	}

	c = c.WithDefaults()
	if err := c.Validate(); err != nil {
		return nil, err
	}

	clientConfig, err := c.ToClientConfig()
	if err != nil {
		return nil, err
	}

	return &Transport{config: c, clientConfig: clientConfig}, nil
}

// Config returns the effective configuration.
func (t *Transport) Config() Config {
	return t.config
}

// Connect dials the host and completes the SSH handshake. Cancelling ctx
// aborts both.
func (t *Transport) Connect(ctx context.Context) (relay.Conn, error) {
	addr := t.config.Addr()

	d := net.Dialer{Timeout: t.config.Timeout}

	nc, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial ssh at %s: %w", addr, err)
	}

	stop := context.AfterFunc(ctx, func() { _ = nc.Close() })

	sc, chans, reqs, err := ssh.NewClientConn(nc, addr, t.clientConfig)
	if !stop() {
		if err == nil {
			_ = sc.Close()
		}

		_ = nc.Close()

		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, ctx.Err())
	}

	if err != nil {
		_ = nc.Close()

		return nil, fmt.Errorf("ssh handshake with %s: %w", addr, err)
	}

	return NewFromClient(ssh.NewClient(sc, chans, reqs)), nil
}
