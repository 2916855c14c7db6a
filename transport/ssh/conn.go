package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/pkg/sftp"
	"github.com/ruffel/relay"
	"golang.org/x/crypto/ssh"
)

var _ relay.Conn = (*Conn)(nil)

// ErrClosedByRemote is returned by Wait when the server ends the connection.
var ErrClosedByRemote = errors.New("connection closed by remote host")

// Conn is one SSH connection. Every Exec, Shell and FileSystem call opens a
// new channel on it.
type Conn struct {
	client *ssh.Client

	mu     sync.Mutex
	closed bool
}

// NewFromClient wraps an established client.
func NewFromClient(client *ssh.Client) *Conn {
	return &Conn{client: client}
}

// Exec starts req.Command in a new session.
func (c *Conn) Exec(ctx context.Context, req relay.ExecRequest) (relay.Channel, error) {
	session, err := c.session()
	if err != nil {
		return nil, err
	}

	ch, err := newChannel(session, req.Pty)
	if err != nil {
		_ = session.Close()

		return nil, err
	}

	if err := session.Start(buildCommand(req)); err != nil {
		_ = session.Close()

		return nil, fmt.Errorf("failed to start command: %w", err)
	}

	// Commands get no input; closing stdin lets readers like cat finish.
	_ = ch.stdin.Close()

	ch.watch(ctx)

	return ch, nil
}

// Shell starts a login shell in a new session. Environment variables are
// requested with setenv; servers that refuse them are not treated as errors.
func (c *Conn) Shell(ctx context.Context, req relay.ShellRequest) (relay.Channel, error) {
	session, err := c.session()
	if err != nil {
		return nil, err
	}

	for _, kv := range req.Env {
		if k, v, ok := cutEnv(kv); ok {
			_ = session.Setenv(k, v)
		}
	}

	ch, err := newChannel(session, req.Pty)
	if err != nil {
		_ = session.Close()

		return nil, err
	}

	if err := session.Shell(); err != nil {
		_ = session.Close()

		return nil, fmt.Errorf("failed to start shell: %w", err)
	}

	ch.watch(ctx)

	return ch, nil
}

// FileSystem opens an SFTP session.
func (c *Conn) FileSystem(ctx context.Context) (relay.RemoteFS, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, fmt.Errorf("failed to create sftp client: %w", err)
	}

	return &FileSystem{client: client}, nil
}

// Wait blocks until the connection ends. A connection closed with Close
// returns nil; any other ending, including the server hanging up, is an error.
func (c *Conn) Wait() error {
	err := c.client.Wait()

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return nil
	case err == nil || errors.Is(err, io.EOF):
		return ErrClosedByRemote
	default:
		return err
	}
}

// Close closes the underlying SSH connection.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.mu.Unlock()

	if err := c.client.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}

	return nil
}

func (c *Conn) session() (*ssh.Session, error) {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return nil, net.ErrClosed
	}

	session, err := c.client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create ssh session: %w", err)
	}

	return session, nil
}
