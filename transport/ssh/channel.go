package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/ruffel/relay"
	"golang.org/x/crypto/ssh"
)

var _ relay.Channel = (*Channel)(nil)

// Channel is one SSH session running a command or a shell.
type Channel struct {
	session *ssh.Session
	stdout  io.Reader
	stderr  io.Reader
	stdin   io.WriteCloser

	waitOnce sync.Once
	status   relay.ExitStatus
	err      error
	stop     func() bool

	mu     sync.Mutex
	closed bool
}

func newChannel(session *ssh.Session, pty bool) (*Channel, error) {
	if pty {
		if err := session.RequestPty("xterm", 40, 80, buildTerminalModes()); err != nil {
			return nil, fmt.Errorf("request for pty failed: %w", err)
		}
	}

	stdout, err := session.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	stderr, err := session.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	return &Channel{
		session: session,
		stdout:  stdout,
		stderr:  stderr,
		stdin:   stdin,
		stop:    func() bool { return true },
	}, nil
}

// watch kills the remote process when ctx is cancelled before it exits.
func (ch *Channel) watch(ctx context.Context) {
	ch.stop = context.AfterFunc(ctx, func() {
		_ = ch.session.Signal(ssh.SIGKILL)
		_ = ch.Close()
	})
}

func (ch *Channel) Stdout() io.Reader { return ch.stdout }
func (ch *Channel) Stderr() io.Reader { return ch.stderr }
func (ch *Channel) Stdin() io.WriteCloser { return ch.stdin }

// Wait blocks until the remote side closes the session and returns how the
// process ended. A non-zero exit or a signal is reported in the status, not
// as an error. Safe to call more than once.
func (ch *Channel) Wait() (relay.ExitStatus, error) {
	ch.waitOnce.Do(func() {
		ch.status, ch.err = exitStatus(ch.session.Wait())
		ch.stop()
	})

	return ch.status, ch.err
}

// Close closes the session.
func (ch *Channel) Close() error {
	ch.mu.Lock()
	defer ch.mu.Unlock()

	if ch.closed {
		return nil
	}

	ch.closed = true

	if err := ch.session.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	return nil
}

// exitStatus maps the error returned by ssh.Session.Wait. The core-dump flag
// is not exposed by x/crypto/ssh and is always false.
func exitStatus(err error) (relay.ExitStatus, error) {
	if err == nil {
		return relay.ExitStatus{}, nil
	}

	var exitErr *ssh.ExitError
	if errors.As(err, &exitErr) {
		status := relay.ExitStatus{
			Code:        exitErr.ExitStatus(),
			Signal:      exitErr.Signal(),
			Description: exitErr.Msg(),
		}

		if status.Signal != "" && status.Code == 0 {
			status.Code = -1
		}

		return status, nil
	}

	var missing *ssh.ExitMissingError
	if errors.As(err, &missing) {
		return relay.ExitStatus{Code: -1}, fmt.Errorf("remote side closed without exit status: %w", err)
	}

	return relay.ExitStatus{Code: -1}, err
}
