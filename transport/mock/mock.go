package mock

import (
	"context"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/ruffel/relay"
	"github.com/stretchr/testify/mock"
)

// Anything is re-exported so callers need a single import for expectations.
const Anything = mock.Anything

// Transport implements a mock relay.Transport using testify/mock.
type Transport struct {
	mock.Mock
}

var _ relay.Transport = (*Transport)(nil)

// New creates a new mock transport.
func New() *Transport {
	return &Transport{}
}

// Connect mocks dialing a connection.
func (m *Transport) Connect(ctx context.Context) (relay.Conn, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(relay.Conn), args.Error(1)
}

// Conn implements a mock relay.Conn using testify/mock.
type Conn struct {
	mock.Mock

	once    sync.Once
	closed  chan struct{}
	mu      sync.Mutex
	dropErr error
}

var _ relay.Conn = (*Conn)(nil)

// NewConn returns a Conn that behaves like a healthy connection: Wait blocks
// until Close is called. Channel expectations are left to the caller.
func NewConn() *Conn {
	c := &Conn{closed: make(chan struct{})}

	c.On("Wait").Run(WaitUntil(c.closed)).Return(nil).Maybe()
	c.On("Close").Run(func(mock.Arguments) {
		c.once.Do(func() { close(c.closed) })
	}).Return(nil).Maybe()

	return c
}

// Drop ends a Conn made by NewConn as if the server hung up: Wait returns err.
func (m *Conn) Drop(err error) {
	m.mu.Lock()
	m.dropErr = err
	m.mu.Unlock()

	m.once.Do(func() { close(m.closed) })
}

// Exec mocks opening a command channel.
func (m *Conn) Exec(ctx context.Context, req relay.ExecRequest) (relay.Channel, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(relay.Channel), args.Error(1)
}

// Shell mocks opening a shell channel.
func (m *Conn) Shell(ctx context.Context, req relay.ShellRequest) (relay.Channel, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(relay.Channel), args.Error(1)
}

// FileSystem mocks opening a file-transfer session.
func (m *Conn) FileSystem(ctx context.Context) (relay.RemoteFS, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(relay.RemoteFS), args.Error(1)
}

// Wait mocks waiting for the connection to end. Use WaitUntil to block it.
func (m *Conn) Wait() error {
	args := m.Called()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dropErr != nil {
		return m.dropErr
	}

	return args.Error(0)
}

// Close mocks closing the connection.
func (m *Conn) Close() error {
	args := m.Called()

	return args.Error(0)
}

// Channel is a canned relay.Channel. Its output is fixed at construction;
// Wait and Close go through testify so they can be asserted on.
type Channel struct {
	mock.Mock

	stdout io.Reader
	stderr io.Reader
	Input  strings.Builder
}

var _ relay.Channel = (*Channel)(nil)

// NewChannel returns a channel that prints stdout and stderr and then exits
// with status. Wait and Close expectations are preset.
func NewChannel(stdout, stderr string, status relay.ExitStatus) *Channel {
	ch := &Channel{
		stdout: strings.NewReader(stdout),
		stderr: strings.NewReader(stderr),
	}

	ch.On("Wait").Return(status, nil)
	ch.On("Close").Return(nil)

	return ch
}

func (m *Channel) Stdout() io.Reader { return m.stdout }
func (m *Channel) Stderr() io.Reader { return m.stderr }

// Stdin records everything written to it in Input.
func (m *Channel) Stdin() io.WriteCloser { return nopCloser{&m.Input} }

// Wait mocks waiting for the remote process.
func (m *Channel) Wait() (relay.ExitStatus, error) {
	args := m.Called()

	return args.Get(0).(relay.ExitStatus), args.Error(1)
}

// Close mocks closing the channel.
func (m *Channel) Close() error {
	args := m.Called()

	return args.Error(0)
}

// RemoteFS implements a mock relay.RemoteFS using testify/mock.
type RemoteFS struct {
	mock.Mock
}

var _ relay.RemoteFS = (*RemoteFS)(nil)

// Create mocks opening a remote file for writing.
func (m *RemoteFS) Create(path string, perm os.FileMode) (io.WriteCloser, error) {
	args := m.Called(path, perm)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(io.WriteCloser), args.Error(1)
}

// Open mocks opening a remote file for reading.
func (m *RemoteFS) Open(path string) (io.ReadCloser, error) {
	args := m.Called(path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(io.ReadCloser), args.Error(1)
}

// Exists mocks checking a remote path.
func (m *RemoteFS) Exists(path string) (bool, error) {
	args := m.Called(path)

	return args.Bool(0), args.Error(1)
}

// Mkdir mocks creating a remote directory.
func (m *RemoteFS) Mkdir(path string) error {
	args := m.Called(path)

	return args.Error(0)
}

// Close mocks ending the session.
func (m *RemoteFS) Close() error {
	args := m.Called()

	return args.Error(0)
}

// WaitUntil blocks a mocked Wait until done is closed.
// Usage: conn.On("Wait").Run(WaitUntil(done)).Return(nil).
func WaitUntil(done <-chan struct{}) func(mock.Arguments) {
	return func(mock.Arguments) {
		<-done
	}
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
