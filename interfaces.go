// Package relay runs shell commands and moves files on a remote host over SSH.
//
// # Core Types
//
// - Client: owns every connection it opens and hands out operations (Exec, Shell, SFTP, Dest).
// - Stream: the result of an operation. It collects result files and errors, and for
// transfer operations it also accepts input files.
// - Transport: how a connection is made. The transport/ssh package provides the real one.
//
// # Readiness
//
// Connections are dialed lazily. An operation queues its start routine on the
// connection and the queue is flushed, in submission order, once the
// connection is ready. Several operations may share one connection; an
// operation created with WithExclusiveConnection gets its own and closes it
// when done.
//
// # Errors
//
// Nothing is dropped on the floor: every error an operation surfaces is kept
// on its Stream and returned by Stream.Wait. Configuration errors (missing
// commands, unknown transfer mode) are returned by the call itself, before any
// network activity.
package relay

import (
	"context"
	"io"
	"os"
)

// Transport opens connections to one remote host.
type Transport interface {
	// Connect dials and authenticates. Returning nil error means the connection is ready.
	Connect(ctx context.Context) (Conn, error)
}

// Conn is an established connection that multiplexes channels.
type Conn interface {
	io.Closer

	// Exec opens a channel running a single command.
	Exec(ctx context.Context, req ExecRequest) (Channel, error)

	// Shell opens a channel running the remote login shell.
	Shell(ctx context.Context, req ShellRequest) (Channel, error)

	// FileSystem opens a file-transfer session on the connection.
	FileSystem(ctx context.Context) (RemoteFS, error)

	// Wait blocks until the connection ends and returns the reason, if any.
	Wait() error
}

// Channel is one logical stream inside a connection.
type Channel interface {
	io.Closer

	// Stdout is the primary data stream.
	Stdout() io.Reader

	// Stderr is the diagnostic sub-stream.
	Stderr() io.Reader

	// Stdin feeds the remote process. Closing it signals EOF.
	Stdin() io.WriteCloser

	// Wait blocks until the channel is closed and reports how the remote process ended.
	Wait() (ExitStatus, error)
}

// RemoteFS is a file-transfer session.
type RemoteFS interface {
	io.Closer

	// Create opens path for writing, truncating it. A zero perm keeps the server default.
	Create(path string, perm os.FileMode) (io.WriteCloser, error)

	// Open opens path for reading.
	Open(path string) (io.ReadCloser, error)

	// Exists reports whether path exists. A missing path is not an error.
	Exists(path string) (bool, error)

	// Mkdir creates a single directory. The parent must exist.
	Mkdir(path string) error
}

// ExecRequest describes a command channel.
type ExecRequest struct {
	Command string
	Env     []string // "KEY=VALUE"
	Dir     string
	Pty     bool
}

// ShellRequest describes a shell channel.
type ShellRequest struct {
	Env []string
	Pty bool
}
