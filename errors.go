package relay

import (
	"errors"
	"fmt"
)

var (
	// ErrTransportRequired is returned by New when no transport is given.
	ErrTransportRequired = errors.New("transport configuration required")

	// ErrCommandsRequired is returned by Exec and Shell for an empty command list.
	ErrCommandsRequired = errors.New("commands required")

	// ErrModeRequired is returned by SFTP when no mode is given.
	ErrModeRequired = errors.New("sftp mode required")

	// ErrPathRequired is returned by SFTP when no remote path is given.
	ErrPathRequired = errors.New("sftp path required")

	// ErrDestinationRequired is returned by Dest for an empty destination directory.
	ErrDestinationRequired = errors.New("destination directory required")

	// ErrClientClosed indicates an operation was attempted on a closed client.
	ErrClientClosed = errors.New("client is closed")

	// ErrConnectionClosed indicates the connection closed before the operation started.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrReadOnlyStream is returned by Send on a stream that produces files but does not accept them.
	ErrReadOnlyStream = errors.New("stream does not accept files")

	// ErrStreamClosed is returned by Send after CloseSend or after the stream ended.
	ErrStreamClosed = errors.New("stream is closed")

	// ErrNoContents indicates a file with neither buffered nor streamed contents was sent for writing.
	ErrNoContents = errors.New("file has no contents")
)

// UnsupportedModeError is returned by SFTP for an unknown mode.
type UnsupportedModeError struct {
	Mode Mode
}

func (e *UnsupportedModeError) Error() string {
	return fmt.Sprintf("sftp mode %q not supported", string(e.Mode))
}

// ExitError reports a remote command that exited non-zero or was killed.
// Only surfaced when errors are not ignored.
type ExitError struct {
	Command string
	Status  ExitStatus
}

func (e *ExitError) Error() string {
	if e.Status.Signal != "" {
		return fmt.Sprintf("command %q terminated: %s, %t, %s",
			e.Command, e.Status.Signal, e.Status.CoreDumped, e.Status.Description)
	}

	return fmt.Sprintf("command %q exited with code %d", e.Command, e.Status.Code)
}

// RemoteError carries data the remote process wrote to its diagnostic stream.
type RemoteError struct {
	Command string
	Output  []byte
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Command, string(e.Output))
}

// TransportError represents a failure in the connection or a channel on it
// (dial failure, lost connection, channel or sftp session refused).
type TransportError struct {
	Op   string // "connect", "exec", "shell", "sftp", ...
	Path string // Command or remote path, if any
	Err  error
}

func (e *TransportError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	}

	return fmt.Sprintf("transport error during %s %q: %v", e.Op, e.Path, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
