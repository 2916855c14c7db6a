package relay

import (
	"context"
	"fmt"
	"io"

	"github.com/ruffel/relay/fileutil"
)

// Mode selects the direction of an SFTP transfer.
type Mode string

const (
	ModeRead  Mode = "read"
	ModeWrite Mode = "write"
)

// SFTP transfers a single remote file.
//
// In ModeRead the returned stream produces one file holding the contents of
// remotePath, named by WithLocalPath or remotePath itself.
//
// In ModeWrite the returned stream accepts files and writes each one to
// remotePath over a fresh SFTP session, passing it on once the remote file is
// closed. Every file sent overwrites the same remote path. The stream stops at
// the first failure.
//
// Missing or unknown modes and an empty path are reported before connecting.
func (cl *Client) SFTP(mode Mode, remotePath string, opts ...FileOption) (*Stream, error) {
	switch {
	case mode == "":
		return nil, ErrModeRequired
	case remotePath == "":
		return nil, ErrPathRequired
	case mode != ModeRead && mode != ModeWrite:
		return nil, &UnsupportedModeError{Mode: mode}
	}

	cfg := fileConfig(opts)

	h, err := cl.obtain(cfg.Exclusive)
	if err != nil {
		return nil, err
	}

	if mode == ModeRead {
		s := newStream("sftp read", nil, cfg.OnError)
		cl.start(h, s, cfg.Exclusive, func(conn Conn) {
			cl.readFile(h, conn, s, remotePath, cfg)
		})

		return s, nil
	}

	s := newTransformStream("sftp write", cfg.OnError)
	if !h.subscribe(s) {
		s.fail(h.closedErr())
		cl.finish(h, s, cfg.Exclusive)

		return s, nil
	}

	go cl.writeFiles(h, s, remotePath, cfg)

	return s, nil
}

func (cl *Client) readFile(h *handle, conn Conn, s *Stream, remotePath string, cfg FileConfig) {
	log := h.logger.With("path", remotePath)

	fs, err := conn.FileSystem(h.ctx)
	if err != nil {
		log.Error("open sftp session", "error", err)
		s.fail(&TransportError{Op: "sftp", Path: remotePath, Err: err})

		return
	}
	defer func() { _ = fs.Close() }()

	r, err := fs.Open(remotePath)
	if err != nil {
		s.fail(&TransportError{Op: "open", Path: remotePath, Err: err})

		return
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(fileutil.Wrap(h.ctx, r, -1, cfg.Progress))
	if err != nil {
		s.fail(&TransportError{Op: "read", Path: remotePath, Err: err})

		return
	}

	local := cfg.LocalPath
	if local == "" {
		local = remotePath
	}

	log.Debug("read", "bytes", len(data))
	s.emit(&File{Path: local, Contents: append([]byte{}, data...)})
}

func (cl *Client) writeFiles(h *handle, s *Stream, remotePath string, cfg FileConfig) {
	defer cl.finish(h, s, cfg.Exclusive)

	for {
		f, ok := s.next()
		if !ok {
			return
		}

		conn, err := h.await(s)
		if err != nil {
			if !s.failed() {
				s.fail(err)
			}

			return
		}

		if err := cl.writeOne(h.ctx, conn, remotePath, f, cfg); err != nil {
			h.logger.Error("write failed", "path", remotePath, "error", err)
			s.fail(err)

			return
		}

		s.emit(f)
	}
}

// writeOne writes f to remotePath over its own SFTP session.
func (cl *Client) writeOne(ctx context.Context, conn Conn, remotePath string, f *File, cfg FileConfig) error {
	if f.IsNull() {
		return fmt.Errorf("write %s: %w", remotePath, ErrNoContents)
	}

	fs, err := conn.FileSystem(ctx)
	if err != nil {
		return &TransportError{Op: "sftp", Path: remotePath, Err: err}
	}

	err = writeFile(ctx, fs, remotePath, f, cfg)

	if cerr := fs.Close(); cerr != nil && err == nil {
		err = &TransportError{Op: "sftp", Path: remotePath, Err: cerr}
	}

	return err
}

// writeFile copies the contents of f into path on fs. The remote file is
// always closed before returning so buffered writes are flushed, and the
// first error seen is reported. A streamed file whose reader is an io.Closer
// is closed once copied.
func writeFile(ctx context.Context, fs RemoteFS, path string, f *File, cfg FileConfig) error {
	w, err := fs.Create(path, cfg.Permissions)
	if err != nil {
		return &TransportError{Op: "create", Path: path, Err: err}
	}

	r, size := f.open()

	_, copyErr := io.Copy(w, fileutil.Wrap(ctx, r, size, cfg.Progress))
	closeErr := w.Close()

	if c, ok := f.Reader.(io.Closer); ok && f.IsStream() {
		_ = c.Close()
	}

	if copyErr != nil {
		return &TransportError{Op: "write", Path: path, Err: copyErr}
	}

	if closeErr != nil {
		return &TransportError{Op: "write", Path: path, Err: closeErr}
	}

	return nil
}
