package relay

import (
	"fmt"
	"path"

	"github.com/ruffel/relay/fileutil"
)

// Dest copies a tree of files under destDir on the remote host. Each file
// sent is written to destDir joined with its path relative to File.Base,
// creating missing parent directories first. Placeholder files (no contents)
// are passed through without touching the remote host, so an empty local
// directory is not created remotely.
//
// Dest always uses a connection of its own and a single SFTP session for all
// files, both closed when the input ends or the copy stops. By default the
// copy stops at the first failed file; WithBestEffort reports failures and
// carries on. Files already copied stay on the remote host.
func (cl *Client) Dest(destDir string, opts ...FileOption) (*Stream, error) {
	if destDir == "" {
		return nil, ErrDestinationRequired
	}

	cfg := fileConfig(opts)
	cfg.Exclusive = true

	h, err := cl.obtain(true)
	if err != nil {
		return nil, err
	}

	s := newTransformStream("dest", cfg.OnError)
	if !h.subscribe(s) {
		s.fail(h.closedErr())
		cl.finish(h, s, true)

		return s, nil
	}

	go cl.copyTree(h, s, destDir, cfg)

	return s, nil
}

func (cl *Client) copyTree(h *handle, s *Stream, destDir string, cfg FileConfig) {
	var fs RemoteFS

	defer func() {
		if fs != nil {
			if err := fs.Close(); err != nil {
				h.logger.Debug("close sftp session", "error", err)
			}
		}

		cl.finish(h, s, true)
	}()

	for {
		f, ok := s.next()
		if !ok {
			return
		}

		if f.IsNull() {
			s.emit(f)

			continue
		}

		if fs == nil {
			conn, err := h.await(s)
			if err != nil {
				if !s.failed() {
					s.fail(err)
				}

				return
			}

			fs, err = conn.FileSystem(h.ctx)
			if err != nil {
				s.fail(&TransportError{Op: "sftp", Path: destDir, Err: err})

				return
			}
		}

		out, err := copyEntry(h, fs, destDir, f, cfg)
		if err != nil {
			h.logger.Error("copy failed", "file", f.Path, "error", err)
			s.fail(err)

			if !cfg.BestEffort {
				return
			}

			continue
		}

		h.logger.Debug("copied", "file", f.Path, "path", out)
		s.emit(f)
	}
}

func copyEntry(h *handle, fs RemoteFS, destDir string, f *File, cfg FileConfig) (string, error) {
	rel, err := f.Relative()
	if err != nil {
		return "", err
	}

	out := path.Join(destDir, fileutil.ToRemote(rel))

	if err := fileutil.CheckRemotePathTraversal(destDir, out); err != nil {
		return "", err
	}

	if err := ensureDir(fs, path.Dir(out)); err != nil {
		return "", &TransportError{Op: "mkdir", Path: path.Dir(out), Err: err}
	}

	return out, writeFile(h.ctx, fs, out, f, cfg)
}

// ensureDir makes sure dir exists, creating missing ancestors parent first.
// It stops at the first directory that exists or at the root. A directory
// that appears between the check and Mkdir is accepted.
func ensureDir(fs RemoteFS, dir string) error {
	ok, err := fs.Exists(dir)
	if err != nil {
		return fmt.Errorf("stat %s: %w", dir, err)
	}

	if ok {
		return nil
	}

	parent := path.Dir(dir)
	if parent == dir {
		return nil
	}

	if err := ensureDir(fs, parent); err != nil {
		return err
	}

	if err := fs.Mkdir(dir); err != nil {
		if ok, serr := fs.Exists(dir); serr == nil && ok {
			return nil
		}

		return fmt.Errorf("mkdir %s: %w", dir, err)
	}

	return nil
}
