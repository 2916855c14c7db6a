package ssh

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/pkg/sftp"
	"github.com/ruffel/relay"
)

var _ relay.RemoteFS = (*FileSystem)(nil)

// FileSystem is an SFTP session.
type FileSystem struct {
	client *sftp.Client
}

// Create opens path for writing, truncating it. A non-zero perm is applied
// to the file after it is opened.
func (fs *FileSystem) Create(path string, perm os.FileMode) (io.WriteCloser, error) {
	f, err := fs.client.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create remote file %s: %w", path, err)
	}

	if perm != 0 {
		if err := f.Chmod(perm); err != nil {
			_ = f.Close()

			return nil, fmt.Errorf("failed to chmod remote file %s: %w", path, err)
		}
	}

	return f, nil
}

// Open opens path for reading.
func (fs *FileSystem) Open(path string) (io.ReadCloser, error) {
	f, err := fs.client.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open remote file %s: %w", path, err)
	}

	return f, nil
}

// Exists reports whether path exists.
func (fs *FileSystem) Exists(path string) (bool, error) {
	_, err := fs.client.Stat(path)
	if err == nil {
		return true, nil
	}

	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	return false, fmt.Errorf("failed to stat remote path %s: %w", path, err)
}

// Mkdir creates a single directory; its parent must exist.
func (fs *FileSystem) Mkdir(path string) error {
	if err := fs.client.Mkdir(path); err != nil {
		return fmt.Errorf("failed to create remote directory %s: %w", path, err)
	}

	return nil
}

// Close ends the SFTP session.
func (fs *FileSystem) Close() error {
	return fs.client.Close()
}
