package relay

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// Src lists the local tree under root as files ready for Dest. Every file
// has Base set to root. Regular files are streamed: each is opened on its
// first read and closed at EOF or by Close, so at most one is open while Dest
// copies them. Directories become placeholder files; entries that are neither
// regular files nor directories are skipped.
//
// An exclude pattern (filepath.Match syntax) is matched against both the
// path relative to root and the base name. An excluded directory is skipped
// with everything under it.
func Src(root string, excludes ...string) ([]*File, error) {
	for _, pattern := range excludes {
		if _, err := filepath.Match(pattern, ""); err != nil {
			return nil, fmt.Errorf("bad exclude pattern %q: %w", pattern, err)
		}
	}

	var files []*File

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if p == root {
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}

		if excluded(rel, d.Name(), excludes) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		switch {
		case d.IsDir():
			files = append(files, &File{Path: p, Base: root})
		case d.Type().IsRegular():
			files = append(files, &File{Path: p, Base: root, Reader: &lazyFile{path: p}})
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read tree %s: %w", root, err)
	}

	return files, nil
}

func excluded(rel, name string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := filepath.Match(pattern, rel); ok {
			return true
		}

		if ok, _ := filepath.Match(pattern, name); ok {
			return true
		}
	}

	return false
}

// lazyFile is a local file opened on first Read and closed at EOF.
type lazyFile struct {
	path string
	f    *os.File
	done bool
}

func (l *lazyFile) Read(p []byte) (int, error) {
	if l.done {
		return 0, io.EOF
	}

	if l.f == nil {
		f, err := os.Open(l.path)
		if err != nil {
			return 0, err
		}

		l.f = f
	}

	n, err := l.f.Read(p)
	if err == io.EOF {
		_ = l.Close()
	}

	return n, err
}

// Close releases the file if it is open. Later reads return io.EOF.
func (l *lazyFile) Close() error {
	l.done = true

	if l.f == nil {
		return nil
	}

	err := l.f.Close()
	l.f = nil

	return err
}
