// Package fileutil provides file-transfer helpers shared by relay and its transports.
//
// It covers progress reporting, context cancellation during long copies, and
// path checks for both local and remote (forward-slash) paths.
package fileutil

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ProgressFunc is a callback for tracking transfer progress.
// total is -1 when the size is not known up front.
type ProgressFunc func(current, total int64)

// ProgressReader wraps an io.Reader to report progress via a ProgressFunc.
type ProgressReader struct {
	io.Reader

	Total   int64
	Current int64
	Fn      ProgressFunc
}

// Read reads from the underlying reader and reports progress.
func (pr *ProgressReader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.Current += int64(n)
		if pr.Fn != nil {
			pr.Fn(pr.Current, pr.Total)
		}
	}

	return n, err
}

// ContextReader wraps an io.Reader to check for context cancellation
// before each Read call. This allows long-running io.Copy operations
// to be interrupted by context cancellation.
type ContextReader struct {
	Ctx    context.Context //nolint:containedctx
	Reader io.Reader
}

// Read checks for context cancellation before delegating to the underlying reader.
func (cr *ContextReader) Read(p []byte) (int, error) {
	if cr.Ctx.Err() != nil {
		return 0, cr.Ctx.Err()
	}

	return cr.Reader.Read(p)
}

// Wrap layers a ContextReader and, when fn is set, a ProgressReader over r.
func Wrap(ctx context.Context, r io.Reader, total int64, fn ProgressFunc) io.Reader {
	var out io.Reader = &ContextReader{Ctx: ctx, Reader: r}
	if fn != nil {
		out = &ProgressReader{Reader: out, Total: total, Fn: fn}
	}

	return out
}

// CheckPathTraversal validates that target is a child of root using local filesystem
// path conventions (filepath.Abs, os.PathSeparator). Returns an error if target
// escapes the root directory (ZipSlip protection).
func CheckPathTraversal(root, target string) error {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("illegal file path: cannot resolve root %s: %w", root, err)
	}

	absTarget, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("illegal file path: cannot resolve target %s: %w", target, err)
	}

	if absRoot == absTarget {
		return nil
	}

	if !strings.HasPrefix(absTarget, strings.TrimSuffix(absRoot, string(os.PathSeparator))+string(os.PathSeparator)) {
		return fmt.Errorf("illegal file path: %s is not within %s", target, root)
	}

	return nil
}

// CheckRemotePathTraversal validates that target is a child of root using forward-slash
// path conventions (path.Clean, "/"). Use this for remote Unix-like paths where
// filepath operations would use the wrong separator on Windows hosts.
func CheckRemotePathTraversal(root, target string) error {
	cleanRoot := path.Clean(root)
	cleanTarget := path.Clean(target)

	if cleanRoot == cleanTarget {
		return nil
	}

	var within bool

	switch cleanRoot {
	case "/":
		within = strings.HasPrefix(cleanTarget, "/")
	case ".":
		within = !path.IsAbs(cleanTarget) && cleanTarget != ".." && !strings.HasPrefix(cleanTarget, "../")
	default:
		within = strings.HasPrefix(cleanTarget, cleanRoot+"/")
	}

	if !within {
		return fmt.Errorf("illegal remote file path: %s is not within %s", target, root)
	}

	return nil
}

// ToRemote converts a local relative path to the forward-slash form remote
// hosts expect. Only the local separator is converted; a backslash in a Unix
// file name is kept.
func ToRemote(p string) string {
	return filepath.ToSlash(p)
}
