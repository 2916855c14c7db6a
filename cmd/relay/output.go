package main

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/goware/prefixer"
	"github.com/ruffel/relay"
)

// liveWriter prefixes every line of remote output as it arrives. Chunks are
// pushed through a pipe so a line split across chunks gets one prefix.
type liveWriter struct {
	pw   *io.PipeWriter
	done chan struct{}
}

func newLiveWriter(out io.Writer, prefix string) *liveWriter {
	pr, pw := io.Pipe()
	lw := &liveWriter{pw: pw, done: make(chan struct{})}

	go func() {
		defer close(lw.done)

		_, _ = io.Copy(out, prefixer.New(pr, prefix))
		_ = pr.Close()
	}()

	return lw
}

// write is a relay data handler.
func (lw *liveWriter) write(chunk []byte) {
	_, _ = lw.pw.Write(chunk)
}

// Close flushes the last partial line and waits for the copy to finish.
func (lw *liveWriter) Close() {
	_ = lw.pw.Close()
	<-lw.done
}

// printPrefixed writes text with prefix in front of each line.
func printPrefixed(out io.Writer, prefix, text string) {
	if text == "" {
		return
	}

	_, _ = io.Copy(out, prefixer.New(strings.NewReader(text), prefix))

	if !strings.HasSuffix(text, "\n") {
		_, _ = fmt.Fprintln(out)
	}
}

// reporter prints remote diagnostic output and passes on every other error.
// Diagnostic output alone does not fail a command.
type reporter struct {
	mu     sync.Mutex
	stderr io.Writer
	prefix string
}

func (r *reporter) report(err error) error {
	if err == nil {
		return nil
	}

	var rest []error

	for _, e := range flatten(err) {
		var remote *relay.RemoteError
		if errors.As(e, &remote) {
			r.mu.Lock()
			printPrefixed(r.stderr, warnStyle.Render(r.prefix), string(remote.Output))
			r.mu.Unlock()

			continue
		}

		rest = append(rest, e)
	}

	return errors.Join(rest...)
}

func flatten(err error) []error {
	if joined, ok := err.(interface{ Unwrap() []error }); ok { //nolint:errorlint // only the top-level join is split
		var out []error
		for _, e := range joined.Unwrap() {
			out = append(out, flatten(e)...)
		}

		return out
	}

	return []error{err}
}
