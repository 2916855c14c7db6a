package relay

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
)

// File is a named blob: a command transcript, a downloaded file, or a local
// file on its way to the remote host.
//
// A File carries either Contents, a Reader, or neither. The last form is a
// placeholder (typically a directory) and is never written anywhere.
type File struct {
	Path     string    // Full path of the file
	Base     string    // Directory Path is relative to; empty means Path is already relative
	Contents []byte    // Buffered contents
	Reader   io.Reader // Streamed contents, used when Contents is nil; closed once written if it is an io.Closer
}

// NewFile returns a buffered file.
func NewFile(path string, contents []byte) *File {
	return &File{Path: path, Contents: contents}
}

// IsBuffer reports whether the file holds buffered contents.
func (f *File) IsBuffer() bool {
	return f.Contents != nil
}

// IsStream reports whether the file is backed by a reader.
func (f *File) IsStream() bool {
	return f.Contents == nil && f.Reader != nil
}

// IsNull reports whether the file has no contents at all.
func (f *File) IsNull() bool {
	return f.Contents == nil && f.Reader == nil
}

// Relative returns Path relative to Base.
func (f *File) Relative() (string, error) {
	if f.Base == "" {
		return f.Path, nil
	}

	rel, err := filepath.Rel(f.Base, f.Path)
	if err != nil {
		return "", fmt.Errorf("file %q is not under %q: %w", f.Path, f.Base, err)
	}

	return rel, nil
}

// String returns the file contents as text. Streamed files return "".
func (f *File) String() string {
	return string(f.Contents)
}

// open returns a reader over the contents and the size if known (-1 otherwise).
func (f *File) open() (io.Reader, int64) {
	if f.Contents != nil {
		return bytes.NewReader(f.Contents), int64(len(f.Contents))
	}

	return f.Reader, -1
}

// ExitStatus describes how a remote process ended.
type ExitStatus struct {
	Code        int    // Exit code; meaningless when Signal is set
	Signal      string // Terminating signal name without the SIG prefix, e.g. "KILL"
	CoreDumped  bool
	Description string
}

// Failed returns true if the process exited non-zero or was killed by a signal.
func (s ExitStatus) Failed() bool {
	return s.Code != 0 || s.Signal != ""
}

func (s ExitStatus) String() string {
	if s.Signal != "" {
		return fmt.Sprintf("signal %s, core dumped: %t, %s", s.Signal, s.CoreDumped, s.Description)
	}

	return fmt.Sprintf("exit status %d", s.Code)
}

// Transcript is a shell log split by prompt lines.
type Transcript struct {
	// Preamble holds lines seen before the first prompt, which includes the
	// commands echoed back by a non-interactive shell.
	Preamble []string
	// Commands lists prompt commands in order of appearance, without repeats.
	Commands []string
	// Output maps each command to the lines printed after its prompt.
	Output map[string][]string
}

var lineSplit = regexp.MustCompile(`\r*\n`)

// ParseTranscript splits a shell log into per-command output. A line containing
// "$" is a prompt; the text after the first "$" is the command. Output following
// a repeated command is appended to the earlier entry.
func ParseTranscript(log []byte) Transcript {
	t := Transcript{Output: map[string][]string{}}

	text := strings.TrimSpace(string(log))
	if text == "" {
		return t
	}

	var current string

	for _, line := range lineSplit.Split(text, -1) {
		if idx := strings.Index(line, "$"); idx >= 0 {
			current = strings.TrimSpace(line[idx+1:])
			if _, seen := t.Output[current]; !seen {
				t.Output[current] = []string{}
				t.Commands = append(t.Commands, current)
			}

			continue
		}

		if current == "" {
			t.Preamble = append(t.Preamble, line)

			continue
		}

		t.Output[current] = append(t.Output[current], line)
	}

	return t
}
