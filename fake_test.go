package relay

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
)

// fakeHost is the remote side shared by every fakeConn of a fakeTransport:
// a tiny command interpreter plus an in-memory file system.
type fakeHost struct {
	mu      sync.Mutex
	files   map[string][]byte
	dirs    map[string]bool
	mkdirs  []string
	fsOpens int
	execs   []string
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		files: map[string][]byte{},
		dirs:  map[string]bool{"/": true, ".": true},
	}
}

// run interprets cmd. cwd is updated by cd, pushd and popd.
func (h *fakeHost) run(cmd string, cwd *string, stack *[]string) (string, string, int) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return "", "", 0
	}

	args := fields[1:]

	switch fields[0] {
	case "echo":
		return strings.Join(args, " ") + "\n", "", 0
	case "uptime":
		return " 10:00:00 up 1 day,  1 user,  load average: 0.00, 0.01, 0.05\n", "", 0
	case "pwd":
		return *cwd + "\n", "", 0
	case "cd":
		*cwd = args[0]

		return "", "", 0
	case "pushd":
		*stack = append(*stack, *cwd)
		*cwd = args[0]

		return *cwd + " " + strings.Join(*stack, " ") + "\n", "", 0
	case "popd":
		if len(*stack) == 0 {
			return "", "popd: directory stack empty\n", 1
		}

		*cwd = (*stack)[len(*stack)-1]
		*stack = (*stack)[:len(*stack)-1]

		return *cwd + "\n", "", 0
	case "warn":
		return "", strings.Join(args, " ") + "\n", 0
	case "false":
		return "", "", 1
	case "exit":
		code := 0
		if len(args) > 0 {
			_, _ = fmt.Sscanf(args[0], "%d", &code)
		}

		return "", "", code
	default:
		return "", fields[0] + ": command not found\n", 127
	}
}

func (h *fakeHost) file(p string) ([]byte, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	b, ok := h.files[p]

	return b, ok
}

func (h *fakeHost) put(p string, b []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.files[p] = b
}

func (h *fakeHost) mkdirAll(p string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for d := path.Clean(p); !h.dirs[d]; d = path.Dir(d) {
		h.dirs[d] = true
	}
}

func (h *fakeHost) dirList() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]string, 0, len(h.dirs))
	for d := range h.dirs {
		out = append(out, d)
	}

	sort.Strings(out)

	return out
}

func (h *fakeHost) mkdirCalls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.mkdirs...)
}

func (h *fakeHost) sessions() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.fsOpens
}

func (h *fakeHost) commands() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.execs...)
}

// fakeTransport dials fakeConns against one fakeHost. When gate is set,
// Connect blocks until it is closed.
type fakeTransport struct {
	host *fakeHost
	gate chan struct{}

	mu      sync.Mutex
	dialErr error
	execErr error
	fsErr   error
	dials   int
	conns   []*fakeConn
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{host: newFakeHost()}
}

func (t *fakeTransport) Connect(ctx context.Context) (Conn, error) {
	t.mu.Lock()
	t.dials++
	gate := t.gate
	t.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.dialErr != nil {
		return nil, t.dialErr
	}

	c := &fakeConn{
		host:    t.host,
		execErr: t.execErr,
		fsErr:   t.fsErr,
		done:    make(chan struct{}),
	}
	t.conns = append(t.conns, c)

	return c, nil
}

func (t *fakeTransport) dialCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.dials
}

func (t *fakeTransport) connections() []*fakeConn {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]*fakeConn(nil), t.conns...)
}

type fakeConn struct {
	host    *fakeHost
	execErr error
	fsErr   error

	once    sync.Once
	done    chan struct{}
	mu      sync.Mutex
	closed  bool
	lostErr error
}

func (c *fakeConn) Exec(_ context.Context, req ExecRequest) (Channel, error) {
	if c.execErr != nil && strings.Contains(req.Command, "refuse") {
		return nil, c.execErr
	}

	c.host.mu.Lock()
	c.host.execs = append(c.host.execs, req.Command)
	c.host.mu.Unlock()

	cwd := "/home/relay"
	if req.Dir != "" {
		cwd = req.Dir
	}

	var stack []string

	stdout, stderr, code := c.host.run(req.Command, &cwd, &stack)

	return &fakeChannel{
		stdout: strings.NewReader(stdout),
		stderr: strings.NewReader(stderr),
		status: ExitStatus{Code: code},
	}, nil
}

// Shell runs a line-at-a-time interpreter that prints a "$ cmd" prompt line
// before each command's output and ends at "exit" or end of input.
func (c *fakeConn) Shell(_ context.Context, _ ShellRequest) (Channel, error) {
	inR, inW := io.Pipe()
	outR, outW := io.Pipe()
	errR, errW := io.Pipe()

	ch := &fakeChannel{stdout: outR, stderr: errR, stdin: inW, exited: make(chan struct{})}

	go func() {
		defer close(ch.exited)
		defer func() { _ = errW.Close() }()
		defer func() { _ = outW.Close() }()
		defer func() { _ = inR.Close() }()

		cwd := "/home/relay"

		var stack []string

		sc := bufio.NewScanner(inR)
		for sc.Scan() {
			line := sc.Text()
			_, _ = io.WriteString(outW, "$ "+line+"\n")

			stdout, stderr, code := c.host.run(line, &cwd, &stack)
			_, _ = io.WriteString(outW, stdout)

			if stderr != "" {
				_, _ = io.WriteString(errW, stderr)
			}

			if strings.HasPrefix(line, "exit") {
				ch.status = ExitStatus{Code: code}

				return
			}
		}
	}()

	return ch, nil
}

func (c *fakeConn) FileSystem(context.Context) (RemoteFS, error) {
	if c.fsErr != nil {
		return nil, c.fsErr
	}

	c.host.mu.Lock()
	c.host.fsOpens++
	c.host.mu.Unlock()

	return &fakeFS{host: c.host}, nil
}

func (c *fakeConn) Wait() error {
	<-c.done

	c.mu.Lock()
	defer c.mu.Unlock()

	return c.lostErr
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	c.once.Do(func() { close(c.done) })

	return nil
}

// drop ends the connection from the remote side.
func (c *fakeConn) drop(err error) {
	c.mu.Lock()
	c.lostErr = err
	c.mu.Unlock()

	c.once.Do(func() { close(c.done) })
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}

type fakeChannel struct {
	stdout io.Reader
	stderr io.Reader
	stdin  io.WriteCloser
	status ExitStatus
	exited chan struct{}
}

func (ch *fakeChannel) Stdout() io.Reader { return ch.stdout }
func (ch *fakeChannel) Stderr() io.Reader { return ch.stderr }
func (ch *fakeChannel) Stdin() io.WriteCloser { return ch.stdin }
func (ch *fakeChannel) Close() error { return nil }

func (ch *fakeChannel) Wait() (ExitStatus, error) {
	if ch.exited != nil {
		<-ch.exited
	}

	return ch.status, nil
}

type fakeFS struct {
	host *fakeHost
}

func (fs *fakeFS) Create(p string, _ os.FileMode) (io.WriteCloser, error) {
	fs.host.mu.Lock()
	defer fs.host.mu.Unlock()

	if !fs.host.dirs[path.Dir(p)] {
		return nil, fmt.Errorf("create %s: %w", p, os.ErrNotExist)
	}

	return &fakeWriter{host: fs.host, path: p}, nil
}

func (fs *fakeFS) Open(p string) (io.ReadCloser, error) {
	b, ok := fs.host.file(p)
	if !ok {
		return nil, fmt.Errorf("open %s: %w", p, os.ErrNotExist)
	}

	return io.NopCloser(bytes.NewReader(b)), nil
}

func (fs *fakeFS) Exists(p string) (bool, error) {
	fs.host.mu.Lock()
	defer fs.host.mu.Unlock()

	_, isFile := fs.host.files[p]

	return isFile || fs.host.dirs[p], nil
}

func (fs *fakeFS) Mkdir(p string) error {
	fs.host.mu.Lock()
	defer fs.host.mu.Unlock()

	fs.host.mkdirs = append(fs.host.mkdirs, p)

	if fs.host.dirs[p] {
		return fmt.Errorf("mkdir %s: %w", p, os.ErrExist)
	}

	if !fs.host.dirs[path.Dir(p)] {
		return fmt.Errorf("mkdir %s: %w", p, os.ErrNotExist)
	}

	fs.host.dirs[p] = true

	return nil
}

func (fs *fakeFS) Close() error { return nil }

type fakeWriter struct {
	host *fakeHost
	path string
	buf  bytes.Buffer
}

func (w *fakeWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeWriter) Close() error {
	w.host.put(w.path, append([]byte{}, w.buf.Bytes()...))

	return nil
}

// failingReader returns err after the first read.
type failingReader struct {
	err  error
	read bool
}

func (r *failingReader) Read(p []byte) (int, error) {
	if r.read {
		return 0, r.err
	}

	r.read = true

	return copy(p, "partial"), nil
}

var errBoom = errors.New("boom")
