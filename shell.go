package relay

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

const exitDirective = "exit\n"

// Shell opens one interactive shell channel, writes each command to it
// followed by a newline and collects everything the shell prints until the
// channel closes. With auto-exit (the default) an exit directive is written
// after the last command, unless that command already was one, and the input
// is closed.
//
// A list with only blank commands produces an empty transcript without
// connecting.
func (cl *Client) Shell(commands []string, opts ...ExecOption) (*Stream, error) {
	if len(commands) == 0 {
		return nil, ErrCommandsRequired
	}

	cfg := cl.execConfig(DefaultShellLog, opts)
	cmds := normalize(commands)

	if len(cmds) == 0 {
		s := newStream("shell", cfg.OnData, cfg.OnError)
		s.emit(&File{Path: cfg.LogPath, Contents: []byte{}})
		s.end()

		return s, nil
	}

	h, err := cl.obtain(cfg.Exclusive)
	if err != nil {
		return nil, err
	}

	s := newStream("shell", cfg.OnData, cfg.OnError)
	cl.start(h, s, cfg.Exclusive, func(conn Conn) {
		cl.runShell(h, conn, s, cmds, cfg)
	})

	return s, nil
}

func (cl *Client) runShell(h *handle, conn Conn, s *Stream, cmds []string, cfg ExecConfig) {
	ch, err := conn.Shell(h.ctx, ShellRequest{Env: cfg.Env, Pty: cfg.Pty})
	if err != nil {
		h.logger.Error("open shell", "error", err)
		s.fail(&TransportError{Op: "shell", Err: err})

		return
	}
	defer func() { _ = ch.Close() }()

	written := make(chan error, 1)

	go func() {
		written <- writeCommands(ch.Stdin(), cmds, cfg.AutoExit)
	}()

	var out bytes.Buffer

	status, err := drain(ch, "shell", &out, s)

	if werr := <-written; werr != nil {
		s.fail(&TransportError{Op: "shell", Err: werr})
	}

	if err != nil {
		h.logger.Error("shell failed", "error", err)
		s.fail(&TransportError{Op: "shell", Err: err})
	} else if !cfg.IgnoreErrors && status.Failed() {
		s.fail(&ExitError{Command: "shell", Status: status})
	}

	h.logger.Debug("shell closed", "status", status.String(), "bytes", out.Len())
	s.emit(&File{Path: cfg.LogPath, Contents: append([]byte{}, out.Bytes()...)})
}

// writeCommands writes the command lines to w. A remote side that hangs up
// early is not an error; the transcript shows how far it got.
func writeCommands(w io.WriteCloser, cmds []string, autoExit bool) error {
	if w == nil {
		return nil
	}

	last := ""

	for _, c := range cmds {
		if !strings.HasSuffix(c, "\n") {
			c += "\n"
		}

		if _, err := io.WriteString(w, c); err != nil {
			return ignoreHangup(err)
		}

		last = c
	}

	if !autoExit {
		return nil
	}

	if last != exitDirective {
		if _, err := io.WriteString(w, exitDirective); err != nil {
			return ignoreHangup(err)
		}
	}

	return ignoreHangup(w.Close())
}

func ignoreHangup(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}

	return err
}
