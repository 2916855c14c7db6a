package relay

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"sync"
)

const chunkSize = 32 * 1024

// Exec runs commands one after another on the connection, each in its own
// channel, and produces one transcript file holding their combined primary
// output in order. A command only starts after the previous channel closed.
//
// Blank entries are skipped. Output on the diagnostic stream is always
// reported as a *RemoteError. Non-zero exits are reported as *ExitError only
// when errors are not ignored, and never stop the pipeline.
func (cl *Client) Exec(commands []string, opts ...ExecOption) (*Stream, error) {
	if len(commands) == 0 {
		return nil, ErrCommandsRequired
	}

	cfg := cl.execConfig(DefaultExecLog, opts)
	cmds := normalize(commands)

	h, err := cl.obtain(cfg.Exclusive)
	if err != nil {
		return nil, err
	}

	s := newStream("exec", cfg.OnData, cfg.OnError)
	cl.start(h, s, cfg.Exclusive, func(conn Conn) {
		cl.runPipeline(h, conn, s, cmds, cfg)
	})

	return s, nil
}

func (cl *Client) runPipeline(h *handle, conn Conn, s *Stream, cmds []string, cfg ExecConfig) {
	var out bytes.Buffer

	defer func() {
		s.emit(&File{Path: cfg.LogPath, Contents: append([]byte{}, out.Bytes()...)})
	}()

	for _, cmd := range cmds {
		log := h.logger.With("cmd", cmd)
		log.Debug("exec")

		ch, err := conn.Exec(h.ctx, ExecRequest{
			Command: cmd,
			Env:     cfg.Env,
			Dir:     cfg.Dir,
			Pty:     cfg.Pty,
		})
		if err != nil {
			log.Error("open channel", "error", err)
			s.fail(&TransportError{Op: "exec", Path: cmd, Err: err})

			return
		}

		status, err := drain(ch, cmd, &out, s)
		_ = ch.Close()

		if err != nil {
			log.Error("channel failed", "error", err)
			s.fail(&TransportError{Op: "exec", Path: cmd, Err: err})

			return
		}

		log.Debug("exited", "status", status.String())

		if !cfg.IgnoreErrors && status.Failed() {
			s.fail(&ExitError{Command: cmd, Status: status})
		}
	}
}

// drain reads the channel's primary output into out and reports every chunk
// of diagnostic output, then waits for the channel to close. Both readers are
// consumed concurrently so neither can stall the remote side.
func drain(ch Channel, label string, out *bytes.Buffer, s *Stream) (ExitStatus, error) {
	var wg sync.WaitGroup

	wg.Add(1)

	go func() {
		defer wg.Done()

		_ = pump(ch.Stderr(), func(chunk []byte) {
			s.fail(&RemoteError{Command: label, Output: chunk})
		})
	}()

	readErr := pump(ch.Stdout(), func(chunk []byte) {
		out.Write(chunk)
		s.data(chunk)
	})

	wg.Wait()

	status, err := ch.Wait()
	if err != nil {
		return status, err
	}

	return status, readErr
}

// pump calls fn with a private copy of every chunk read from r until EOF.
func pump(r io.Reader, fn func([]byte)) error {
	if r == nil {
		return nil
	}

	buf := make([]byte, chunkSize)

	for {
		n, err := r.Read(buf)
		if n > 0 {
			fn(append([]byte(nil), buf[:n]...))
		}

		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}

			return err
		}
	}
}

// normalize drops blank commands and keeps the order of the rest.
func normalize(commands []string) []string {
	out := make([]string, 0, len(commands))

	for _, c := range commands {
		if strings.TrimSpace(c) == "" {
			continue
		}

		out = append(out, c)
	}

	return out
}
