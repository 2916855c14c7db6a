package sshtest

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/shlex"
	"golang.org/x/crypto/ssh"
)

// Home is the working directory every session starts in.
const Home = "/home/relay"

// session is the state of one exec or shell request. Commands run in a tiny
// built-in shell; see run for the command set. Output goes to stderr only for
// warn and for echo ending in ">&2".
type session struct {
	ch    ssh.Channel
	env   map[string]string
	cwd   string
	stack []string

	once    sync.Once
	stopped chan struct{}
}

func newSession(ch ssh.Channel) *session {
	return &session{
		ch:      ch,
		env:     map[string]string{},
		cwd:     Home,
		stopped: make(chan struct{}),
	}
}

// kill handles a signal request from the client.
func (s *session) kill(signal string) {
	s.once.Do(func() {
		close(s.stopped)
		s.exitSignal(signal)
		_ = s.ch.Close()
	})
}

func (s *session) exec(line string) {
	code, signal := s.runLine(line)

	s.finish(code, signal)
}

func (s *session) shell() {
	scanner := bufio.NewScanner(s.ch)

	for scanner.Scan() {
		line := scanner.Text()

		_, _ = fmt.Fprintf(s.ch, "$ %s\n", line)

		words, err := shlex.Split(line)
		if err == nil && len(words) > 0 && words[0] == "exit" {
			s.finish(exitCode(words[1:]), "")

			return
		}

		s.runLine(line)
	}

	s.finish(0, "")
}

func (s *session) finish(code int, signal string) {
	s.once.Do(func() {
		if signal != "" {
			s.exitSignal(signal)
		} else {
			payload := ssh.Marshal(struct{ Status uint32 }{uint32(code)})
			_, _ = s.ch.SendRequest("exit-status", false, payload)
		}

		_ = s.ch.CloseWrite()
		_ = s.ch.Close()
	})
}

func (s *session) exitSignal(signal string) {
	payload := ssh.Marshal(struct {
		Signal     string
		CoreDumped bool
		Error      string
		Lang       string
	}{Signal: signal, Error: "killed"})

	_, _ = s.ch.SendRequest("exit-signal", false, payload)
}

// runLine runs every statement on the line and stops at the first failure.
func (s *session) runLine(line string) (int, string) {
	statements, err := split(line)
	if err != nil {
		_, _ = fmt.Fprintf(s.ch.Stderr(), "sh: %v\n", err)

		return 2, ""
	}

	for _, words := range statements {
		code, signal := s.run(words)
		if code != 0 || signal != "" {
			return code, signal
		}
	}

	return 0, ""
}

func (s *session) run(words []string) (int, string) {
	stdout, stderr := io.Writer(s.ch), s.ch.Stderr()

	name, args := words[0], words[1:]

	switch name {
	case "export":
		for _, kv := range args {
			if k, v, ok := strings.Cut(kv, "="); ok {
				s.env[k] = v
			}
		}
	case "cd":
		if len(args) > 0 {
			s.cwd = args[0]
		} else {
			s.cwd = Home
		}
	case "pushd":
		if len(args) == 0 {
			_, _ = fmt.Fprintln(stderr, "pushd: no other directory")

			return 1, ""
		}

		s.stack = append(s.stack, s.cwd)
		s.cwd = args[0]
		_, _ = fmt.Fprintln(stdout, s.dirs())
	case "popd":
		if len(s.stack) == 0 {
			_, _ = fmt.Fprintln(stderr, "popd: directory stack empty")

			return 1, ""
		}

		s.cwd = s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]
		_, _ = fmt.Fprintln(stdout, s.dirs())
	case "pwd":
		_, _ = fmt.Fprintln(stdout, s.cwd)
	case "echo":
		w := stdout
		if n := len(args); n > 0 && (args[n-1] == ">&2" || args[n-1] == "1>&2") {
			w, args = stderr, args[:n-1]
		}

		out := make([]string, len(args))
		for i, a := range args {
			out[i] = s.expand(a)
		}

		_, _ = fmt.Fprintln(w, strings.Join(out, " "))
	case "uptime":
		_, _ = fmt.Fprintln(stdout, " 12:00:00 up 1 day,  1 user,  load average: 0.00, 0.01, 0.05")
	case "warn":
		_, _ = fmt.Fprintln(stderr, strings.Join(args, " "))
	case "true":
	case "false":
		return 1, ""
	case "exit":
		return exitCode(args), ""
	case "kill":
		signal := "TERM"
		if len(args) > 0 {
			signal = strings.TrimPrefix(args[0], "-")
		}

		return 0, signal
	case "sleep":
		d := time.Second
		if len(args) > 0 {
			if secs, err := strconv.ParseFloat(args[0], 64); err == nil {
				d = time.Duration(secs * float64(time.Second))
			}
		}

		select {
		case <-time.After(d):
		case <-s.stopped:
		}
	default:
		_, _ = fmt.Fprintf(stderr, "sh: %s: command not found\n", name)

		return 127, ""
	}

	return 0, ""
}

func (s *session) dirs() string {
	out := []string{s.cwd}
	for i := len(s.stack) - 1; i >= 0; i-- {
		out = append(out, s.stack[i])
	}

	return strings.Join(out, " ")
}

func (s *session) expand(word string) string {
	if name, ok := strings.CutPrefix(word, "$"); ok {
		return s.env[name]
	}

	return word
}

func exitCode(args []string) int {
	if len(args) == 0 {
		return 0
	}

	code, err := strconv.Atoi(args[0])
	if err != nil {
		return 2
	}

	return code
}

// split breaks a command line into statements at ";" and "&&".
func split(line string) ([][]string, error) {
	words, err := shlex.Split(line)
	if err != nil {
		return nil, err
	}

	var (
		out [][]string
		cur []string
	)

	flush := func() {
		if len(cur) > 0 {
			out = append(out, cur)
			cur = nil
		}
	}

	for _, w := range words {
		switch {
		case w == "&&" || w == ";":
			flush()
		case strings.HasSuffix(w, ";"):
			cur = append(cur, strings.TrimSuffix(w, ";"))
			flush()
		default:
			cur = append(cur, w)
		}
	}

	flush()

	return out, nil
}
