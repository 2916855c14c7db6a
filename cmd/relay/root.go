package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/ruffel/relay"
	"github.com/spf13/cobra"
)

type app struct {
	settings Settings
	stdout   io.Writer
	stderr   io.Writer
}

func newRootCmd(stdout, stderr io.Writer) (*cobra.Command, error) {
	settings, err := loadSettings()
	if err != nil {
		return nil, err
	}

	a := &app{settings: settings, stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:           "relay",
		Short:         "Run commands and copy files on a remote host over SSH",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	f := root.PersistentFlags()
	f.StringVarP(&a.settings.Host, "host", "H", settings.Host, "remote host")
	f.IntVarP(&a.settings.Port, "port", "p", settings.Port, "ssh port")
	f.StringVarP(&a.settings.User, "user", "u", settings.User, "ssh user")
	f.StringVarP(&a.settings.Key, "key", "i", settings.Key, "private key path")
	f.StringVar(&a.settings.Password, "password", settings.Password, "ssh password")
	f.BoolVar(&a.settings.Agent, "agent", settings.Agent, "authenticate through SSH_AUTH_SOCK")
	f.BoolVar(&a.settings.Insecure, "insecure", settings.Insecure, "skip host key verification (testing only)")
	f.StringVar(&a.settings.SSHConfig, "ssh-config", settings.SSHConfig, "load host, user, port and key for this ssh_config alias")
	f.StringVar(&a.settings.KnownHosts, "known-hosts", settings.KnownHosts, "known_hosts file")
	f.DurationVar(&a.settings.Timeout, "timeout", settings.Timeout, "dial and handshake timeout")
	f.BoolVar(&a.settings.Strict, "strict", settings.Strict, "treat non-zero exits as errors")
	f.StringVar(&a.settings.LogLevel, "log-level", settings.LogLevel, "debug, info, warn or error")

	root.AddCommand(
		a.execCmd(),
		a.shellCmd(),
		a.getCmd(),
		a.putCmd(),
		a.syncCmd(),
		a.runCmd(),
		a.envCmd(),
	)

	return root, nil
}

func (a *app) client() (*relay.Client, error) {
	level, err := a.settings.logLevel()
	if err != nil {
		return nil, err
	}

	tr, err := a.settings.transport()
	if err != nil {
		return nil, err
	}

	logger := slog.New(slog.NewTextHandler(a.stderr, &slog.HandlerOptions{Level: level}))

	opts := []relay.ClientOption{relay.WithLogger(logger)}
	if a.settings.Strict {
		opts = append(opts, relay.WithStrictErrors())
	}

	return relay.New(tr, opts...)
}

// withClient runs fn with a fresh client and closes it afterwards.
func (a *app) withClient(fn func(c *relay.Client) error) error {
	c, err := a.client()
	if err != nil {
		return err
	}

	defer func() { _ = c.Close() }()

	return fn(c)
}

func (a *app) prefix() string {
	return a.settings.target() + " | "
}

// runCommands streams output live while the commands run and returns the
// transcript file.
func (a *app) runCommands(ctx context.Context, c *relay.Client, cmds []string, shell bool, opts ...relay.ExecOption) ([]*relay.File, error) {
	live := newLiveWriter(a.stdout, prefixStyle.Render(a.prefix()))
	rep := &reporter{stderr: a.stderr, prefix: a.prefix()}

	opts = append(opts, relay.WithDataHandler(live.write))

	var (
		s   *relay.Stream
		err error
	)

	if shell {
		s, err = c.Shell(cmds, opts...)
	} else {
		s, err = c.Exec(cmds, opts...)
	}

	if err != nil {
		live.Close()

		return nil, err
	}

	files, err := s.Wait(ctx)
	live.Close()

	return files, rep.report(err)
}

// progress returns a transfer progress printer for label, or nil when
// disabled.
func (a *app) progress(enabled bool, label string) relay.ProgressFunc {
	if !enabled {
		return nil
	}

	return func(current, total int64) {
		text := fmt.Sprintf("%s %d bytes", label, current)
		if total >= 0 {
			text = fmt.Sprintf("%s %d/%d bytes", label, current, total)
		}

		_, _ = fmt.Fprint(a.stderr, "\r"+infoStyle.Render(text))
	}
}

func envOptions(env []string) ([]relay.ExecOption, error) {
	opts := make([]relay.ExecOption, 0, len(env))

	for _, kv := range env {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid environment variable %q: want KEY=VALUE", kv)
		}

		opts = append(opts, relay.WithEnv(k, v))
	}

	return opts, nil
}

func parseMode(s string) (uint32, error) {
	if s == "" {
		return 0, nil
	}

	mode, err := strconv.ParseUint(s, 8, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid mode %q: %w", s, err)
	}

	return uint32(mode), nil
}
