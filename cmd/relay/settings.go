package main

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/ruffel/relay/transport/ssh"
)

// envPrefix is prepended to every Settings field: RELAY_HOST, RELAY_KNOWN_HOSTS, ...
const envPrefix = "RELAY"

// Settings holds connection and client settings. Environment variables
// provide the defaults; flags override them.
type Settings struct {
	Host     string        `desc:"remote host"`
	Port     int           `desc:"ssh port" default:"22"`
	User     string        `desc:"ssh user"`
	Key      string        `desc:"private key path"`
	Password string        `desc:"ssh password"`
	Agent    bool          `desc:"authenticate through SSH_AUTH_SOCK"`
	Insecure bool          `desc:"skip host key verification"`
	Timeout  time.Duration `desc:"dial and handshake timeout" default:"10s"`
	Strict   bool          `desc:"treat non-zero exits as errors"`

	// SSHConfig is an ssh_config Host alias loaded before the other settings.
	SSHConfig  string `desc:"ssh_config host alias" split_words:"true"`
	KnownHosts string `desc:"known_hosts file" split_words:"true" default:"~/.ssh/known_hosts"`
	LogLevel   string `desc:"debug, info, warn or error" split_words:"true" default:"warn"`
}

func loadSettings() (Settings, error) {
	var s Settings
	if err := envconfig.Process(envPrefix, &s); err != nil {
		return Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}

	return s, nil
}

// target names the remote host in output.
func (s Settings) target() string {
	if s.Host != "" {
		return s.Host
	}

	return s.SSHConfig
}

func (s Settings) logLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s.LogLevel, err)
	}

	return level, nil
}

// transport builds the SSH transport. An ssh_config alias is resolved first
// and explicit settings override what it provides.
func (s Settings) transport() (*ssh.Transport, error) {
	cfg := ssh.NewConfig(s.Host, s.User)

	if s.SSHConfig != "" {
		loaded, err := ssh.NewFromSSHConfig(s.SSHConfig, "")
		if err != nil {
			return nil, err
		}

		cfg = loaded
	}

	if s.Host == "" && s.SSHConfig == "" {
		return nil, errors.New("no host: set --host, --ssh-config or RELAY_HOST")
	}

	opts := []ssh.Option{ssh.WithConfig(cfg), ssh.WithTimeout(s.Timeout)}

	if s.Host != "" {
		opts = append(opts, ssh.WithHost(s.Host))
	}

	if s.User != "" {
		opts = append(opts, ssh.WithUser(s.User))
	}

	if s.Port != 0 && (s.SSHConfig == "" || s.Port != 22) {
		opts = append(opts, ssh.WithPort(s.Port))
	}

	if s.Key != "" {
		opts = append(opts, ssh.WithKeyPath(s.Key))
	}

	if s.Password != "" {
		opts = append(opts, ssh.WithPassword(s.Password))
	}

	if s.Agent {
		opts = append(opts, ssh.WithAgent())
	}

	switch {
	case s.Insecure || cfg.InsecureSkipVerify:
		opts = append(opts, ssh.WithInsecureSkipVerify(true))
	default:
		cb, err := ssh.KnownHosts(s.KnownHosts)
		if err != nil {
			return nil, err
		}

		opts = append(opts, ssh.WithHostKeyCallback(cb))
	}

	return ssh.New(opts...)
}
