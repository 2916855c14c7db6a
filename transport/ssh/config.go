package ssh

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/user"
	"strconv"
	"time"

	"github.com/kevinburke/ssh_config"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	defaultSSHConfig  = "~/.ssh/config"
	defaultKnownHosts = "~/.ssh/known_hosts"
)

// Config holds all parameters required to establish an SSH connection.
type Config struct {
	// Connection details
	Host string // Hostname or IP address
	Port int    // Port number (default 22)
	User string // Username to authenticate as

	// Authentication methods (tried in order)
	PrivateKey     string // PEM encoded private key content (string)
	PrivateKeyPath string // Path to private key file (e.g. "~/.ssh/id_rsa")
	Password       string // Password for authentication (use sparingly)
	UseAgent       bool   // If true, attempt to connect to SSH_AUTH_SOCK

	// Connection settings
	Timeout            time.Duration       // Connection timeout (default 10s)
	HostKeyCheck       ssh.HostKeyCallback // Callback to verify host key. You normally generate this from known_hosts.
	InsecureSkipVerify bool                // If true, disables strict host key checking. Use ONLY for testing.
}

// NewConfig creates a Config with safe defaults.
// Note: It does NOT set a default HostKeyCheck. You must provide one or set InsecureSkipVerify=true.
func NewConfig(host, username string) Config {
	return Config{
		Host:    host,
		User:    username,
		Port:    22,
		Timeout: 10 * time.Second,
	}
}

// NewFromSSHConfig loads configuration for alias from an OpenSSH config file.
// An empty path reads ~/.ssh/config.
func NewFromSSHConfig(alias, path string) (Config, error) {
	if path == "" {
		path = defaultSSHConfig
	}

	path, err := homedir.Expand(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to resolve ssh config path: %w", err)
	}

	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to open ssh config: %w", err)
	}

	defer func() { _ = f.Close() }()

	return NewFromSSHConfigReader(alias, f)
}

// NewFromSSHConfigReader parses configuration data.
// It resolves the alias to the actual HostName, User, Port, and IdentityFile.
func NewFromSSHConfigReader(alias string, r io.Reader) (Config, error) {
	cfg, err := ssh_config.Decode(r)
	if err != nil {
		return Config{}, fmt.Errorf("failed to parse ssh config: %w", err)
	}

	hostName, err := cfg.Get(alias, "HostName")
	if err != nil || hostName == "" {
		hostName = alias
	}

	username, _ := cfg.Get(alias, "User")
	if username == "" {
		if u, _ := user.Current(); u != nil {
			username = u.Username
		}
	}

	port := 22

	if portStr, _ := cfg.Get(alias, "Port"); portStr != "" {
		port, err = strconv.Atoi(portStr)
		if err != nil {
			return Config{}, fmt.Errorf("invalid port %q for %s: %w", portStr, alias, err)
		}
	}

	identityFile, _ := cfg.Get(alias, "IdentityFile")
	if identityFile != "" {
		identityFile, err = homedir.Expand(identityFile)
		if err != nil {
			return Config{}, fmt.Errorf("failed to resolve identity file: %w", err)
		}
	}

	c := NewConfig(hostName, username)
	c.Port = port
	c.PrivateKeyPath = identityFile

	if strict, _ := cfg.Get(alias, "StrictHostKeyChecking"); strict == "no" {
		c.InsecureSkipVerify = true
	}

	return c, nil
}

// WithDefaults sets default values for zero-valued fields.
func (c Config) WithDefaults() Config {
	if c.Port == 0 {
		c.Port = 22
	}

	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}

	if c.InsecureSkipVerify && c.HostKeyCheck == nil {
		c.HostKeyCheck = ssh.InsecureIgnoreHostKey() //nolint:gosec // explicitly requested
	}

	return c
}

// Validate ensures all required fields are present.
func (c Config) Validate() error {
	if c.Host == "" {
		return errors.New("configuration error: host address cannot be empty")
	}

	if c.User == "" {
		return errors.New("configuration error: user cannot be empty")
	}

	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("configuration error: invalid port %d", c.Port)
	}

	if c.HostKeyCheck == nil {
		return errors.New("configuration error: HostKeyCheck is missing; you must provide a callback (e.g. valid 'known_hosts') or set InsecureSkipVerify=true (testing only)")
	}

	return nil
}

// Addr returns the host:port dial address.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// ToClientConfig converts the Config to an ssh.ClientConfig. Key material
// given inline or by path is read and parsed here, so errors surface before
// any connection attempt.
func (c Config) ToClientConfig() (*ssh.ClientConfig, error) {
	config := &ssh.ClientConfig{
		User:            c.User,
		Auth:            []ssh.AuthMethod{},
		HostKeyCallback: c.HostKeyCheck,
		Timeout:         c.Timeout,
	}

	if c.Password != "" {
		config.Auth = append(config.Auth, ssh.Password(c.Password))
	}

	if c.PrivateKey != "" {
		signer, err := ssh.ParsePrivateKey([]byte(c.PrivateKey))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		config.Auth = append(config.Auth, ssh.PublicKeys(signer))
	}

	keyAuth, err := loadPrivateKeyAuth(c.PrivateKeyPath)
	if err != nil {
		return nil, err
	}

	if keyAuth != nil {
		config.Auth = append(config.Auth, keyAuth)
	}

	if agentAuth := loadAgentAuth(c.UseAgent); agentAuth != nil {
		config.Auth = append(config.Auth, agentAuth)
	}

	return config, nil
}

// DefaultKnownHosts returns a HostKeyCallback that verifies the host key against
// strict entries in the user's ~/.ssh/known_hosts file.
func DefaultKnownHosts() (ssh.HostKeyCallback, error) {
	return KnownHosts(defaultKnownHosts)
}

// KnownHosts returns a HostKeyCallback backed by the known_hosts file at path.
// A leading "~" is expanded.
func KnownHosts(path string) (ssh.HostKeyCallback, error) {
	resolved, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve known_hosts path: %w", err)
	}

	cb, err := knownhosts.New(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to load known_hosts %s: %w", resolved, err)
	}

	return cb, nil
}
