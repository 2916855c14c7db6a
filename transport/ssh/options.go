package ssh

import (
	"time"

	"golang.org/x/crypto/ssh"
)

// Option defines a functional option for New.
type Option func(*Config)

// WithConfig replaces the whole configuration. Options after it still apply.
func WithConfig(c Config) Option {
	return func(cfg *Config) {
		*cfg = c
	}
}

// WithHost sets the target hostname.
func WithHost(host string) Option {
	return func(c *Config) {
		c.Host = host
	}
}

// WithUser sets the SSH user.
func WithUser(user string) Option {
	return func(c *Config) {
		c.User = user
	}
}

// WithPort sets the SSH port.
func WithPort(port int) Option {
	return func(c *Config) {
		c.Port = port
	}
}

// WithPassword sets the SSH password.
func WithPassword(password string) Option {
	return func(c *Config) {
		c.Password = password
	}
}

// WithKeyPath sets the path to the private key file. A leading "~" is expanded.
func WithKeyPath(path string) Option {
	return func(c *Config) {
		c.PrivateKeyPath = path
	}
}

// WithPrivateKey sets PEM encoded key material directly.
func WithPrivateKey(pem string) Option {
	return func(c *Config) {
		c.PrivateKey = pem
	}
}

// WithAgent enables authentication through SSH_AUTH_SOCK.
func WithAgent() Option {
	return func(c *Config) {
		c.UseAgent = true
	}
}

// WithTimeout sets the dial and handshake timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

// WithHostKeyCallback sets the host key verification callback.
func WithHostKeyCallback(cb ssh.HostKeyCallback) Option {
	return func(c *Config) {
		c.HostKeyCheck = cb
	}
}

// WithInsecureSkipVerify enables/disables strict host key checking.
func WithInsecureSkipVerify(skip bool) Option {
	return func(c *Config) {
		c.InsecureSkipVerify = skip
	}
}
