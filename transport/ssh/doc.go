// Package ssh provides a relay.Transport for remote hosts reached over the
// SSH protocol.
//
// It uses "golang.org/x/crypto/ssh" for connections and sessions and
// "github.com/pkg/sftp" for file transfers, giving relay:
//   - One SSH connection per relay connection, dialed with context support
//   - One session per command or interactive shell, with optional PTY
//   - Exit codes and terminating signals mapped to relay.ExitStatus
//   - SFTP sessions exposed as relay.RemoteFS
//
// Key files are resolved (including "~" expansion) and parsed when the
// Transport is created, so a bad key fails before anything is dialed.
//
// Usage:
//
//	t, err := ssh.New(
//		ssh.WithHost("example.com"),
//		ssh.WithUser("deploy"),
//		ssh.WithKeyPath("~/.ssh/id_ed25519"),
//	)
//	client, err := relay.New(t)
package ssh
