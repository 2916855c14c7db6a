package ssh

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// loadPrivateKeyAuth reads and parses the private key at keyPath, expanding a
// leading "~". Returns nil if the path is empty.
func loadPrivateKeyAuth(keyPath string) (ssh.AuthMethod, error) {
	if keyPath == "" {
		return nil, nil //nolint:nilnil // no key path provided, so no auth method
	}

	resolved, err := homedir.Expand(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve private key path %s: %w", keyPath, err)
	}

	keyBytes, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key file: %w", err)
	}

	signer, err := ssh.ParsePrivateKey(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key file %s: %w", resolved, err)
	}

	return ssh.PublicKeys(signer), nil
}

// loadAgentAuth connects to the SSH agent and returns an ssh.AuthMethod.
// Returns nil if useAgent is false or the agent socket is unavailable.
func loadAgentAuth(useAgent bool) ssh.AuthMethod {
	if !useAgent {
		return nil
	}

	socket := os.Getenv("SSH_AUTH_SOCK")
	if socket == "" {
		return nil
	}

	conn, err := (&net.Dialer{Timeout: 500 * time.Millisecond}).DialContext(context.Background(), "unix", socket)
	if err != nil {
		return nil
	}

	return ssh.PublicKeysCallback(agent.NewClient(conn).Signers)
}
