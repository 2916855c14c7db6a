// Package relaytest provides a contract test suite for relay transports.
//
// A transport passes when a relay.Client built on it satisfies every
// contract against a live host. Contracts only use commands every POSIX
// shell understands (echo, pwd, exit, output redirection) so they run
// against a real sshd as well as the in-process test server.
package relaytest

import (
	"context"
	"fmt"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/ruffel/relay"
)

// Standard categories for grouping tests.
const (
	CategoryCore        = "core"
	CategoryEnvironment = "environment"
	CategoryFilesystem  = "filesystem"
	CategoryErrors      = "errors"
)

// StreamTimeout bounds how long a contract waits for a stream to end.
const StreamTimeout = 10 * time.Second

// T is the minimal interface required for testify/assert and require.
type T interface {
	Errorf(format string, args ...any)
	FailNow()
	Context() context.Context
	Name() string
}

// TestCase defines a single behavioral contract requirement.
type TestCase struct {
	Category    string
	Name        string
	Description string
	Run         func(t T, c *relay.Client, root string)
}

// ID returns the stable, globally unique contract identifier.
func (tc TestCase) ID() string {
	return fmt.Sprintf("%s/%s", tc.Category, tc.Name)
}

// AllContracts returns all test cases for the contract test suite.
func AllContracts() []TestCase {
	var contracts []TestCase

	contracts = append(contracts, coreContracts()...)
	contracts = append(contracts, environmentContracts()...)
	contracts = append(contracts, fileContracts()...)
	contracts = append(contracts, errorContracts()...)

	return contracts
}

// Verify runs every contract against c. root is a remote directory the
// contracts may create and write below; it does not need to exist.
func Verify(t *testing.T, c *relay.Client, root string) {
	t.Helper()

	for _, tc := range AllContracts() {
		t.Run(tc.ID(), func(t *testing.T) {
			tc.Run(t, c, root)
		})
	}
}

// Wait waits for s to end, bounded by StreamTimeout.
func Wait(t T, s *relay.Stream) ([]*relay.File, error) {
	ctx, cancel := context.WithTimeout(t.Context(), StreamTimeout)
	defer cancel()

	return s.Wait(ctx)
}

// scratch returns a directory under root unique to the running contract.
func scratch(t T, root string) string {
	return path.Join(root, strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
}
