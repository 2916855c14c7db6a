package relaytest

import (
	"github.com/ruffel/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const exitErrorCode = 13

func errorContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryErrors,
			Name:        "exit-ignored",
			Description: "A non-zero exit does not stop the pipeline when errors are ignored",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Exec([]string{"exit 13", "echo after"}, relay.WithIgnoreErrors(true))
				require.NoError(t, err)

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)

				assert.Equal(t, "after\n", files[0].String())
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "exit-strict",
			Description: "A non-zero exit surfaces as *relay.ExitError when errors are not ignored",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Exec([]string{"exit 13"}, relay.WithIgnoreErrors(false))
				require.NoError(t, err)

				_, err = Wait(t, s)

				var exitErr *relay.ExitError
				require.ErrorAs(t, err, &exitErr)
				assert.Equal(t, exitErrorCode, exitErr.Status.Code)
				assert.Equal(t, "exit 13", exitErr.Command)
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "stderr-reported",
			Description: "Diagnostic output surfaces as *relay.RemoteError and stays out of the log",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Exec([]string{"echo oops >&2"})
				require.NoError(t, err)

				files, err := Wait(t, s)

				var remoteErr *relay.RemoteError
				require.ErrorAs(t, err, &remoteErr)
				assert.Contains(t, string(remoteErr.Output), "oops")

				require.Len(t, files, 1)
				assert.Empty(t, files[0].String())
			},
		},
		{
			Category:    CategoryErrors,
			Name:        "sftp-read-missing",
			Description: "Reading a missing remote file fails with a transport error",
			Run: func(t T, c *relay.Client, root string) {
				s, err := c.SFTP(relay.ModeRead, scratch(t, root)+"/missing.txt")
				require.NoError(t, err)

				files, err := Wait(t, s)

				var transportErr *relay.TransportError
				require.ErrorAs(t, err, &transportErr)
				assert.Equal(t, "open", transportErr.Op)
				assert.Empty(t, files)
			},
		},
	}
}
