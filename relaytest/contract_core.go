package relaytest

import (
	"github.com/ruffel/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func coreContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryCore,
			Name:        "exec-echo",
			Description: "Exec emits one log file holding the command output",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Exec([]string{"echo hello"})
				require.NoError(t, err)

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)

				assert.Equal(t, relay.DefaultExecLog, files[0].Path)
				assert.Equal(t, "hello\n", files[0].String())
			},
		},
		{
			Category:    CategoryCore,
			Name:        "exec-concatenates-in-order",
			Description: "Output of every command lands in one log in submission order",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Exec([]string{"echo one", "echo two", "echo three"}, relay.WithLogPath("ordered.log"))
				require.NoError(t, err)

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)

				assert.Equal(t, "ordered.log", files[0].Path)
				assert.Equal(t, "one\ntwo\nthree\n", files[0].String())
			},
		},
		{
			Category:    CategoryCore,
			Name:        "exec-working-directory",
			Description: "WithDir runs each command from the given directory",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Exec([]string{"pwd"}, relay.WithDir("/"))
				require.NoError(t, err)

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)

				assert.Equal(t, "/\n", files[0].String())
			},
		},
		{
			Category:    CategoryCore,
			Name:        "shell-runs-commands",
			Description: "Shell feeds every command to one shell and emits its output",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Shell([]string{"echo first", "echo second"})
				require.NoError(t, err)

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)

				assert.Equal(t, relay.DefaultShellLog, files[0].Path)
				assert.Contains(t, files[0].String(), "first")
				assert.Contains(t, files[0].String(), "second")
			},
		},
	}
}
