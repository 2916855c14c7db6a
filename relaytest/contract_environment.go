package relaytest

import (
	"github.com/ruffel/relay"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func environmentContracts() []TestCase {
	return []TestCase{
		{
			Category:    CategoryEnvironment,
			Name:        "exec-env",
			Description: "WithEnv values are visible to the command",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Exec([]string{"echo $RELAY_CONTRACT"}, relay.WithEnv("RELAY_CONTRACT", "hello env"))
				require.NoError(t, err)

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)

				assert.Equal(t, "hello env\n", files[0].String())
			},
		},
		{
			Category:    CategoryEnvironment,
			Name:        "exec-env-quoting",
			Description: "Values with shell metacharacters arrive unchanged",
			Run: func(t T, c *relay.Client, _ string) {
				s, err := c.Exec([]string{"echo $RELAY_CONTRACT"}, relay.WithEnv("RELAY_CONTRACT", "it's;fine"))
				require.NoError(t, err)

				files, err := Wait(t, s)
				require.NoError(t, err)
				require.Len(t, files, 1)

				assert.Equal(t, "it's;fine\n", files[0].String())
			},
		},
	}
}
