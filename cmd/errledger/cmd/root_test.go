package cmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	clitest "github.com/bargom/errledger/cmd/errledger/testing"
)

func TestRootCommand(t *testing.T) {
	t.Run("shows help when no command provided", func(t *testing.T) {
		output, err := clitest.ExecuteCommand(NewRootCmd(), "--help")

		require.NoError(t, err)
		assert.Contains(t, output, "errledger")
		assert.Contains(t, output, "Usage:")
	})

	t.Run("has global flags", func(t *testing.T) {
		output, err := clitest.ExecuteCommand(NewRootCmd(), "--help")

		require.NoError(t, err)
		for _, flag := range []string{"--config", "--verbose", "--output"} {
			assert.Contains(t, output, flag)
		}
	})

	t.Run("returns error for unknown command", func(t *testing.T) {
		_, err := clitest.ExecuteCommand(NewRootCmd(), "unknowncommand")
		assert.Error(t, err)
	})
}

func TestNewRootCmd(t *testing.T) {
	cmd := NewRootCmd()
	assert.Equal(t, "errledger", cmd.Use)

	subcommands := make(map[string]bool)
	for _, sub := range cmd.Commands() {
		subcommands[sub.Name()] = true
	}
	for _, name := range []string{"serve", "worker", "reconcile", "indexes", "gate", "version"} {
		assert.True(t, subcommands[name], "missing subcommand %s", name)
	}
}

func TestStoreFlags(t *testing.T) {
	for _, name := range []string{"serve", "worker", "reconcile", "indexes"} {
		t.Run(name, func(t *testing.T) {
			sub, _, err := NewRootCmd().Find([]string{name})
			require.NoError(t, err)
			for _, flag := range []string{"store", "mongo-uri", "redis-url", "log-level"} {
				assert.NotNil(t, sub.Flags().Lookup(flag), "missing --%s", flag)
			}
		})
	}
}
