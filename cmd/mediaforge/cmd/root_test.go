package cmd

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootRegistersCommands(t *testing.T) {
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}

	assert.Subset(t, names, []string{"serve", "dispatcher", "migrate", "pump"})
}

func TestPersistentFlagDefaults(t *testing.T) {
	flag := rootCmd.PersistentFlags().Lookup("node-id")
	require.NotNil(t, flag)
	assert.Equal(t, "1", flag.DefValue)

	worker := serveCmd.Flags().Lookup("worker")
	require.NotNil(t, worker)
	assert.Equal(t, "true", worker.DefValue)
}

func TestPumpRequiresProviderType(t *testing.T) {
	assert.Error(t, pumpCmd.Args(pumpCmd, nil))
	assert.NoError(t, pumpCmd.Args(pumpCmd, []string{"song"}))
}

func TestRegisterSnowflake(t *testing.T) {
	node, err := RegisterSnowflake(2)()
	require.NoError(t, err)
	assert.NotZero(t, node.Generate())

	_, err = RegisterSnowflake(5000)()
	assert.Error(t, err)
}

func TestEnvFileMustExist(t *testing.T) {
	out := &bytes.Buffer{}
	rootCmd.SetOut(out)
	rootCmd.SetErr(out)
	rootCmd.SetArgs([]string{"--env-file", t.TempDir() + "/missing.env", "migrate"})
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		envFile = ""
	})

	err := rootCmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "load env file")
}
