package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		f := estimateCmd.Flags().Lookup("model")
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	})
	err := rootCmd.Execute()
	return out.String(), err
}

func TestCommandTree(t *testing.T) {
	want := []string{"worker", "migrate", "regenerate", "status", "estimate", "keys", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
	for _, args := range [][]string{{"keys", "set"}, {"keys", "byok"}} {
		cmd, _, err := rootCmd.Find(args)
		require.NoError(t, err, args)
		assert.Equal(t, args[1], cmd.Name())
	}
	assert.NotNil(t, workerCmd.Flags().Lookup("concurrency"))
	assert.NotNil(t, workerCmd.Flags().Lookup("no-http"))
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, version+"\n", out)
}

func TestEstimateCommand(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("BILLING_PRICING", "")
	t.Setenv("BILLING_MARKUP_MULTIPLIER", "")

	out, err := execute(t, "estimate", "100000", "application/pdf", "--model", "text-embedding-3-small")
	require.NoError(t, err)
	assert.Contains(t, out, "model:   text-embedding-3-small")
	assert.Contains(t, out, "pages:   2")
	assert.Contains(t, out, "tokens:  1000")
	assert.Contains(t, out, "cost:    $0.000020")
}

func TestEstimateCommand_ModelFromEnv(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "text-embedding-3-large")
	t.Setenv("BILLING_PRICING", "")

	out, err := execute(t, "estimate", "3000", "text/plain")
	require.NoError(t, err)
	assert.Contains(t, out, "model:   text-embedding-3-large")
	assert.Contains(t, out, "pages:   1")
}

func TestEstimateCommand_Errors(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "")

	_, err := execute(t, "estimate", "lots", "application/pdf")
	assert.ErrorContains(t, err, "invalid size")

	_, err = execute(t, "estimate", "100", "application/pdf", "--model", "unknown-model")
	assert.ErrorContains(t, err, "no price configured")

	_, err = execute(t, "estimate", "100")
	assert.Error(t, err)
}

func TestKeysBYOKCommand_RejectsBadSwitch(t *testing.T) {
	_, err := execute(t, "keys", "byok", "ws-1", "maybe")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected on or off")
}

func TestParseSwitch(t *testing.T) {
	on, err := parseSwitch("on")
	require.NoError(t, err)
	assert.True(t, on)

	off, err := parseSwitch("off")
	require.NoError(t, err)
	assert.False(t, off)
}
