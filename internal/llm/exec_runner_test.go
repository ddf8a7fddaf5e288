package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCLIRunner_Run_CapturesStdout(t *testing.T) {
	r := NewCLIRunner([]string{"cat"})
	result, err := r.Run(context.Background(), "hello from the prompt")
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "hello from the prompt", result.Stdout)
}

func TestCLIRunner_Run_NonZeroExitSurfacesAsResultNotError(t *testing.T) {
	r := NewCLIRunner([]string{"sh", "-c", "echo oops 1>&2; exit 3"})
	result, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
	assert.Equal(t, "oops\n", result.Stderr)
}

func TestCLIRunner_Run_MissingBinarySurfacesAsExitCode127(t *testing.T) {
	r := NewCLIRunner([]string{"definitely-not-a-real-binary-xyz"})
	result, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 127, result.ExitCode)
}

func TestCLIRunner_Run_NoCommandConfiguredSurfacesAsExitCode127(t *testing.T) {
	r := NewCLIRunner(nil)
	result, err := r.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, 127, result.ExitCode)
}

func TestCLIRunner_Estimate_FallsBackToCommandWhenUnset(t *testing.T) {
	r := NewCLIRunner([]string{"cat"})
	result, err := r.Estimate(context.Background(), "15")
	require.NoError(t, err)
	assert.Equal(t, "15", result.Stdout)
}

func TestCLIRunner_Estimate_UsesDedicatedCommandWhenSet(t *testing.T) {
	r := &CLIRunner{Command: []string{"cat"}, EstimateCommand: []string{"echo", "20"}}
	result, err := r.Estimate(context.Background(), "ignored")
	require.NoError(t, err)
	assert.Equal(t, "20\n", result.Stdout)
}
