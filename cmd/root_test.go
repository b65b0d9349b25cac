package cmd

import (
	"bytes"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkRequired_UnknownFlag_Panics(t *testing.T) {
	cmd := &cobra.Command{Use: "x"}
	cmd.Flags().String("db", "", "")

	assert.NotPanics(t, func() { markRequired(cmd, "db") })
	assert.Panics(t, func() { markRequired(cmd, "dbb") })
}

func TestReplayCmd_MissingRequiredFlags(t *testing.T) {
	// GIVEN the replay command with no flags
	cmd := newReplayCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	// WHEN it is executed
	err := cmd.Execute()

	// THEN cobra reports both required flags
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"db"`)
	assert.Contains(t, err.Error(), `"run-id"`)
}

func TestRunsCmd_RequiresDB(t *testing.T) {
	cmd := newRunsCmd()
	cmd.SetArgs([]string{})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	err := cmd.Execute()

	require.Error(t, err)
	assert.Contains(t, err.Error(), `"db"`)
}
