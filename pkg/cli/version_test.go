package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewVersionCommand(t *testing.T) {
	cmd := NewVersionCommand("quantor")

	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetArgs(nil)

	require.NoError(t, cmd.Execute())

	out := buf.String()
	require.Contains(t, out, "quantor ")
	require.Contains(t, out, Version)
	require.Contains(t, out, "go: go")
	require.Contains(t, out, "platform: ")
}

func TestNewVersionCommand_RejectsArgs(t *testing.T) {
	cmd := NewVersionCommand("quantor")
	cmd.SetArgs([]string{"extra"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	require.Error(t, cmd.Execute())
}
