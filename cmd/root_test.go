package cmd

import (
	"bytes"
	"testing"

	"github.com/endorses/fpengine/internal/pkg/version"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		contains []string
	}{
		{
			name:     "Help flag",
			args:     []string{"--help"},
			contains: []string{"passive fingerprinting engine", "match", "validate", "lookup"},
		},
		{
			name:     "Short help flag",
			args:     []string{"-h"},
			contains: []string{"--log-level", "--config"},
		},
		{
			name:     "Version flag",
			args:     []string{"--version"},
			contains: []string{version.Short()},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			rootCmd.SetOut(&buf)
			rootCmd.SetErr(&buf)
			rootCmd.SetArgs(tt.args)

			require.NoError(t, rootCmd.Execute())
			for _, want := range tt.contains {
				assert.Contains(t, buf.String(), want)
			}
		})
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"match", "validate", "lookup"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}
