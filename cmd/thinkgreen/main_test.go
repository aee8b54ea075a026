// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ThinkGreen Contributors

package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	cmd := NewRootCmd()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--help"})

	require.NoError(t, cmd.Execute())

	output := buf.String()
	for _, sub := range []string{"serve", "migrate", "sweep"} {
		assert.Contains(t, output, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "with equals",
			args:     []string{"--config=/etc/thinkgreen.yaml", "--help"},
			wantFlag: "/etc/thinkgreen.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""
			t.Cleanup(func() { configFile = "" })

			cmd := NewRootCmd()
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetArgs(tt.args)

			require.NoError(t, cmd.Execute())
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestServeCommand_Flags(t *testing.T) {
	cmd := NewServeCmd()

	defaults := map[string]string{
		"addr":           ":3000",
		"metrics-addr":   "127.0.0.1:9100",
		"log-format":     "json",
		"log-level":      "info",
		"mail-driver":    "smtp",
		"auto-migrate":   "true",
		"sweep-interval": "5m0s",
	}
	for name, want := range defaults {
		flag := cmd.Flags().Lookup(name)
		require.NotNil(t, flag, "missing --%s", name)
		assert.Equal(t, want, flag.DefValue, "--%s default", name)
	}
}
