package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApp_GlobalFlags(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{name: "help", args: []string{"solpay", "--help"}},
		{name: "version", args: []string{"solpay", "--version"}},
		{name: "version short", args: []string{"solpay", "-v"}},
		{name: "verbose short", args: []string{"solpay", "-V", "server", "version"}},
		{name: "subcommand help", args: []string{"solpay", "url", "encode", "--help"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, newApp().Run(tt.args))
		})
	}
}
