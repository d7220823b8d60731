package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseInput(t *testing.T) {
	tests := []struct {
		line    string
		command string
		arg     string
	}{
		{"hello world", inputSend, "hello world"},
		{"  padded  ", inputSend, "padded"},
		{"/retry local-abc", inputRetry, "local-abc"},
		{"/JOIN general", inputJoin, "general"},
		{"/dm bob", inputDM, "bob"},
		{"/quit", inputQuit, ""},
		{"/", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			command, arg := parseInput(tt.line)
			assert.Equal(t, tt.command, command)
			assert.Equal(t, tt.arg, arg)
		})
	}
}

func TestRootCommandWiring(t *testing.T) {
	cmd := newRootCommand()
	names := make([]string, 0, len(cmd.Commands()))
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"history", "send", "edit", "delete", "watch", "dm"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("addr"))
}
