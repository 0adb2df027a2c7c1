// Copyright (c) 2020 mgIT GmbH. All rights reserved.
// Distributed under the Apache License. See LICENSE for details.

package clamd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommandMode(t *testing.T) {
	assert.Equal(t, []byte("zINSTREAM\x00"), CommandModeNull.Command("INSTREAM"))
	assert.Equal(t, byte(0), CommandModeNull.Terminator())
	assert.Equal(t, []byte("nINSTREAM\n"), CommandModeNewline.Command("INSTREAM"))
	assert.Equal(t, byte('\n'), CommandModeNewline.Terminator())
	assert.Equal(t, []byte("INSTREAM\n"), CommandModeLegacy.Command("INSTREAM"))
	assert.Equal(t, byte('\n'), CommandModeLegacy.Terminator())
}

func TestParseCommandMode(t *testing.T) {
	for in, want := range map[string]CommandMode{
		"":        CommandModeNull,
		"null":    CommandModeNull,
		"z":       CommandModeNull,
		"newline": CommandModeNewline,
		"n":       CommandModeNewline,
		"legacy":  CommandModeLegacy,
	} {
		got, err := ParseCommandMode(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
		if in != "" && in != "z" && in != "n" {
			assert.Equal(t, in, got.String())
		}
	}

	_, err := ParseCommandMode("IDSESSION")
	assert.True(t, IsConfigurationError(err))
}
