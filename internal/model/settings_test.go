package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsRoundTripPreservesUnknownKeys(t *testing.T) {
	input := []byte(`{"isFreeChat":true,"musicVolume":42,"welcome":{"enabled":true,"text":"hi"}}`)

	var s Settings
	require.NoError(t, json.Unmarshal(input, &s))
	assert.True(t, s.Bool(FlagFreeChat))
	assert.False(t, s.Bool(FlagChatbotEnabled))

	s.SetBool(FlagChatbotEnabled, true)

	out, err := json.Marshal(s)
	require.NoError(t, err)

	var decoded map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &decoded))
	assert.JSONEq(t, `42`, string(decoded["musicVolume"]))
	assert.JSONEq(t, `{"enabled":true,"text":"hi"}`, string(decoded["welcome"]))
	assert.JSONEq(t, `true`, string(decoded["isFreeChat"]))
	assert.JSONEq(t, `true`, string(decoded["isChatbotEnabled"]))
}

func TestSettingsSetBoolOverwritesKnownFlag(t *testing.T) {
	var s Settings
	s.SetBool(FlagFreeChat, true)
	require.True(t, s.Bool(FlagFreeChat))

	s.SetBool(FlagFreeChat, false)
	assert.False(t, s.Bool(FlagFreeChat))

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `{"isFreeChat":false}`, string(out))
}

func TestSettingsBoolOnExtraKey(t *testing.T) {
	var s Settings
	require.NoError(t, json.Unmarshal([]byte(`{"someFlag":true,"notABool":"yes"}`), &s))
	assert.True(t, s.Bool("someFlag"))
	assert.False(t, s.Bool("notABool"))
	assert.False(t, s.Bool("missing"))
}
