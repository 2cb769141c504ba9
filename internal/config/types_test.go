package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecret_Redaction(t *testing.T) {
	s := Secret("sk-live-supersecret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%s", s))
	assert.Equal(t, "Secret([REDACTED])", fmt.Sprintf("%#v", s))
	assert.Equal(t, "sk-live-supersecret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(data))
	assert.NotContains(t, string(data), "supersecret")
}

func TestSecret_Empty(t *testing.T) {
	var s Secret

	assert.Equal(t, "", s.String())
	assert.False(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `""`, string(data))
}

func TestSecret_Unmarshal(t *testing.T) {
	var s Secret
	require.NoError(t, json.Unmarshal([]byte(`"sk-test-123"`), &s))
	assert.Equal(t, "sk-test-123", s.Value())

	var fromText Secret
	require.NoError(t, fromText.UnmarshalText([]byte("dsn-value")))
	assert.Equal(t, "dsn-value", fromText.Value())
}
