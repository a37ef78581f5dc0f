package rawws

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUserMessageText(t *testing.T) {
	text, ok := ParseUserMessage([]byte(`{"role":"user","content":[{"type":"text","text":"hello"}]}`))
	require.True(t, ok)
	assert.Equal(t, "hello", text)
}

func TestParseUserMessageJoinsParts(t *testing.T) {
	text, ok := ParseUserMessage([]byte(`{"role":"user","content":[
		{"type":"text","text":"first"},
		{"type":"text","text":"second"}
	]}`))
	require.True(t, ok)
	assert.Equal(t, "first\nsecond", text)
}

func TestParseUserMessageRendersImagePlaceholder(t *testing.T) {
	text, ok := ParseUserMessage([]byte(`{"role":"user","content":[
		{"type":"text","text":"look"},
		{"type":"image_url","image_url":{"url":"https://example.com/cat.png"}}
	]}`))
	require.True(t, ok)
	assert.Equal(t, "look\n[image: https://example.com/cat.png]", text)
}

func TestParseUserMessageRejectsOtherRoles(t *testing.T) {
	_, ok := ParseUserMessage([]byte(`{"role":"assistant","content":[{"type":"text","text":"hi"}]}`))
	assert.False(t, ok)
}

func TestParseUserMessageRejectsMissingContent(t *testing.T) {
	_, ok := ParseUserMessage([]byte(`{"role":"user"}`))
	assert.False(t, ok)
}

func TestParseUserMessageRejectsMalformedJSON(t *testing.T) {
	_, ok := ParseUserMessage([]byte(`{"role":"user",`))
	assert.False(t, ok)
}

func TestParseUserMessageSkipsUnknownPartTypes(t *testing.T) {
	text, ok := ParseUserMessage([]byte(`{"role":"user","content":[
		{"type":"audio","text":"ignored"},
		{"type":"text","text":"kept"}
	]}`))
	require.True(t, ok)
	assert.Equal(t, "kept", text)
}
