package models

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseResult(t *testing.T) {
	shot := []byte{0x89, 'P', 'N', 'G'}
	payload := `{"id":"t-1","screenshot":"` + base64.StdEncoding.EncodeToString(shot) + `","url":"https://example.com/"}`

	res, err := ParseResult([]byte(payload))
	require.NoError(t, err)
	assert.Equal(t, "t-1", res.ID)
	assert.Equal(t, shot, res.Screenshot)
	assert.Equal(t, "https://example.com/", res.URL)
	assert.False(t, res.Failed())
}

func TestParseResultError(t *testing.T) {
	res, err := ParseResult([]byte(`{"id":"t-2","error":"element not found"}`))
	require.NoError(t, err)
	assert.True(t, res.Failed())
	assert.Equal(t, "element not found", res.Err)
}

func TestParseResultMalformed(t *testing.T) {
	_, err := ParseResult([]byte(`not json`))
	assert.Error(t, err)

	_, err = ParseResult([]byte(`{"id":"t-3","screenshot":"***not-base64***"}`))
	assert.Error(t, err)
}
