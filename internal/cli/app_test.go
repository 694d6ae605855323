package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lLiuRunze/mail-agent/pkg/tasks"
)

func TestParseParamsKeyValue(t *testing.T) {
	params, err := parseParams([]string{"folder=inbox", "count=5", "content=hello world"})
	require.NoError(t, err)
	assert.Equal(t, "inbox", params.String("folder"))
	assert.Equal(t, 5, params.Int("count", 0))
	assert.Equal(t, "hello world", params.String("content"))
}

func TestParseParamsRepeatedKeyBecomesList(t *testing.T) {
	params, err := parseParams([]string{"to=a@example.com", "to=b@example.com"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, params.StringSlice("to"))
}

func TestParseParamsJSON(t *testing.T) {
	params, err := parseParams([]string{`{"folder": "spam", "batch": true, "count": 3}`})
	require.NoError(t, err)
	assert.Equal(t, "spam", params.String("folder"))
	assert.True(t, params.Bool("batch"))
	assert.Equal(t, 3, params.Int("count", 0))
}

func TestParseParamsMalformed(t *testing.T) {
	_, err := parseParams([]string{"nonsense"})
	require.Error(t, err)

	_, err = parseParams([]string{"=value"})
	require.Error(t, err)
}

func TestParseParamsEmpty(t *testing.T) {
	params, err := parseParams(nil)
	require.NoError(t, err)
	assert.Equal(t, tasks.Params{}, params)
}
