package llm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON_BareObject(t *testing.T) {
	t.Parallel()

	out := ExtractJSON(`Sure! Here is the result: {"a": 1, "b": {"c": 2}} hope it helps`)
	assert.Equal(t, `{"a": 1, "b": {"c": 2}}`, out)
}

func TestExtractJSON_Array(t *testing.T) {
	t.Parallel()

	out := ExtractJSON(`The plan follows: [{"type": "NO_OP"}, {"type": "FAIL"}] done`)
	require.NotEmpty(t, out)

	var actions []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &actions))
	assert.Len(t, actions, 2)
}

func TestExtractJSON_FencedBlock(t *testing.T) {
	t.Parallel()

	response := "Here you go:\n```json\n{\"goal\": \"improve\"}\n```\nAnything else?"
	assert.Equal(t, `{"goal": "improve"}`, ExtractJSON(response))
}

func TestExtractJSON_BareFenceWithJSONBody(t *testing.T) {
	t.Parallel()

	response := "```\n[1, 2, 3]\n```"
	assert.Equal(t, `[1, 2, 3]`, ExtractJSON(response))
}

func TestExtractJSON_BracesInsideStrings(t *testing.T) {
	t.Parallel()

	out := ExtractJSON(`{"msg": "use {braces} and \"quotes\" freely", "n": 1}`)
	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Equal(t, `use {braces} and "quotes" freely`, doc["msg"])
}

func TestExtractJSON_ArrayBeforeObject(t *testing.T) {
	t.Parallel()

	out := ExtractJSON(`[{"id": "a1"}] trailing {"not": "this"}`)
	assert.Equal(t, `[{"id": "a1"}]`, out)
}

func TestExtractJSON_NoCandidate(t *testing.T) {
	t.Parallel()

	assert.Empty(t, ExtractJSON("no structured output here"))
	assert.Empty(t, ExtractJSON(""))
	assert.Empty(t, ExtractJSON("{unbalanced"))
}
