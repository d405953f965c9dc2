package jsonutils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		name, in, want string
	}{
		{"fenced", "Sure!\n```json\n{\"analysis\": \"bright room\"}\n```", `{"analysis": "bright room"}`},
		{"untagged fence", "```\n{\"a\": 1}\n```", `{"a": 1}`},
		{"prose around", `Here you go: {"a": {"b": 2}} hope it helps {"c": 3}`, `{"a": {"b": 2}}`},
		{"brace in string", `{"analysis": "a shelf shaped like } this", "confidence_score": 0.8}`, `{"analysis": "a shelf shaped like } this", "confidence_score": 0.8}`},
		{"trailing comma", "{\"a\": [1, 2,],}", `{"a": [1, 2]}`},
		{"bom", "\uFEFF{\"a\": 1}", `{"a": 1}`},
		{"none", "I cannot analyse this image.", ""},
		{"unbalanced", `{"a": 1`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExtractJSON(tc.in))
		})
	}
}

func TestDecode(t *testing.T) {
	var out struct {
		Analysis        string  `json:"analysis"`
		ConfidenceScore float64 `json:"confidence_score"`
	}
	require.NoError(t, Decode("```json\n{\"analysis\": \"warm \\\"beige\\\" walls\", \"confidence_score\": 0.9}\n```", &out))
	assert.Equal(t, `warm "beige" walls`, out.Analysis)
	assert.InDelta(t, 0.9, out.ConfidenceScore, 1e-9)

	assert.Error(t, Decode("no json here", &out))
}

func TestToJSON(t *testing.T) {
	assert.Equal(t, "[\n  \"refrigerators\"\n]", ToJSON([]string{"refrigerators"}))
	assert.Equal(t, "", ToJSON(func() {}))
}
