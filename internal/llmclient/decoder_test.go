package llmclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
)

func TestDecodeDecision_Valid(t *testing.T) {
	raw := `{"actions":[{"type":"click","element":4,"reasoning":"login button"}]}`

	decision, err := DecodeDecision(raw)
	require.NoError(t, err)
	require.Len(t, decision.Actions, 1)

	action := decision.Actions[0]
	assert.Equal(t, schemas.ActionClick, action.Type)
	require.NotNil(t, action.Element)
	assert.Equal(t, 4, *action.Element)
	assert.Equal(t, raw, decision.Raw, "verbatim response must be preserved")
}

func TestDecodeDecision_StripsMarkdownFence(t *testing.T) {
	raw := "```json\n{\"actions\":[{\"type\":\"scroll\",\"content\":\"down\",\"reasoning\":\"look further\"}]}\n```"

	decision, err := DecodeDecision(raw)
	require.NoError(t, err)
	require.Len(t, decision.Actions, 1)
	assert.Equal(t, schemas.ActionScroll, decision.Actions[0].Type)
	assert.Equal(t, raw, decision.Raw)
}

func TestDecodeDecision_RejectsMalformedPayloads(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "click the third button"},
		{"missing actions key", `{"plan":"click"}`},
		{"empty action list", `{"actions":[]}`},
		{"unknown action type", `{"actions":[{"type":"drag","reasoning":"r"}]}`},
		{"hover without element", `{"actions":[{"type":"hover","reasoning":"r"}]}`},
		{"missing reasoning", `{"actions":[{"type":"go_back"}]}`},
		{"click without element", `{"actions":[{"type":"click","reasoning":"r"}]}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			decision, err := DecodeDecision(tc.raw)
			assert.Nil(t, decision)
			assert.ErrorContains(t, err, "malformed decision")
		})
	}
}

func TestDecodeDecision_MultipleActionsInOrder(t *testing.T) {
	raw := `{"actions":[
		{"type":"type","element":1,"content":"golang","reasoning":"search box"},
		{"type":"click","element":2,"reasoning":"submit"}
	]}`

	decision, err := DecodeDecision(raw)
	require.NoError(t, err)
	require.Len(t, decision.Actions, 2)
	assert.Equal(t, schemas.ActionTypeText, decision.Actions[0].Type)
	assert.Equal(t, schemas.ActionClick, decision.Actions[1].Type)
}
