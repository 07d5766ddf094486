package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_PromptOnly(t *testing.T) {
	for _, history := range [][]ChatMessage{nil, {}} {
		conv, err := Normalize(history, "  hello there \n")
		require.NoError(t, err)
		require.Len(t, conv, 1)
		assert.Equal(t, RoleUser, conv[0].Role)
		assert.Equal(t, "hello there", conv[0].Content)
	}
}

func TestNormalize_HistoryWithUserIgnoresPrompt(t *testing.T) {
	history := []ChatMessage{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "answer"},
		{Role: RoleUser, Content: "second"},
	}

	conv, err := Normalize(history, "should not appear")
	require.NoError(t, err)
	require.Len(t, conv, 4)
	for _, msg := range conv {
		assert.NotEqual(t, "should not appear", msg.Content)
	}
	assert.Equal(t, "second", conv[3].Content)
}

func TestNormalize_DropsInvalidMessages(t *testing.T) {
	history := []ChatMessage{
		{Role: "tool", Content: "ignored"},
		{Role: RoleAssistant, Content: "   "},
		{Role: "ASSISTANT", Content: "kept"},
		{Role: RoleSystem, Content: "sys"},
	}

	conv, err := Normalize(history, "question")
	require.NoError(t, err)
	assert.Equal(t, Conversation{
		{Role: RoleAssistant, Content: "kept"},
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "question"},
	}, conv)
}

func TestNormalize_EmptyFails(t *testing.T) {
	cases := []struct {
		name    string
		history []ChatMessage
		prompt  string
	}{
		{"nothing", nil, ""},
		{"whitespace prompt", nil, " \t\n"},
		{"assistant only", []ChatMessage{{Role: RoleAssistant, Content: "hi"}}, "  "},
		{"blank user", []ChatMessage{{Role: RoleUser, Content: "  "}}, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			conv, err := Normalize(tc.history, tc.prompt)
			require.Error(t, err)
			assert.Nil(t, conv)
			assert.True(t, IsValidationError(err))
			assert.ErrorIs(t, err, ErrEmptyPrompt)
		})
	}
}

func TestNormalize_DoesNotMutateHistory(t *testing.T) {
	history := []ChatMessage{{Role: RoleUser, Content: "  padded  "}}
	_, err := Normalize(history, "")
	require.NoError(t, err)
	assert.Equal(t, "  padded  ", history[0].Content)
}

func TestConversation_SplitSystem(t *testing.T) {
	conv := Conversation{
		{Role: RoleSystem, Content: "a"},
		{Role: RoleUser, Content: "q"},
		{Role: RoleSystem, Content: "b"},
	}
	system, rest := conv.SplitSystem()
	assert.Equal(t, "a\n\nb", system)
	assert.Equal(t, Conversation{{Role: RoleUser, Content: "q"}}, rest)
}
