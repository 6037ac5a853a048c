package schemas_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/voyager-cli/api/schemas"
)

// buildConversation produces a conversation with n user messages, each
// carrying a screenshot part plus a text part, interleaved with assistant
// replies.
func buildConversation(n int) schemas.Conversation {
	var conv schemas.Conversation
	conv.AppendText(schemas.RoleSystem, "instructions")
	for i := 0; i < n; i++ {
		conv.Append(schemas.Message{
			Role: schemas.RoleUser,
			Parts: []schemas.Part{
				{Image: []byte{byte(i)}},
				{Text: fmt.Sprintf("observation %d", i)},
			},
		})
		conv.AppendText(schemas.RoleAssistant, fmt.Sprintf("reply %d", i))
	}
	return conv
}

func TestTrimImages_EnforcesRetentionBound(t *testing.T) {
	conv := buildConversation(6)
	require.Equal(t, 6, conv.LiveImageCount())

	conv.TrimImages(3)

	assert.Equal(t, 3, conv.LiveImageCount())
	// Message count is unchanged: screenshots are replaced, never deleted.
	assert.Len(t, conv.Messages, 13)
}

func TestTrimImages_CollapsesOldestFirst(t *testing.T) {
	conv := buildConversation(4)
	conv.TrimImages(2)

	// User messages sit at odd indices (system message first, then
	// user/assistant pairs).
	oldest := conv.Messages[1]
	assert.False(t, oldest.HasImage(), "oldest screenshot should be collapsed")
	newest := conv.Messages[7]
	assert.True(t, newest.HasImage(), "newest screenshots should survive")
	assert.Equal(t, []byte{3}, newest.Parts[0].Image)
}

func TestTrimImages_PlaceholderPreservesRoleAndPosition(t *testing.T) {
	conv := buildConversation(2)
	conv.TrimImages(1)

	collapsed := conv.Messages[1]
	require.False(t, collapsed.HasImage())
	assert.Equal(t, schemas.RoleUser, collapsed.Role)
	require.Len(t, collapsed.Parts, 2)
	assert.Equal(t, schemas.ImagePlaceholder, collapsed.Parts[0].Text)
	// The sibling text part is untouched.
	assert.Equal(t, "observation 0", collapsed.Parts[1].Text)
}

func TestTrimImages_NoopUnderBound(t *testing.T) {
	conv := buildConversation(2)
	conv.TrimImages(3)
	assert.Equal(t, 2, conv.LiveImageCount())
}

func TestTrimImages_ZeroAndNegativeStripAll(t *testing.T) {
	for _, bound := range []int{0, -1} {
		conv := buildConversation(3)
		conv.TrimImages(bound)
		assert.Equal(t, 0, conv.LiveImageCount(), "bound %d", bound)
	}
}

func TestTrimImages_Idempotent(t *testing.T) {
	conv := buildConversation(5)
	conv.TrimImages(2)
	conv.TrimImages(2)
	assert.Equal(t, 2, conv.LiveImageCount())
}
