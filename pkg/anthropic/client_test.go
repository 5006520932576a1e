package anthropic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{
		Content: []ContentBlock{
			{Type: "text", Text: "{\"invoice_number\""},
			{Type: "tool_use", Text: "ignored"},
			{Type: "text", Text: ": \"INV-1\"}"},
		},
	}
	assert.Equal(t, `{"invoice_number": "INV-1"}`, resp.Text())

	empty := &MessageResponse{}
	assert.Equal(t, "", empty.Text())
}

func TestTokenUsageAdd(t *testing.T) {
	u := TokenUsage{InputTokens: 100, OutputTokens: 50}
	u.Add(TokenUsage{InputTokens: 20, OutputTokens: 10, CacheReadInputTokens: 5})

	assert.Equal(t, int64(120), u.InputTokens)
	assert.Equal(t, int64(60), u.OutputTokens)
	assert.Equal(t, int64(5), u.CacheReadInputTokens)
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("extract the invoice")

	assert.Len(t, blocks, 1)
	assert.Equal(t, "extract the invoice", blocks[0].Text)
	assert.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestToSDKMessagesRoles(t *testing.T) {
	msgs := toSDKMessages([]Message{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "{"},
	})
	assert.Len(t, msgs, 2)
	assert.Equal(t, "user", string(msgs[0].Role))
	assert.Equal(t, "assistant", string(msgs[1].Role))
}
