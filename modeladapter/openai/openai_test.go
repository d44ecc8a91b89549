package openai_test

import (
	"context"
	"testing"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/stretchr/testify/require"

	oaadapter "github.com/windrose/agentkit/modeladapter/openai"

	"github.com/windrose/agentkit/modeladapter"
)

type mockChatClient struct {
	response *sdk.ChatCompletion
	err      error
}

func (m *mockChatClient) New(context.Context, sdk.ChatCompletionNewParams, ...option.RequestOption) (*sdk.ChatCompletion, error) {
	return m.response, m.err
}

func TestCompleteTranslatesToolCallsAndUsage(t *testing.T) {
	mock := &mockChatClient{response: &sdk.ChatCompletion{
		Choices: []sdk.ChatCompletionChoice{{
			FinishReason: "stop",
			Message: sdk.ChatCompletionMessage{
				Content: "hi there",
				ToolCalls: []sdk.ChatCompletionMessageToolCall{{
					ID: "call-1",
					Function: sdk.ChatCompletionMessageToolCallFunction{
						Name:      "lookup",
						Arguments: `{"query":"docs"}`,
					},
				}},
			},
		}},
		Usage: sdk.CompletionUsage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}

	client, err := oaadapter.New(oaadapter.Options{Client: mock, DefaultModel: "gpt-4o"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), modeladapter.Request{
		Messages: []modeladapter.Message{{Role: modeladapter.RoleUser, Parts: []modeladapter.Part{modeladapter.TextPart{Text: "ping"}}}},
	})
	require.NoError(t, err)
	require.Equal(t, 15, resp.Usage.TotalTokens)

	var sawText, sawTool bool
	for _, p := range resp.Message.Parts {
		switch v := p.(type) {
		case modeladapter.TextPart:
			sawText = v.Text == "hi there"
		case modeladapter.ToolUsePart:
			sawTool = v.Name == "lookup"
		}
	}
	require.True(t, sawText)
	require.True(t, sawTool)
}

func TestNewRequiresClientAndModel(t *testing.T) {
	_, err := oaadapter.New(oaadapter.Options{})
	require.Error(t, err)

	_, err = oaadapter.New(oaadapter.Options{Client: &mockChatClient{}})
	require.Error(t, err)
}
