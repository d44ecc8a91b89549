package bedrock

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	"github.com/stretchr/testify/require"

	"github.com/windrose/agentkit/errorpolicy"
	"github.com/windrose/agentkit/modeladapter"
)

type stubRuntime struct {
	out *bedrockruntime.ConverseOutput
	err error
}

func (s *stubRuntime) Converse(context.Context, *bedrockruntime.ConverseInput, ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	return s.out, s.err
}

func TestCompleteTranslatesConverseOutput(t *testing.T) {
	runtime := &stubRuntime{out: &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{
			Value: brtypes.Message{
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: "hi there"}},
			},
		},
		StopReason: brtypes.StopReasonEndTurn,
	}}
	client, err := New(Options{Runtime: runtime, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	resp, err := client.Complete(context.Background(), modeladapter.Request{
		Messages: []modeladapter.Message{{Role: modeladapter.RoleUser, Parts: []modeladapter.Part{modeladapter.TextPart{Text: "hello"}}}},
	})
	require.NoError(t, err)
	require.Equal(t, modeladapter.RoleAssistant, resp.Message.Role)
	require.Equal(t, string(brtypes.StopReasonEndTurn), resp.StopReason)
	require.Len(t, resp.Message.Parts, 1)
	require.Equal(t, "hi there", resp.Message.Parts[0].(modeladapter.TextPart).Text)
}

func TestCompleteMarksThrottlingErrorsRetryable(t *testing.T) {
	runtime := &stubRuntime{err: &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}}
	client, err := New(Options{Runtime: runtime, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), modeladapter.Request{})
	require.Error(t, err)
	var polErr *errorpolicy.Error
	require.True(t, errors.As(err, &polErr))
	require.True(t, polErr.Retryable)
}

func TestCompleteMarksOtherErrorsNonRetryable(t *testing.T) {
	runtime := &stubRuntime{err: errors.New("boom")}
	client, err := New(Options{Runtime: runtime, DefaultModel: "anthropic.claude-3"})
	require.NoError(t, err)

	_, err = client.Complete(context.Background(), modeladapter.Request{})
	require.Error(t, err)
	var polErr *errorpolicy.Error
	require.True(t, errors.As(err, &polErr))
	require.False(t, polErr.Retryable)
}

func TestNewRequiresRuntimeAndModel(t *testing.T) {
	_, err := New(Options{DefaultModel: "m"})
	require.Error(t, err)

	_, err = New(Options{Runtime: &stubRuntime{}})
	require.Error(t, err)
}
