package bedrock

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/model"
)

type mockRuntime struct {
	captured *bedrockruntime.ConverseInput
	output   *bedrockruntime.ConverseOutput
	err      error
}

func (m *mockRuntime) Converse(_ context.Context, params *bedrockruntime.ConverseInput,
	_ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error) {
	m.captured = params
	return m.output, m.err
}

func (m *mockRuntime) ConverseStream(_ context.Context, _ *bedrockruntime.ConverseStreamInput,
	_ ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error) {
	return nil, nil
}

func TestClientComplete_TextAndToolUse(t *testing.T) {
	mock := &mockRuntime{}
	client, err := New(Options{Runtime: mock, DefaultModel: "anthropic.claude-3"}, nil)
	require.NoError(t, err)

	sanitized := sanitizeToolName("calc.tool")

	mock.output = &bedrockruntime.ConverseOutput{
		Output: &brtypes.ConverseOutputMemberMessage{Value: brtypes.Message{
			Role: brtypes.ConversationRoleAssistant,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberText{Value: "hello"},
				&brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					Name:      aws.String(sanitized),
					ToolUseId: aws.String("tool-1"),
					Input:     document.NewLazyDocument(&map[string]any{"value": 42}),
				}},
			},
		}},
		Usage: &brtypes.TokenUsage{
			InputTokens:  aws.Int32(100),
			OutputTokens: aws.Int32(20),
			TotalTokens:  aws.Int32(120),
		},
		StopReason: brtypes.StopReasonToolUse,
	}

	resp, err := client.Complete(context.Background(), &model.Request{
		Messages: []*model.Message{
			{Role: model.ConversationRoleSystem, Parts: []model.Part{model.TextPart{Text: "You are smart."}}},
			{Role: model.ConversationRoleUser, Parts: []model.Part{model.TextPart{Text: "hi"}}},
		},
		Tools: []*model.ToolDefinition{
			{Name: "calc.tool", Description: "calculator", InputSchema: map[string]any{"type": "object"}},
		},
	})
	require.NoError(t, err)
	require.Len(t, resp.Content, 1)
	require.Equal(t, "hello", resp.Content[0].Parts[0].(model.TextPart).Text)
	require.Len(t, resp.ToolCalls, 1)
	require.Equal(t, "calc.tool", string(resp.ToolCalls[0].Name))
	require.Equal(t, "tool-1", resp.ToolCalls[0].ID)
	require.Equal(t, "tool_use", resp.StopReason)
	require.Equal(t, 120, resp.Usage.TotalTokens)

	require.NotNil(t, mock.captured)
	require.Equal(t, "anthropic.claude-3", *mock.captured.ModelId)
	require.Len(t, mock.captured.System, 1)
	require.Len(t, mock.captured.Messages, 1)
	require.NotNil(t, mock.captured.ToolConfig)
	require.Len(t, mock.captured.ToolConfig.Tools, 1)
}

func TestClientComplete_RequiresMessages(t *testing.T) {
	client, err := New(Options{Runtime: &mockRuntime{}, DefaultModel: "id"}, nil)
	require.NoError(t, err)
	_, err = client.Complete(context.Background(), &model.Request{})
	require.Error(t, err)
}

func TestClientComplete_RequiresRuntime(t *testing.T) {
	_, err := New(Options{DefaultModel: "id"}, nil)
	require.Error(t, err)
}
