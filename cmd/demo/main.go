// Command demo drives one execution of a tiny component tree through the
// tick engine: a system prompt section, an echo tool, and either a live
// Anthropic client (when ANTHROPIC_API_KEY is set) or an in-process stub
// that never leaves the process.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/agenticklabs/agentick/com"
	"github.com/agenticklabs/agentick/compiler"
	"github.com/agenticklabs/agentick/hooks"
	"github.com/agenticklabs/agentick/model"
	"github.com/agenticklabs/agentick/model/anthropic"
	"github.com/agenticklabs/agentick/secretstore"
	"github.com/agenticklabs/agentick/session"
	"github.com/agenticklabs/agentick/stream"
	"github.com/agenticklabs/agentick/toolexec"
	"github.com/agenticklabs/agentick/tools"
)

// echoTool is the one server-side tool the demo tree exposes. Collect
// registers it, so the model sees its definition and the executor resolves
// a call to it through the COM.
var echoTool = tools.Tool{
	Name:        "echo",
	Description: "Echoes its input back as the tool result.",
	Type:        tools.ExecutionTypeServer,
	Intent:      tools.IntentCompute,
	Audience:    tools.AudienceModel,
	Handler: func(_ context.Context, input any, _ tools.RunContext) ([]tools.ContentBlock, error) {
		return []tools.ContentBlock{{Type: "text", Text: fmt.Sprintf("%v", input)}}, nil
	},
}

// demoAgent is the root of the component tree: a single position that
// contributes a system section and registers one server-side tool.
type demoAgent struct{}

func (demoAgent) PositionKey() string           { return "demo.agent" }
func (demoAgent) OnMount(*compiler.Context)     {}
func (demoAgent) OnUnmount(*compiler.Context)   {}
func (demoAgent) OnTickStart(*compiler.Context) {}

func (demoAgent) Collect(ctx *compiler.Context, out *compiler.Builder) {
	out.AddSystem(com.Message{
		Role:    "system",
		Content: []tools.ContentBlock{{Type: "text", Text: "You are a terse demo assistant. Use the echo tool when asked to repeat something."}},
	})
	out.AddSection(com.Section{ID: "persona", Title: "Persona", Content: "demo-agent"})
	out.AddTool(echoTool)
}

func (demoAgent) OnAfterCompile(*compiler.Context, *compiler.CompiledStructure) {}
func (demoAgent) Children() []compiler.Node                                    { return nil }

func main() {
	ctx := context.Background()

	client, err := newModelClient(ctx)
	if err != nil {
		log.Fatalf("model client: %v", err)
	}

	// No ToolLookup is wired here: demoAgent.Collect registers echoTool on
	// the component tree, the compiler feeds it into COM.AddTool once per
	// compile pass, and the executor resolves it through COM.GetTool.
	cfg := session.SpawnConfig{
		Tree:     demoAgent{},
		Client:   client,
		Executor: toolexec.New(nil, nil),
		Label:    "root",
		MaxTicks: 4,
	}

	exec := session.NewExecution(session.NewRunID("demo"), "demo-session", hooks.NewBus(), func(path []string, evt stream.Event) {
		fmt.Printf("[%s] %s\n", session.SpawnPathString(path), evt.Type())
	})

	result := exec.Send(ctx, cfg, "Please echo 'hello world'")
	if result.Err != nil {
		log.Fatalf("run failed: %v", result.Err)
	}
	fmt.Println("status:", result.Status)
	fmt.Println("ticks:", result.Ticks)
	fmt.Println("assistant:", result.LastText)
}

func newModelClient(ctx context.Context) (model.Client, error) {
	secrets := secretstore.NewEnv("ANTHROPIC_API_KEY")
	apiKey, err := secrets.Get(ctx, "ANTHROPIC_API_KEY")
	if err != nil {
		var notFound *secretstore.ErrNotFound
		if errors.As(err, &notFound) {
			return &stubClient{}, nil
		}
		return nil, err
	}
	return anthropic.NewFromAPIKey(apiKey, "claude-sonnet-4-5")
}

// stubClient stands in for a real provider when no API key is configured,
// so the demo runs end to end without network access.
type stubClient struct{}

func (stubClient) Complete(context.Context, *model.Request) (*model.Response, error) {
	return nil, errors.New("stub client only supports streaming")
}

func (stubClient) Stream(context.Context, *model.Request) (model.Streamer, error) {
	return &stubStreamer{}, nil
}

type stubStreamer struct{ sent bool }

func (s *stubStreamer) Recv() (model.Chunk, error) {
	if s.sent {
		return model.Chunk{}, io.EOF
	}
	s.sent = true
	return model.Chunk{
		Type: model.ChunkTypeText,
		Message: &model.Message{
			Role:  model.ConversationRoleAssistant,
			Parts: []model.Part{model.TextPart{Text: "hello world (no ANTHROPIC_API_KEY set, stub reply)"}},
		},
	}, nil
}

func (s *stubStreamer) Close() error             { return nil }
func (s *stubStreamer) Metadata() map[string]any { return nil }
