package pulse

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agenticklabs/agentick/stream"
)

func TestSendPublishesEnvelope(t *testing.T) {
	str := &fakeStream{}
	cli := &fakeClient{stream: str}

	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)

	err = sink.Send(context.Background(), stream.NewBase(stream.EventToolEnd, "run-123", "sess-1",
		map[string]string{"status": "ok"}))
	require.NoError(t, err)
	require.Equal(t, "session/sess-1", cli.lastStream)

	var env Envelope
	require.NoError(t, json.Unmarshal(str.addPayload, &env))
	require.Equal(t, "run-123", env.RunID)
	require.Equal(t, "tool_end", env.Type)
	body, ok := env.Payload.(map[string]any)
	require.True(t, ok)
	require.Equal(t, "ok", body["status"])
}

func TestCustomStreamID(t *testing.T) {
	cli := &fakeClient{stream: &fakeStream{}}
	sink, err := NewSink(Options{
		Client: cli,
		StreamID: func(e stream.Event) (string, error) {
			return "custom/" + e.RunID(), nil
		},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Send(context.Background(), stream.NewBase(stream.EventPlannerThought, "run-1", "sess-1", nil)))
	require.Equal(t, "custom/run-1", cli.lastStream)
}

func TestSendRequiresSessionID(t *testing.T) {
	sink, err := NewSink(Options{Client: &fakeClient{stream: &fakeStream{}}})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.NewBase(stream.EventAssistantReply, "run-1", "", nil))
	require.EqualError(t, err, "stream event missing session id")
}

func TestStreamCreationError(t *testing.T) {
	cli := &fakeClient{stream: &fakeStream{}, streamErr: errors.New("boom")}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.NewBase(stream.EventAssistantReply, "run-1", "sess-1", nil))
	require.EqualError(t, err, "boom")
}

func TestAddError(t *testing.T) {
	str := &fakeStream{addErr: errors.New("add-failed")}
	cli := &fakeClient{stream: str}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	err = sink.Send(context.Background(), stream.NewBase(stream.EventAssistantReply, "run-1", "sess-1", nil))
	require.EqualError(t, err, "add-failed")
}

func TestCloseDelegates(t *testing.T) {
	cli := &fakeClient{stream: &fakeStream{}}
	sink, err := NewSink(Options{Client: cli})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))
	require.Equal(t, 1, cli.closeCount)
}
