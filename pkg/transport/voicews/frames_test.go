package voicews

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseFrameAudio(t *testing.T) {
	f := ParseFrame([]byte(`{"type":"audio","audio_event":{"audio_base_64":"AAAA"}}`))
	require.IsType(t, AudioFrame{}, f)
}

func TestParseFrameAgentResponseNestedShape(t *testing.T) {
	f := ParseFrame([]byte(`{"type":"agent_response","agent_response_event":{"agent_response":"hello"}}`))
	ar, ok := f.(AgentResponseFrame)
	require.True(t, ok)
	require.Equal(t, "hello", ar.Text)
}

func TestParseFrameAgentResponseFlatShape(t *testing.T) {
	f := ParseFrame([]byte(`{"type":"agent_response","agent_response":"hello"}`))
	ar, ok := f.(AgentResponseFrame)
	require.True(t, ok)
	require.Equal(t, "hello", ar.Text)
}

func TestParseFrameAgentResponseMissingTextIsUnknown(t *testing.T) {
	f := ParseFrame([]byte(`{"type":"agent_response"}`))
	u, ok := f.(UnknownFrame)
	require.True(t, ok)
	require.Equal(t, "agent_response", u.Type)
}

func TestParseFrameUserTranscript(t *testing.T) {
	f := ParseFrame([]byte(`{"type":"user_transcript","user_transcription_event":{"user_transcript":"hi there"}}`))
	ut, ok := f.(UserTranscriptFrame)
	require.True(t, ok)
	require.Equal(t, "hi there", ut.Text)

	f = ParseFrame([]byte(`{"type":"user_transcript","user_transcript":"flat"}`))
	ut, ok = f.(UserTranscriptFrame)
	require.True(t, ok)
	require.Equal(t, "flat", ut.Text)
}

func TestParseFrameUnknownTypeAndMalformedJSON(t *testing.T) {
	f := ParseFrame([]byte(`{"type":"vad_score","vad_score_event":{"vad_score":0.9}}`))
	u, ok := f.(UnknownFrame)
	require.True(t, ok)
	require.Equal(t, "vad_score", u.Type)

	f = ParseFrame([]byte(`{not json`))
	require.IsType(t, UnknownFrame{}, f)
}

func TestIsDefaultGreeting(t *testing.T) {
	tests := []struct {
		name string
		text string
		want bool
	}{
		{"boilerplate greeting", "Hi there, ask me anything about X", true},
		{"assistant marker", "Hello! I'm your AI assistant.", true},
		{"knowledge marker", "I can answer questions from my knowledge base.", true},
		{"legitimate short answer", "The capital of France is Paris.", false},
		{"empty", "", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, IsDefaultGreeting(tc.text, 160))
		})
	}
}

func TestIsDefaultGreetingLengthThreshold(t *testing.T) {
	long := "As your assistant I will now walk through the entire history of the topic in detail, " +
		"covering every era, every major figure, and every source in my knowledge base so nothing is missed."
	require.GreaterOrEqual(t, len(long), 160)
	require.False(t, IsDefaultGreeting(long, 160))
	require.True(t, IsDefaultGreeting("I'm an assistant", 160))
	require.False(t, IsDefaultGreeting("I'm an assistant", 0))
}
