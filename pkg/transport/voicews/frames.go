package voicews

import (
	"encoding/json"
)

// Frame is the closed union of inbound socket frames. Unknown or malformed
// frames fall into UnknownFrame rather than being silently coerced.
type Frame interface {
	frame()
}

// AudioFrame is binary speech data. It is never decoded past its type tag.
type AudioFrame struct{}

// AgentResponseFrame carries a complete agent reply.
type AgentResponseFrame struct {
	Text string
}

// UserTranscriptFrame carries the backend's transcription of user speech.
// In text mode it is logged only.
type UserTranscriptFrame struct {
	Text string
}

// UnknownFrame holds any frame this client does not understand. Unknown
// types are logged and ignored so new backend frame types do not break
// older clients.
type UnknownFrame struct {
	Type string
	Raw  json.RawMessage
}

func (AudioFrame) frame()          {}
func (AgentResponseFrame) frame()  {}
func (UserTranscriptFrame) frame() {}
func (UnknownFrame) frame()        {}

// wireFrame accepts both observed agent_response shapes: nested under an
// event wrapper, or flat.
type wireFrame struct {
	Type               string  `json:"type"`
	AgentResponse      *string `json:"agent_response"`
	AgentResponseEvent *struct {
		AgentResponse string `json:"agent_response"`
	} `json:"agent_response_event"`
	UserTranscript      *string `json:"user_transcript"`
	UserTranscriptEvent *struct {
		UserTranscript string `json:"user_transcript"`
	} `json:"user_transcription_event"`
}

// ParseFrame decodes one inbound frame into the tagged union.
func ParseFrame(data []byte) Frame {
	var w wireFrame
	if err := json.Unmarshal(data, &w); err != nil {
		return UnknownFrame{Raw: append(json.RawMessage(nil), data...)}
	}
	switch w.Type {
	case "audio":
		return AudioFrame{}
	case "agent_response":
		if w.AgentResponseEvent != nil {
			return AgentResponseFrame{Text: w.AgentResponseEvent.AgentResponse}
		}
		if w.AgentResponse != nil {
			return AgentResponseFrame{Text: *w.AgentResponse}
		}
		return UnknownFrame{Type: w.Type, Raw: append(json.RawMessage(nil), data...)}
	case "user_transcript":
		if w.UserTranscriptEvent != nil {
			return UserTranscriptFrame{Text: w.UserTranscriptEvent.UserTranscript}
		}
		if w.UserTranscript != nil {
			return UserTranscriptFrame{Text: *w.UserTranscript}
		}
		return UserTranscriptFrame{}
	default:
		return UnknownFrame{Type: w.Type, Raw: append(json.RawMessage(nil), data...)}
	}
}
