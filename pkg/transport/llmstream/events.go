package llmstream

import (
	"encoding/json"
	"strings"

	"github.com/knowloop/expertchat/pkg/chat"
)

// Event is the closed union of stream events for one chat turn.
type Event interface {
	streamEvent()
}

// ContentEvent carries one text fragment of the in-progress reply.
type ContentEvent struct {
	Delta string
}

// DoneEvent terminates the stream and carries the tool invocations made
// while producing the reply.
type DoneEvent struct {
	ToolCalls []chat.ToolCall
}

// ErrorEvent terminates the stream with a backend-reported failure.
type ErrorEvent struct {
	Message string
}

func (ContentEvent) streamEvent() {}
func (DoneEvent) streamEvent()    {}
func (ErrorEvent) streamEvent()   {}

const recordPrefix = "data:"

type wireEvent struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type wireDone struct {
	ToolCallsMade []struct {
		Function     string `json:"function"`
		Query        string `json:"query"`
		ResultsCount int    `json:"results_count"`
	} `json:"tool_calls_made"`
}

// parseRecord decodes one complete stream record ("data: {json}" line) into
// an event. It returns (nil, false) for records that should be skipped:
// blank lines, unprefixed lines, malformed payloads and unknown types. One
// bad record must never abort the whole stream.
func parseRecord(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" || !strings.HasPrefix(line, recordPrefix) {
		return nil, false
	}
	payload := strings.TrimSpace(strings.TrimPrefix(line, recordPrefix))
	var w wireEvent
	if err := json.Unmarshal([]byte(payload), &w); err != nil {
		return nil, false
	}
	switch w.Type {
	case "content":
		var delta string
		if err := json.Unmarshal(w.Data, &delta); err != nil {
			return nil, false
		}
		return ContentEvent{Delta: delta}, true
	case "done":
		var d wireDone
		if len(w.Data) > 0 {
			if err := json.Unmarshal(w.Data, &d); err != nil {
				return nil, false
			}
		}
		calls := make([]chat.ToolCall, 0, len(d.ToolCallsMade))
		for _, tc := range d.ToolCallsMade {
			calls = append(calls, chat.ToolCall{
				Function:    tc.Function,
				Query:       tc.Query,
				ResultCount: tc.ResultsCount,
			})
		}
		if len(calls) == 0 {
			calls = nil
		}
		return DoneEvent{ToolCalls: calls}, true
	case "error":
		var msg string
		if err := json.Unmarshal(w.Data, &msg); err != nil {
			msg = "backend reported an error"
		}
		return ErrorEvent{Message: msg}, true
	default:
		return nil, false
	}
}

// terminal reports whether ev ends the stream.
func terminal(ev Event) bool {
	switch ev.(type) {
	case DoneEvent, ErrorEvent:
		return true
	default:
		return false
	}
}
