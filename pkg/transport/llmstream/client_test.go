package llmstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/knowloop/expertchat/pkg/chat"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("timed out waiting for stream events")
		}
	}
}

func streamServer(t *testing.T, lines []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/message/stream", r.URL.Path)
		fl, ok := w.(http.Flusher)
		require.True(t, ok)
		for _, line := range lines {
			_, _ = io.WriteString(w, line)
			fl.Flush()
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCreateSessionSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/session/create", r.URL.Path)
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "e1", body["expert_id"])
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true, "session_id": "s1"})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	id, err := c.CreateSession(context.Background(), "e1", nil)
	require.NoError(t, err)
	require.Equal(t, "s1", id)
}

func TestCreateSessionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.CreateSession(context.Background(), "e1", nil)
	var sce *SessionCreationError
	require.True(t, errors.As(err, &sce))
	require.Equal(t, http.StatusBadGateway, sce.Status)
}

func TestLifecycleCallsAreBestEffort(t *testing.T) {
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if r.URL.Path == "/chat/session/clear" {
			http.Error(w, "backend busy", http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"success": true})
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	require.NoError(t, c.EndSession(context.Background(), "s1"))
	require.Error(t, c.ClearSession(context.Background(), "s1"))
	require.Equal(t, []string{"/chat/session/end", "/chat/session/clear"}, paths)
}

func TestSendStreamingAssemblesDeltasAndToolCalls(t *testing.T) {
	srv := streamServer(t, []string{
		"data: {\"type\":\"content\",\"data\":\"The \"}\n",
		"data: {\"type\":\"content\",\"data\":\"answer \"}\n",
		// record split across two chunks: only a full line may be parsed
		"data: {\"type\":\"content\",",
		"\"data\":\"is 42.\"}\n",
		"data: {\"type\":\"done\",\"data\":{\"tool_calls_made\":[{\"function\":\"search\",\"query\":\"q\",\"results_count\":3}]}}\n",
	})

	c := New(Config{BaseURL: srv.URL})
	ch, err := c.SendStreaming(context.Background(), "s1", "question", "test-model")
	require.NoError(t, err)

	evs := collect(t, ch)
	require.Len(t, evs, 4)

	text := ""
	for _, ev := range evs[:3] {
		ce, ok := ev.(ContentEvent)
		require.True(t, ok)
		text += ce.Delta
	}
	require.Equal(t, "The answer is 42.", text)

	done, ok := evs[3].(DoneEvent)
	require.True(t, ok)
	require.Equal(t, []chat.ToolCall{{Function: "search", Query: "q", ResultCount: 3}}, done.ToolCalls)
}

func TestSendStreamingSkipsMalformedRecords(t *testing.T) {
	srv := streamServer(t, []string{
		"data: {not json}\n",
		": comment line\n",
		"\n",
		"data: {\"type\":\"mystery\",\"data\":\"?\"}\n",
		"data: {\"type\":\"content\",\"data\":\"ok\"}\n",
		"data: {\"type\":\"done\"}\n",
	})

	c := New(Config{BaseURL: srv.URL})
	ch, err := c.SendStreaming(context.Background(), "s1", "q", "m")
	require.NoError(t, err)

	evs := collect(t, ch)
	require.Len(t, evs, 2)
	require.Equal(t, ContentEvent{Delta: "ok"}, evs[0])
	require.Equal(t, DoneEvent{}, evs[1])
}

func TestSendStreamingErrorEventTerminatesCleanly(t *testing.T) {
	srv := streamServer(t, []string{
		"data: {\"type\":\"error\",\"data\":\"model overloaded\"}\n",
		"data: {\"type\":\"content\",\"data\":\"never delivered\"}\n",
	})

	c := New(Config{BaseURL: srv.URL})
	ch, err := c.SendStreaming(context.Background(), "s1", "q", "m")
	require.NoError(t, err)

	evs := collect(t, ch)
	require.Len(t, evs, 1)
	require.Equal(t, ErrorEvent{Message: "model overloaded"}, evs[0])
}

func TestSendStreamingNonSuccessStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad session", http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(Config{BaseURL: srv.URL})
	_, err := c.SendStreaming(context.Background(), "s1", "q", "m")
	require.Error(t, err)
	require.Contains(t, err.Error(), fmt.Sprint(http.StatusNotFound))
}

func TestParseRecordShapes(t *testing.T) {
	ev, ok := parseRecord(`data: {"type":"content","data":"hi"}`)
	require.True(t, ok)
	require.Equal(t, ContentEvent{Delta: "hi"}, ev)

	ev, ok = parseRecord(`data:{"type":"done"}`)
	require.True(t, ok)
	require.Equal(t, DoneEvent{}, ev)

	_, ok = parseRecord(`event: ping`)
	require.False(t, ok)

	_, ok = parseRecord(``)
	require.False(t, ok)
}
