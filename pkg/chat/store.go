package chat

import (
	"sync"
)

// Store is the ordered, mutable log of conversation turns for one session.
// The session controller is the sole mutator; transports never touch the
// store directly. All methods are safe for concurrent use so observers can
// snapshot while a streamed reply is still being assembled.
type Store struct {
	mu    sync.Mutex
	msgs  []Message
	index map[string]int
}

func NewStore() *Store {
	return &Store{index: map[string]int{}}
}

// AppendUser appends an immutable user turn and returns it.
func (s *Store) AppendUser(text string) Message {
	return s.append(newMessage(RoleUser, text))
}

// AppendAgent appends an agent turn and returns it. The returned message ID
// is used for later incremental updates while the reply streams in.
func (s *Store) AppendAgent(text string) Message {
	return s.append(newMessage(RoleAgent, text))
}

func (s *Store) append(m Message) Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index[m.ID] = len(s.msgs)
	s.msgs = append(s.msgs, m)
	return m
}

// SetText replaces the text of an agent message. Returns false for unknown
// IDs and for user messages, whose text is immutable once appended.
func (s *Store) SetText(id, text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.agentIndexLocked(id)
	if !ok {
		return false
	}
	s.msgs[i].Text = text
	return true
}

// AppendText appends a streamed delta to an agent message's text.
func (s *Store) AppendText(id, delta string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.agentIndexLocked(id)
	if !ok {
		return false
	}
	s.msgs[i].Text += delta
	return true
}

// SetToolCalls attaches tool invocation records to an agent message.
func (s *Store) SetToolCalls(id string, calls []ToolCall) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	i, ok := s.agentIndexLocked(id)
	if !ok {
		return false
	}
	s.msgs[i].ToolCalls = append([]ToolCall(nil), calls...)
	return true
}

func (s *Store) agentIndexLocked(id string) (int, bool) {
	i, ok := s.index[id]
	if !ok || s.msgs[i].Role != RoleAgent {
		return 0, false
	}
	return i, true
}

// Messages returns a snapshot copy of the log in append order.
func (s *Store) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.msgs))
	copy(out, s.msgs)
	for i := range out {
		out[i].ToolCalls = append([]ToolCall(nil), s.msgs[i].ToolCalls...)
	}
	return out
}

// Last returns the most recently appended message, if any.
func (s *Store) Last() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.msgs) == 0 {
		return Message{}, false
	}
	m := s.msgs[len(s.msgs)-1]
	m.ToolCalls = append([]ToolCall(nil), m.ToolCalls...)
	return m, true
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.msgs)
}

// Clear empties the log. Message IDs handed out earlier become unknown.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = nil
	s.index = map[string]int{}
}
