package convo

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// ChatMessage is one entry of the append-only conversation log. Streamed
// chunks stay discrete messages; the shared StepID is what groups them.
type ChatMessage struct {
	ID          string
	Role        Role
	Content     string
	Timestamp   time.Time
	StepID      string
	IsStreaming bool
}

// ChatLog is the single writer for conversation state. All mutation goes
// through Append so interleaved async completions cannot race on the slice.
type ChatLog struct {
	mu       sync.RWMutex
	messages []ChatMessage
	nowFunc  func() time.Time
}

func NewChatLog() *ChatLog {
	return &ChatLog{nowFunc: time.Now}
}

// Append adds a message, filling ID and Timestamp when absent, and returns
// the stored copy.
func (l *ChatLog) Append(msg ChatMessage) ChatMessage {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	l.mu.Lock()
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.nowFunc()
	}
	l.messages = append(l.messages, msg)
	l.mu.Unlock()
	return msg
}

// Messages returns a snapshot in arrival order.
func (l *ChatLog) Messages() []ChatMessage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]ChatMessage, len(l.messages))
	copy(out, l.messages)
	return out
}

func (l *ChatLog) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.messages)
}
