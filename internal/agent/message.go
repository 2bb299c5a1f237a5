package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MessageStatus is the state of a routed request envelope. Transitions are
// monotonic: pending → processing → completed|failed. Terminal states never
// change.
type MessageStatus string

const (
	MessagePending    MessageStatus = "pending"
	MessageProcessing MessageStatus = "processing"
	MessageCompleted  MessageStatus = "completed"
	MessageFailed     MessageStatus = "failed"
)

// Message is a typed, stateful request/response envelope routed to a single
// agent. ID, Sender, and Receiver are fixed at construction; the status,
// result, and error fields are mutated in place by the routing call and read
// by the caller after it returns.
type Message struct {
	ID       string
	Sender   string
	Receiver string
	Data     *Task

	mu          sync.Mutex
	status      MessageStatus
	result      any
	err         error
	createdAt   time.Time
	completedAt time.Time
}

// NewMessage builds a pending envelope addressed to receiver.
func NewMessage(sender, receiver string, data *Task) *Message {
	return &Message{
		ID:        uuid.New().String(),
		Sender:    sender,
		Receiver:  receiver,
		Data:      data,
		status:    MessagePending,
		createdAt: time.Now(),
	}
}

// MarkProcessing moves the envelope from pending to processing. Any other
// starting state is an error and leaves the envelope untouched.
func (m *Message) MarkProcessing() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != MessagePending {
		return fmt.Errorf("message %s: cannot mark processing from %s", m.ID, m.status)
	}
	m.status = MessageProcessing
	return nil
}

// MarkCompleted stores the result and stamps the completion time. Only valid
// from processing.
func (m *Message) MarkCompleted(result any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != MessageProcessing {
		return fmt.Errorf("message %s: cannot mark completed from %s", m.ID, m.status)
	}
	m.status = MessageCompleted
	m.result = result
	m.completedAt = time.Now()
	return nil
}

// MarkFailed stores the failure and stamps the completion time. Only valid
// from processing; terminal states are never overwritten.
func (m *Message) MarkFailed(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status != MessageProcessing {
		return fmt.Errorf("message %s: cannot mark failed from %s", m.ID, m.status)
	}
	m.status = MessageFailed
	m.err = err
	m.completedAt = time.Now()
	return nil
}

func (m *Message) Status() MessageStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

func (m *Message) Result() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

func (m *Message) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Message) CreatedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createdAt
}

// CompletedAt is zero until the envelope reaches a terminal state.
func (m *Message) CompletedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.completedAt
}
