package agent

import (
	"errors"
	"testing"
)

func TestMessageLifecycle(t *testing.T) {
	msg := NewMessage("api", "writer", &Task{Type: "write"})

	if msg.ID == "" {
		t.Fatal("expected a generated message id")
	}
	if msg.Status() != MessagePending {
		t.Fatalf("expected pending, got %s", msg.Status())
	}
	if msg.CreatedAt().IsZero() {
		t.Error("expected a creation timestamp")
	}

	if err := msg.MarkProcessing(); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if msg.Status() != MessageProcessing {
		t.Fatalf("expected processing, got %s", msg.Status())
	}

	if err := msg.MarkCompleted("result"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	if msg.Status() != MessageCompleted {
		t.Fatalf("expected completed, got %s", msg.Status())
	}
	if msg.Result() != "result" {
		t.Errorf("expected stored result, got %v", msg.Result())
	}
	if msg.CompletedAt().IsZero() {
		t.Error("expected a completion timestamp")
	}
}

func TestMessageTerminalStatesAreFinal(t *testing.T) {
	msg := NewMessage("api", "writer", nil)
	msg.MarkProcessing()
	msg.MarkCompleted(42)

	if err := msg.MarkFailed(errors.New("late failure")); err == nil {
		t.Error("expected marking a completed message failed to error")
	}
	if msg.Status() != MessageCompleted {
		t.Fatalf("completed message changed state to %s", msg.Status())
	}
	if msg.Err() != nil {
		t.Error("completed message gained an error record")
	}
	if err := msg.MarkProcessing(); err == nil {
		t.Error("expected re-processing a completed message to error")
	}
}

func TestMessageIllegalTransitions(t *testing.T) {
	msg := NewMessage("api", "writer", nil)

	// Completing or failing a pending message is rejected and changes nothing.
	if err := msg.MarkCompleted("early"); err == nil {
		t.Error("expected completing a pending message to error")
	}
	if err := msg.MarkFailed(errors.New("early")); err == nil {
		t.Error("expected failing a pending message to error")
	}
	if msg.Status() != MessagePending {
		t.Fatalf("expected message to stay pending, got %s", msg.Status())
	}

	msg.MarkProcessing()
	if err := msg.MarkProcessing(); err == nil {
		t.Error("expected double mark-processing to error")
	}
}

func TestMessageFailureRecord(t *testing.T) {
	msg := NewMessage("api", "writer", nil)
	msg.MarkProcessing()

	boom := errors.New("boom")
	if err := msg.MarkFailed(boom); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	if msg.Status() != MessageFailed {
		t.Fatalf("expected failed, got %s", msg.Status())
	}
	if !errors.Is(msg.Err(), boom) {
		t.Errorf("expected failure record, got %v", msg.Err())
	}
	if msg.CompletedAt().IsZero() {
		t.Error("expected a completion timestamp on failure")
	}
}
