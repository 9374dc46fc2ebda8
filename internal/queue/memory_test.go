package queue

import (
	"context"
	"testing"
	"time"
)

func TestMemoryClientDelivers(t *testing.T) {
	client := NewMemoryClient(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan StepMessage, 1)
	go client.Run(ctx, func(ctx context.Context, msg StepMessage) error {
		got <- msg
		return nil
	})

	want := StepMessage{VerificationID: "ver-1", ApplicationID: "app-1", CurrentIndex: 2}
	if err := client.Send(ctx, want); err != nil {
		t.Fatalf("send: %v", err)
	}

	select {
	case msg := <-got:
		if msg.VerificationID != want.VerificationID || msg.CurrentIndex != want.CurrentIndex {
			t.Fatalf("unexpected message: %+v", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestMemoryClientFullBuffer(t *testing.T) {
	client := NewMemoryClient(1)
	ctx := context.Background()

	if err := client.Send(ctx, StepMessage{VerificationID: "ver-1"}); err != nil {
		t.Fatalf("first send: %v", err)
	}
	if err := client.Send(ctx, StepMessage{VerificationID: "ver-2"}); err == nil {
		t.Fatal("expected error when buffer is full")
	}
}
