package bus

import (
	"context"
	"errors"
	"testing"
	"time"
)

type nopTrigger struct{ channel string }

func (t nopTrigger) Kind() TriggerKind { return TriggerConsole }
func (t nopTrigger) ChannelID() string { return t.channel }
func (t nopTrigger) Deliver(context.Context, Reply) error { return nil }

func TestWorkQueue_FIFO(t *testing.T) {
	q := NewWorkQueue(10)
	defer q.Close()
	ctx := context.Background()

	for _, p := range []string{"first", "second", "third"} {
		if err := q.Enqueue(ctx, NewRequest(nopTrigger{"c"}, p, "", "c")); err != nil {
			t.Fatalf("enqueue %s: %v", p, err)
		}
	}
	if q.Len() != 3 || q.Enqueued() != 3 {
		t.Fatalf("expected 3 queued, got len=%d enqueued=%d", q.Len(), q.Enqueued())
	}

	for _, want := range []string{"first", "second", "third"} {
		req, ok := q.Dequeue(ctx)
		if !ok {
			t.Fatalf("dequeue returned ok=false")
		}
		if req.Prompt != want {
			t.Fatalf("expected %q, got %q", want, req.Prompt)
		}
		if req.ID == "" {
			t.Fatalf("expected request id to be set")
		}
	}
}

func TestWorkQueue_EnqueueBlocksWhenFullUntilContextDone(t *testing.T) {
	q := NewWorkQueue(1)
	defer q.Close()

	if err := q.Enqueue(context.Background(), Request{Prompt: "a"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Enqueue(ctx, Request{Prompt: "b"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("blocked request must not be queued, len=%d", q.Len())
	}
}

func TestWorkQueue_ClosedQueue(t *testing.T) {
	q := NewWorkQueue(1)
	q.Close()
	q.Close()

	if err := q.Enqueue(context.Background(), Request{}); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}
	if _, ok := q.Dequeue(context.Background()); ok {
		t.Fatalf("expected closed dequeue to return ok=false")
	}
}

func TestWorkQueue_DequeueHonoursContext(t *testing.T) {
	q := NewWorkQueue(1)
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := q.Dequeue(ctx); ok {
		t.Fatalf("expected cancelled dequeue to return ok=false")
	}
}

func TestWorkQueue_Counters(t *testing.T) {
	q := NewWorkQueue(0)
	q.MarkProcessed()
	q.MarkProcessed()
	q.MarkFailed()
	if q.Processed() != 2 || q.Failed() != 1 {
		t.Fatalf("unexpected counters processed=%d failed=%d", q.Processed(), q.Failed())
	}
}

func TestTriggerKindString(t *testing.T) {
	cases := map[TriggerKind]string{
		TriggerDirectMessage: "message",
		TriggerCommand:       "command",
		TriggerScheduled:     "scheduled",
		TriggerConsole:       "console",
		TriggerKind(99):      "unknown",
	}
	for k, want := range cases {
		if k.String() != want {
			t.Fatalf("%d.String() = %q, want %q", k, k.String(), want)
		}
	}
}
