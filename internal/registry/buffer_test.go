package registry

import (
	"testing"
	"time"

	"github.com/evfleet/ocppsim/internal/ocpp"
)

func mustCall(t *testing.T, action string) *ocpp.Frame {
	t.Helper()
	f, err := ocpp.NewCall(action, map[string]string{})
	if err != nil {
		t.Fatalf("NewCall: %v", err)
	}
	return f
}

func TestBufferFIFOOrder(t *testing.T) {
	b := NewBuffer()
	a := mustCall(t, ocpp.ActionHeartbeat)
	c := mustCall(t, ocpp.ActionStatusNotification)

	b.Enqueue(a, time.Now().Add(time.Minute))
	b.Enqueue(c, time.Now().Add(time.Minute))

	head, ok := b.Peek()
	if !ok || head.MessageID != a.MessageID {
		t.Fatalf("Peek: got %v, want first-enqueued frame", head)
	}
	b.Dequeue()

	head, ok = b.Peek()
	if !ok || head.MessageID != c.MessageID {
		t.Fatalf("Peek after Dequeue: got %v, want second frame", head)
	}
	if b.Len() != 1 {
		t.Fatalf("Len: got %d, want 1", b.Len())
	}
}

func TestBufferDropExpired(t *testing.T) {
	b := NewBuffer()
	expired := mustCall(t, ocpp.ActionHeartbeat)
	fresh := mustCall(t, ocpp.ActionStatusNotification)

	b.Enqueue(expired, time.Now().Add(-time.Second))
	b.Enqueue(fresh, time.Now().Add(time.Hour))

	dropped := b.DropExpired(time.Now())
	if len(dropped) != 1 || dropped[0].MessageID != expired.MessageID {
		t.Fatalf("DropExpired: got %v, want [expired]", dropped)
	}

	head, ok := b.Peek()
	if !ok || head.MessageID != fresh.MessageID {
		t.Fatalf("Peek: got %v, want fresh frame remaining", head)
	}
}

func TestBufferDropExpiredStopsAtFreshHead(t *testing.T) {
	b := NewBuffer()
	fresh := mustCall(t, ocpp.ActionHeartbeat)
	expiredButBehindFresh := mustCall(t, ocpp.ActionStatusNotification)

	b.Enqueue(fresh, time.Now().Add(time.Hour))
	b.Enqueue(expiredButBehindFresh, time.Now().Add(-time.Second))

	dropped := b.DropExpired(time.Now())
	if len(dropped) != 0 {
		t.Fatalf("DropExpired: got %d dropped, want 0 because FIFO head is still fresh", len(dropped))
	}
	if b.Len() != 2 {
		t.Fatalf("Len: got %d, want 2", b.Len())
	}
}

func TestBufferResponsesNeverExpire(t *testing.T) {
	b := NewBuffer()
	result, err := ocpp.NewCallResult("id-1", map[string]string{"status": "Accepted"})
	if err != nil {
		t.Fatalf("NewCallResult: %v", err)
	}
	b.Enqueue(result, time.Time{})

	dropped := b.DropExpired(time.Now().Add(24 * time.Hour))
	if len(dropped) != 0 {
		t.Fatalf("DropExpired: got %d dropped, want 0 for zero-deadline response frame", len(dropped))
	}
}
