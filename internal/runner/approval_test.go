package runner

import (
	"context"
	"testing"
	"time"
)

func TestApprovalQueueResolveApproved(t *testing.T) {
	q := NewApprovalQueue(time.Second)
	q.Register("plan-1")

	go func() {
		if err := q.Resolve("plan-1", true); err != nil {
			t.Errorf("Resolve: %v", err)
		}
	}()

	approved, err := q.Await(context.Background(), "plan-1")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !approved {
		t.Fatal("expected approved=true")
	}
}

func TestApprovalQueueResolveDenied(t *testing.T) {
	q := NewApprovalQueue(time.Second)
	q.Register("plan-2")

	go q.Resolve("plan-2", false)

	approved, err := q.Await(context.Background(), "plan-2")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if approved {
		t.Fatal("expected approved=false")
	}
}

func TestApprovalQueueTimeoutDenies(t *testing.T) {
	q := NewApprovalQueue(20 * time.Millisecond)
	q.Register("plan-3")

	approved, err := q.Await(context.Background(), "plan-3")
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if approved {
		t.Fatal("expected approved=false on timeout")
	}
}

func TestApprovalQueueContextCancelDenies(t *testing.T) {
	q := NewApprovalQueue(time.Minute)
	q.Register("plan-4")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	approved, err := q.Await(ctx, "plan-4")
	if err == nil {
		t.Fatal("expected context.Canceled")
	}
	if approved {
		t.Fatal("expected approved=false on cancellation")
	}
}

func TestApprovalQueueResolveUnknownPlanErrors(t *testing.T) {
	q := NewApprovalQueue(time.Second)
	if err := q.Resolve("never-registered", true); err == nil {
		t.Fatal("expected error resolving an unregistered plan")
	}
}

func TestApprovalQueueResolveIsIdempotent(t *testing.T) {
	q := NewApprovalQueue(time.Second)
	q.Register("plan-5")

	if err := q.Resolve("plan-5", true); err != nil {
		t.Fatalf("first Resolve: %v", err)
	}
	if err := q.Resolve("plan-5", false); err != nil {
		t.Fatalf("second Resolve should be a harmless no-op: %v", err)
	}

	approved, err := q.Await(context.Background(), "plan-5")
	if err != nil {
		t.Fatalf("Await: %v", err)
	}
	if !approved {
		t.Fatal("expected the first Resolve's decision (true) to stick")
	}
}
