package gate

import (
	"context"
	"testing"
	"time"
)

func TestCheckAutoAllowsSafeToolUnderStandard(t *testing.T) {
	g := New(Options{Level: LevelStandard})
	decision, err := g.Check(context.Background(), "terminal", "ls -la")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if !decision.Allowed {
		t.Fatalf("expected safe command auto-allowed, got denied: %s", decision.Reason)
	}
}

func TestCheckBlocksForkBomb(t *testing.T) {
	g := New(Options{Level: LevelRelaxed})
	decision, err := g.Check(context.Background(), "terminal", ":(){ :|:& };:")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected fork bomb to be blocked even under relaxed policy")
	}
}

func TestCheckSuspendsAndResolvesApproval(t *testing.T) {
	g := New(Options{Level: LevelStandard, ApprovalTimeout: 2 * time.Second})

	type outcome struct {
		decision Decision
		err      error
	}
	done := make(chan outcome, 1)
	go func() {
		decision, err := g.Check(context.Background(), "terminal", "rm -rf /tmp/build")
		done <- outcome{decision, err}
	}()

	var reqID string
	deadline := time.After(time.Second)
	for reqID == "" {
		select {
		case <-deadline:
			t.Fatal("timed out waiting for approval request to appear")
		default:
			pending := g.PendingApprovals()
			if len(pending) > 0 {
				reqID = pending[0].RequestID
			}
		}
	}

	if err := g.ResolveApproval(reqID, ActionApprove, ""); err != nil {
		t.Fatalf("ResolveApproval: %v", err)
	}

	select {
	case out := <-done:
		if out.err != nil {
			t.Fatalf("Check: %v", out.err)
		}
		if !out.decision.Allowed {
			t.Fatalf("expected approval to allow the call, got: %s", out.decision.Reason)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Check did not return after approval was resolved")
	}
}

func TestCheckApprovalTimeout(t *testing.T) {
	g := New(Options{Level: LevelStandard, ApprovalTimeout: 50 * time.Millisecond})
	decision, err := g.Check(context.Background(), "terminal", "rm -rf /tmp/build")
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if decision.Allowed {
		t.Fatal("expected unresolved approval to deny after timeout")
	}
}

func TestResolveApprovalUnknownRequest(t *testing.T) {
	g := New(Options{})
	if err := g.ResolveApproval("does-not-exist", ActionApprove, ""); err == nil {
		t.Fatal("expected error resolving an unknown request")
	}
}

func TestWrapRelaxedSkipsApproval(t *testing.T) {
	g := New(Options{Level: LevelRelaxed})
	called := false
	wrapped := g.Wrap("terminal", func(ctx context.Context, input string) (string, error) {
		called = true
		return "ok", nil
	})
	out, err := wrapped(context.Background(), "rm -rf /")
	if err != nil {
		t.Fatalf("wrapped tool: %v", err)
	}
	if !called || out != "ok" {
		t.Fatalf("expected tool to run under relaxed policy, got out=%q called=%v", out, called)
	}
}

// resolvePendingAsync waits for the next pending approval and resolves it.
func resolvePendingAsync(t *testing.T, g *Gate, action ApprovalAction, feedback string) {
	t.Helper()
	go func() {
		deadline := time.After(time.Second)
		for {
			select {
			case <-deadline:
				return
			default:
				pending := g.PendingApprovals()
				if len(pending) > 0 {
					_ = g.ResolveApproval(pending[0].RequestID, action, feedback)
					return
				}
			}
		}
	}()
}

func TestWrapDenialReturnsStringResult(t *testing.T) {
	g := New(Options{Level: LevelStandard, ApprovalTimeout: 2 * time.Second})
	called := false
	wrapped := g.Wrap("terminal", func(ctx context.Context, input string) (string, error) {
		called = true
		return "ran", nil
	})

	resolvePendingAsync(t, g, ActionDeny, "")
	out, err := wrapped(context.Background(), "rm -rf ./out")
	if err != nil {
		t.Fatalf("denial must not surface as an error, got: %v", err)
	}
	if called {
		t.Fatal("denied tool must not execute")
	}
	if want := "⛔ Operation denied: "; len(out) < len(want) || out[:len(want)] != want {
		t.Fatalf("expected denial string result, got %q", out)
	}
}

func TestWrapInstructSurfacesFeedbackToModel(t *testing.T) {
	g := New(Options{Level: LevelStandard, ApprovalTimeout: 2 * time.Second})
	called := false
	wrapped := g.Wrap("terminal", func(ctx context.Context, input string) (string, error) {
		called = true
		return "", nil
	})

	resolvePendingAsync(t, g, ActionInstruct, "use safer path")
	out, err := wrapped(context.Background(), "rm -rf ./out")
	if err != nil {
		t.Fatalf("instruct must not surface as an error, got: %v", err)
	}
	if called {
		t.Fatal("instructed tool must not execute")
	}
	if out != "⚠️ 用户要求你重新考虑：[用户指示] use safer path" {
		t.Fatalf("unexpected instruct result: %q", out)
	}
}

func TestApprovalRequestIDIsEightHex(t *testing.T) {
	id := newRequestID()
	if len(id) != 8 {
		t.Fatalf("expected 8-char request id, got %q", id)
	}
	for _, c := range id {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
			t.Fatalf("expected hex request id, got %q", id)
		}
	}
}
