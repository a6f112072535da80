package taskfabric

import (
	"context"
	"testing"
	"time"

	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/internal/testutil"
)

func TestEnqueue_SetsPendingState(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)

	id, err := f.Enqueue(context.Background(), "sonic", "generate", []string{"sw1"})
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if id == "" {
		t.Fatal("Enqueue() returned empty id")
	}

	state, err := f.State(context.Background(), id)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != model.TaskPending {
		t.Errorf("State() = %q, want %q", state, model.TaskPending)
	}
}

func TestState_UnknownTaskIsUnavailable(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)

	state, err := f.State(context.Background(), "does-not-exist")
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != model.TaskUnavailable {
		t.Errorf("State() = %q, want %q", state, model.TaskUnavailable)
	}
}

func TestEnqueue_RejectedWhileAdmissionLocked(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)
	ctx := context.Background()

	if err := f.SetAdmissionLock(ctx, "operator", "maintenance window"); err != nil {
		t.Fatalf("SetAdmissionLock() error = %v", err)
	}

	if _, err := f.Enqueue(ctx, "sonic", "generate", nil); err == nil {
		t.Fatal("expected Enqueue to be rejected while the admission lock is held")
	}

	if err := f.ClearAdmissionLock(ctx); err != nil {
		t.Fatalf("ClearAdmissionLock() error = %v", err)
	}
	if _, err := f.Enqueue(ctx, "sonic", "generate", nil); err != nil {
		t.Fatalf("Enqueue() after clearing the lock, error = %v", err)
	}
}

func TestIsAdmissionLocked_ReflectsCurrentState(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)
	ctx := context.Background()

	lock, err := f.IsAdmissionLocked(ctx)
	if err != nil {
		t.Fatalf("IsAdmissionLocked() error = %v", err)
	}
	if lock != nil {
		t.Fatal("expected no admission lock initially")
	}

	if err := f.SetAdmissionLock(ctx, "operator", "reason"); err != nil {
		t.Fatalf("SetAdmissionLock() error = %v", err)
	}
	lock, err = f.IsAdmissionLocked(ctx)
	if err != nil {
		t.Fatalf("IsAdmissionLocked() error = %v", err)
	}
	if lock == nil || lock.User != "operator" || lock.Reason != "reason" {
		t.Errorf("IsAdmissionLocked() = %#v, want a lock held by operator", lock)
	}
}

func TestPublishDone_SetsTerminalStateAndRC(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)
	ctx := context.Background()

	id, err := f.Enqueue(ctx, "sonic", "generate", nil)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := f.PublishDone(ctx, id, 1); err != nil {
		t.Fatalf("PublishDone() error = %v", err)
	}

	state, err := f.State(ctx, id)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != model.TaskFailure {
		t.Errorf("State() after non-zero rc = %q, want %q", state, model.TaskFailure)
	}
}

func TestAcquireRelease_MutualExclusion(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)
	ctx := context.Background()

	h, err := f.Acquire(ctx, "device:sw1", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	if h == nil {
		t.Fatal("Acquire() returned nil handle")
	}

	if _, err := f.Acquire(ctx, "device:sw1", 10*time.Second); err == nil {
		t.Fatal("expected a second Acquire of the same lock to fail while held")
	}

	if err := f.Release(ctx, h); err != nil {
		t.Fatalf("Release() error = %v", err)
	}

	h2, err := f.Acquire(ctx, "device:sw1", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire() after Release, error = %v", err)
	}
	_ = h2
}

func TestOwnerFor_NoWorkersConfigured(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)

	if got := f.OwnerFor("sonic"); got != "" {
		t.Errorf("OwnerFor() with no workers configured = %q, want empty", got)
	}
}

func TestOwnerFor_ConsistentForSameQueue(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, []string{"worker-a", "worker-b", "worker-c"})

	first := f.OwnerFor("sonic")
	second := f.OwnerFor("sonic")
	if first == "" {
		t.Fatal("OwnerFor() returned empty owner with workers configured")
	}
	if first != second {
		t.Errorf("OwnerFor() is not stable across calls: %q != %q", first, second)
	}
}
