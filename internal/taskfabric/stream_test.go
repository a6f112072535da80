package taskfabric

import (
	"context"
	"testing"
	"time"

	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/internal/testutil"
)

func TestStream_CollectsLinesUntilQuit(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := f.Enqueue(ctx, "sonic", "generate", nil)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	lines := make(chan string, 8)
	done := make(chan struct{})
	var rc int
	var streamErr error
	go func() {
		rc, streamErr = f.Stream(ctx, id, lines)
		close(done)
	}()

	// Give the subscriber a moment to attach before publishing.
	time.Sleep(50 * time.Millisecond)
	if err := f.Publish(ctx, id, "building config"); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if err := f.PublishDone(ctx, id, 0); err != nil {
		t.Fatalf("PublishDone() error = %v", err)
	}

	<-done
	if streamErr != nil {
		t.Fatalf("Stream() error = %v", streamErr)
	}
	if rc != 0 {
		t.Errorf("Stream() rc = %d, want 0", rc)
	}

	close(lines)
	var got []string
	for l := range lines {
		got = append(got, l)
	}
	if len(got) != 2 || got[0] != "building config" || got[1] != "RC: 0" {
		t.Errorf("Stream() lines = %v, want [%q %q]", got, "building config", "RC: 0")
	}

	state, err := f.State(ctx, id)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if state != model.TaskSuccess {
		t.Errorf("State() after PublishDone(rc=0) = %q, want %q", state, model.TaskSuccess)
	}
}

func TestWait_ReturnsOnceTerminal(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id, err := f.Enqueue(ctx, "sonic", "generate", nil)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = f.PublishDone(ctx, id, 2)
	}()

	res, err := f.Wait(ctx, id, 2*time.Second, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.State != model.TaskFailure {
		t.Errorf("Wait() State = %q, want %q", res.State, model.TaskFailure)
	}
	if res.RC != 2 {
		t.Errorf("Wait() RC = %d, want 2", res.RC)
	}
}

func TestWait_TimesOutWhileStillPending(t *testing.T) {
	st := testutil.NewTestStore(t)
	f := New(st, nil)
	ctx := context.Background()

	id, err := f.Enqueue(ctx, "sonic", "generate", nil)
	if err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	res, err := f.Wait(ctx, id, 30*time.Millisecond, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if res.State != model.TaskPending {
		t.Errorf("Wait() after timeout, State = %q, want %q", res.State, model.TaskPending)
	}
}
