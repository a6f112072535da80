// Package taskfabric implements the Task Fabric (spec §4.1): a distributed
// task queue with global and per-entity locking, pub/sub streaming of task
// output, and a cooperative admission lock.
package taskfabric

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgryski/go-rendezvous"

	"github.com/fabricwright/conductor/internal/model"
	"github.com/fabricwright/conductor/internal/store"
)

const admissionLockKey = "task_lock"

// Fabric is the Task Fabric: enqueue, stream, wait, acquire/release, and
// the global admission gate, all backed by a Store.
type Fabric struct {
	st      *store.Store
	workers *rendezvous.Rendezvous // queue name -> worker identity, for ownership reporting only
}

// New builds a Fabric over st. workerIdentities names the worker-pool
// members used for rendezvous-hashing queue ownership reporting (does not
// affect dispatch correctness — any worker in the pool may serve any task
// popped for its queue).
func New(st *store.Store, workerIdentities []string) *Fabric {
	var workers *rendezvous.Rendezvous
	if len(workerIdentities) > 0 {
		workers = rendezvous.New(workerIdentities, func(s string) uint64 {
			return xxhash.Sum64String(s)
		})
	}
	return &Fabric{st: st, workers: workers}
}

// OwnerFor reports which worker identity is nominally responsible for a
// queue, for metrics/ownership display only.
func (f *Fabric) OwnerFor(queue string) string {
	if f.workers == nil {
		return ""
	}
	return f.workers.Lookup(queue)
}

// Enqueue durably queues a task and returns its id immediately.
func (f *Fabric) Enqueue(ctx context.Context, queue, funcName string, args []string) (string, error) {
	locked, err := f.IsAdmissionLocked(ctx)
	if err != nil {
		return "", err
	}
	if locked != nil {
		return "", fmt.Errorf("taskfabric: admission locked by %s: %s", locked.User, locked.Reason)
	}

	id := newTaskID()
	task := model.Task{ID: id, Queue: queue, Func: funcName, Args: args, State: model.TaskPending}
	if err := f.saveTask(ctx, &task); err != nil {
		return "", err
	}
	payload, _ := json.Marshal(task)
	if err := f.st.Enqueue(ctx, queue, string(payload)); err != nil {
		return "", err
	}
	return id, nil
}

func (f *Fabric) saveTask(ctx context.Context, t *model.Task) error {
	fields := map[string]string{
		"queue": t.Queue,
		"func":  t.Func,
		"state": string(t.State),
	}
	if t.RC != nil {
		fields["rc"] = strconv.Itoa(*t.RC)
	}
	return f.st.HSetAll(ctx, taskMetaKey(t.ID), fields)
}

func taskMetaKey(id string) string { return "task:" + id + ":meta" }
func taskChannel(id string) string { return "task:" + id + ":out" }

// State reads the current task state (UNAVAILABLE if unknown to the Store).
func (f *Fabric) State(ctx context.Context, taskID string) (model.TaskState, error) {
	fields, err := f.st.HGetAll(ctx, taskMetaKey(taskID))
	if err != nil {
		return "", err
	}
	if len(fields) == 0 {
		return model.TaskUnavailable, nil
	}
	return model.TaskState(fields["state"]), nil
}

var rcLine = regexp.MustCompile(`^RC: (-?\d+)$`)

// Stream yields output lines for taskID until a line equal to "QUIT" is
// observed (spec §4.1 output protocol). It is a blocking call; cancel ctx
// to stop early.
func (f *Fabric) Stream(ctx context.Context, taskID string, lines chan<- string) (int, error) {
	sub := f.st.Subscribe(ctx, taskChannel(taskID))
	defer sub.Close()

	rc := 0
	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return rc, ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return rc, fmt.Errorf("taskfabric: stream for %s closed unexpectedly", taskID)
			}
			scanner := bufio.NewScanner(strings.NewReader(msg.Payload))
			for scanner.Scan() {
				line := scanner.Text()
				if line == "QUIT" {
					return rc, nil
				}
				if m := rcLine.FindStringSubmatch(line); m != nil {
					rc, _ = strconv.Atoi(m[1])
				}
				if lines != nil {
					lines <- line
				}
			}
		}
	}
}

// Publish writes a line of task output onto the per-task channel. A
// producer signals clean termination with PublishDone.
func (f *Fabric) Publish(ctx context.Context, taskID, line string) error {
	return f.st.Publish(ctx, taskChannel(taskID), line)
}

// PublishDone emits the "RC: <n>\nQUIT" termination sentinel and updates
// the task's recorded state and return code.
func (f *Fabric) PublishDone(ctx context.Context, taskID string, rc int) error {
	state := model.TaskSuccess
	if rc != 0 {
		state = model.TaskFailure
	}
	if err := f.st.HSetAll(ctx, taskMetaKey(taskID), map[string]string{
		"state": string(state),
		"rc":    strconv.Itoa(rc),
	}); err != nil {
		return err
	}
	if err := f.st.Publish(ctx, taskChannel(taskID), fmt.Sprintf("RC: %d", rc)); err != nil {
		return err
	}
	return f.st.Publish(ctx, taskChannel(taskID), "QUIT")
}

// WaitResult is returned by Wait.
type WaitResult struct {
	State model.TaskState
	RC    int
}

// Wait polls task state every pollInterval until it is SUCCESS, FAILURE or
// UNAVAILABLE (returning the recorded rc), or until timeout elapses, in
// which case it returns the last observed state with RC 0. Task output is
// not watched: there is no idle-output timeout.
func (f *Fabric) Wait(ctx context.Context, taskID string, timeout, pollInterval time.Duration) (WaitResult, error) {
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		state, err := f.State(ctx, taskID)
		if err != nil {
			return WaitResult{}, err
		}
		if state == model.TaskSuccess || state == model.TaskFailure || state == model.TaskUnavailable {
			rc := 0
			fields, _ := f.st.HGetAll(ctx, taskMetaKey(taskID))
			if v, ok := fields["rc"]; ok {
				rc, _ = strconv.Atoi(v)
			}
			return WaitResult{State: state, RC: rc}, nil
		}
		if time.Now().After(deadline) {
			return WaitResult{State: state}, nil
		}
		select {
		case <-ctx.Done():
			return WaitResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Acquire takes a named per-entity or subsystem lock with a mandatory
// auto-release TTL (spec §4.1, §5).
func (f *Fabric) Acquire(ctx context.Context, lockName string, autoRelease time.Duration) (*store.LockHandle, error) {
	return f.st.Acquire(ctx, lockName, autoRelease)
}

// Release releases a previously-acquired lock.
func (f *Fabric) Release(ctx context.Context, h *store.LockHandle) error {
	return f.st.Release(ctx, h)
}

// AdmissionLock is the body stored under the well-known admission-lock key.
type AdmissionLock struct {
	Locked    bool      `json:"locked"`
	User      string    `json:"user"`
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason,omitempty"`
}

// SetAdmissionLock sets the global gate that new task enqueues must check.
func (f *Fabric) SetAdmissionLock(ctx context.Context, user, reason string) error {
	body := AdmissionLock{Locked: true, User: user, Timestamp: time.Now(), Reason: reason}
	raw, _ := json.Marshal(body)
	return f.st.Set(ctx, admissionLockKey, string(raw), 0)
}

// ClearAdmissionLock removes the gate.
func (f *Fabric) ClearAdmissionLock(ctx context.Context) error {
	return f.st.Delete(ctx, admissionLockKey)
}

// IsAdmissionLocked returns the lock body if set, or nil if clear.
func (f *Fabric) IsAdmissionLocked(ctx context.Context) (*AdmissionLock, error) {
	raw, ok, err := f.st.Get(ctx, admissionLockKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	var lock AdmissionLock
	if err := json.Unmarshal([]byte(raw), &lock); err != nil {
		return nil, fmt.Errorf("taskfabric: decode admission lock: %w", err)
	}
	return &lock, nil
}

var taskIDCounter uint64

// newTaskID generates a task id. A counter plus timestamp is enough here:
// ids only need to be unique within one Fabric process, never parsed back
// into a UUID, and never compared across processes.
func newTaskID() string {
	taskIDCounter++
	return fmt.Sprintf("t-%d-%d", time.Now().UnixNano(), taskIDCounter)
}
