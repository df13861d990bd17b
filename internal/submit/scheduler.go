package submit

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// TaskState describes what a scheduled submission task is currently doing.
type TaskState string

const (
	// TaskRunning means an attempt is in flight.
	TaskRunning TaskState = "running"
	// TaskWaiting means the task sits in a backoff delay before its next
	// attempt.
	TaskWaiting TaskState = "waiting"
)

// Task is the externally visible snapshot of a scheduled submission unit.
type Task struct {
	RecordID      string
	State         TaskState
	NextAttemptAt time.Time
}

// Scheduler tracks the active submission task per record as a first-class,
// cancellable unit of work. Pending retries can be enumerated and cancelled
// deterministically, which is what withdrawal relies on.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	cancel context.CancelFunc
	state  TaskState
	next   time.Time
}

func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// Register creates the cancellable context for a record's submission task.
// A second registration for the same record is refused, enforcing at most
// one task per record within the process.
func (s *Scheduler) Register(ctx context.Context, recordID string) (context.Context, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[recordID]; ok {
		return nil, fmt.Errorf("record %s already has an active submission task", recordID)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	s.tasks[recordID] = &task{cancel: cancel, state: TaskRunning}

	return taskCtx, nil
}

// Release removes the record's task. The task's context is cancelled to
// release its resources.
func (s *Scheduler) Release(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[recordID]; ok {
		t.cancel()
		delete(s.tasks, recordID)
	}
}

// MarkWaiting flags the task as sitting in a backoff delay until next.
func (s *Scheduler) MarkWaiting(recordID string, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[recordID]; ok {
		t.state = TaskWaiting
		t.next = next
	}
}

// MarkRunning flags the task as attempting a submission.
func (s *Scheduler) MarkRunning(recordID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[recordID]; ok {
		t.state = TaskRunning
		t.next = time.Time{}
	}
}

// Cancel cancels the record's task, aborting an in-flight attempt or a
// pending retry. It reports whether a task was found.
func (s *Scheduler) Cancel(recordID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[recordID]
	if !ok {
		return false
	}

	t.cancel()
	return true
}

// Tasks returns a snapshot of all active tasks.
func (s *Scheduler) Tasks() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	tasks := make([]Task, 0, len(s.tasks))
	for id, t := range s.tasks {
		tasks = append(tasks, Task{RecordID: id, State: t.state, NextAttemptAt: t.next})
	}
	return tasks
}

// PendingRetries returns the record IDs currently waiting on a backoff delay.
func (s *Scheduler) PendingRetries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var ids []string
	for id, t := range s.tasks {
		if t.state == TaskWaiting {
			ids = append(ids, id)
		}
	}
	return ids
}
