package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/ajitpratap0/datapkg/pkg/errors"
)

// TaskStatus is the status of a user visible step.
type TaskStatus string

const (
	TaskRunning TaskStatus = "RUNNING"
	TaskError   TaskStatus = "ERROR"
	TaskSuccess TaskStatus = "SUCCESS"
)

// Task is a named, user visible step of a job.
type Task interface {
	Message() string
	Status() TaskStatus
	SetMessage(message string)
	// End finishes the task. It may be called once; a second call panics.
	End(status TaskStatus, message string)
	AddSubTask(message string) Task
	SubTasks() []Task
}

// TaskObserver is told about task changes, typically to render them.
type TaskObserver func(t *TaskNode)

// TaskNode is the standard Task implementation.
type TaskNode struct {
	mu       sync.Mutex
	message  string
	status   TaskStatus
	started  time.Time
	ended    time.Time
	children []*TaskNode
	depth    int
	observer TaskObserver
}

// NewTask starts a root task. observer may be nil.
func NewTask(message string, observer TaskObserver) *TaskNode {
	t := &TaskNode{message: message, status: TaskRunning, started: time.Now(), observer: observer}
	t.notify()
	return t
}

func (t *TaskNode) Message() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.message
}

func (t *TaskNode) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Depth is 0 for root tasks.
func (t *TaskNode) Depth() int { return t.depth }

// Duration is the elapsed time, up to End when ended.
func (t *TaskNode) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ended.IsZero() {
		return time.Since(t.started)
	}
	return t.ended.Sub(t.started)
}

func (t *TaskNode) SetMessage(message string) {
	t.mu.Lock()
	if t.status != TaskRunning {
		t.mu.Unlock()
		panic(errors.New(errors.ErrorTypeInternal, fmt.Sprintf("task %q already ended", t.message)))
	}
	t.message = message
	t.mu.Unlock()
	t.notify()
}

func (t *TaskNode) End(status TaskStatus, message string) {
	if status == TaskRunning {
		panic(errors.New(errors.ErrorTypeInternal, "a task cannot end in RUNNING"))
	}

	t.mu.Lock()
	if t.status != TaskRunning {
		prev := t.message
		t.mu.Unlock()
		panic(errors.New(errors.ErrorTypeInternal, fmt.Sprintf("task %q ended twice", prev)))
	}
	t.status = status
	if message != "" {
		t.message = message
	}
	t.ended = time.Now()
	t.mu.Unlock()
	t.notify()
}

func (t *TaskNode) AddSubTask(message string) Task {
	child := &TaskNode{
		message:  message,
		status:   TaskRunning,
		started:  time.Now(),
		depth:    t.depth + 1,
		observer: t.observer,
	}
	t.mu.Lock()
	t.children = append(t.children, child)
	t.mu.Unlock()
	child.notify()
	return child
}

func (t *TaskNode) SubTasks() []Task {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Task, len(t.children))
	for i, c := range t.children {
		out[i] = c
	}
	return out
}

func (t *TaskNode) notify() {
	if t.observer != nil {
		t.observer(t)
	}
}
