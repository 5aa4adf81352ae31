package cencdec

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mohaanymo/cencdec/internal/config"
	"github.com/mohaanymo/cencdec/internal/models"
)

// TaskState represents the current state of a decryption task.
type TaskState = models.TaskState

const (
	TaskPending   = models.TaskPending
	TaskRunning   = models.TaskRunning
	TaskCompleted = models.TaskCompleted
	TaskFailed    = models.TaskFailed
	TaskCanceled  = models.TaskCanceled
)

// ErrTaskCanceled is returned by WaitForTask for a canceled task.
var ErrTaskCanceled = errors.New("task canceled")

// Task represents a file decryption in the queue.
type Task struct {
	ID          string
	Input       string
	Output      string
	Options     []Option
	State       TaskState
	Error       error
	Progress    ProgressUpdate
	Stats       Stats
	Tracks      []*Track
	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
	mu     sync.RWMutex
}

// Snapshot returns the current state, progress and error of the task.
func (t *Task) Snapshot() (TaskState, ProgressUpdate, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.State, t.Progress, t.Error
}

// Manager runs queued file decryptions with concurrency control.
type Manager struct {
	title         string
	maxConcurrent int
	tasks         sync.Map // map[string]*Task
	taskOrder     []string
	orderMu       sync.RWMutex

	queue   chan *Task
	active  atomic.Int32
	wg      sync.WaitGroup
	pending sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	running bool

	// Callbacks
	onStateChange func(task *Task)
	onProgress    func(task *Task)
	onComplete    func(task *Task)
	onError       func(task *Task, err error)
	observers     []func(task *Task)

	// Default options applied to all tasks
	defaultOptions []Option

	mu sync.RWMutex
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithTitle sets the manager title shown by the UI.
func WithTitle(t string) ManagerOption {
	return func(m *Manager) {
		m.title = t
	}
}

// WithMaxConcurrent sets the maximum number of concurrent decryptions.
func WithMaxConcurrent(n int) ManagerOption {
	return func(m *Manager) {
		m.maxConcurrent = min(max(n, config.MinConcurrent), config.MaxConcurrent)
	}
}

// WithDefaultOptions sets default options applied to all tasks.
func WithDefaultOptions(opts ...Option) ManagerOption {
	return func(m *Manager) {
		m.defaultOptions = opts
	}
}

// WithOnStateChange sets a callback for task state changes.
func WithOnStateChange(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onStateChange = fn
	}
}

// WithOnProgress sets a callback for progress updates.
func WithOnProgress(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onProgress = fn
	}
}

// WithOnComplete sets a callback for task completion.
func WithOnComplete(fn func(task *Task)) ManagerOption {
	return func(m *Manager) {
		m.onComplete = fn
	}
}

// WithOnError sets a callback for task errors.
func WithOnError(fn func(task *Task, err error)) ManagerOption {
	return func(m *Manager) {
		m.onError = fn
	}
}

// NewManager creates a new decryption manager.
func NewManager(opts ...ManagerOption) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	m := &Manager{
		maxConcurrent: config.DefaultMaxConcurrent,
		queue:         make(chan *Task, 1000),
		ctx:           ctx,
		cancel:        cancel,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Title returns the manager title.
func (m *Manager) Title() string {
	return m.title
}

// Start begins processing the queue.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.running = true

	for i := 0; i < m.maxConcurrent; i++ {
		m.wg.Add(1)
		go m.worker()
	}
}

// Stop cancels running tasks, marks queued ones canceled and waits for
// the workers to exit.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.queue)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) worker() {
	defer m.wg.Done()

	for task := range m.queue {
		m.active.Add(1)
		m.processTask(task)
		m.active.Add(-1)
	}
}

// AddTask queues the decryption of input. Options are applied after the
// manager's default options.
func (m *Manager) AddTask(id, input string, opts ...Option) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.running {
		return nil, fmt.Errorf("manager not started, call Start() first")
	}

	allOpts := make([]Option, 0, len(m.defaultOptions)+len(opts))
	allOpts = append(allOpts, m.defaultOptions...)
	allOpts = append(allOpts, opts...)

	task := &Task{
		ID:        id,
		Input:     input,
		Options:   allOpts,
		State:     TaskPending,
		CreatedAt: time.Now(),
		done:      make(chan struct{}),
	}

	if _, exists := m.tasks.LoadOrStore(id, task); exists {
		return nil, fmt.Errorf("task with ID %q already exists", id)
	}

	m.pending.Add(1)
	select {
	case m.queue <- task:
	default:
		m.pending.Done()
		m.tasks.Delete(id)
		return nil, fmt.Errorf("queue is full")
	}

	m.orderMu.Lock()
	m.taskOrder = append(m.taskOrder, id)
	m.orderMu.Unlock()

	return task, nil
}

// GetTask returns a task by ID.
func (m *Manager) GetTask(id string) *Task {
	if t, ok := m.tasks.Load(id); ok {
		return t.(*Task)
	}
	return nil
}

// GetAllTasks returns all tasks in order.
func (m *Manager) GetAllTasks() []*Task {
	m.orderMu.RLock()
	defer m.orderMu.RUnlock()

	tasks := make([]*Task, 0, len(m.taskOrder))
	for _, id := range m.taskOrder {
		if t, ok := m.tasks.Load(id); ok {
			tasks = append(tasks, t.(*Task))
		}
	}
	return tasks
}

// GetActiveTasks returns the tasks being decrypted.
func (m *Manager) GetActiveTasks() []*Task {
	var active []*Task
	for _, task := range m.GetAllTasks() {
		if state, _, _ := task.Snapshot(); state == TaskRunning {
			active = append(active, task)
		}
	}
	return active
}

// GetPendingCount returns the number of pending tasks.
func (m *Manager) GetPendingCount() int {
	return m.Stats().Pending
}

// CancelTask cancels a pending or running task.
func (m *Manager) CancelTask(id string) error {
	t, ok := m.tasks.Load(id)
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}

	task := t.(*Task)
	task.mu.Lock()
	if task.State.Finished() {
		task.mu.Unlock()
		return fmt.Errorf("task already finished")
	}

	if task.cancel != nil {
		// The worker marks the task canceled when Decrypt returns.
		task.cancel()
		task.mu.Unlock()
		return nil
	}
	task.State = TaskCanceled
	task.CompletedAt = time.Now()
	task.mu.Unlock()

	m.notifyStateChange(task)
	return nil
}

// RemoveTask removes a completed, failed or canceled task.
func (m *Manager) RemoveTask(id string) error {
	t, ok := m.tasks.Load(id)
	if !ok {
		return fmt.Errorf("task %q not found", id)
	}

	task := t.(*Task)
	if state, _, _ := task.Snapshot(); !state.Finished() {
		return fmt.Errorf("cannot remove active task")
	}

	m.tasks.Delete(id)

	m.orderMu.Lock()
	for i, tid := range m.taskOrder {
		if tid == id {
			m.taskOrder = append(m.taskOrder[:i], m.taskOrder[i+1:]...)
			break
		}
	}
	m.orderMu.Unlock()

	return nil
}

// Stats returns current manager statistics.
func (m *Manager) Stats() ManagerStats {
	stats := ManagerStats{}
	m.tasks.Range(func(_, value any) bool {
		state, _, _ := value.(*Task).Snapshot()
		stats.Total++
		switch state {
		case TaskPending:
			stats.Pending++
		case TaskRunning:
			stats.Active++
		case TaskCompleted:
			stats.Completed++
		case TaskFailed:
			stats.Failed++
		case TaskCanceled:
			stats.Canceled++
		}
		return true
	})
	return stats
}

// ManagerStats holds manager statistics.
type ManagerStats struct {
	Total     int
	Pending   int
	Active    int
	Completed int
	Failed    int
	Canceled  int
}

// processTask decrypts a single task.
func (m *Manager) processTask(task *Task) {
	defer close(task.done)
	defer m.pending.Done()

	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	task.mu.Lock()
	if task.State == TaskCanceled {
		task.mu.Unlock()
		return
	}
	if ctx.Err() != nil {
		task.State = TaskCanceled
		task.CompletedAt = time.Now()
		task.mu.Unlock()
		m.notifyStateChange(task)
		return
	}
	task.cancel = cancel
	task.StartedAt = time.Now()
	task.State = TaskRunning
	task.mu.Unlock()

	m.notifyStateChange(task)

	opts := append([]Option{WithInput(task.Input)}, task.Options...)
	d, err := New(opts...)
	if err != nil {
		m.failTask(task, err)
		return
	}

	tracks, _ := d.Tracks()

	task.mu.Lock()
	task.Output = d.OutputPath()
	task.Tracks = tracks
	task.mu.Unlock()

	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		for p := range d.Progress() {
			task.mu.Lock()
			task.Progress = p
			task.mu.Unlock()

			m.notify(m.onProgress, task)
		}
	}()

	stats, err := d.Decrypt(ctx)
	<-progressDone

	task.mu.Lock()
	task.Stats = stats
	task.mu.Unlock()

	if err != nil {
		if ctx.Err() != nil {
			task.mu.Lock()
			task.State = TaskCanceled
			task.CompletedAt = time.Now()
			task.mu.Unlock()
			m.notifyStateChange(task)
			return
		}
		m.failTask(task, err)
		return
	}

	task.mu.Lock()
	task.State = TaskCompleted
	task.CompletedAt = time.Now()
	task.mu.Unlock()

	m.notifyStateChange(task)

	if m.onComplete != nil {
		m.onComplete(task)
	}
}

func (m *Manager) failTask(task *Task, err error) {
	task.mu.Lock()
	task.State = TaskFailed
	task.Error = err
	task.CompletedAt = time.Now()
	task.mu.Unlock()

	m.notifyStateChange(task)

	if m.onError != nil {
		m.onError(task, err)
	}
}

// subscribe registers fn to be called on every state change and
// progress update.
func (m *Manager) subscribe(fn func(task *Task)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

func (m *Manager) notifyStateChange(task *Task) {
	m.notify(m.onStateChange, task)
}

func (m *Manager) notify(fn func(task *Task), task *Task) {
	if fn != nil {
		fn(task)
	}
	m.mu.RLock()
	observers := m.observers
	m.mu.RUnlock()
	for _, o := range observers {
		o(task)
	}
}

// WaitForTask blocks until a specific task finishes and returns its
// error.
func (m *Manager) WaitForTask(id string) error {
	task := m.GetTask(id)
	if task == nil {
		return fmt.Errorf("task %q not found", id)
	}

	<-task.done

	state, _, err := task.Snapshot()
	switch state {
	case TaskFailed:
		return err
	case TaskCanceled:
		return ErrTaskCanceled
	}
	return nil
}

// WaitAll blocks until all queued tasks finish.
func (m *Manager) WaitAll() {
	m.pending.Wait()
}
