package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/emooreatx/cirisagent/internal/model"
)

// MemStore implements Store with in-memory maps. It backs tests and
// ephemeral runs; the SQLite store is the durable backend.
type MemStore struct {
	mu              sync.RWMutex
	tasks           map[string]*model.Task
	thoughts        map[string]*model.Thought
	correlations    map[string]*model.Correlation
	deferralReports map[string]*DeferralReportContext
	scheduled       map[string]*model.ScheduledTask
	filterTriggers  map[string]string
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{
		tasks:           make(map[string]*model.Task),
		thoughts:        make(map[string]*model.Thought),
		correlations:    make(map[string]*model.Correlation),
		deferralReports: make(map[string]*DeferralReportContext),
		scheduled:       make(map[string]*model.ScheduledTask),
		filterTriggers:  make(map[string]string),
	}
}

func copyTask(t *model.Task) *model.Task {
	clone := *t
	return &clone
}

func copyThought(th *model.Thought) *model.Thought {
	clone := *th
	if th.PonderNotes != nil {
		clone.PonderNotes = append([]string(nil), th.PonderNotes...)
	}
	if th.FinalAction != nil {
		clone.FinalAction = append(json.RawMessage(nil), th.FinalAction...)
	}
	return &clone
}

// AddTask persists a new task.
func (s *MemStore) AddTask(_ context.Context, t *model.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[t.TaskID]; exists {
		return fmt.Errorf("task %s already exists", t.TaskID)
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	s.tasks[t.TaskID] = copyTask(t)
	return nil
}

// GetTask retrieves a task by ID.
func (s *MemStore) GetTask(_ context.Context, taskID string) (*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return copyTask(t), nil
}

// TaskExists reports whether a task is stored.
func (s *MemStore) TaskExists(_ context.Context, taskID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tasks[taskID]
	return ok, nil
}

// UpdateTaskStatus transitions a task.
func (s *MemStore) UpdateTaskStatus(_ context.Context, taskID string, status model.TaskStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	t.Status = status
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// UpdateTaskOutcome records the task outcome.
func (s *MemStore) UpdateTaskOutcome(_ context.Context, taskID string, outcome string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	t.Outcome = outcome
	t.UpdatedAt = time.Now().UTC()
	return nil
}

// GetTasksByStatus lists tasks in a given status.
func (s *MemStore) GetTasksByStatus(_ context.Context, status model.TaskStatus) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.Status == status {
			out = append(out, copyTask(t))
		}
	}
	sortTasksByPriority(out)
	return out, nil
}

func sortTasksByPriority(tasks []*model.Task) {
	sort.SliceStable(tasks, func(i, j int) bool {
		if tasks[i].Priority != tasks[j].Priority {
			return tasks[i].Priority > tasks[j].Priority
		}
		return tasks[i].CreatedAt.Before(tasks[j].CreatedAt)
	})
}

// GetPendingTasksForActivation returns PENDING tasks ordered by priority
// desc then created_at asc.
func (s *MemStore) GetPendingTasksForActivation(ctx context.Context, limit int) ([]*model.Task, error) {
	tasks, err := s.GetTasksByStatus(ctx, model.TaskPending)
	if err != nil {
		return nil, err
	}
	return capTasks(tasks, limit), nil
}

func capTasks(tasks []*model.Task, limit int) []*model.Task {
	if limit > 0 && len(tasks) > limit {
		return tasks[:limit]
	}
	return tasks
}

// GetRecentCompletedTasks returns COMPLETED tasks, newest first.
func (s *MemStore) GetRecentCompletedTasks(_ context.Context, limit int) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if t.Status == model.TaskCompleted {
			out = append(out, copyTask(t))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return capTasks(out, limit), nil
}

// GetTopTasks returns the highest-priority non-terminal tasks.
func (s *MemStore) GetTopTasks(_ context.Context, limit int) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Task
	for _, t := range s.tasks {
		if !t.Status.IsTerminal() {
			out = append(out, copyTask(t))
		}
	}
	sortTasksByPriority(out)
	return capTasks(out, limit), nil
}

// GetTasksNeedingSeedThought returns ACTIVE tasks with zero non-terminal
// thoughts.
func (s *MemStore) GetTasksNeedingSeedThought(_ context.Context, limit int) ([]*model.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	hasLive := make(map[string]bool)
	for _, th := range s.thoughts {
		if !th.Status.IsTerminal() {
			hasLive[th.SourceTaskID] = true
		}
	}

	var out []*model.Task
	for _, t := range s.tasks {
		if t.Status == model.TaskActive && !hasLive[t.TaskID] {
			out = append(out, copyTask(t))
		}
	}
	sortTasksByPriority(out)
	return capTasks(out, limit), nil
}

// CountTasks counts tasks, optionally filtered by status.
func (s *MemStore) CountTasks(_ context.Context, status model.TaskStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if status == "" {
		return len(s.tasks), nil
	}
	n := 0
	for _, t := range s.tasks {
		if t.Status == status {
			n++
		}
	}
	return n, nil
}

// DeleteTasksByIDs removes tasks and cascades to their thoughts and
// per-thought side rows.
func (s *MemStore) DeleteTasksByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doomed := make(map[string]bool, len(ids))
	for _, id := range ids {
		doomed[id] = true
		delete(s.tasks, id)
	}
	for thID, th := range s.thoughts {
		if doomed[th.SourceTaskID] {
			delete(s.thoughts, thID)
			for msgID, rep := range s.deferralReports {
				if rep.ThoughtID == thID {
					delete(s.deferralReports, msgID)
				}
			}
		}
	}
	return nil
}

// AddThought persists a new thought.
func (s *MemStore) AddThought(_ context.Context, th *model.Thought) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.thoughts[th.ThoughtID]; exists {
		return fmt.Errorf("thought %s already exists", th.ThoughtID)
	}
	now := time.Now().UTC()
	if th.CreatedAt.IsZero() {
		th.CreatedAt = now
	}
	th.UpdatedAt = now
	s.thoughts[th.ThoughtID] = copyThought(th)
	return nil
}

// GetThought retrieves a thought by ID.
func (s *MemStore) GetThought(_ context.Context, thoughtID string) (*model.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	th, ok := s.thoughts[thoughtID]
	if !ok {
		return nil, fmt.Errorf("thought %s: %w", thoughtID, ErrNotFound)
	}
	return copyThought(th), nil
}

// GetThoughtsByTaskID lists a task's thoughts, oldest first.
func (s *MemStore) GetThoughtsByTaskID(_ context.Context, taskID string) ([]*model.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Thought
	for _, th := range s.thoughts {
		if th.SourceTaskID == taskID {
			out = append(out, copyThought(th))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetThoughtsByStatus lists thoughts in a given status.
func (s *MemStore) GetThoughtsByStatus(_ context.Context, status model.ThoughtStatus) ([]*model.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.Thought
	for _, th := range s.thoughts {
		if th.Status == status {
			out = append(out, copyThought(th))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// GetPendingThoughtsForActiveTasks returns PENDING thoughts of ACTIVE tasks
// in dispatch order.
func (s *MemStore) GetPendingThoughtsForActiveTasks(_ context.Context, limit int) ([]*model.Thought, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type ranked struct {
		th           *model.Thought
		taskPriority int
	}
	var out []ranked
	for _, th := range s.thoughts {
		if th.Status != model.ThoughtPending {
			continue
		}
		task, ok := s.tasks[th.SourceTaskID]
		if !ok || task.Status != model.TaskActive {
			continue
		}
		out = append(out, ranked{th: copyThought(th), taskPriority: task.Priority})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].taskPriority != out[j].taskPriority {
			return out[i].taskPriority > out[j].taskPriority
		}
		if out[i].th.Priority != out[j].th.Priority {
			return out[i].th.Priority > out[j].th.Priority
		}
		return out[i].th.CreatedAt.Before(out[j].th.CreatedAt)
	})

	result := make([]*model.Thought, 0, len(out))
	for _, r := range out {
		result = append(result, r.th)
	}
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UpdateThoughtStatus transitions a thought, applying optional updates.
func (s *MemStore) UpdateThoughtStatus(_ context.Context, thoughtID string, status model.ThoughtStatus, opts ...ThoughtUpdateOption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	th, ok := s.thoughts[thoughtID]
	if !ok {
		return fmt.Errorf("thought %s: %w", thoughtID, ErrNotFound)
	}
	if th.Status.IsTerminal() {
		return fmt.Errorf("thought %s: %w", thoughtID, ErrThoughtTerminal)
	}

	update := ApplyThoughtUpdateOptions(opts)
	th.Status = status
	if update.FinalAction != nil {
		if err := th.SetFinalAction(update.FinalAction); err != nil {
			return fmt.Errorf("thought %s: encode final action: %w", thoughtID, err)
		}
	}
	if update.RoundProcessed != nil {
		th.RoundProcessed = *update.RoundProcessed
	}
	if update.PonderCount != nil {
		th.PonderCount = *update.PonderCount
	}
	if len(update.PonderNotes) > 0 {
		th.PonderNotes = append(th.PonderNotes, update.PonderNotes...)
	}
	th.UpdatedAt = time.Now().UTC()
	return nil
}

// CountActiveThoughts counts PENDING plus PROCESSING thoughts.
func (s *MemStore) CountActiveThoughts(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, th := range s.thoughts {
		if th.Status == model.ThoughtPending || th.Status == model.ThoughtProcessing {
			n++
		}
	}
	return n, nil
}

// DeleteThoughtsByIDs removes thoughts and their deferral-report rows.
func (s *MemStore) DeleteThoughtsByIDs(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.thoughts, id)
		for msgID, rep := range s.deferralReports {
			if rep.ThoughtID == id {
				delete(s.deferralReports, msgID)
			}
		}
	}
	return nil
}

// AddCorrelation persists a side-effect envelope.
func (s *MemStore) AddCorrelation(_ context.Context, c *model.Correlation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.correlations[c.CorrelationID]; exists {
		return fmt.Errorf("correlation %s already exists", c.CorrelationID)
	}
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	clone := *c
	s.correlations[c.CorrelationID] = &clone
	return nil
}

// UpdateCorrelation completes or fails a side-effect envelope.
func (s *MemStore) UpdateCorrelation(_ context.Context, correlationID string, response json.RawMessage, status model.CorrelationStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.correlations[correlationID]
	if !ok {
		return fmt.Errorf("correlation %s: %w", correlationID, ErrNotFound)
	}
	c.ResponseData = response
	c.Status = status
	c.UpdatedAt = time.Now().UTC()
	return nil
}

// GetCorrelation retrieves a side-effect envelope.
func (s *MemStore) GetCorrelation(_ context.Context, correlationID string) (*model.Correlation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.correlations[correlationID]
	if !ok {
		return nil, fmt.Errorf("correlation %s: %w", correlationID, ErrNotFound)
	}
	clone := *c
	return &clone, nil
}

// SaveDeferralReport maps an outbound report message to its task and thought.
func (s *MemStore) SaveDeferralReport(_ context.Context, report DeferralReportContext) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := report
	s.deferralReports[report.MessageID] = &clone
	return nil
}

// GetDeferralReportContext resolves a report message back to its work.
func (s *MemStore) GetDeferralReportContext(_ context.Context, messageID string) (*DeferralReportContext, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rep, ok := s.deferralReports[messageID]
	if !ok {
		return nil, fmt.Errorf("deferral report %s: %w", messageID, ErrNotFound)
	}
	clone := *rep
	return &clone, nil
}

// AddScheduledTask persists a scheduled task.
func (s *MemStore) AddScheduledTask(_ context.Context, st *model.ScheduledTask) error {
	if err := st.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.scheduled[st.TaskID]; exists {
		return fmt.Errorf("scheduled task %s already exists", st.TaskID)
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	clone := *st
	s.scheduled[st.TaskID] = &clone
	return nil
}

// GetScheduledTask retrieves a scheduled task.
func (s *MemStore) GetScheduledTask(_ context.Context, taskID string) (*model.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.scheduled[taskID]
	if !ok {
		return nil, fmt.Errorf("scheduled task %s: %w", taskID, ErrNotFound)
	}
	clone := *st
	return &clone, nil
}

// GetScheduledTasksByStatus lists scheduled tasks in a status, oldest first.
func (s *MemStore) GetScheduledTasksByStatus(_ context.Context, status model.ScheduledTaskStatus) ([]*model.ScheduledTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*model.ScheduledTask
	for _, st := range s.scheduled {
		if st.Status == status {
			clone := *st
			out = append(out, &clone)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// UpdateScheduledTask overwrites a scheduled task record.
func (s *MemStore) UpdateScheduledTask(_ context.Context, st *model.ScheduledTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.scheduled[st.TaskID]; !ok {
		return fmt.Errorf("scheduled task %s: %w", st.TaskID, ErrNotFound)
	}
	st.UpdatedAt = time.Now().UTC()
	clone := *st
	s.scheduled[st.TaskID] = &clone
	return nil
}

// AddFilterTrigger persists an adaptive filter trigger.
func (s *MemStore) AddFilterTrigger(_ context.Context, trigger string, disposition string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.filterTriggers[trigger] = disposition
	return nil
}

// ListFilterTriggers returns all persisted filter triggers.
func (s *MemStore) ListFilterTriggers(_ context.Context) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.filterTriggers))
	for k, v := range s.filterTriggers {
		out[k] = v
	}
	return out, nil
}

// MarkStaleProcessing fails thoughts stranded in PROCESSING.
func (s *MemStore) MarkStaleProcessing(_ context.Context, reason string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, th := range s.thoughts {
		if th.Status == model.ThoughtProcessing {
			th.Status = model.ThoughtFailed
			th.PonderNotes = append(th.PonderNotes, reason)
			th.UpdatedAt = time.Now().UTC()
			n++
		}
	}
	return n, nil
}

var _ Store = (*MemStore)(nil)
