package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/emooreatx/cirisagent/internal/logging"
	"github.com/emooreatx/cirisagent/internal/model"
)

// SQLiteStore is the durable Store backend. A single connection with WAL
// keeps writes serialized; every operation is its own transaction.
type SQLiteStore struct {
	db     *sql.DB
	logger logging.Logger
}

// NewSQLiteStore opens (or creates) the database at path and ensures the
// schema. Pass ":memory:" for an ephemeral database.
func NewSQLiteStore(path string, logger logging.Logger) (*SQLiteStore, error) {
	logger = logging.OrNop(logger)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logger.Debug("sqlite pragma failed (%s): %v", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ensureSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tasks (
    task_id TEXT PRIMARY KEY,
    description TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    parent_task_id TEXT,
    status TEXT NOT NULL,
    context_json TEXT NOT NULL DEFAULT '{}',
    outcome TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks (status, priority DESC, created_at ASC);`,
		`CREATE TABLE IF NOT EXISTS thoughts (
    thought_id TEXT PRIMARY KEY,
    source_task_id TEXT NOT NULL REFERENCES tasks(task_id) ON DELETE CASCADE,
    parent_thought_id TEXT,
    thought_type TEXT NOT NULL,
    content TEXT NOT NULL,
    context_json TEXT NOT NULL DEFAULT '{}',
    status TEXT NOT NULL,
    priority INTEGER NOT NULL DEFAULT 0,
    round_number INTEGER NOT NULL DEFAULT 0,
    round_processed INTEGER NOT NULL DEFAULT 0,
    ponder_count INTEGER NOT NULL DEFAULT 0,
    ponder_notes_json TEXT,
    final_action_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_thoughts_task ON thoughts (source_task_id, status);`,
		`CREATE INDEX IF NOT EXISTS idx_thoughts_status ON thoughts (status, priority DESC, created_at ASC);`,
		`CREATE TABLE IF NOT EXISTS correlations (
    correlation_id TEXT PRIMARY KEY,
    service_type TEXT NOT NULL,
    handler_name TEXT NOT NULL,
    action_type TEXT NOT NULL,
    request_json TEXT,
    response_json TEXT,
    status TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`,
		`CREATE TABLE IF NOT EXISTS deferral_reports (
    message_id TEXT PRIMARY KEY,
    task_id TEXT NOT NULL,
    thought_id TEXT NOT NULL REFERENCES thoughts(thought_id) ON DELETE CASCADE,
    package_json TEXT
);`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
    task_id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    goal_description TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    trigger_prompt TEXT NOT NULL DEFAULT '',
    origin_thought_id TEXT,
    defer_until TIMESTAMP,
    schedule_cron TEXT NOT NULL DEFAULT '',
    last_triggered_at TIMESTAMP,
    deferral_count INTEGER NOT NULL DEFAULT 0,
    deferral_history_json TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_status ON scheduled_tasks (status);`,
		`CREATE TABLE IF NOT EXISTS filter_triggers (
    pattern TEXT PRIMARY KEY,
    disposition TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func marshalJSON(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// AddTask persists a new task.
func (s *SQLiteStore) AddTask(ctx context.Context, t *model.Task) error {
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
	ctxJSON, err := marshalJSON(t.Context)
	if err != nil {
		return fmt.Errorf("encode task context: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (task_id, description, priority, parent_task_id, status, context_json, outcome, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.TaskID, t.Description, t.Priority, nullable(t.ParentTaskID), string(t.Status), ctxJSON, t.Outcome, t.CreatedAt, t.UpdatedAt)
	return err
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (s *SQLiteStore) scanTask(row interface{ Scan(...any) error }) (*model.Task, error) {
	var t model.Task
	var parent sql.NullString
	var ctxJSON string
	if err := row.Scan(&t.TaskID, &t.Description, &t.Priority, &parent, &t.Status, &ctxJSON, &t.Outcome, &t.CreatedAt, &t.UpdatedAt); err != nil {
		return nil, err
	}
	t.ParentTaskID = parent.String
	if err := json.Unmarshal([]byte(ctxJSON), &t.Context); err != nil {
		return nil, fmt.Errorf("decode task context: %w", err)
	}
	return &t, nil
}

const taskColumns = `task_id, description, priority, parent_task_id, status, context_json, outcome, created_at, updated_at`

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, taskID string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, taskID)
	t, err := s.scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return t, err
}

// TaskExists reports whether a task is stored.
func (s *SQLiteStore) TaskExists(ctx context.Context, taskID string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE task_id = ?`, taskID).Scan(&n)
	return n > 0, err
}

// UpdateTaskStatus transitions a task.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, taskID string, status model.TaskStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, updated_at = ? WHERE task_id = ?`,
		string(status), time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	return requireRow(res, "task", taskID)
}

// UpdateTaskOutcome records the task outcome.
func (s *SQLiteStore) UpdateTaskOutcome(ctx context.Context, taskID string, outcome string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET outcome = ?, updated_at = ? WHERE task_id = ?`,
		outcome, time.Now().UTC(), taskID)
	if err != nil {
		return err
	}
	return requireRow(res, "task", taskID)
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Task
	for rows.Next() {
		t, err := s.scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetTasksByStatus lists tasks in a given status.
func (s *SQLiteStore) GetTasksByStatus(ctx context.Context, status model.TaskStatus) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY priority DESC, created_at ASC`,
		string(status))
}

// GetPendingTasksForActivation returns PENDING tasks in activation order.
func (s *SQLiteStore) GetPendingTasksForActivation(ctx context.Context, limit int) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY priority DESC, created_at ASC LIMIT ?`,
		string(model.TaskPending), limitOrMax(limit))
}

func limitOrMax(limit int) int {
	if limit <= 0 {
		return -1 // SQLite: negative LIMIT means no limit
	}
	return limit
}

// GetRecentCompletedTasks returns COMPLETED tasks, newest first.
func (s *SQLiteStore) GetRecentCompletedTasks(ctx context.Context, limit int) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY updated_at DESC LIMIT ?`,
		string(model.TaskCompleted), limitOrMax(limit))
}

// GetTopTasks returns the highest-priority non-terminal tasks.
func (s *SQLiteStore) GetTopTasks(ctx context.Context, limit int) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE status IN (?, ?, ?, ?) ORDER BY priority DESC, created_at ASC LIMIT ?`,
		string(model.TaskPending), string(model.TaskActive), string(model.TaskPaused), string(model.TaskDeferred),
		limitOrMax(limit))
}

// GetTasksNeedingSeedThought returns ACTIVE tasks with zero non-terminal
// thoughts.
func (s *SQLiteStore) GetTasksNeedingSeedThought(ctx context.Context, limit int) ([]*model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks t
         WHERE t.status = ?
           AND NOT EXISTS (
             SELECT 1 FROM thoughts th
             WHERE th.source_task_id = t.task_id AND th.status IN (?, ?, ?)
           )
         ORDER BY t.priority DESC, t.created_at ASC LIMIT ?`,
		string(model.TaskActive),
		string(model.ThoughtPending), string(model.ThoughtProcessing), string(model.ThoughtPaused),
		limitOrMax(limit))
}

// CountTasks counts tasks, optionally filtered by status.
func (s *SQLiteStore) CountTasks(ctx context.Context, status model.TaskStatus) (int, error) {
	var n int
	var err error
	if status == "" {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks`).Scan(&n)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM tasks WHERE status = ?`, string(status)).Scan(&n)
	}
	return n, err
}

// DeleteTasksByIDs removes tasks; thoughts and deferral reports cascade.
func (s *SQLiteStore) DeleteTasksByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE task_id IN (`+placeholders+`)`, args...)
	return err
}

// AddThought persists a new thought.
func (s *SQLiteStore) AddThought(ctx context.Context, th *model.Thought) error {
	now := time.Now().UTC()
	if th.CreatedAt.IsZero() {
		th.CreatedAt = now
	}
	th.UpdatedAt = now
	ctxJSON, err := marshalJSON(th.Context)
	if err != nil {
		return fmt.Errorf("encode thought context: %w", err)
	}
	var notesJSON any
	if len(th.PonderNotes) > 0 {
		notesJSON, err = marshalJSON(th.PonderNotes)
		if err != nil {
			return fmt.Errorf("encode ponder notes: %w", err)
		}
	}
	var finalJSON any
	if len(th.FinalAction) > 0 {
		finalJSON = string(th.FinalAction)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO thoughts (thought_id, source_task_id, parent_thought_id, thought_type, content, context_json,
                               status, priority, round_number, round_processed, ponder_count, ponder_notes_json,
                               final_action_json, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		th.ThoughtID, th.SourceTaskID, nullable(th.ParentThoughtID), th.ThoughtType, th.Content, ctxJSON,
		string(th.Status), th.Priority, th.RoundNumber, th.RoundProcessed, th.PonderCount, notesJSON,
		finalJSON, th.CreatedAt, th.UpdatedAt)
	return err
}

const thoughtColumns = `thought_id, source_task_id, parent_thought_id, thought_type, content, context_json,
        status, priority, round_number, round_processed, ponder_count, ponder_notes_json, final_action_json,
        created_at, updated_at`

func (s *SQLiteStore) scanThought(row interface{ Scan(...any) error }) (*model.Thought, error) {
	var th model.Thought
	var parent, notesJSON, finalJSON sql.NullString
	var ctxJSON string
	if err := row.Scan(&th.ThoughtID, &th.SourceTaskID, &parent, &th.ThoughtType, &th.Content, &ctxJSON,
		&th.Status, &th.Priority, &th.RoundNumber, &th.RoundProcessed, &th.PonderCount, &notesJSON, &finalJSON,
		&th.CreatedAt, &th.UpdatedAt); err != nil {
		return nil, err
	}
	th.ParentThoughtID = parent.String
	if err := json.Unmarshal([]byte(ctxJSON), &th.Context); err != nil {
		return nil, fmt.Errorf("decode thought context: %w", err)
	}
	if notesJSON.Valid && notesJSON.String != "" {
		if err := json.Unmarshal([]byte(notesJSON.String), &th.PonderNotes); err != nil {
			return nil, fmt.Errorf("decode ponder notes: %w", err)
		}
	}
	if finalJSON.Valid && finalJSON.String != "" {
		th.FinalAction = json.RawMessage(finalJSON.String)
	}
	return &th, nil
}

// GetThought retrieves a thought by ID.
func (s *SQLiteStore) GetThought(ctx context.Context, thoughtID string) (*model.Thought, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+thoughtColumns+` FROM thoughts WHERE thought_id = ?`, thoughtID)
	th, err := s.scanThought(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("thought %s: %w", thoughtID, ErrNotFound)
	}
	return th, err
}

func (s *SQLiteStore) queryThoughts(ctx context.Context, query string, args ...any) ([]*model.Thought, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Thought
	for rows.Next() {
		th, err := s.scanThought(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, th)
	}
	return out, rows.Err()
}

// GetThoughtsByTaskID lists a task's thoughts, oldest first.
func (s *SQLiteStore) GetThoughtsByTaskID(ctx context.Context, taskID string) ([]*model.Thought, error) {
	return s.queryThoughts(ctx,
		`SELECT `+thoughtColumns+` FROM thoughts WHERE source_task_id = ? ORDER BY created_at ASC`, taskID)
}

// GetThoughtsByStatus lists thoughts in a given status, oldest first.
func (s *SQLiteStore) GetThoughtsByStatus(ctx context.Context, status model.ThoughtStatus) ([]*model.Thought, error) {
	return s.queryThoughts(ctx,
		`SELECT `+thoughtColumns+` FROM thoughts WHERE status = ? ORDER BY created_at ASC`, string(status))
}

// GetPendingThoughtsForActiveTasks returns PENDING thoughts of ACTIVE tasks
// in dispatch order.
func (s *SQLiteStore) GetPendingThoughtsForActiveTasks(ctx context.Context, limit int) ([]*model.Thought, error) {
	return s.queryThoughts(ctx,
		`SELECT `+prefixedThoughtColumns("th")+`
         FROM thoughts th
         JOIN tasks t ON t.task_id = th.source_task_id
         WHERE th.status = ? AND t.status = ?
         ORDER BY t.priority DESC, th.priority DESC, th.created_at ASC
         LIMIT ?`,
		string(model.ThoughtPending), string(model.TaskActive), limitOrMax(limit))
}

func prefixedThoughtColumns(alias string) string {
	cols := strings.Split(thoughtColumns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

// UpdateThoughtStatus transitions a thought, applying optional updates.
// Terminal thoughts are left untouched and return ErrThoughtTerminal.
func (s *SQLiteStore) UpdateThoughtStatus(ctx context.Context, thoughtID string, status model.ThoughtStatus, opts ...ThoughtUpdateOption) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var current model.ThoughtStatus
	var notesJSON sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT status, ponder_notes_json FROM thoughts WHERE thought_id = ?`, thoughtID).
		Scan(&current, &notesJSON)
	if err == sql.ErrNoRows {
		return fmt.Errorf("thought %s: %w", thoughtID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if current.IsTerminal() {
		return fmt.Errorf("thought %s: %w", thoughtID, ErrThoughtTerminal)
	}

	update := ApplyThoughtUpdateOptions(opts)

	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{string(status), time.Now().UTC()}

	if update.FinalAction != nil {
		raw, err := json.Marshal(update.FinalAction)
		if err != nil {
			return fmt.Errorf("encode final action: %w", err)
		}
		sets = append(sets, "final_action_json = ?")
		args = append(args, string(raw))
	}
	if update.RoundProcessed != nil {
		sets = append(sets, "round_processed = ?")
		args = append(args, *update.RoundProcessed)
	}
	if update.PonderCount != nil {
		sets = append(sets, "ponder_count = ?")
		args = append(args, *update.PonderCount)
	}
	if len(update.PonderNotes) > 0 {
		var notes []string
		if notesJSON.Valid && notesJSON.String != "" {
			if err := json.Unmarshal([]byte(notesJSON.String), &notes); err != nil {
				return fmt.Errorf("decode ponder notes: %w", err)
			}
		}
		notes = append(notes, update.PonderNotes...)
		encoded, err := marshalJSON(notes)
		if err != nil {
			return fmt.Errorf("encode ponder notes: %w", err)
		}
		sets = append(sets, "ponder_notes_json = ?")
		args = append(args, encoded)
	}

	args = append(args, thoughtID)
	if _, err := tx.ExecContext(ctx, `UPDATE thoughts SET `+strings.Join(sets, ", ")+` WHERE thought_id = ?`, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// CountActiveThoughts counts PENDING plus PROCESSING thoughts.
func (s *SQLiteStore) CountActiveThoughts(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM thoughts WHERE status IN (?, ?)`,
		string(model.ThoughtPending), string(model.ThoughtProcessing)).Scan(&n)
	return n, err
}

// DeleteThoughtsByIDs removes thoughts; deferral reports cascade.
func (s *SQLiteStore) DeleteThoughtsByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM thoughts WHERE thought_id IN (`+placeholders+`)`, args...)
	return err
}

// AddCorrelation persists a side-effect envelope.
func (s *SQLiteStore) AddCorrelation(ctx context.Context, c *model.Correlation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now
	var reqJSON, respJSON any
	if len(c.RequestData) > 0 {
		reqJSON = string(c.RequestData)
	}
	if len(c.ResponseData) > 0 {
		respJSON = string(c.ResponseData)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO correlations (correlation_id, service_type, handler_name, action_type, request_json, response_json, status, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CorrelationID, c.ServiceType, c.HandlerName, c.ActionType, reqJSON, respJSON, string(c.Status), c.CreatedAt, c.UpdatedAt)
	return err
}

// UpdateCorrelation completes or fails a side-effect envelope.
func (s *SQLiteStore) UpdateCorrelation(ctx context.Context, correlationID string, response json.RawMessage, status model.CorrelationStatus) error {
	var respJSON any
	if len(response) > 0 {
		respJSON = string(response)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE correlations SET response_json = ?, status = ?, updated_at = ? WHERE correlation_id = ?`,
		respJSON, string(status), time.Now().UTC(), correlationID)
	if err != nil {
		return err
	}
	return requireRow(res, "correlation", correlationID)
}

// GetCorrelation retrieves a side-effect envelope.
func (s *SQLiteStore) GetCorrelation(ctx context.Context, correlationID string) (*model.Correlation, error) {
	var c model.Correlation
	var reqJSON, respJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT correlation_id, service_type, handler_name, action_type, request_json, response_json, status, created_at, updated_at
         FROM correlations WHERE correlation_id = ?`, correlationID).
		Scan(&c.CorrelationID, &c.ServiceType, &c.HandlerName, &c.ActionType, &reqJSON, &respJSON, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("correlation %s: %w", correlationID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if reqJSON.Valid {
		c.RequestData = json.RawMessage(reqJSON.String)
	}
	if respJSON.Valid {
		c.ResponseData = json.RawMessage(respJSON.String)
	}
	return &c, nil
}

// SaveDeferralReport maps an outbound report message to its task and thought.
func (s *SQLiteStore) SaveDeferralReport(ctx context.Context, report DeferralReportContext) error {
	var pkgJSON any
	if len(report.Package) > 0 {
		pkgJSON = string(report.Package)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO deferral_reports (message_id, task_id, thought_id, package_json) VALUES (?, ?, ?, ?)`,
		report.MessageID, report.TaskID, report.ThoughtID, pkgJSON)
	return err
}

// GetDeferralReportContext resolves a report message back to its work.
func (s *SQLiteStore) GetDeferralReportContext(ctx context.Context, messageID string) (*DeferralReportContext, error) {
	var rep DeferralReportContext
	var pkgJSON sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT message_id, task_id, thought_id, package_json FROM deferral_reports WHERE message_id = ?`, messageID).
		Scan(&rep.MessageID, &rep.TaskID, &rep.ThoughtID, &pkgJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("deferral report %s: %w", messageID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if pkgJSON.Valid {
		rep.Package = json.RawMessage(pkgJSON.String)
	}
	return &rep, nil
}

// AddScheduledTask persists a scheduled task.
func (s *SQLiteStore) AddScheduledTask(ctx context.Context, st *model.ScheduledTask) error {
	if err := st.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if st.CreatedAt.IsZero() {
		st.CreatedAt = now
	}
	st.UpdatedAt = now
	historyJSON, err := scheduledHistoryJSON(st)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO scheduled_tasks (task_id, name, goal_description, status, trigger_prompt, origin_thought_id,
                                      defer_until, schedule_cron, last_triggered_at, deferral_count, deferral_history_json,
                                      created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		st.TaskID, st.Name, st.GoalDescription, string(st.Status), st.TriggerPrompt, nullable(st.OriginThoughtID),
		st.DeferUntil, st.ScheduleCron, st.LastTriggeredAt, st.DeferralCount, historyJSON,
		st.CreatedAt, st.UpdatedAt)
	return err
}

func scheduledHistoryJSON(st *model.ScheduledTask) (any, error) {
	if len(st.DeferralHistory) == 0 {
		return nil, nil
	}
	encoded, err := marshalJSON(st.DeferralHistory)
	if err != nil {
		return nil, fmt.Errorf("encode deferral history: %w", err)
	}
	return encoded, nil
}

func (s *SQLiteStore) scanScheduled(row interface{ Scan(...any) error }) (*model.ScheduledTask, error) {
	var st model.ScheduledTask
	var origin, historyJSON sql.NullString
	var deferUntil, lastTriggered sql.NullTime
	if err := row.Scan(&st.TaskID, &st.Name, &st.GoalDescription, &st.Status, &st.TriggerPrompt, &origin,
		&deferUntil, &st.ScheduleCron, &lastTriggered, &st.DeferralCount, &historyJSON,
		&st.CreatedAt, &st.UpdatedAt); err != nil {
		return nil, err
	}
	st.OriginThoughtID = origin.String
	if deferUntil.Valid {
		t := deferUntil.Time
		st.DeferUntil = &t
	}
	if lastTriggered.Valid {
		t := lastTriggered.Time
		st.LastTriggeredAt = &t
	}
	if historyJSON.Valid && historyJSON.String != "" {
		if err := json.Unmarshal([]byte(historyJSON.String), &st.DeferralHistory); err != nil {
			return nil, fmt.Errorf("decode deferral history: %w", err)
		}
	}
	return &st, nil
}

const scheduledColumns = `task_id, name, goal_description, status, trigger_prompt, origin_thought_id,
        defer_until, schedule_cron, last_triggered_at, deferral_count, deferral_history_json, created_at, updated_at`

// GetScheduledTask retrieves a scheduled task.
func (s *SQLiteStore) GetScheduledTask(ctx context.Context, taskID string) (*model.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_tasks WHERE task_id = ?`, taskID)
	st, err := s.scanScheduled(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("scheduled task %s: %w", taskID, ErrNotFound)
	}
	return st, err
}

// GetScheduledTasksByStatus lists scheduled tasks in a status, oldest first.
func (s *SQLiteStore) GetScheduledTasksByStatus(ctx context.Context, status model.ScheduledTaskStatus) ([]*model.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+scheduledColumns+` FROM scheduled_tasks WHERE status = ? ORDER BY created_at ASC`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.ScheduledTask
	for rows.Next() {
		st, err := s.scanScheduled(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpdateScheduledTask overwrites a scheduled task record.
func (s *SQLiteStore) UpdateScheduledTask(ctx context.Context, st *model.ScheduledTask) error {
	st.UpdatedAt = time.Now().UTC()
	historyJSON, err := scheduledHistoryJSON(st)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE scheduled_tasks SET name = ?, goal_description = ?, status = ?, trigger_prompt = ?,
                defer_until = ?, schedule_cron = ?, last_triggered_at = ?, deferral_count = ?,
                deferral_history_json = ?, updated_at = ?
         WHERE task_id = ?`,
		st.Name, st.GoalDescription, string(st.Status), st.TriggerPrompt,
		st.DeferUntil, st.ScheduleCron, st.LastTriggeredAt, st.DeferralCount,
		historyJSON, st.UpdatedAt, st.TaskID)
	if err != nil {
		return err
	}
	return requireRow(res, "scheduled task", st.TaskID)
}

// AddFilterTrigger persists an adaptive filter trigger.
func (s *SQLiteStore) AddFilterTrigger(ctx context.Context, trigger string, disposition string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO filter_triggers (pattern, disposition, created_at) VALUES (?, ?, ?)`,
		trigger, disposition, time.Now().UTC())
	return err
}

// ListFilterTriggers returns all persisted filter triggers.
func (s *SQLiteStore) ListFilterTriggers(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT pattern, disposition FROM filter_triggers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var trigger, disposition string
		if err := rows.Scan(&trigger, &disposition); err != nil {
			return nil, err
		}
		out[trigger] = disposition
	}
	return out, rows.Err()
}

// MarkStaleProcessing fails thoughts stranded in PROCESSING.
func (s *SQLiteStore) MarkStaleProcessing(ctx context.Context, reason string) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE thoughts SET status = ?, updated_at = ? WHERE status = ?`,
		string(model.ThoughtFailed), time.Now().UTC(), string(model.ThoughtProcessing))
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("Marked %d stale processing thoughts failed: %s", n, reason)
	}
	return int(n), nil
}

var _ Store = (*SQLiteStore)(nil)
